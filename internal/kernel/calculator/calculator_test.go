package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/kernel/types"
)

func baseConfig() *types.GridConfig {
	return &types.GridConfig{
		Symbol:      "BTCUSDT",
		GridType:    types.GridTypeArithmetic,
		Direction:   types.PositionLong,
		LowerPrice:  90000,
		UpperPrice:  110000,
		GridCount:   10,
		TotalInvest: 1000,
		Leverage:    1,
	}
}

func TestArithmeticLevelsAreEvenlySpaced(t *testing.T) {
	cfg := baseConfig()
	calc := New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	require.Len(t, levels, cfg.GridCount)
	spacing := levels[1].Price - levels[0].Price
	for i := 1; i < len(levels); i++ {
		got := levels[i].Price - levels[i-1].Price
		assert.InDelta(t, spacing, got, 0.01, "grid spacing must be uniform for arithmetic grids")
	}
	assert.InDelta(t, cfg.LowerPrice, levels[0].Price, 0.01)
	assert.InDelta(t, cfg.UpperPrice, levels[len(levels)-1].Price, 0.01)
}

func TestGeometricLevelsHaveConstantRatio(t *testing.T) {
	cfg := baseConfig()
	cfg.GridType = types.GridTypeGeometric
	calc := New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	ratio := levels[1].Price / levels[0].Price
	for i := 1; i < len(levels); i++ {
		got := levels[i].Price / levels[i-1].Price
		assert.InDelta(t, ratio, got, 0.0005, "grid ratio must be constant for geometric grids")
	}
}

func TestAssignSidesLongSplitsAroundCurrentPrice(t *testing.T) {
	cfg := baseConfig()
	calc := New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	for _, lv := range levels {
		if lv.Price < 100000 {
			assert.Equal(t, types.SideBuy, lv.Side)
		} else {
			assert.Equal(t, types.SideSell, lv.Side)
		}
	}
}

func TestAssignSidesNeutralMidpointTieBreaksToSell(t *testing.T) {
	cfg := baseConfig()
	cfg.Direction = types.PositionNeutral
	cfg.GridCount = 11 // odd count gives an exact midpoint level
	calc := New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	mid := len(levels) / 2
	require.InDelta(t, 100000, levels[mid].Price, 0.01)
	assert.Equal(t, types.SideSell, levels[mid].Side, "midpoint ties resolve to Sell per Open Question #2")
}

func TestInitialOrdersExcludesCrossingAndNearPriceLevels(t *testing.T) {
	cfg := baseConfig()
	calc := New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	initial := calc.InitialOrders(levels, 100000)
	for _, lv := range initial {
		if lv.Side == types.SideBuy {
			assert.LessOrEqual(t, lv.Price, 100000.0)
		} else {
			assert.GreaterOrEqual(t, lv.Price, 100000.0)
		}
	}
}

func TestTradeProfitAccountsForFeesOnBothLegs(t *testing.T) {
	net, pct := TradeProfit(100, 110, 1, 0.001)
	// gross = 10, fees = (110+100)*1*0.001 = 0.21
	assert.InDelta(t, 9.79, net, 0.001)
	assert.InDelta(t, 9.79, pct, 0.01)
}

func TestRecenterOnBreakoutRequiresTrailingFlag(t *testing.T) {
	cfg := baseConfig()
	cfg.TrailingUp = false
	_, _, ok := RecenterOnBreakout(cfg, cfg.UpperPrice*1.1)
	assert.False(t, ok, "breakout above band must not re-ladder without TrailingUp")

	cfg.TrailingUp = true
	lower, upper, ok := RecenterOnBreakout(cfg, cfg.UpperPrice*1.1)
	require.True(t, ok)
	assert.Less(t, lower, upper)
	assert.InDelta(t, cfg.UpperPrice-cfg.LowerPrice, upper-lower, 0.01, "band width must be preserved on re-ladder")
}

func TestSuggestParametersScalesWithVolatility(t *testing.T) {
	lower, upper, count, gridType := SuggestParameters(100000, 3)
	assert.Less(t, lower, 100000.0)
	assert.Greater(t, upper, 100000.0)
	assert.Equal(t, 20, count)
	assert.Equal(t, types.GridTypeArithmetic, gridType)

	_, _, highCount, highType := SuggestParameters(100000, 15)
	assert.Equal(t, 50, highCount)
	assert.Equal(t, types.GridTypeGeometric, highType)
}

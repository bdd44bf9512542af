package sizer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/kernel/calculator"
	"gridbot/internal/kernel/types"
)

func balancedLongConfig() *types.GridConfig {
	return &types.GridConfig{
		Symbol:      "BTCUSDT",
		GridType:    types.GridTypeArithmetic,
		Direction:   types.PositionLong,
		LowerPrice:  90000,
		UpperPrice:  110000,
		GridCount:   10, // even count -> 5 buys / 5 sells, no initial seed needed
		TotalInvest: 1000,
		Leverage:    1,
	}
}

// TestClosureInvariantBalancedLong exercises S1: an even-count Long grid
// with no leverage closes to (approximately) zero net position once every
// level has executed, without needing an initial seed order.
func TestClosureInvariantBalancedLong(t *testing.T) {
	cfg := balancedLongConfig()
	calc := calculator.New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	initial := Size(cfg, levels, 100000)

	final, ok := Verify(cfg, levels, initial, types.MinQuantity)
	assert.True(t, ok, "closure invariant violated: final position %.6f", final)
}

// TestClosureInvariantLeveragedImbalanced exercises S2: an odd-count,
// leveraged Long grid (imbalanced buy/sell counts) still closes within one
// quantity tick once the initial seed order is included.
func TestClosureInvariantLeveragedImbalanced(t *testing.T) {
	cfg := balancedLongConfig()
	cfg.GridCount = 11
	cfg.Leverage = 5
	calc := calculator.New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	initial := Size(cfg, levels, 100000)
	require.Equal(t, types.SideBuy, initial.Side, "Long grids open their initial seed on the Buy side")

	final, ok := Verify(cfg, levels, initial, types.MinQuantity)
	assert.True(t, ok, "closure invariant violated: final position %.6f", final)
}

func TestClosureInvariantShort(t *testing.T) {
	cfg := balancedLongConfig()
	cfg.Direction = types.PositionShort
	cfg.GridCount = 9
	cfg.Leverage = 3
	calc := calculator.New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	initial := Size(cfg, levels, 100000)
	require.Equal(t, types.SideSell, initial.Side, "Short grids open their initial seed on the Sell side")

	final, ok := Verify(cfg, levels, initial, types.MinQuantity)
	assert.True(t, ok, "closure invariant violated: final position %.6f", final)
}

func TestClosureInvariantNeutral(t *testing.T) {
	cfg := balancedLongConfig()
	cfg.Direction = types.PositionNeutral
	cfg.GridCount = 12
	calc := calculator.New(cfg, 2, 4)
	levels := calc.BuildLevels(100000)

	initial := Size(cfg, levels, 100000)
	final, ok := Verify(cfg, levels, initial, types.MinQuantity)
	assert.True(t, ok, "closure invariant violated: final position %.6f", final)
}

func TestFloorAndRoundAppliesMinimumQuantity(t *testing.T) {
	assert.Equal(t, types.MinQuantity, floorAndRound(decimal.NewFromFloat(0.0001)))
}

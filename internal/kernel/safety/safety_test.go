package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/kernel/types"
)

func safeConfig() *types.GridConfig {
	sl := 85000.0
	return &types.GridConfig{
		Symbol:      "BTCUSDT",
		GridType:    types.GridTypeArithmetic,
		Direction:   types.PositionLong,
		LowerPrice:  90000,
		UpperPrice:  110000,
		GridCount:   10,
		TotalInvest: 1000,
		Leverage:    3,
		StopLoss:    &sl,
	}
}

// TestCheckRejectsExtremeLeverage exercises S5: a 125x-leveraged config is
// rejected outright (errors present, Passed false).
func TestCheckRejectsExtremeLeverage(t *testing.T) {
	cfg := safeConfig()
	cfg.Leverage = 125
	report := Check(cfg, 100000, 0, nil)

	assert.False(t, report.Passed, "125x leverage must fail the safety gate")
	assert.NotEmpty(t, report.Errors)
	assert.Equal(t, "DO_NOT_START", report.RecommendedAction)
}

func TestCheckPassesConservativeConfig(t *testing.T) {
	cfg := safeConfig()
	report := Check(cfg, 100000, 10000, nil)

	assert.True(t, report.Passed)
	assert.NotEqual(t, "DO_NOT_START", report.RecommendedAction)
}

func TestCheckWarnsWithoutStopLoss(t *testing.T) {
	cfg := safeConfig()
	cfg.StopLoss = nil
	report := Check(cfg, 100000, 0, nil)

	found := false
	for _, w := range report.Warnings {
		if w == "no stop loss set, consider adding one to limit maximum loss" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLiquidationPriceBelowCurrentForLong(t *testing.T) {
	cfg := safeConfig()
	liq := LiquidationPrice(cfg, 100000)
	assert.Less(t, liq, 100000.0, "a long position's liquidation price sits below entry")
}

func TestLiquidationPriceAboveCurrentForShort(t *testing.T) {
	cfg := safeConfig()
	cfg.Direction = types.PositionShort
	liq := LiquidationPrice(cfg, 100000)
	assert.Greater(t, liq, 100000.0, "a short position's liquidation price sits above entry")
}

func TestMaxLossCappedAtTotalInvestment(t *testing.T) {
	cfg := safeConfig()
	sl := 1.0 // absurdly far stop loss to try to exceed total investment
	cfg.StopLoss = &sl
	loss := MaxLoss(cfg, 100000)
	assert.LessOrEqual(t, loss, cfg.TotalInvest)
}

func TestAllowHighRiskOverrideRequiresAcceptance(t *testing.T) {
	cfg := safeConfig()
	cfg.Leverage = 125
	report := Check(cfg, 100000, 0, nil)

	require.False(t, report.Passed)
	assert.False(t, report.AllowHighRiskOverride(false))
	assert.True(t, report.AllowHighRiskOverride(true))
}

func TestCheckMarketConditionsRejectsThinVolume(t *testing.T) {
	ok, reason := CheckMarketConditions(5, 1000)
	assert.False(t, ok)
	assert.Contains(t, reason, "insufficient volume")
}

func TestCheckMarketConditionsAcceptsNormalMarket(t *testing.T) {
	ok, _ := CheckMarketConditions(8, 5_000_000)
	assert.True(t, ok)
}

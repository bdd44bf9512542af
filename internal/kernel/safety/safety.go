// Package safety is the pure evaluation gate from config + market state to
// a scored report (§4.3). It has no side effects and makes no venue
// calls; the engine consults it before startup and refuses to proceed on
// unresolved errors.
package safety

import (
	"fmt"

	"gridbot/internal/kernel/types"
)

const (
	maxSafeLeverage           = 20
	warningLeverage           = 10
	minGridSpacingPct         = 0.1
	maxPositionPctOfEquity    = 50
	minLiquidationDistancePct = 5
)

// maintenanceMarginRates are per-symbol maintenance margin rates; unlisted
// symbols fall back to the 2% default.
var maintenanceMarginRates = map[string]float64{
	"BTCUSDT": 0.005,
	"ETHUSDT": 0.01,
}

const defaultMaintenanceMarginRate = 0.02

// Report is the outcome of a safety evaluation.
type Report struct {
	Passed             bool
	Warnings           []string
	Errors             []string
	RiskScore          float64
	LiquidationPrice   float64
	MaxLossUSD         float64
	RecommendedAction  string
	RecommendedReason  string
	Recommendations    map[string]any
}

// MinOrderSizeProbe carries exchange-minimum quantity information for the
// minimum-order-size check; nil skips that check (equivalent to the
// Python reference's "exchange" argument being absent).
type MinOrderSizeProbe struct {
	MinQuantity float64
}

// Check runs the full evaluation described in §4.3. accountEquity and
// probe are both optional (zero value / nil skip their respective
// checks), matching the reference checker's optional arguments.
func Check(cfg *types.GridConfig, currentPrice float64, accountEquity float64, probe *MinOrderSizeProbe) Report {
	var warnings, errors []string
	var score float64

	lw, le, ls := checkLeverage(cfg)
	warnings = append(warnings, lw...)
	errors = append(errors, le...)
	score += ls

	liqPrice := LiquidationPrice(cfg, currentPrice)

	qw, qe, qs := checkLiquidationDistance(cfg, currentPrice, liqPrice)
	warnings = append(warnings, qw...)
	errors = append(errors, qe...)
	score += qs

	sw, se, ss := checkGridSpacing(cfg)
	warnings = append(warnings, sw...)
	errors = append(errors, se...)
	score += ss

	if accountEquity > 0 {
		pw, pe, ps := checkPositionSize(cfg, accountEquity)
		warnings = append(warnings, pw...)
		errors = append(errors, pe...)
		score += ps
	}

	stw, ste, sts := checkStopLoss(cfg, liqPrice)
	warnings = append(warnings, stw...)
	errors = append(errors, ste...)
	score += sts

	maxLoss := MaxLoss(cfg, currentPrice)

	if probe != nil {
		mw, me, ms := checkMinimumOrderSize(cfg, currentPrice, probe.MinQuantity)
		warnings = append(warnings, mw...)
		errors = append(errors, me...)
		score += ms
	}

	if score > 100 {
		score = 100
	}

	action, reason, recs := recommendations(cfg, score)

	return Report{
		Passed:            len(errors) == 0,
		Warnings:          warnings,
		Errors:            errors,
		RiskScore:         score,
		LiquidationPrice:  liqPrice,
		MaxLossUSD:        maxLoss,
		RecommendedAction: action,
		RecommendedReason: reason,
		Recommendations:   recs,
	}
}

func checkLeverage(cfg *types.GridConfig) (warnings, errors []string, score float64) {
	switch {
	case cfg.Leverage > maxSafeLeverage:
		errors = append(errors, fmt.Sprintf("leverage %dx exceeds maximum safe level (%dx): risk of immediate liquidation", cfg.Leverage, maxSafeLeverage))
		score += 40
	case cfg.Leverage > warningLeverage:
		warnings = append(warnings, fmt.Sprintf("high leverage (%dx) increases liquidation risk, consider reducing to %dx or below", cfg.Leverage, warningLeverage))
		score += 20
	}
	if cfg.Leverage >= 50 {
		score += float64(cfg.Leverage-50) * 0.5
	}
	return warnings, errors, score
}

// MaintenanceMarginRate returns the per-symbol maintenance margin rate,
// defaulting to 2% for symbols without a dedicated entry.
func MaintenanceMarginRate(symbol string) float64 {
	if rate, ok := maintenanceMarginRates[symbol]; ok {
		return rate
	}
	return defaultMaintenanceMarginRate
}

// LiquidationPrice estimates the liquidation price per §4.3's formula:
// liq_distance = (1 - mm_rate) / leverage.
func LiquidationPrice(cfg *types.GridConfig, currentPrice float64) float64 {
	mmRate := MaintenanceMarginRate(cfg.Symbol)
	liqDistancePct := (1 - mmRate) * 100 / float64(cfg.Leverage)

	if cfg.Direction == types.PositionLong {
		return currentPrice * (1 - liqDistancePct/100)
	}
	return currentPrice * (1 + liqDistancePct/100)
}

func checkLiquidationDistance(cfg *types.GridConfig, currentPrice, liqPrice float64) (warnings, errors []string, score float64) {
	var distancePct float64

	if cfg.Direction == types.PositionLong {
		distancePct = (currentPrice - liqPrice) / currentPrice * 100
		if liqPrice > cfg.LowerPrice {
			errors = append(errors, fmt.Sprintf("liquidation price %.2f is above lower grid bound %.2f: grid trading will likely fail", liqPrice, cfg.LowerPrice))
			score += 50
		}
	} else {
		distancePct = (liqPrice - currentPrice) / currentPrice * 100
		if liqPrice < cfg.UpperPrice {
			errors = append(errors, fmt.Sprintf("liquidation price %.2f is below upper grid bound %.2f: grid trading will likely fail", liqPrice, cfg.UpperPrice))
			score += 50
		}
	}

	if distancePct < minLiquidationDistancePct {
		warnings = append(warnings, fmt.Sprintf("liquidation distance (%.2f%%) is very small, consider reducing leverage", distancePct))
		score += 20
	}

	return warnings, errors, score
}

func checkGridSpacing(cfg *types.GridConfig) (warnings, errors []string, score float64) {
	rangeSize := cfg.UpperPrice - cfg.LowerPrice
	spacing := rangeSize / float64(cfg.GridCount)
	spacingPct := spacing / cfg.LowerPrice * 100

	if spacingPct < minGridSpacingPct {
		warnings = append(warnings, fmt.Sprintf("grid spacing (%.3f%%) is very small, may cause excessive trading fees", spacingPct))
		score += 10
	}
	if cfg.GridCount > 100 {
		warnings = append(warnings, fmt.Sprintf("high grid count (%d) may be difficult to manage", cfg.GridCount))
		score += 5
	}
	return warnings, errors, score
}

func checkPositionSize(cfg *types.GridConfig, accountEquity float64) (warnings, errors []string, score float64) {
	maxPositionValue := cfg.TotalInvest * float64(cfg.Leverage)
	positionPct := maxPositionValue / accountEquity * 100

	if positionPct > maxPositionPctOfEquity {
		warnings = append(warnings, fmt.Sprintf("maximum position size ($%.2f) is %.1f%% of account equity", maxPositionValue, positionPct))
		score += 15
	}
	if positionPct > 80 {
		errors = append(errors, fmt.Sprintf("position size is %.1f%% of account equity: leaves no room for drawdown", positionPct))
		score += 30
	}
	return warnings, errors, score
}

func checkStopLoss(cfg *types.GridConfig, liqPrice float64) (warnings, errors []string, score float64) {
	if cfg.StopLoss == nil {
		warnings = append(warnings, "no stop loss set, consider adding one to limit maximum loss")
		score += 10
		return warnings, errors, score
	}

	sl := *cfg.StopLoss
	if cfg.Direction == types.PositionLong {
		if sl <= liqPrice {
			errors = append(errors, fmt.Sprintf("stop loss %.2f is at or below liquidation price %.2f: won't protect from liquidation", sl, liqPrice))
			score += 25
		}
	} else {
		if sl >= liqPrice {
			errors = append(errors, fmt.Sprintf("stop loss %.2f is at or above liquidation price %.2f: won't protect from liquidation", sl, liqPrice))
			score += 25
		}
	}
	return warnings, errors, score
}

// MaxLoss estimates the maximum potential loss in USD, capped at the
// total investment.
func MaxLoss(cfg *types.GridConfig, currentPrice float64) float64 {
	if cfg.StopLoss == nil {
		return cfg.TotalInvest
	}

	var lossPct float64
	if cfg.Direction == types.PositionLong {
		lossPct = (currentPrice - *cfg.StopLoss) / currentPrice * 100
	} else {
		lossPct = (*cfg.StopLoss - currentPrice) / currentPrice * 100
	}

	maxLoss := cfg.TotalInvest * (lossPct / 100) * float64(cfg.Leverage)
	if maxLoss < 0 {
		maxLoss = -maxLoss
	}
	if maxLoss > cfg.TotalInvest {
		return cfg.TotalInvest
	}
	return maxLoss
}

func checkMinimumOrderSize(cfg *types.GridConfig, currentPrice, minQty float64) (warnings, errors []string, score float64) {
	if minQty <= 0 {
		minQty = 0.0001
	}

	perGridValue := cfg.TotalInvest * float64(cfg.Leverage) / float64(cfg.GridCount)
	avgPrice := (cfg.UpperPrice + cfg.LowerPrice) / 2
	qtyPerGrid := perGridValue / avgPrice

	if qtyPerGrid < minQty {
		errors = append(errors, fmt.Sprintf("grid order size (%.6f) is below exchange minimum (%.6f): bot cannot place orders", qtyPerGrid, minQty))
		score += 50

		minInvestmentNeeded := minQty * avgPrice * float64(cfg.GridCount) / float64(cfg.Leverage)
		errors = append(errors, fmt.Sprintf("minimum investment needed: $%.2f", minInvestmentNeeded))
	}

	pricePositionPct := (currentPrice - cfg.LowerPrice) / (cfg.UpperPrice - cfg.LowerPrice) * 100
	gridsAbove := int(float64(cfg.GridCount) * (100 - pricePositionPct) / 100)
	if gridsAbove > 0 {
		initialPositionSize := float64(gridsAbove) * qtyPerGrid
		if initialPositionSize < minQty {
			errors = append(errors, fmt.Sprintf("initial position size (%.6f) is below exchange minimum: cannot establish initial position", initialPositionSize))
			score += 50
		}
	}

	return warnings, errors, score
}

func recommendations(cfg *types.GridConfig, score float64) (action, reason string, recs map[string]any) {
	recs = map[string]any{}

	if cfg.Leverage > maxSafeLeverage {
		lev := maxSafeLeverage
		if lev > 10 {
			lev = 10
		}
		recs["leverage"] = lev
	}
	if cfg.GridCount > 100 {
		recs["grid_count"] = 50
	}
	if cfg.StopLoss == nil {
		if cfg.Direction == types.PositionLong {
			recs["stop_loss"] = cfg.LowerPrice * 0.95
		} else {
			recs["stop_loss"] = cfg.UpperPrice * 1.05
		}
	}

	switch {
	case score > 70:
		action, reason = "DO_NOT_START", "configuration is extremely risky"
	case score > 50:
		action, reason = "MODIFY_REQUIRED", "configuration needs modification to reduce risk"
	case score > 30:
		action, reason = "PROCEED_WITH_CAUTION", "configuration has moderate risk"
	default:
		action, reason = "SAFE_TO_PROCEED", "configuration appears reasonable"
	}
	return action, reason, recs
}

// CheckMarketConditions is the supplemented pre-trade market-suitability
// check (SPEC_FULL.md Part D.5): returns ok=false with a reason when the
// market is too volatile, too quiet, or too thin to grid-trade safely.
// Neither Check nor the engine calls it, so it never blocks startup and
// its result is not part of the Report.
func CheckMarketConditions(volatilityPct, volume24h float64) (ok bool, reason string) {
	const minVolume = 100000.0
	switch {
	case volatilityPct > 50:
		return false, "market too volatile"
	case volatilityPct < 0.5:
		return false, "market too quiet"
	case volume24h < minVolume:
		return false, fmt.Sprintf("insufficient volume: $%.0f", volume24h)
	default:
		return true, ""
	}
}

// AllowHighRiskOverride reports whether startup should be allowed despite
// errors/warnings, given the operator's explicit high-risk acceptance
// flag (§4.3: "unless the user has explicitly flipped the accept high
// risk flag").
func (r Report) AllowHighRiskOverride(accepted bool) bool {
	if r.Passed && r.RiskScore <= 50 {
		return true
	}
	return accepted
}

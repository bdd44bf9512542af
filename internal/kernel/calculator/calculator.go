// Package calculator builds grid ladders: level prices, side assignment,
// and the closure-invariant-free quantity seed (refined by the sizer).
package calculator

import (
	"math"

	"gridbot/internal/kernel/types"
)

// PricePrecision and QuantityPrecision round ladder outputs. In
// production these come from exchange symbol filters (tick size / step
// size); the calculator accepts them as constructor parameters rather
// than hard-coding venue assumptions.
type Calculator struct {
	cfg             *types.GridConfig
	pricePrecision  int32
	quantityPrec    int32
}

// New builds a Calculator for the given config. pricePrecision and
// quantityPrecision are decimal places, matching exchange symbol filters.
func New(cfg *types.GridConfig, pricePrecision, quantityPrecision int32) *Calculator {
	return &Calculator{cfg: cfg, pricePrecision: pricePrecision, quantityPrec: quantityPrecision}
}

// BuildLevels computes all grid levels: prices, sides, and a first-pass
// quantity later overwritten by the sizer's closure-invariant pass.
func (c *Calculator) BuildLevels(currentPrice float64) []types.GridLevel {
	var levels []types.GridLevel
	if c.cfg.GridType == types.GridTypeGeometric {
		levels = c.geometricLevels()
	} else {
		levels = c.arithmeticLevels()
	}
	c.assignSides(levels, currentPrice)
	c.seedQuantities(levels)
	return levels
}

func (c *Calculator) arithmeticLevels() []types.GridLevel {
	n := c.cfg.GridCount
	spacing := (c.cfg.UpperPrice - c.cfg.LowerPrice) / float64(n-1)
	levels := make([]types.GridLevel, n)
	for i := 0; i < n; i++ {
		price := c.cfg.LowerPrice + float64(i)*spacing
		levels[i] = types.GridLevel{
			Index:  i,
			Price:  round(price, c.pricePrecision),
			Side:   types.SideBuy,
			Status: types.OrderPending,
		}
	}
	return levels
}

func (c *Calculator) geometricLevels() []types.GridLevel {
	n := c.cfg.GridCount
	ratio := math.Pow(c.cfg.UpperPrice/c.cfg.LowerPrice, 1/float64(n-1))
	levels := make([]types.GridLevel, n)
	for i := 0; i < n; i++ {
		price := c.cfg.LowerPrice * math.Pow(ratio, float64(i))
		levels[i] = types.GridLevel{
			Index:  i,
			Price:  round(price, c.pricePrecision),
			Side:   types.SideBuy,
			Status: types.OrderPending,
		}
	}
	return levels
}

// assignSides implements §4.1's side-assignment table, including the
// Neutral odd-grid-count tie-break decided in SPEC_FULL.md (Open
// Question #2): the midpoint level, if its price lands exactly at the
// boundary classification, assigns to Sell.
func (c *Calculator) assignSides(levels []types.GridLevel, currentPrice float64) {
	p := currentPrice
	if p == 0 {
		p = (c.cfg.UpperPrice + c.cfg.LowerPrice) / 2
	}
	for i := range levels {
		lv := &levels[i]
		switch c.cfg.Direction {
		case types.PositionLong:
			if lv.Price < p {
				lv.Side = types.SideBuy
			} else {
				lv.Side = types.SideSell
			}
		case types.PositionShort:
			if lv.Price > p {
				lv.Side = types.SideSell
			} else {
				lv.Side = types.SideBuy
			}
		default: // Neutral
			if lv.Price < p {
				lv.Side = types.SideBuy
			} else if lv.Price > p {
				lv.Side = types.SideSell
			} else {
				lv.Side = types.SideSell
			}
		}
	}
}

// seedQuantities assigns a uniform first-pass quantity from investment
// per grid; the sizer package replaces these with closure-invariant
// quantities before any order is placed.
func (c *Calculator) seedQuantities(levels []types.GridLevel) {
	investPerGrid := c.cfg.InvestmentPerGrid()
	effective := investPerGrid
	if c.cfg.Leverage > 1 {
		effective = investPerGrid * float64(c.cfg.Leverage)
	}
	for i := range levels {
		qty := effective / levels[i].Price
		levels[i].Quantity = round(qty, c.quantityPrec)
	}
}

// InitialOrders filters the ladder down to the levels that should have a
// resting order placed at startup: skip a side whose price would cross
// the market immediately, and skip anything within 0.05% of current
// price (§4.6 step 8).
func (c *Calculator) InitialOrders(levels []types.GridLevel, currentPrice float64) []types.GridLevel {
	const minDistance = 0.0005
	out := make([]types.GridLevel, 0, len(levels))
	for _, lv := range levels {
		if lv.Side == types.SideBuy && lv.Price > currentPrice {
			continue
		}
		if lv.Side == types.SideSell && lv.Price < currentPrice {
			continue
		}
		if currentPrice > 0 && math.Abs(lv.Price-currentPrice)/currentPrice < minDistance {
			continue
		}
		out = append(out, lv)
	}
	return out
}

// TradeProfit computes net profit and profit percentage for a single
// closed grid trade, per §4.1.
func TradeProfit(buyPrice, sellPrice, quantity, feeRate float64) (net, pct float64) {
	if feeRate == 0 {
		feeRate = types.DefaultFeeRate
	}
	gross := (sellPrice - buyPrice) * quantity
	fees := (sellPrice + buyPrice) * quantity * feeRate
	net = gross - fees
	investment := buyPrice * quantity
	if investment > 0 {
		pct = net / investment * 100
	}
	return net, pct
}

// SuggestParameters recommends grid parameters from recent volatility,
// a supplemented feature grounded in the original calculator's
// suggest_grid_parameters. It is never invoked automatically by the
// engine; it is a CLI/library convenience only.
func SuggestParameters(currentPrice, volatilityPct float64) (lower, upper float64, count int, gridType types.GridType) {
	var rangePct float64
	switch {
	case volatilityPct < 5:
		rangePct, count, gridType = 5, 20, types.GridTypeArithmetic
	case volatilityPct < 10:
		rangePct, count, gridType = 10, 30, types.GridTypeArithmetic
	default:
		rangePct, count, gridType = 20, 50, types.GridTypeGeometric
	}
	lower = currentPrice * (1 - rangePct/200)
	upper = currentPrice * (1 + rangePct/200)
	return lower, upper, count, gridType
}

// RecenterOnBreakout implements §4.1's trailing re-ladder rule: if price
// has broken out of the band by 5% and the corresponding trailing flag is
// enabled, returns a new (lower, upper) band recentred 40%/60% around the
// current price while preserving the band width. ok is false when no
// trailing flag applies and the caller should not re-ladder.
func RecenterOnBreakout(cfg *types.GridConfig, currentPrice float64) (lower, upper float64, ok bool) {
	rangeSize := cfg.UpperPrice - cfg.LowerPrice
	above := currentPrice > cfg.UpperPrice*1.05
	below := currentPrice < cfg.LowerPrice*0.95

	switch {
	case above && cfg.TrailingUp:
		return currentPrice - rangeSize*0.4, currentPrice + rangeSize*0.6, true
	case below && cfg.TrailingDown:
		return currentPrice - rangeSize*0.6, currentPrice + rangeSize*0.4, true
	default:
		return 0, 0, false
	}
}

func round(v float64, precision int32) float64 {
	mult := math.Pow(10, float64(precision))
	return math.Round(v*mult) / mult
}

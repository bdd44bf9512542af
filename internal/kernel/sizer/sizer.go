// Package sizer derives the initial-position quantity and per-level grid
// quantities so that full ladder execution returns net position to zero
// under leverage (the closure invariant, §4.2). Arithmetic runs in
// shopspring/decimal: the 0.001 base-unit floor dominates at BTC-scale
// prices, but altcoin symbols can produce sub-tick residues that a
// float64 closure check would miss (§9 design note).
package sizer

import (
	"math"

	"github.com/shopspring/decimal"

	"gridbot/internal/kernel/types"
)

// InitialPosition is the seed quantity and side placed before the ladder
// itself.
type InitialPosition struct {
	Quantity float64
	Side     types.OrderSide
}

// Size rewrites levels' Quantity fields in place and returns the initial
// position that must be opened before the ladder is placed.
func Size(cfg *types.GridConfig, levels []types.GridLevel, currentPrice float64) InitialPosition {
	capitalUSD := decimal.NewFromFloat(cfg.TotalInvest).Mul(decimal.NewFromInt(int64(cfg.Leverage)))
	capitalBase := capitalUSD.Div(decimal.NewFromFloat(currentPrice))

	var buys, sells []*types.GridLevel
	for i := range levels {
		if levels[i].Side == types.SideBuy {
			buys = append(buys, &levels[i])
		} else {
			sells = append(sells, &levels[i])
		}
	}

	switch cfg.Direction {
	case types.PositionLong:
		return sizeDirectional(capitalBase, buys, sells, types.SideBuy)
	case types.PositionShort:
		return sizeDirectional(capitalBase, sells, buys, types.SideSell)
	default:
		return sizeNeutral(capitalBase, levels, buys, sells)
	}
}

// sizeDirectional handles both Long (openSide=Buy, closeSide=Sell) and
// Short (openSide=Sell, closeSide=Buy) by mirroring §4.2's formulas:
// openLevels are the side that OPENS exposure and whose sum, plus the
// initial seed, must equal full capital; closeLevels unwind it exactly.
func sizeDirectional(capitalBase decimal.Decimal, openLevels, closeLevels []*types.GridLevel, openSide types.OrderSide) InitialPosition {
	nOpen := decimal.NewFromInt(int64(len(openLevels)))
	nClose := decimal.NewFromInt(int64(len(closeLevels)))

	var qtyClose, qtyOpen decimal.Decimal

	if len(openLevels) == len(closeLevels) && len(closeLevels) > 0 {
		// Balanced grid: no initial seed needed, both sides share the
		// per-level quantity that deploys full capital.
		qtyClose = capitalBase.Div(nClose)
		qtyOpen = qtyClose
	} else {
		if len(closeLevels) > 0 {
			qtyClose = capitalBase.Div(nClose)
		}
		if len(openLevels) > 0 {
			totalClose := qtyClose.Mul(nClose)
			byCount := totalClose.Div(nOpen.Add(decimal.NewFromInt(1)))
			byCapital := capitalBase.Div(nOpen)
			qtyOpen = minDecimal(byCount, byCapital)
		}
	}

	var roundedOpen, roundedClose decimal.Decimal
	if len(openLevels) > 0 {
		roundedOpen = floorAndRoundDecimal(qtyOpen)
		for _, lv := range openLevels {
			lv.Quantity = roundedOpen.InexactFloat64()
		}
	}
	if len(closeLevels) > 0 {
		roundedClose = floorAndRoundDecimal(qtyClose)
		for _, lv := range closeLevels {
			lv.Quantity = roundedClose.InexactFloat64()
		}
	}

	// §4.2: any floor/round adjustment must be compensated into the
	// initial seed so the closure invariant holds against the rounded
	// quantities actually placed, not the pre-round theoretical ones.
	// Deriving initial from the rounded totals (rather than capitalBase
	// directly) keeps this exact even when len(openLevels) == 0.
	initial := roundedClose.Mul(nClose).Sub(roundedOpen.Mul(nOpen))
	if initial.IsNegative() {
		initial = decimal.Zero
	}
	iq, _ := initial.Float64()
	return InitialPosition{Quantity: iq, Side: openSide}
}

func sizeNeutral(capitalBase decimal.Decimal, levels []types.GridLevel, buys, sells []*types.GridLevel) InitialPosition {
	total := decimal.NewFromInt(int64(len(levels)))
	if total.IsZero() {
		return InitialPosition{}
	}
	qtyPerOrder := capitalBase.Div(total)
	rounded := floorAndRound(qtyPerOrder)

	for i := range levels {
		levels[i].Quantity = rounded
	}

	buyTotal := decimal.NewFromFloat(rounded).Mul(decimal.NewFromInt(int64(len(buys))))
	sellTotal := decimal.NewFromFloat(rounded).Mul(decimal.NewFromInt(int64(len(sells))))

	if sellTotal.GreaterThan(buyTotal) {
		diff, _ := sellTotal.Sub(buyTotal).Float64()
		return InitialPosition{Quantity: diff, Side: types.SideBuy}
	}
	diff, _ := buyTotal.Sub(sellTotal).Float64()
	return InitialPosition{Quantity: diff, Side: types.SideSell}
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// floorAndRoundDecimal applies the venue-minimum floor then rounds to 4
// decimal places, matching the reference calculator's
// round(max(qty, 0.001), 4), keeping the result in decimal so callers can
// sum exact per-level totals back into the initial seed.
func floorAndRoundDecimal(d decimal.Decimal) decimal.Decimal {
	min := decimal.NewFromFloat(types.MinQuantity)
	if d.LessThan(min) {
		d = min
	}
	return d.Round(4)
}

func floorAndRound(d decimal.Decimal) float64 {
	return floorAndRoundDecimal(d).InexactFloat64()
}

// Verify asserts the closure invariant holds within one quantity tick:
// the signed sum of all order quantities plus the initial position must
// be within epsilon of zero.
func Verify(cfg *types.GridConfig, levels []types.GridLevel, initial InitialPosition, epsilon float64) (finalPosition float64, ok bool) {
	var buyTotal, sellTotal float64
	for _, lv := range levels {
		if lv.Side == types.SideBuy {
			buyTotal += lv.Quantity
		} else {
			sellTotal += lv.Quantity
		}
	}

	signedInitial := initial.Quantity
	if initial.Side == types.SideSell {
		signedInitial = -signedInitial
	}

	finalPosition = signedInitial + buyTotal - sellTotal
	if epsilon <= 0 {
		epsilon = types.MinQuantity
	}
	return finalPosition, math.Abs(finalPosition) < epsilon
}

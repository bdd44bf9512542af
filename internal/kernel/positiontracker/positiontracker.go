// Package positiontracker applies fills to the running position, pairs
// buy/sell fills at each grid index into closed trades, and maintains
// realized/unrealized P&L, volume, and drawdown (§4.5). All mutation
// happens under a single mutex; readers take consistent snapshots (§5).
package positiontracker

import (
	"sync"
	"time"

	"gridbot/internal/kernel/calculator"
	"gridbot/internal/kernel/types"
)

// Tracker owns the running GridPosition, the pending-buy/pending-sell
// tables keyed by grid index, and the closed-trade log.
type Tracker struct {
	mu sync.Mutex

	symbol  string
	feeRate float64

	position types.GridPosition

	pendingBuys  map[int]types.GridOrder
	pendingSells map[int]types.GridOrder

	trades []types.GridTrade
	stats  types.GridStats

	peakEquity float64
}

// New constructs a Tracker for symbol. feeRate of 0 selects
// types.DefaultFeeRate.
func New(symbol string, feeRate float64) *Tracker {
	if feeRate == 0 {
		feeRate = types.DefaultFeeRate
	}
	return &Tracker{
		symbol:       symbol,
		feeRate:      feeRate,
		position:     types.GridPosition{Symbol: symbol},
		pendingBuys:  make(map[int]types.GridOrder),
		pendingSells: make(map[int]types.GridOrder),
		stats:        types.GridStats{StartedAt: time.Now()},
	}
}

// CurrentSize returns the signed net position size, satisfying the
// ordermanager.PositionSizeReader interface used for reduce-only
// determination.
func (t *Tracker) CurrentSize() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position.Size
}

// Snapshot returns a consistent copy of the current position.
func (t *Tracker) Snapshot() types.GridPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// Stats returns a consistent copy of the aggregate statistics.
func (t *Tracker) Stats() types.GridStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ClosedTrades returns a copy of the closed-trade log.
func (t *Tracker) ClosedTrades() []types.GridTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.GridTrade, len(t.trades))
	copy(out, t.trades)
	return out
}

// AdoptExisting seeds the tracker from a venue-reported existing
// position, used at startup (§4.6 step 5) when the engine resumes onto
// a nonzero position instead of seeding a fresh one.
func (t *Tracker) AdoptExisting(size, entryPrice float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position.Size = size
	t.position.EntryPrice = entryPrice
}

// UpdateMarkPrice refreshes the current price and the derived
// unrealized P&L without touching the position size.
func (t *Tracker) UpdateMarkPrice(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position.CurrentPrice = price
	t.position.UnrealizedPnL = (price - t.position.EntryPrice) * t.position.Size
	t.updateDrawdownLocked()
}

// ApplyFill updates the running position per the §4.5 size-update
// rules, accumulates volume, and routes the fill into the grid-trade
// pairing table for index. fillPrice of 0 falls back to order.Price.
func (t *Tracker) ApplyFill(order types.GridOrder, fillPrice float64) *types.GridTrade {
	if fillPrice == 0 {
		fillPrice = order.Price
	}
	order.FillPrice = fillPrice

	t.mu.Lock()
	defer t.mu.Unlock()

	t.applySizeUpdateLocked(order.Side, order.Quantity, fillPrice)
	t.stats.Volume += order.Quantity * fillPrice
	t.updateDrawdownLocked()

	return t.pairLocked(order)
}

// applySizeUpdateLocked implements the buy/sell size-update rules of
// §4.5. Caller holds the mutex.
func (t *Tracker) applySizeUpdateLocked(side types.OrderSide, q, p float64) {
	size := t.position.Size
	entry := t.position.EntryPrice

	if side == types.SideBuy {
		switch {
		case size >= 0:
			// Buy into long: weighted-average entry.
			newSize := size + q
			if newSize != 0 {
				t.position.EntryPrice = (size*entry + q*p) / newSize
			}
			t.position.Size = newSize
		default:
			newSize := size + q
			if newSize >= 0 {
				// Flip: realize the short portion, re-establish entry at p.
				t.position.RealizedPnL += (entry - p) * (-size)
				t.position.EntryPrice = p
				t.position.Size = newSize
			} else {
				// Partial cover: realize on the covered quantity only.
				t.position.RealizedPnL += (entry - p) * q
				t.position.Size = newSize
			}
		}
		return
	}

	// Sell.
	switch {
	case size <= 0:
		// Sell into short: weighted-average entry over |size|.
		newSize := size - q
		absNew := -newSize
		absOld := -size
		if absNew != 0 {
			t.position.EntryPrice = (absOld*entry + q*p) / absNew
		}
		t.position.Size = newSize
	default:
		newSize := size - q
		if newSize <= 0 {
			// Flip: realize the long portion, re-establish entry at p.
			t.position.RealizedPnL += (p - entry) * size
			t.position.EntryPrice = p
			t.position.Size = newSize
		} else {
			// Partial close: realize on the closed quantity only.
			t.position.RealizedPnL += (p - entry) * q
			t.position.Size = newSize
		}
	}
}

// pairLocked routes a fill into pending_buys/pending_sells keyed by
// grid index. When both sides of an index are present, it emits a
// closed GridTrade and clears both slots. A subsequent fill on the same
// side/index before its pair arrives replaces the pending slot
// (last-write-wins, §4.5).
func (t *Tracker) pairLocked(order types.GridOrder) *types.GridTrade {
	idx := order.GridIndex

	if order.Side == types.SideBuy {
		if sell, ok := t.pendingSells[idx]; ok {
			trade := t.closeTradeLocked(order, sell)
			delete(t.pendingSells, idx)
			return &trade
		}
		t.pendingBuys[idx] = order
		return nil
	}

	if buy, ok := t.pendingBuys[idx]; ok {
		trade := t.closeTradeLocked(buy, order)
		delete(t.pendingBuys, idx)
		return &trade
	}
	t.pendingSells[idx] = order
	return nil
}

func (t *Tracker) closeTradeLocked(buy, sell types.GridOrder) types.GridTrade {
	net, pct := calculator.TradeProfit(buy.FillPrice, sell.FillPrice, buy.Quantity, t.feeRate)

	trade := types.GridTrade{
		BuyOrder:         buy,
		SellOrder:        sell,
		Profit:           net,
		ProfitPercentage: pct,
		CompletedAt:      time.Now(),
	}
	t.trades = append(t.trades, trade)
	t.position.TotalTrades++

	t.stats.TotalTrades++
	t.stats.GridProfit += net
	t.stats.TotalProfit = t.stats.GridProfit + t.stats.PositionProfit
	fees := (sell.FillPrice + buy.FillPrice) * buy.Quantity * t.feeRate
	t.stats.Fees += fees
	if net >= 0 {
		t.stats.WinningTrades++
	} else {
		t.stats.LosingTrades++
	}
	return trade
}

// updateDrawdownLocked recomputes peak/current/max drawdown from the
// latest realized+unrealized total (§4.5).
func (t *Tracker) updateDrawdownLocked() {
	total := t.position.RealizedPnL + t.position.UnrealizedPnL
	if total > t.peakEquity {
		t.peakEquity = total
	}
	current := t.peakEquity - total
	if current < 0 {
		current = 0
	}
	t.stats.CurrentDrawdown = current
	if current > t.stats.MaxDrawdown {
		t.stats.MaxDrawdown = current
	}
}

// ConsecutiveLosses counts the trailing run of losing trades, used by
// the Risk Monitor's circuit breaker (§4.6).
func (t *Tracker) ConsecutiveLosses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := len(t.trades) - 1; i >= 0; i-- {
		if t.trades[i].Profit >= 0 {
			break
		}
		n++
	}
	return n
}

// PendingCount reports the number of unpaired fills waiting for a
// counterpart at any index, for diagnostics and tests.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingBuys) + len(t.pendingSells)
}

// Package ordermanager places, cancels, and tracks grid orders, mapping
// each to its grid level and enforcing rate-limit and post-only
// discipline (§4.4). All mutation of its two tables happens under a
// single mutex, per the concurrency model in §5.
package ordermanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gridbot/internal/exchange"
	"gridbot/internal/kernel/errs"
	"gridbot/internal/kernel/types"
)

const (
	batchSize          = 10
	interBatchDelay    = 500 * time.Millisecond
	minOrderInterval   = 100 * time.Millisecond
	placeCancelTimeout = 5 * time.Second
)

// PositionSizeReader exposes just enough of the Position Tracker for
// reduce-only determination, avoiding a circular package dependency.
type PositionSizeReader interface {
	CurrentSize() float64
}

// OrderPersister records order lifecycle events into order_history (§6);
// kept minimal so this package does not import internal/store directly.
// The engine's Persister satisfies this by structural typing.
type OrderPersister interface {
	RecordOrder(symbol string, order types.GridOrder) error
}

// FillHandler is invoked exactly once per order on its transition to
// Filled, regardless of whether that transition arrived via the stream
// or the polling path.
type FillHandler func(order types.GridOrder)

// Manager owns active_orders and by_index plus the rate-limit clock.
type Manager struct {
	mu sync.Mutex

	exch      exchange.Adapter
	cfg       *types.GridConfig
	tracker   PositionSizeReader
	persister OrderPersister
	log       *logrus.Entry

	activeOrders map[string]*types.GridOrder // order_id -> order
	byIndex      map[int]string              // grid_index -> order_id
	onFill       map[string]FillHandler       // order_id -> callback, fired once

	lastOrderTime time.Time
}

// New constructs a Manager. tracker may be nil until
// SetPositionTracker resolves the circular dependency with the Position
// Tracker, mirroring the reference implementation's two-phase wiring.
func New(exch exchange.Adapter, cfg *types.GridConfig, log *logrus.Entry) *Manager {
	return &Manager{
		exch:         exch,
		cfg:          cfg,
		log:          log,
		activeOrders: make(map[string]*types.GridOrder),
		byIndex:      make(map[int]string),
		onFill:       make(map[string]FillHandler),
	}
}

// SetPositionTracker wires the reduce-only lookup after both components
// exist.
func (m *Manager) SetPositionTracker(tracker PositionSizeReader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = tracker
}

// SetPersister wires the order_history recorder. Without it, order
// lifecycle events are tracked in memory only.
func (m *Manager) SetPersister(persister OrderPersister) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persister = persister
}

// recordOrder persists a snapshot of an order's current lifecycle state;
// a no-op when no persister is wired. Must be called without m.mu held.
func (m *Manager) recordOrder(order types.GridOrder) {
	m.mu.Lock()
	persister := m.persister
	m.mu.Unlock()
	if persister == nil {
		return
	}
	if err := persister.RecordOrder(m.cfg.Symbol, order); err != nil && m.log != nil {
		m.log.WithError(err).WithField("order_id", order.OrderID).Warn("failed to persist order history")
	}
}

// PlaceInitialOrders submits orders for every level in index order,
// batching ten at a time with a 500ms inter-batch pause (§4.4).
func (m *Manager) PlaceInitialOrders(ctx context.Context, levels []types.GridLevel) (placed []string, failures []error) {
	for start := 0; start < len(levels); start += batchSize {
		end := start + batchSize
		if end > len(levels) {
			end = len(levels)
		}
		for i := start; i < end; i++ {
			orderID, err := m.PlaceGridOrder(ctx, &levels[i])
			if err != nil {
				failures = append(failures, fmt.Errorf("level %d: %w", levels[i].Index, err))
				continue
			}
			placed = append(placed, orderID)
		}
		if end < len(levels) {
			time.Sleep(interBatchDelay)
		}
	}
	return placed, failures
}

// PlaceGridOrder submits a single grid-level order, determining
// reduce-only from the Position Tracker and applying the rate-limit
// discipline: no two submissions within 100ms from this component.
func (m *Manager) PlaceGridOrder(ctx context.Context, level *types.GridLevel) (string, error) {
	clientID := m.newClientID(level.Index)

	reduceOnly := false
	if m.tracker != nil {
		size := m.tracker.CurrentSize()
		if (size > 0 && level.Side == types.SideSell) || (size < 0 && level.Side == types.SideBuy) {
			reduceOnly = true
		}
	}

	tif := m.cfg.TimeInForce
	if m.cfg.PostOnly {
		tif = types.TimeInForcePostOnly
	}

	req := exchange.OrderRequest{
		Symbol:      m.cfg.Symbol,
		Side:        level.Side,
		Type:        "LIMIT",
		Quantity:    level.Quantity,
		Price:       level.Price,
		ClientID:    clientID,
		TimeInForce: tif,
		ReduceOnly:  reduceOnly,
	}

	m.applyRateLimit()

	result := exchange.Await(ctx, placeCancelTimeout, func(ctx context.Context) (string, error) {
		return m.exch.PlaceOrder(ctx, req)
	})
	if result.Status == exchange.Failure {
		return "", &errs.VenueRejectionError{Cause: result.Err}
	}

	orderID := result.Data
	order := &types.GridOrder{
		GridIndex: level.Index,
		OrderID:   orderID,
		ClientID:  clientID,
		Side:      level.Side,
		Price:     level.Price,
		Quantity:  level.Quantity,
		Status:    types.OrderPlaced,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.activeOrders[orderID] = order
	m.byIndex[level.Index] = orderID
	m.mu.Unlock()

	level.OrderID = orderID
	level.Status = types.OrderPlaced

	if m.log != nil {
		m.log.WithFields(logrus.Fields{"order_id": orderID, "index": level.Index, "side": level.Side, "price": level.Price}).Debug("grid order placed")
	}

	m.recordOrder(*order)

	return orderID, nil
}

// CancelOrder best-effort cancels a single order; on success both tables
// are purged.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) bool {
	result := exchange.Await(ctx, placeCancelTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.exch.CancelOrder(ctx, m.cfg.Symbol, orderID)
	})

	if result.Status != exchange.Success {
		return false
	}

	m.mu.Lock()
	order, ok := m.activeOrders[orderID]
	if ok {
		delete(m.activeOrders, orderID)
		delete(m.byIndex, order.GridIndex)
		delete(m.onFill, orderID)
	}
	m.mu.Unlock()

	if ok {
		cancelled := *order
		cancelled.Status = types.OrderCancelled
		m.recordOrder(cancelled)
	}
	return true
}

// CancelAll cancels every tracked order, returning (successful, failed).
func (m *Manager) CancelAll(ctx context.Context) (successful, failed int) {
	m.mu.Lock()
	orderIDs := make([]string, 0, len(m.activeOrders))
	for id := range m.activeOrders {
		orderIDs = append(orderIDs, id)
	}
	m.mu.Unlock()

	for _, id := range orderIDs {
		if m.CancelOrder(ctx, id) {
			successful++
		} else {
			failed++
		}
		time.Sleep(100 * time.Millisecond)
	}
	return successful, failed
}

// UpdateOrderStatus is the single reconciliation entrypoint, called from
// both the streaming path and the polling path. The terminal Filled
// transition applies at most once (§5, §8 property 7): a second call
// with the same terminal status is a no-op because the status is
// already terminal when it arrives.
func (m *Manager) UpdateOrderStatus(orderID string, status types.OrderStatus, fillPrice float64) {
	m.mu.Lock()
	order, ok := m.activeOrders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if order.Status.IsTerminal() {
		// Already terminal: de-duplicate regardless of transport.
		m.mu.Unlock()
		return
	}
	order.Status = status

	var handler FillHandler
	var fired types.GridOrder
	if status == types.OrderFilled {
		now := time.Now()
		order.FilledAt = &now
		if fillPrice > 0 {
			order.FillPrice = fillPrice
		} else {
			order.FillPrice = order.Price
		}
		if h, exists := m.onFill[orderID]; exists {
			handler = h
			fired = *order
			delete(m.onFill, orderID)
		}
	}
	updated := *order
	m.mu.Unlock()

	m.recordOrder(updated)

	if handler != nil {
		handler(fired)
	}
}

// OnFilled registers a one-shot callback for an order's fill transition.
func (m *Manager) OnFilled(orderID string, handler FillHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFill[orderID] = handler
}

// ReplaceOrder cancels any existing order at the level then places a new
// one, optionally at a new price.
func (m *Manager) ReplaceOrder(ctx context.Context, level *types.GridLevel, newPrice float64) (string, error) {
	if level.OrderID != "" {
		m.CancelOrder(ctx, level.OrderID)
	}
	if newPrice > 0 {
		level.Price = newPrice
	}
	return m.PlaceGridOrder(ctx, level)
}

// ActiveOrders returns a snapshot of all tracked orders.
func (m *Manager) ActiveOrders() []types.GridOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.GridOrder, 0, len(m.activeOrders))
	for _, o := range m.activeOrders {
		out = append(out, *o)
	}
	return out
}

// OrderByIndex looks up the active order at a grid index, if any.
func (m *Manager) OrderByIndex(index int) (types.GridOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIndex[index]
	if !ok {
		return types.GridOrder{}, false
	}
	order, ok := m.activeOrders[id]
	if !ok {
		return types.GridOrder{}, false
	}
	return *order, true
}

// HasLiveOrderAt reports whether a level already has a live (Placed)
// order, used by the fill-reaction guard in §4.6.
func (m *Manager) HasLiveOrderAt(index int) bool {
	order, ok := m.OrderByIndex(index)
	return ok && order.Status == types.OrderPlaced
}

func (m *Manager) newClientID(index int) string {
	return fmt.Sprintf("grid_%s_%d_%s", m.cfg.Symbol, index, uuid.New().String()[:8])
}

func (m *Manager) applyRateLimit() {
	m.mu.Lock()
	since := time.Since(m.lastOrderTime)
	var wait time.Duration
	if since < minOrderInterval {
		wait = minOrderInterval - since
	}
	m.lastOrderTime = time.Now().Add(wait)
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

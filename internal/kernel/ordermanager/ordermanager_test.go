package ordermanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/exchange"
	"gridbot/internal/kernel/types"
)

// fakeAdapter is a minimal exchange.Adapter test double: every order
// placed gets a sequential numeric id and always succeeds, mirroring the
// shape of a mock venue test the teacher would hand-roll for unit tests.
type fakeAdapter struct {
	nextID    int64
	placed    []exchange.OrderRequest
	cancelled []string
	failPlace bool
}

func (f *fakeAdapter) FetchTickers(ctx context.Context) ([]exchange.Ticker, error) { return nil, nil }
func (f *fakeAdapter) FetchPositions(ctx context.Context, symbol string) ([]exchange.PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchOrders(ctx context.Context, symbol string) ([]exchange.OrderSnapshot, error) {
	return nil, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if f.failPlace {
		return "", assert.AnError
	}
	f.placed = append(f.placed, req)
	id := atomic.AddInt64(&f.nextID, 1)
	return string(rune('A' + id)), nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAdapter) FetchPositionMode(ctx context.Context, symbol string) (exchange.PositionMode, error) {
	return exchange.OneWay, nil
}
func (f *fakeAdapter) SetPositionMode(ctx context.Context, symbol string, mode exchange.PositionMode) error {
	return nil
}
func (f *fakeAdapter) Stream() exchange.Stream { return nil }

type fakeTracker struct{ size float64 }

func (f fakeTracker) CurrentSize() float64 { return f.size }

// fakePersister is an OrderPersister test double recording every call for
// assertion, standing in for internal/store.Store.
type fakePersister struct {
	mu     sync.Mutex
	orders []types.GridOrder
}

func (p *fakePersister) RecordOrder(symbol string, order types.GridOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return nil
}

func (p *fakePersister) statuses() []types.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.OrderStatus, len(p.orders))
	for i, o := range p.orders {
		out[i] = o.Status
	}
	return out
}

func testConfig() *types.GridConfig {
	return &types.GridConfig{
		Symbol:      "BTCUSDT",
		GridType:    types.GridTypeArithmetic,
		Direction:   types.PositionLong,
		LowerPrice:  90000,
		UpperPrice:  110000,
		GridCount:   4,
		TotalInvest: 1000,
		Leverage:    1,
		TimeInForce: types.TimeInForceGTC,
	}
}

func TestPlaceGridOrderMarksReduceOnlyWhenClosingExposure(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)
	mgr.SetPositionTracker(fakeTracker{size: 1}) // long exposure: a Sell closes it

	level := &types.GridLevel{Index: 0, Price: 95000, Quantity: 0.01, Side: types.SideSell}
	_, err := mgr.PlaceGridOrder(context.Background(), level)
	require.NoError(t, err)
	require.Len(t, adapter.placed, 1)
	assert.True(t, adapter.placed[0].ReduceOnly)
}

func TestPlaceGridOrderNotReduceOnlyWhenOpeningExposure(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)
	mgr.SetPositionTracker(fakeTracker{size: 1}) // long exposure: a Buy adds to it

	level := &types.GridLevel{Index: 1, Price: 95000, Quantity: 0.01, Side: types.SideBuy}
	_, err := mgr.PlaceGridOrder(context.Background(), level)
	require.NoError(t, err)
	assert.False(t, adapter.placed[0].ReduceOnly)
}

// TestUpdateOrderStatusFiresFillHandlerExactlyOnce exercises §8 property 7:
// a duplicate terminal-status update (as could arrive from both the
// stream and a reconciliation poll) must not fire the fill callback twice.
func TestUpdateOrderStatusFiresFillHandlerExactlyOnce(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)

	level := &types.GridLevel{Index: 0, Price: 95000, Quantity: 0.01, Side: types.SideBuy}
	orderID, err := mgr.PlaceGridOrder(context.Background(), level)
	require.NoError(t, err)

	var fired int
	mgr.OnFilled(orderID, func(order types.GridOrder) { fired++ })

	mgr.UpdateOrderStatus(orderID, types.OrderFilled, 95000)
	mgr.UpdateOrderStatus(orderID, types.OrderFilled, 95000) // duplicate, e.g. from a reconciliation poll

	assert.Equal(t, 1, fired, "fill handler must fire exactly once regardless of duplicate terminal updates")
}

func TestUpdateOrderStatusIgnoresUnknownOrder(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)
	assert.NotPanics(t, func() {
		mgr.UpdateOrderStatus("does-not-exist", types.OrderFilled, 1)
	})
}

func TestCancelOrderRemovesFromBothTables(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)

	level := &types.GridLevel{Index: 2, Price: 95000, Quantity: 0.01, Side: types.SideBuy}
	orderID, err := mgr.PlaceGridOrder(context.Background(), level)
	require.NoError(t, err)

	require.True(t, mgr.CancelOrder(context.Background(), orderID))
	_, ok := mgr.OrderByIndex(2)
	assert.False(t, ok)
}

// TestRecordOrderCalledOnPlaceFillAndCancel exercises §6's order_history
// table: every placement and lifecycle transition must reach the wired
// persister, not just the in-memory tables.
func TestRecordOrderCalledOnPlaceFillAndCancel(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)
	persister := &fakePersister{}
	mgr.SetPersister(persister)

	level := &types.GridLevel{Index: 0, Price: 95000, Quantity: 0.01, Side: types.SideBuy}
	orderID, err := mgr.PlaceGridOrder(context.Background(), level)
	require.NoError(t, err)

	mgr.UpdateOrderStatus(orderID, types.OrderFilled, 95000)

	other := &types.GridLevel{Index: 1, Price: 94000, Quantity: 0.01, Side: types.SideBuy}
	otherID, err := mgr.PlaceGridOrder(context.Background(), other)
	require.NoError(t, err)
	require.True(t, mgr.CancelOrder(context.Background(), otherID))

	assert.Equal(t, []types.OrderStatus{
		types.OrderPlaced, types.OrderFilled, types.OrderPlaced, types.OrderCancelled,
	}, persister.statuses())
}

func TestPlaceInitialOrdersReportsFailuresWithoutAbortingBatch(t *testing.T) {
	adapter := &fakeAdapter{}
	mgr := New(adapter, testConfig(), nil)

	levels := []types.GridLevel{
		{Index: 0, Price: 95000, Quantity: 0.01, Side: types.SideBuy},
		{Index: 1, Price: 94000, Quantity: 0.01, Side: types.SideBuy},
	}
	placed, failures := mgr.PlaceInitialOrders(context.Background(), levels)
	assert.Len(t, placed, 2)
	assert.Empty(t, failures)

	adapter.failPlace = true
	placed, failures = mgr.PlaceInitialOrders(context.Background(), levels)
	assert.Empty(t, placed)
	assert.Len(t, failures, 2, "a rejected level is reported and the remaining levels are still attempted")
}

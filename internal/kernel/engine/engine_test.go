package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/exchange"
	"gridbot/internal/kernel/types"
)

// fakeStream is a no-op exchange.Stream double: Connect always succeeds
// and never delivers any messages or state changes, so tests drive fills
// and price changes directly and deterministically instead of racing a
// background dispatcher.
type fakeStream struct {
	mu    sync.Mutex
	state exchange.StreamState
}

func (s *fakeStream) Connect(ctx context.Context, onMessage func(exchange.StreamMessage), onState func(exchange.StreamState), onError func(error)) error {
	s.mu.Lock()
	s.state = exchange.StreamConnected
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) Subscribe(subs []exchange.Subscription) error { return nil }
func (s *fakeStream) Disconnect() error {
	s.mu.Lock()
	s.state = exchange.StreamDisconnected
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) State() exchange.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// fakeAdapter is an in-memory exchange.Adapter double standing in for the
// venue: a fixed last price, no starting position or open orders, and
// PlaceOrder/CancelOrder recorded for assertions.
type fakeAdapter struct {
	symbol string
	price  float64

	nextID    int64
	mu        sync.Mutex
	placed    []exchange.OrderRequest
	cancelled []string

	stream *fakeStream
}

func newFakeAdapter(symbol string, price float64) *fakeAdapter {
	return &fakeAdapter{symbol: symbol, price: price, stream: &fakeStream{}}
}

func (f *fakeAdapter) FetchTickers(ctx context.Context) ([]exchange.Ticker, error) {
	return []exchange.Ticker{{Symbol: f.symbol, LastPrice: f.price}}, nil
}
func (f *fakeAdapter) FetchPositions(ctx context.Context, symbol string) ([]exchange.PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchOrders(ctx context.Context, symbol string) ([]exchange.OrderSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	id := atomic.AddInt64(&f.nextID, 1)
	return fmt.Sprintf("order-%d", id), nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeAdapter) FetchPositionMode(ctx context.Context, symbol string) (exchange.PositionMode, error) {
	return exchange.OneWay, nil
}
func (f *fakeAdapter) SetPositionMode(ctx context.Context, symbol string, mode exchange.PositionMode) error {
	return nil
}
func (f *fakeAdapter) Stream() exchange.Stream { return f.stream }

func (f *fakeAdapter) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

type fakePersister struct {
	mu     sync.Mutex
	trades []types.GridTrade
	orders []types.GridOrder
	saved  int
}

func (p *fakePersister) SaveState(symbol string, blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved++
	return nil
}
func (p *fakePersister) RecordTrade(trade types.GridTrade, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trade)
	return nil
}
func (p *fakePersister) RecordOrder(symbol string, order types.GridOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func balancedLongConfig() *types.GridConfig {
	sl := 80000.0
	return &types.GridConfig{
		Symbol:      "BTCUSDT",
		GridType:    types.GridTypeArithmetic,
		Direction:   types.PositionLong,
		LowerPrice:  90000,
		UpperPrice:  110000,
		GridCount:   10,
		TotalInvest: 1000,
		Leverage:    1,
		StopLoss:    &sl,
		TimeInForce: types.TimeInForceGTC,
	}
}

// TestStartPlacesLadderAndTransitionsToRunning exercises S1: starting a
// conservative, balanced Long grid against a clean venue places the
// resting ladder and reaches the Running state.
func TestStartPlacesLadderAndTransitionsToRunning(t *testing.T) {
	adapter := newFakeAdapter("BTCUSDT", 100000)
	persister := &fakePersister{}
	eng := New(Config{
		GridConfig:        balancedLongConfig(),
		Exchange:          adapter,
		Store:             persister,
		Log:               testLog(),
		PricePrecision:    2,
		QuantityPrecision: 4,
	})

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop(context.Background())

	assert.Equal(t, types.StateRunning, eng.State())
	assert.Greater(t, adapter.placedCount(), 0, "startup must place the resting ladder")
}

func TestPauseAndResumeToggleState(t *testing.T) {
	adapter := newFakeAdapter("BTCUSDT", 100000)
	eng := New(Config{
		GridConfig:        balancedLongConfig(),
		Exchange:          adapter,
		Log:               testLog(),
		PricePrecision:    2,
		QuantityPrecision: 4,
	})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop(context.Background())

	eng.Pause()
	assert.Equal(t, types.StatePaused, eng.State())

	eng.Resume()
	assert.Equal(t, types.StateRunning, eng.State())
}

// TestHandleFillPlacesMirrorOrderOneIndexOver exercises S3: a Buy fill at
// index i reacts by placing a Sell mirror order at index i+1.
func TestHandleFillPlacesMirrorOrderOneIndexOver(t *testing.T) {
	adapter := newFakeAdapter("BTCUSDT", 100000)
	eng := New(Config{
		GridConfig:        balancedLongConfig(),
		Exchange:          adapter,
		Log:               testLog(),
		PricePrecision:    2,
		QuantityPrecision: 4,
	})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop(context.Background())

	// Simulate a fill on the lowest-index Buy level that still has room
	// for a mirror one index above it.
	var buyIdx = -1
	for i, lv := range eng.levels {
		if lv.Side == types.SideBuy && i+1 < len(eng.levels) {
			buyIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, buyIdx, 0, "fixture grid must contain a Buy level with room for a mirror")

	// The mirror index already carries its own resting order from
	// startup's full-ladder placement; cancel it first so the fill
	// reaction has room to place into, mirroring what actually clears the
	// slot (that order later filling, or getting cancelled on
	// reconciliation) in a running system.
	mirrorOrder, ok := eng.orders.OrderByIndex(buyIdx + 1)
	require.True(t, ok)
	require.True(t, eng.orders.CancelOrder(context.Background(), mirrorOrder.OrderID))

	before := adapter.placedCount()

	fillOrder := types.GridOrder{
		GridIndex: buyIdx,
		Side:      types.SideBuy,
		Price:     eng.levels[buyIdx].Price,
		Quantity:  eng.levels[buyIdx].Quantity,
		FillPrice: eng.levels[buyIdx].Price,
	}
	eng.handleFill(fillOrder)

	assert.Greater(t, adapter.placedCount(), before, "a Buy fill must trigger a mirror Sell order placement once its slot is clear")
}

// TestCheckBandBreakoutRebuildsLadderWhenTrailingUpEnabled exercises S6:
// price breaking out 5% above the band with TrailingUp set cancels the
// existing ladder and rebuilds it recentred around the new price.
func TestCheckBandBreakoutRebuildsLadderWhenTrailingUpEnabled(t *testing.T) {
	cfg := balancedLongConfig()
	cfg.TrailingUp = true
	adapter := newFakeAdapter("BTCUSDT", 100000)
	eng := New(Config{
		GridConfig:        cfg,
		Exchange:          adapter,
		Log:               testLog(),
		PricePrecision:    2,
		QuantityPrecision: 4,
	})
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop(context.Background())

	breakoutPrice := cfg.UpperPrice * 1.1
	origLower := cfg.LowerPrice
	eng.mu.Lock()
	eng.lastPrice = breakoutPrice
	eng.mu.Unlock()

	eng.checkBandBreakout(context.Background())

	assert.NotEmpty(t, adapter.cancelled, "breakout must cancel the existing ladder before rebuilding")
	assert.Greater(t, eng.cfg.LowerPrice, origLower, "the band must recentre around the breakout price")
}

func TestStopDisconnectsStreamAndPersists(t *testing.T) {
	adapter := newFakeAdapter("BTCUSDT", 100000)
	persister := &fakePersister{}
	eng := New(Config{
		GridConfig:        balancedLongConfig(),
		Exchange:          adapter,
		Store:             persister,
		Log:               testLog(),
		PricePrecision:    2,
		QuantityPrecision: 4,
	})
	require.NoError(t, eng.Start(context.Background()))

	require.NoError(t, eng.Stop(context.Background()))
	assert.Equal(t, types.StateStopped, eng.State())
	assert.Equal(t, exchange.StreamDisconnected, adapter.stream.State())
	persister.mu.Lock()
	saved := persister.saved
	persister.mu.Unlock()
	assert.Greater(t, saved, 0, "Stop must persist the final state")

	// A second Stop is not expected by callers; this test only checks the
	// single-call contract holds within a short bound.
	select {
	case <-time.After(10 * time.Millisecond):
	}
}

// Package engine drives the grid bot's startup sequence, event loop, and
// fill reactions (§4.6), wiring together the Grid Calculator, Position
// Sizer, Safety Checker, Order Manager, Position Tracker, and Risk
// Monitor against a concrete exchange.Adapter. It runs the parallel-
// threads scheduling model from §5: a monitor task, a risk task, a
// stream-dispatcher callback, and whatever calls in from the CLI/API
// user task.
package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gridbot/internal/exchange"
	"gridbot/internal/kernel/calculator"
	"gridbot/internal/kernel/errs"
	"gridbot/internal/kernel/ordermanager"
	"gridbot/internal/kernel/positiontracker"
	"gridbot/internal/kernel/risk"
	"gridbot/internal/kernel/safety"
	"gridbot/internal/kernel/sizer"
	"gridbot/internal/kernel/types"
)

const (
	monitorInterval     = 1 * time.Second
	tickerTimeout       = 2 * time.Second
	positionModeTimeout = 5 * time.Second
	persistInterval     = 60 * time.Second
	breakoutBandPct     = 0.05
	verifyAttempts      = 3
	verifyBackoff       = 2 * time.Second
	positionTolerance   = 0.10
	existingOrderTolPct = 0.001
)

// Persister is the subset of the store the engine needs to checkpoint
// state; kept minimal so the engine package does not import internal/store
// directly.
type Persister interface {
	SaveState(symbol string, blob []byte) error
	RecordTrade(trade types.GridTrade, symbol string) error
	RecordOrder(symbol string, order types.GridOrder) error
}

// Engine is the Grid Engine component (§4.6): it owns the state machine
// and the task set, and is the only component that calls PlaceOrder/
// CancelOrder directly against the exchange outside of the Order Manager.
type Engine struct {
	mu sync.RWMutex

	cfg   *types.GridConfig
	exch  exchange.Adapter
	log   *logrus.Entry
	store Persister

	calc    *calculator.Calculator
	orders  *ordermanager.Manager
	tracker *positiontracker.Tracker
	riskMon *risk.Monitor

	state  types.EngineState
	levels []types.GridLevel

	lastPrice    float64
	streaming    bool
	lastPersist  time.Time
	autoResume   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles an Engine's dependencies, allowing tests to substitute a
// fake exchange.Adapter and Persister.
type Config struct {
	GridConfig *types.GridConfig
	Exchange   exchange.Adapter
	Store      Persister
	Log        *logrus.Entry
	AutoResume bool

	PricePrecision    int32
	QuantityPrecision int32
}

// New constructs an Engine in the Initialized state; no venue calls are
// made until Start runs.
func New(c Config) *Engine {
	tracker := positiontracker.New(c.GridConfig.Symbol, types.DefaultFeeRate)
	orders := ordermanager.New(c.Exchange, c.GridConfig, c.Log)
	orders.SetPositionTracker(tracker)
	if c.Store != nil {
		orders.SetPersister(c.Store)
	}

	return &Engine{
		cfg:     c.GridConfig,
		exch:    c.Exchange,
		log:     c.Log,
		store:   c.Store,
		calc:    calculator.New(c.GridConfig, c.PricePrecision, c.QuantityPrecision),
		orders:  orders,
		tracker: tracker,
		riskMon: risk.New(c.GridConfig),
		state:   types.StateInitialized,
		autoResume: c.AutoResume || os.Getenv("GRIDBOT_AUTO_RESUME") == "true",
		stop:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s types.EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Snapshot bundles position, stats, and risk status for the CLI/API
// status surface.
type Snapshot struct {
	State    types.EngineState
	Position types.GridPosition
	Stats    types.GridStats
	Risk     risk.Status
}

// Snapshot returns a consistent read of engine, position, stats, and risk state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:    e.State(),
		Position: e.tracker.Snapshot(),
		Stats:    e.tracker.Stats(),
		Risk:     e.riskMon.GetStatus(),
	}
}

// Start runs the full §4.6 startup sequence, aborting on the first
// failure. On success it spawns the monitor, risk, and stream-dispatcher
// tasks and transitions to Running.
func (e *Engine) Start(ctx context.Context) error {
	// 1. Validate config.
	if err := e.cfg.Validate(); err != nil {
		return &errs.ConfigInvalidError{Reason: err.Error()}
	}

	// 2. Fetch current price.
	price, err := e.fetchPrice(ctx)
	if err != nil {
		return &errs.ConfigInvalidError{Reason: fmt.Sprintf("cannot fetch current price: %v", err)}
	}

	// 3. Safety gate.
	report := safety.Check(e.cfg, price, 0, nil)
	if !report.Passed {
		return &errs.SafetyBlockedError{Reasons: report.Errors}
	}

	// 4. Enforce one-way position mode.
	if err := e.ensureOneWay(ctx); err != nil {
		return err
	}

	// 5. Resolve any existing position.
	if err := e.resolveExistingPosition(ctx); err != nil {
		return err
	}

	// Build the ladder against the now-known current price.
	e.levels = e.calc.BuildLevels(price)
	initial := sizer.Size(e.cfg, e.levels, price)

	// §4.2: assert the closure invariant holds before anything is placed
	// against the venue — a mis-sized ladder (e.g. a floor adjustment that
	// skews the sum) must abort startup rather than silently proceed.
	if finalPosition, ok := sizer.Verify(e.cfg, e.levels, initial, 0); !ok {
		return &errs.PositionVerificationFailedError{
			Reason: fmt.Sprintf("closure invariant violated before placement: final position %.8f exceeds one quantity tick", finalPosition),
		}
	}

	// 6. Reconcile existing open orders.
	if err := e.reconcileExistingOrders(ctx); err != nil {
		return err
	}

	// 7. Place and verify the initial position, if the tracker didn't
	// already adopt one from step 5.
	if e.tracker.Snapshot().Size == 0 && initial.Quantity > 0 {
		if err := e.placeAndVerifyInitial(ctx, initial, price); err != nil {
			return err
		}
	}

	// 8. Place the ladder, skipping levels already mapped or too close to
	// market.
	placeable := e.calc.InitialOrders(e.levels, price)
	for _, lv := range placeable {
		if lv.OrderID != "" || e.orders.HasLiveOrderAt(lv.Index) {
			continue
		}
		lvCopy := lv
		if _, err := e.orders.PlaceGridOrder(ctx, &lvCopy); err != nil {
			e.log.WithError(err).WithField("index", lv.Index).Warn("initial grid order placement failed")
			continue
		}
		e.levels[lv.Index] = lvCopy
		e.wireFillReaction(lvCopy.Index)
	}

	// 9. Connect the event stream; fall back to REST polling.
	e.connectStream(ctx)

	e.lastPrice = price
	e.lastPersist = time.Now()
	e.setState(types.StateRunning)

	e.wg.Add(2)
	go e.monitorTask(ctx)
	go e.riskTask(ctx)

	return nil
}

func (e *Engine) fetchPrice(ctx context.Context) (float64, error) {
	result := exchange.Await(ctx, tickerTimeout, func(ctx context.Context) ([]exchange.Ticker, error) {
		return e.exch.FetchTickers(ctx)
	})
	if result.Status != exchange.Success {
		return 0, result.Err
	}
	for _, t := range result.Data {
		if t.Symbol == e.cfg.Symbol {
			return t.LastPrice, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found in ticker response", e.cfg.Symbol)
}

func (e *Engine) ensureOneWay(ctx context.Context) error {
	result := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) (exchange.PositionMode, error) {
		return e.exch.FetchPositionMode(ctx, e.cfg.Symbol)
	})
	if result.Status != exchange.Success {
		return &errs.ModeMismatchError{Reason: fmt.Sprintf("cannot fetch position mode: %v", result.Err)}
	}
	if result.Data == exchange.OneWay {
		return nil
	}

	set := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.exch.SetPositionMode(ctx, e.cfg.Symbol, exchange.OneWay)
	})
	if set.Status != exchange.Success {
		return &errs.ModeMismatchError{Reason: fmt.Sprintf("cannot switch to one-way mode: %v", set.Err)}
	}
	return nil
}

// resolveExistingPosition implements step 5 for a nonzero existing
// position by always resuming: the venue's size and entry price are
// adopted into the Position Tracker. It does not prompt, and it never
// closes the position or cancels startup; AutoResume
// (GRIDBOT_AUTO_RESUME) only decides whether a warning is logged first.
func (e *Engine) resolveExistingPosition(ctx context.Context) error {
	result := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) ([]exchange.PositionSnapshot, error) {
		return e.exch.FetchPositions(ctx, e.cfg.Symbol)
	})
	if result.Status != exchange.Success {
		return &errs.PositionVerificationFailedError{Reason: fmt.Sprintf("cannot fetch existing positions: %v", result.Err)}
	}

	var existing *exchange.PositionSnapshot
	for i := range result.Data {
		if result.Data[i].Symbol == e.cfg.Symbol && result.Data[i].Size != 0 {
			existing = &result.Data[i]
			break
		}
	}
	if existing == nil {
		return nil
	}

	if !e.autoResume {
		// No prompt is shown here or in the CLI; the position is
		// resumed either way.
		e.log.Warn("existing position found and GRIDBOT_AUTO_RESUME unset: resuming by default")
	}

	e.tracker.AdoptExisting(existing.Size, existing.EntryPrice)
	e.log.WithFields(logrus.Fields{"size": existing.Size, "entry": existing.EntryPrice}).Info("resumed existing position")
	return nil
}

// reconcileExistingOrders implements step 6: map grid_-prefixed open
// orders to nearest level within the 0.1% tolerance, cancelling
// duplicates at the same price/side (Open Question #1 resolution).
func (e *Engine) reconcileExistingOrders(ctx context.Context) error {
	result := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) ([]exchange.OrderSnapshot, error) {
		return e.exch.FetchOrders(ctx, e.cfg.Symbol)
	})
	if result.Status != exchange.Success {
		return &errs.VenueTransientError{Cause: result.Err}
	}

	mappedIndex := make(map[int]bool)

	for _, o := range result.Data {
		if o.Status.IsTerminal() || !strings.HasPrefix(o.ClientID, "grid_") {
			continue
		}
		idx, ok := e.nearestUnmappedLevel(o, mappedIndex)
		if !ok {
			continue
		}
		if mappedIndex[idx] {
			// Duplicate within tolerance: cancel the extra order.
			e.orders.CancelOrder(ctx, o.OrderID)
			continue
		}
		mappedIndex[idx] = true
		e.levels[idx].OrderID = o.OrderID
		e.levels[idx].Status = types.OrderPlaced
		e.wireFillReaction(idx)
	}
	return nil
}

// nearestUnmappedLevel returns the nearest same-side level within the
// 0.1% tolerance whether or not it is already in mapped; the caller
// treats an already-mapped result as a duplicate to cancel.
func (e *Engine) nearestUnmappedLevel(o exchange.OrderSnapshot, mapped map[int]bool) (int, bool) {
	best := -1
	bestDist := math.MaxFloat64
	for i := range e.levels {
		lv := &e.levels[i]
		if lv.Side != o.Side {
			continue
		}
		dist := math.Abs(lv.Price-o.Price) / lv.Price
		if dist <= existingOrderTolPct && dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best == -1 {
		return 0, false
	}
	if mapped[best] {
		return best, true
	}
	return best, true
}

// placeAndVerifyInitial implements step 7: place the sized initial
// market order then poll the position endpoint up to three attempts.
func (e *Engine) placeAndVerifyInitial(ctx context.Context, initial sizer.InitialPosition, price float64) error {
	req := exchange.OrderRequest{
		Symbol:   e.cfg.Symbol,
		Side:     initial.Side,
		Type:     "MARKET",
		Quantity: initial.Quantity,
	}
	result := exchange.Await(ctx, 5*time.Second, func(ctx context.Context) (string, error) {
		return e.exch.PlaceOrder(ctx, req)
	})
	if result.Status != exchange.Success {
		return &errs.VenueRejectionError{Cause: result.Err}
	}

	wantSize := initial.Quantity
	if initial.Side == types.SideSell {
		wantSize = -wantSize
	}

	var verified bool
	var lastSize float64
	for attempt := 0; attempt < verifyAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(verifyBackoff)
		}
		posResult := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) ([]exchange.PositionSnapshot, error) {
			return e.exch.FetchPositions(ctx, e.cfg.Symbol)
		})
		if posResult.Status != exchange.Success {
			continue
		}
		for _, p := range posResult.Data {
			if p.Symbol != e.cfg.Symbol {
				continue
			}
			lastSize = p.Size
			if sameSign(p.Size, wantSize) && math.Abs(p.Size-wantSize) <= math.Abs(wantSize)*positionTolerance {
				e.tracker.AdoptExisting(p.Size, p.EntryPrice)
				verified = true
			}
		}
		if verified {
			break
		}
	}

	if !verified {
		return &errs.PositionVerificationFailedError{
			Reason: fmt.Sprintf("expected size %.6f, observed %.6f after %d attempts", wantSize, lastSize, verifyAttempts),
		}
	}
	return nil
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	return (a > 0) == (b > 0)
}

// wireFillReaction registers the mirror-order reaction for the order
// currently placed at index.
func (e *Engine) wireFillReaction(index int) {
	lv := e.levels[index]
	if lv.OrderID == "" {
		return
	}
	e.orders.OnFilled(lv.OrderID, func(order types.GridOrder) {
		e.handleFill(order)
	})
}

func (e *Engine) connectStream(ctx context.Context) {
	stream := e.exch.Stream()
	if stream == nil {
		e.streaming = false
		return
	}

	err := stream.Connect(ctx,
		func(msg exchange.StreamMessage) { e.handleStreamMessage(msg) },
		func(state exchange.StreamState) { e.handleStreamState(state) },
		func(err error) { e.log.WithError(err).Warn("stream error") },
	)
	if err != nil {
		e.log.WithError(&errs.StreamDisconnectedError{Cause: err}).Warn("stream connect failed, falling back to polling")
		e.streaming = false
		return
	}

	subs := []exchange.Subscription{
		{Channel: exchange.ChannelTicker, Symbol: e.cfg.Symbol},
		{Channel: exchange.ChannelOrders, Symbol: e.cfg.Symbol},
		{Channel: exchange.ChannelPositions, Symbol: e.cfg.Symbol},
	}
	if err := stream.Subscribe(subs); err != nil {
		e.log.WithError(err).Warn("stream subscribe failed, falling back to polling")
		e.streaming = false
		return
	}
	e.streaming = true
}

func (e *Engine) handleStreamState(state exchange.StreamState) {
	e.mu.Lock()
	wasDown := !e.streaming
	switch state {
	case exchange.StreamDisconnected, exchange.StreamError:
		e.streaming = false
	case exchange.StreamConnected, exchange.StreamAuthenticated:
		e.streaming = true
	case exchange.StreamReconnecting:
		e.streaming = false
	}
	e.mu.Unlock()

	// Open Question #3: a reconnect must run a full REST reconciliation
	// synchronously before resuming reliance on stream events, so fills
	// missed during the outage can't desynchronize active_orders/by_index
	// from venue truth.
	if wasDown && (state == exchange.StreamConnected || state == exchange.StreamAuthenticated) {
		if err := e.reconcileExistingOrders(context.Background()); err != nil {
			e.log.WithError(err).Warn("post-reconnect order reconciliation failed")
		}
	}
}

// handleStreamMessage is the stream-dispatcher task: it never calls
// venue endpoints synchronously, only the same mutation paths the
// polling logic uses (§5).
func (e *Engine) handleStreamMessage(msg exchange.StreamMessage) {
	switch msg.Channel {
	case exchange.ChannelTicker:
		if msg.Ticker != nil {
			e.tracker.UpdateMarkPrice(msg.Ticker.LastPrice)
			e.mu.Lock()
			e.lastPrice = msg.Ticker.LastPrice
			e.mu.Unlock()
		}
	case exchange.ChannelOrders:
		if msg.Order != nil {
			e.orders.UpdateOrderStatus(msg.Order.OrderID, msg.Order.Status, 0)
		}
	case exchange.ChannelPositions:
		// Position-channel events are advisory; the tracker remains the
		// authoritative fill-driven source of truth (§4.5).
	}
}

// handleFill is the fill reaction (§4.6): it places the mirror order one
// index toward the opposite side, guarded against double-placement.
func (e *Engine) handleFill(order types.GridOrder) {
	trade := e.tracker.ApplyFill(order, order.FillPrice)
	if trade != nil {
		e.riskMon.RecordTradeResult(trade.Profit)
		if e.store != nil {
			if err := e.store.RecordTrade(*trade, e.cfg.Symbol); err != nil {
				e.log.WithError(err).Warn("failed to persist closed trade")
			}
		}
	}

	if allowed, reason := e.riskMon.AllowOrderPlacement(); !allowed {
		e.log.WithField("reason", reason).Info("skipping mirror order: risk placement blocked")
		return
	}
	if e.State() == types.StatePaused {
		e.log.Info("skipping mirror order: engine paused")
		return
	}

	var mirrorIndex int
	if order.Side == types.SideBuy {
		mirrorIndex = order.GridIndex + 1
	} else {
		mirrorIndex = order.GridIndex - 1
	}
	if mirrorIndex < 0 || mirrorIndex >= len(e.levels) {
		return
	}
	if e.orders.HasLiveOrderAt(mirrorIndex) {
		return
	}

	lv := e.levels[mirrorIndex]
	if lv.Price < e.cfg.LowerPrice || lv.Price > e.cfg.UpperPrice {
		return
	}
	if order.Side == types.SideBuy {
		lv.Side = types.SideSell
	} else {
		lv.Side = types.SideBuy
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	orderID, err := e.orders.PlaceGridOrder(ctx, &lv)
	if err != nil {
		e.log.WithError(err).WithField("index", mirrorIndex).Warn("mirror order placement failed")
		return
	}
	e.mu.Lock()
	e.levels[mirrorIndex] = lv
	e.mu.Unlock()
	e.orders.OnFilled(orderID, func(o types.GridOrder) { e.handleFill(o) })
}

// monitorTask runs the ~1Hz monitor loop described in §4.6/§5.
func (e *Engine) monitorTask(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.monitorTick(ctx)
		}
	}
}

func (e *Engine) monitorTick(ctx context.Context) {
	if e.State() == types.StatePaused {
		return
	}

	e.mu.RLock()
	streaming := e.streaming
	e.mu.RUnlock()

	if !streaming {
		price, err := e.fetchPrice(ctx)
		if err != nil {
			e.log.WithError(&errs.VenueTransientError{Cause: err}).Warn("price fetch failed, retrying next tick")
		} else {
			e.tracker.UpdateMarkPrice(price)
			e.mu.Lock()
			e.lastPrice = price
			e.mu.Unlock()
		}
		e.pollOrders(ctx)
	}

	e.checkBandBreakout(ctx)

	e.mu.Lock()
	due := time.Since(e.lastPersist) >= persistInterval
	if due {
		e.lastPersist = time.Now()
	}
	e.mu.Unlock()
	if due {
		e.persist()
	}
}

func (e *Engine) pollOrders(ctx context.Context) {
	result := exchange.Await(ctx, positionModeTimeout, func(ctx context.Context) ([]exchange.OrderSnapshot, error) {
		return e.exch.FetchOrders(ctx, e.cfg.Symbol)
	})
	if result.Status != exchange.Success {
		return
	}
	for _, o := range result.Data {
		e.orders.UpdateOrderStatus(o.OrderID, o.Status, 0)
	}
}

// checkBandBreakout implements the trailing re-ladder rule: if the price
// has exited the band by 5% and the corresponding trailing flag is
// enabled, cancel everything and rebuild.
func (e *Engine) checkBandBreakout(ctx context.Context) {
	e.mu.RLock()
	price := e.lastPrice
	e.mu.RUnlock()
	if price == 0 {
		return
	}

	lower, upper, ok := calculator.RecenterOnBreakout(e.cfg, price)
	if !ok {
		return
	}
	if allowed, reason := e.riskMon.AllowOrderPlacement(); !allowed {
		e.log.WithField("reason", reason).Info("skipping re-ladder: risk placement blocked")
		return
	}

	e.orders.CancelAll(ctx)

	e.mu.Lock()
	e.cfg.LowerPrice = lower
	e.cfg.UpperPrice = upper
	e.mu.Unlock()

	e.levels = e.calc.BuildLevels(price)
	sizer.Size(e.cfg, e.levels, price)

	placeable := e.calc.InitialOrders(e.levels, price)
	for _, lv := range placeable {
		lvCopy := lv
		orderID, err := e.orders.PlaceGridOrder(ctx, &lvCopy)
		if err != nil {
			continue
		}
		e.levels[lvCopy.Index] = lvCopy
		e.orders.OnFilled(orderID, func(o types.GridOrder) { e.handleFill(o) })
	}
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	snap := e.Snapshot()
	blob := fmt.Sprintf(
		`{"state":%q,"position_size":%v,"entry_price":%v,"total_profit":%v}`,
		snap.State, snap.Position.Size, snap.Position.EntryPrice, snap.Stats.TotalProfit,
	)
	if err := e.store.SaveState(e.cfg.Symbol, []byte(blob)); err != nil {
		e.log.WithError(err).Warn("state persistence failed")
	}
}

// riskTask runs the ~1Hz risk evaluation loop.
func (e *Engine) riskTask(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.State() != types.StateRunning {
				continue
			}
			position := e.tracker.Snapshot()
			stats := e.tracker.Stats()
			if triggered, reason := e.riskMon.Evaluate(position, stats); triggered {
				e.log.WithField("reason", reason).Warn("risk monitor triggered")
			}
		}
	}
}

// Pause freezes new order intents and risk actions; existing orders stay live.
func (e *Engine) Pause() {
	e.setState(types.StatePaused)
}

// Resume reverses Pause.
func (e *Engine) Resume() {
	e.setState(types.StateRunning)
}

// Stop implements §4.6's stop sequence: halt tasks, disconnect the
// stream, optionally cancel orders and close the position, persist, and
// transition to Stopped.
func (e *Engine) Stop(ctx context.Context) error {
	close(e.stop)

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		e.log.Warn("timed out waiting for monitor/risk tasks to join")
	}

	if stream := e.exch.Stream(); stream != nil {
		_ = stream.Disconnect()
	}

	if e.cfg.CancelOrdersOnStop {
		e.orders.CancelAll(ctx)
	}

	if e.cfg.ClosePositionOnStop {
		e.closePositionAtMarket(ctx)
	}

	e.persist()
	e.setState(types.StateStopped)
	return nil
}

func (e *Engine) closePositionAtMarket(ctx context.Context) {
	position := e.tracker.Snapshot()
	if position.Size == 0 {
		return
	}
	side := types.SideSell
	if position.Size < 0 {
		side = types.SideBuy
	}
	req := exchange.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Side:       side,
		Type:       "MARKET",
		Quantity:   math.Abs(position.Size),
		ReduceOnly: true,
	}
	result := exchange.Await(ctx, 5*time.Second, func(ctx context.Context) (string, error) {
		return e.exch.PlaceOrder(ctx, req)
	})
	if result.Status != exchange.Success {
		e.log.WithError(result.Err).Error("failed to close position at stop")
	}
}

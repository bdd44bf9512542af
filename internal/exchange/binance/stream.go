package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"

	"gridbot/internal/exchange"
)

// combinedStreamEndpoint and reconnectDelay mirror
// market/combined_streams.go's single combined-stream connection over the
// per-channel subscriber fan-out the teacher uses for klines.
const (
	combinedStreamEndpoint = "wss://fstream.binance.com/stream"
	reconnectDelay         = 3 * time.Second
	listenKeyKeepalive     = 30 * time.Minute
)

// Stream is the websocket half of the Binance adapter: a combined market
// stream (bookTicker) plus the user-data stream multiplexed onto a single
// exchange.StreamMessage callback. Only order updates are delivered from
// the user-data stream; account updates are dropped.
type Stream struct {
	apiKey, secretKey string
	client            *futures.Client
	testnet           bool

	mu        sync.RWMutex
	conn      *websocket.Conn
	listenKey string
	state     exchange.StreamState
	reconnect bool
	done      chan struct{}

	onMessage func(exchange.StreamMessage)
	onState   func(exchange.StreamState)
	onError   func(error)

	subscribed []exchange.Subscription
}

func newStream(apiKey, secretKey string, client *futures.Client, testnet bool) *Stream {
	return &Stream{
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    client,
		testnet:   testnet,
		state:     exchange.StreamDisconnected,
	}
}

// Connect opens the combined stream and starts the user-data listen key,
// then begins reading messages in the background, per exchange.Stream.
func (s *Stream) Connect(ctx context.Context, onMessage func(exchange.StreamMessage), onState func(exchange.StreamState), onError func(error)) error {
	s.mu.Lock()
	s.onMessage = onMessage
	s.onState = onState
	s.onError = onError
	s.reconnect = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	listenKey, err := s.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("start user data stream: %w", err)
	}
	s.mu.Lock()
	s.listenKey = listenKey
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(combinedStreamEndpoint, nil)
	if err != nil {
		return fmt.Errorf("combined stream dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = exchange.StreamConnected
	s.mu.Unlock()

	s.setState(exchange.StreamConnected)

	go s.readLoop()
	go s.keepaliveLoop(listenKey)

	return nil
}

// Subscribe joins the requested channels, translating them into Binance
// stream names (`<symbol>@bookTicker`, the shared `<listenKey>` user-data
// stream for orders/positions).
func (s *Stream) Subscribe(subs []exchange.Subscription) error {
	s.mu.Lock()
	s.subscribed = append(s.subscribed, subs...)
	conn := s.conn
	listenKey := s.listenKey
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("stream not connected")
	}

	var streams []string
	for _, sub := range subs {
		switch sub.Channel {
		case exchange.ChannelTicker:
			streams = append(streams, strings.ToLower(sub.Symbol)+"@bookTicker")
		case exchange.ChannelOrders, exchange.ChannelPositions:
			if listenKey != "" {
				streams = append(streams, listenKey)
			}
		}
	}
	if len(streams) == 0 {
		return nil
	}

	msg := map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return s.conn.WriteJSON(msg)
}

// Disconnect closes the connection and suppresses automatic reconnection.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	s.reconnect = false
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = exchange.StreamDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State returns the current connection lifecycle state.
func (s *Stream) State() exchange.StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Stream) setState(state exchange.StreamState) {
	s.mu.Lock()
	s.state = state
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (s *Stream) keepaliveLoop(listenKey string) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		s.mu.RLock()
		done := s.done
		s.mu.RUnlock()
		if done == nil {
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
			cancel()
			if err != nil && s.onError != nil {
				s.onError(fmt.Errorf("listen key keepalive: %w", err))
			}
		}
	}
}

// readLoop is the stream-dispatcher task (§5): it demultiplexes combined-
// stream frames into exchange.StreamMessage and never calls venue
// endpoints synchronously from the callback path.
func (s *Stream) readLoop() {
	for {
		s.mu.RLock()
		conn := s.conn
		done := s.done
		s.mu.RUnlock()
		if conn == nil || done == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.onError != nil {
				s.onError(fmt.Errorf("read message: %w", err))
			}
			s.handleDisconnect()
			return
		}
		s.dispatch(raw)
	}
}

func (s *Stream) dispatch(raw []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Stream == "" {
		// Not a combined-stream envelope (e.g. a subscribe ack); ignore.
		return
	}

	cb := s.onMessage
	if cb == nil {
		return
	}

	switch {
	case strings.HasSuffix(envelope.Stream, "@bookTicker"):
		s.dispatchBookTicker(envelope.Data, cb)
	default:
		s.dispatchUserData(envelope.Data, cb)
	}
}

func (s *Stream) dispatchBookTicker(data json.RawMessage, cb func(exchange.StreamMessage)) {
	var tick struct {
		Symbol  string `json:"s"`
		BestBid string `json:"b"`
		BestAsk string `json:"a"`
	}
	if err := json.Unmarshal(data, &tick); err != nil {
		return
	}
	bid, _ := strconv.ParseFloat(tick.BestBid, 64)
	ask, _ := strconv.ParseFloat(tick.BestAsk, 64)
	mid := (bid + ask) / 2
	cb(exchange.StreamMessage{
		Channel: exchange.ChannelTicker,
		Ticker:  &exchange.Ticker{Symbol: tick.Symbol, LastPrice: mid},
	})
}

// userDataEvent matches Binance USDT-M futures' ORDER_TRADE_UPDATE /
// ACCOUNT_UPDATE payload shapes closely enough to extract order status
// transitions without depending on the SDK's own (callback-oriented)
// user-data-stream helpers.
type userDataEvent struct {
	EventType string `json:"e"`
	Order     *struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderID       int64  `json:"i"`
		Price         string `json:"p"`
		Quantity      string `json:"q"`
		Status        string `json:"X"`
		AvgPrice      string `json:"ap"`
	} `json:"o"`
}

func (s *Stream) dispatchUserData(data json.RawMessage, cb func(exchange.StreamMessage)) {
	var ev userDataEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.EventType != "ORDER_TRADE_UPDATE" || ev.Order == nil {
		return
	}

	price, _ := strconv.ParseFloat(ev.Order.Price, 64)
	qty, _ := strconv.ParseFloat(ev.Order.Quantity, 64)

	cb(exchange.StreamMessage{
		Channel: exchange.ChannelOrders,
		Order: &exchange.OrderSnapshot{
			OrderID:  strconv.FormatInt(ev.Order.OrderID, 10),
			ClientID: ev.Order.ClientOrderID,
			Symbol:   ev.Order.Symbol,
			Side:     mapSideFromVenue(futures.SideType(ev.Order.Side)),
			Price:    price,
			Quantity: qty,
			Status:   mapStatusFromVenue(futures.OrderStatusType(ev.Order.Status)),
		},
	})
}

// handleDisconnect mirrors combined_streams.go's handleReconnect: it marks
// the stream Reconnecting, backs off, and retries Connect in the
// background, leaving the engine to fall back to REST polling meanwhile.
func (s *Stream) handleDisconnect() {
	s.mu.Lock()
	reconnect := s.reconnect
	s.conn = nil
	s.mu.Unlock()

	s.setState(exchange.StreamDisconnected)
	if !reconnect {
		return
	}
	s.setState(exchange.StreamReconnecting)

	time.Sleep(reconnectDelay)

	s.mu.RLock()
	onMessage, onState, onError := s.onMessage, s.onState, s.onError
	subs := append([]exchange.Subscription(nil), s.subscribed...)
	s.mu.RUnlock()

	if err := s.Connect(context.Background(), onMessage, onState, onError); err != nil {
		s.setState(exchange.StreamError)
		if onError != nil {
			onError(fmt.Errorf("reconnect failed: %w", err))
		}
		return
	}
	if len(subs) > 0 {
		_ = s.Subscribe(subs)
	}
}

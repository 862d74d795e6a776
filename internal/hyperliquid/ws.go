package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 20 * time.Second
	wsPingPeriod = 20 * time.Second
)

// MessageHandler is called synchronously from the WS read loop for every
// message that parses as JSON. Malformed frames never reach a handler.
type MessageHandler func(msg json.RawMessage)

// subscription is a single "subscribe" control message, replayed on every
// reconnect.
type subscription struct {
	Type  string `json:"type"`
	Coin  string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type wsCommand struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

// WSClient is a single persistent connection to Hyperliquid's public WS
// feed. It owns one background goroutine that dials, reads, and
// reconnects on failure; Start/Stop are idempotent.
type WSClient struct {
	url            string
	reconnectDelay time.Duration
	logger         *slog.Logger

	handler MessageHandler

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions []subscription
	pending       []subscription // queued while disconnected

	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}
	started   bool
}

// NewWSClient builds a WS client against url with the given reconnect
// delay (spec default 3s). handler is invoked for every parsed message;
// pass nil and call SetHandler later if the handler needs a reference to
// this client (e.g. a detector that subscribes through it).
func NewWSClient(url string, reconnectDelay time.Duration, handler MessageHandler, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		handler:        handler,
		logger:         logger.With(slog.String("component", "hyperliquid_ws")),
	}
}

// SetHandler installs the message handler. It must be called before Start
// if NewWSClient was given a nil handler.
func (w *WSClient) SetHandler(handler MessageHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Start begins the connect/read/reconnect loop in a background goroutine.
// Calling Start on an already-started client is a no-op.
func (w *WSClient) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.runCtx, w.runCancel = context.WithCancel(context.Background())
	w.runDone = make(chan struct{})
	w.started = true

	ctx := w.runCtx
	done := w.runDone
	go func() {
		defer close(done)
		w.runLoop(ctx)
	}()
}

// Stop cancels the connection loop and waits up to 5 seconds for it to
// exit. Calling Stop on a client that was never started, or stopping
// twice, is a no-op.
func (w *WSClient) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel := w.runCancel
	done := w.runDone
	conn := w.conn
	w.started = false
	w.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("stop: timed out waiting for connection loop to exit")
	}
}

// SubscribeTrades queues a subscription for trades on coin. It is sent
// immediately if the client is connected, and replayed on every future
// (re)connect.
func (w *WSClient) SubscribeTrades(coin string) { w.subscribe(subscription{Type: "trades", Coin: coin}) }

// SubscribeL2Book subscribes to order book updates for coin.
func (w *WSClient) SubscribeL2Book(coin string) { w.subscribe(subscription{Type: "l2Book", Coin: coin}) }

// SubscribeCandle subscribes to OHLCV candle updates for coin at interval.
func (w *WSClient) SubscribeCandle(coin, interval string) {
	w.subscribe(subscription{Type: "candle", Coin: coin, Interval: interval})
}

// SubscribeActiveAssetCtx subscribes to active asset context updates,
// optionally scoped to a single coin (empty string subscribes to all).
func (w *WSClient) SubscribeActiveAssetCtx(coin string) {
	w.subscribe(subscription{Type: "activeAssetCtx", Coin: coin})
}

func (w *WSClient) subscribe(sub subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return
	}
	if err := w.send(conn, sub); err != nil {
		w.logger.Warn("subscribe: send failed, will retry on reconnect", slog.String("error", err.Error()))
	}
}

func (w *WSClient) send(conn *websocket.Conn, sub subscription) error {
	cmd := wsCommand{Method: "subscribe", Subscription: sub}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe command: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runLoop owns the connect -> read -> (disconnect -> sleep -> reconnect)
// cycle until ctx is cancelled.
func (w *WSClient) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.connectAndRead(ctx); err != nil {
			w.logger.Warn("connection lost", slog.String("error", err.Error()))
		}

		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
		}
	}
}

// connectAndRead dials once, replays tracked subscriptions, then blocks
// reading frames until the connection fails or ctx is cancelled.
func (w *WSClient) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	subs := append([]subscription(nil), w.subscriptions...)
	w.mu.Unlock()

	for _, sub := range subs {
		if err := w.send(conn, sub); err != nil {
			return fmt.Errorf("replay subscription: %w", err)
		}
	}

	stopPing := make(chan struct{})
	go w.pingLoop(conn, stopPing)
	defer close(stopPing)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		w.dispatch(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch hands a raw frame to the registered handler if it parses as
// JSON; malformed frames are dropped silently, matching the venue's own
// occasional non-JSON keepalive noise.
func (w *WSClient) dispatch(raw []byte) {
	if !json.Valid(raw) {
		return
	}
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()
	if handler != nil {
		handler(json.RawMessage(raw))
	}
}

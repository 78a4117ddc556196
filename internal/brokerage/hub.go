package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/riskguard/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	hubWriteWait   = 10 * time.Second
	hubDialTimeout = 30 * time.Second

	hubBaseReconnectDelay = time.Second
	hubMaxReconnectDelay  = 30 * time.Second
)

// EventHandler receives decoded domain events off a Hub's read loop.
type EventHandler func(domain.Event)

// State is the hub connectivity state the dispatcher exposes for
// observability (§4.1: "disconnected, connecting, connected, reconnecting").
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectHandler runs after every successful (re)connect, including the
// first one. The dispatcher uses this to (re)issue subscriptions — per
// §4.1, resubscription is the recovery mechanism after an outage, since the
// brokerage snapshot after resubscribing supersedes any state cached during
// the gap.
type ConnectHandler func(ctx context.Context)

// Hub is a reconnecting WebSocket reader for one brokerage real-time stream
// (the user hub or the market hub, §6). Reconnection uses exponential
// backoff with jitter (1s initial, factor 2, capped at 30s) and retries
// indefinitely — the stream is load-bearing for every tracker, so giving up
// is not an option the core takes on its own.
//
// Grounded on the teacher's tradernet MarketStatusWebSocket: nhooyr.io's
// Dial/Read/Close lifecycle, a connection-scoped context cancelled on
// disconnect, and a background reconnect loop restarted from the read
// loop's defer.
type Hub struct {
	url    string
	decode func([]byte) (domain.Event, error)
	log    zerolog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	connCtx  context.Context
	cancel   context.CancelFunc
	stopped  bool
	stopChan chan struct{}

	handlersMu sync.RWMutex
	handlers   []EventHandler

	connectHandlersMu sync.RWMutex
	connectHandlers   []ConnectHandler

	state atomic.Int32
}

// NewHub constructs a Hub. decode parses one raw frame into a domain.Event;
// the wire format itself is brokerage-specific and out of core scope.
func NewHub(url string, decode func([]byte) (domain.Event, error), log zerolog.Logger) *Hub {
	return &Hub{
		url:      url,
		decode:   decode,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// OnEvent registers a handler invoked for every decoded event.
func (h *Hub) OnEvent(fn EventHandler) {
	h.handlersMu.Lock()
	h.handlers = append(h.handlers, fn)
	h.handlersMu.Unlock()
}

// OnConnect registers a handler invoked after every successful (re)connect.
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.connectHandlersMu.Lock()
	h.connectHandlers = append(h.connectHandlers, fn)
	h.connectHandlersMu.Unlock()
}

// State reports the hub's current connectivity state.
func (h *Hub) State() State {
	return State(h.state.Load())
}

// Send writes a single text frame, e.g. a subscribe/unsubscribe control
// message. Returns an error if the hub is not currently connected.
func (h *Hub) Send(ctx context.Context, data []byte) error {
	h.mu.RLock()
	conn := h.conn
	h.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("brokerage hub: not connected")
	}
	writeCtx, cancel := context.WithTimeout(ctx, hubWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (h *Hub) runConnectHandlers(ctx context.Context) {
	h.connectHandlersMu.RLock()
	handlers := append([]ConnectHandler(nil), h.connectHandlers...)
	h.connectHandlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ctx)
	}
}

// Start dials the stream and begins the read loop, retrying in the
// background if the initial dial fails. Blocks until connected or until
// connectTimeout elapses, per §4.1's start() contract.
func (h *Hub) Start(connectTimeout time.Duration) {
	h.state.Store(int32(StateConnecting))
	connected := make(chan struct{})
	go func() {
		if err := h.connect(); err != nil {
			h.log.Warn().Err(err).Msg("initial hub connection failed, retrying in background")
			go h.reconnectLoop()
			return
		}
		h.state.Store(int32(StateConnected))
		h.mu.RLock()
		ctx := h.connCtx
		h.mu.RUnlock()
		h.runConnectHandlers(ctx)
		close(connected)
		h.readLoop(ctx)
	}()

	if connectTimeout <= 0 {
		return
	}
	select {
	case <-connected:
	case <-time.After(connectTimeout):
	}
}

// Stop closes the connection and halts reconnection attempts.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	conn := h.conn
	cancel := h.cancel
	h.mu.Unlock()

	h.state.Store(int32(StateDisconnected))
	close(h.stopChan)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

func (h *Hub) connect() error {
	dialCtx, cancelDial := context.WithTimeout(context.Background(), hubDialTimeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, h.url, nil)
	if err != nil {
		return fmt.Errorf("dialing brokerage hub: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.conn = conn
	h.connCtx = connCtx
	h.cancel = cancel
	h.mu.Unlock()

	return nil
}

func (h *Hub) readLoop(ctx context.Context) {
	defer func() {
		h.mu.RLock()
		stopped := h.stopped
		h.mu.RUnlock()
		if !stopped {
			h.state.Store(int32(StateReconnecting))
			go h.reconnectLoop()
		} else {
			h.state.Store(int32(StateDisconnected))
		}
	}()

	for {
		select {
		case <-h.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		h.mu.RLock()
		conn := h.conn
		h.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Error().Err(err).Msg("brokerage hub read error")
			return
		}
		if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
			continue
		}

		ev, err := h.decode(data)
		if err != nil {
			h.log.Warn().Err(err).Str("frame", string(data)).Msg("failed to decode brokerage event frame")
			continue
		}

		h.handlersMu.RLock()
		handlers := append([]EventHandler(nil), h.handlers...)
		h.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(ev)
		}
	}
}

func (h *Hub) reconnectLoop() {
	h.state.Store(int32(StateReconnecting))
	attempt := 0
	for {
		select {
		case <-h.stopChan:
			return
		default:
		}

		attempt++
		delay := backoff(attempt)
		select {
		case <-time.After(delay):
		case <-h.stopChan:
			return
		}

		if err := h.connect(); err != nil {
			h.log.Error().Err(err).Int("attempt", attempt).Msg("brokerage hub reconnect failed")
			continue
		}

		h.log.Info().Int("attempt", attempt).Msg("brokerage hub reconnected")
		h.state.Store(int32(StateConnected))
		h.mu.RLock()
		ctx := h.connCtx
		h.mu.RUnlock()
		h.runConnectHandlers(ctx)
		go h.readLoop(ctx)
		return
	}
}

func backoff(attempt int) time.Duration {
	d := float64(hubBaseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(hubMaxReconnectDelay) {
		d = float64(hubMaxReconnectDelay)
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(d * jitter)
}

// DecodeJSONEnvelope is a convenience decode function for brokerages whose
// wire frames are a JSON {"type": "...", ...} envelope around one of the
// user/market event shapes. Consumers supply their own when the wire
// protocol differs.
func DecodeJSONEnvelope(parse func(json.RawMessage) (domain.Event, error)) func([]byte) (domain.Event, error) {
	return func(data []byte) (domain.Event, error) {
		var raw json.RawMessage = data
		return parse(raw)
	}
}

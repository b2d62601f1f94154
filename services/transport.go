package services

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"neurolink/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const dialTimeout = 5 * time.Second

// BridgeTransport owns the single logical websocket connection to the
// device bridge. Connect is idempotent: a connecting flag guarantees
// that concurrent calls never put two sockets on the wire. Failures are
// never fatal; they surface through the connection-change handler and
// feed a bounded exponential backoff with jitter.
type BridgeTransport struct {
	url    string
	logger *zap.Logger

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int // 0 = retry forever

	mu             sync.Mutex
	conn           *websocket.Conn
	connecting     bool
	closing        bool
	attempts       int
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	onMessage    func([]byte)
	onConnChange func(bool)
	onExhausted  func()
}

// NewBridgeTransport creates a transport for the configured bridge URL.
// Handlers must be registered before Connect.
func NewBridgeTransport(cfg *config.Config, logger *zap.Logger) *BridgeTransport {
	return &BridgeTransport{
		url:         cfg.BridgeWSURL,
		logger:      logger,
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.ReconnectMaxAttempts,
	}
}

// OnMessage registers the handler for every inbound frame. The handler
// runs on the read-pump goroutine and must not block.
func (t *BridgeTransport) OnMessage(handler func([]byte)) {
	t.onMessage = handler
}

// OnConnectionChange registers the handler called with true on open and
// false on close or error.
func (t *BridgeTransport) OnConnectionChange(handler func(bool)) {
	t.onConnChange = handler
}

// OnReconnectExhausted registers the handler called when a bounded
// policy has used up its attempts. Never called for unbounded policies.
func (t *BridgeTransport) OnReconnectExhausted(handler func()) {
	t.onExhausted = handler
}

// Connect starts a connection attempt unless one is already live or in
// flight. The dial happens off the caller's goroutine; the outcome is
// reported through the connection-change handler.
func (t *BridgeTransport) Connect() {
	t.mu.Lock()
	if t.conn != nil || t.connecting || t.closing {
		t.mu.Unlock()
		return
	}
	t.connecting = true
	t.mu.Unlock()

	go t.dial()
}

func (t *BridgeTransport) dial() {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(t.url, nil)

	t.mu.Lock()
	if t.closing {
		t.connecting = false
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.connecting = false
		attempt := t.attempts
		t.mu.Unlock()
		t.logger.Warn("bridge dial failed",
			zap.String("url", t.url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		t.scheduleReconnect()
		return
	}

	t.conn = conn
	t.connecting = false
	t.attempts = 0
	t.mu.Unlock()

	t.logger.Info("bridge connected", zap.String("url", t.url))
	if t.onConnChange != nil {
		t.onConnChange(true)
	}
	go t.readPump(conn)
}

func (t *BridgeTransport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("bridge read error", zap.Error(err))
			}
			t.handleDisconnect(conn)
			return
		}
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

func (t *BridgeTransport) handleDisconnect(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn != conn {
		// a Reset or Disconnect already replaced this socket
		t.mu.Unlock()
		return
	}
	t.conn = nil
	closing := t.closing
	t.mu.Unlock()

	conn.Close()
	if t.onConnChange != nil {
		t.onConnChange(false)
	}
	if !closing {
		t.scheduleReconnect()
	}
}

func (t *BridgeTransport) scheduleReconnect() {
	t.mu.Lock()
	if t.closing || t.reconnectTimer != nil || t.conn != nil || t.connecting {
		t.mu.Unlock()
		return
	}
	t.attempts++
	if t.maxAttempts > 0 && t.attempts > t.maxAttempts {
		t.mu.Unlock()
		t.logger.Error("reconnect attempts exhausted",
			zap.Int("max_attempts", t.maxAttempts))
		if t.onExhausted != nil {
			t.onExhausted()
		}
		return
	}
	delay := backoffDelay(t.baseDelay, t.maxDelay, t.attempts)
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		t.mu.Unlock()
		t.Connect()
	})
	attempt := t.attempts
	t.mu.Unlock()

	t.logger.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
}

// backoffDelay is bounded exponential backoff: base doubling per
// attempt, capped, with ±20% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// Send writes one frame to the bridge. It fails fast when the transport
// is down; it never blocks waiting for a connection.
func (t *BridgeTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport send: %w", err)
	}
	return nil
}

// Connected reports whether a socket is currently open.
func (t *BridgeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Reset tears down the current socket so the normal reconnect path runs.
// Used when the peer is unresponsive even though the socket is open.
func (t *BridgeTransport) Reset(reason string) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.logger.Warn("resetting bridge connection", zap.String("reason", reason))
	conn.Close()
	if t.onConnChange != nil {
		t.onConnChange(false)
	}
	t.scheduleReconnect()
}

// Disconnect cancels the reconnect timer and closes the socket. Timers
// never fire after Disconnect returns. The transport cannot be reused
// afterwards.
func (t *BridgeTransport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
		if t.onConnChange != nil {
			t.onConnChange(false)
		}
	}
	t.logger.Info("bridge transport closed")
}

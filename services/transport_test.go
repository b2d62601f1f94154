package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// bridgeServer is an in-test websocket endpoint that counts upgrades
// and keeps the accepted sockets so tests can kill them server-side.
type bridgeServer struct {
	*httptest.Server
	upgrades atomic.Int64

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newBridgeServer(t *testing.T, onConn func(*websocket.Conn)) *bridgeServer {
	t.Helper()
	s := &bridgeServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.upgrades.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		if onConn != nil {
			onConn(conn)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *bridgeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *bridgeServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTransportConnectIsIdempotent(t *testing.T) {
	server := newBridgeServer(t, nil)
	cfg := testConfig()
	cfg.BridgeWSURL = server.wsURL()
	tr := NewBridgeTransport(cfg, testLogger())
	defer tr.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Connect()
		}()
	}
	wg.Wait()

	waitFor(t, "connection", tr.Connected)
	time.Sleep(50 * time.Millisecond)
	if n := server.upgrades.Load(); n != 1 {
		t.Fatalf("concurrent Connect calls produced %d sockets, want 1", n)
	}

	// connecting again while live must be a no-op too
	tr.Connect()
	time.Sleep(50 * time.Millisecond)
	if n := server.upgrades.Load(); n != 1 {
		t.Fatalf("Connect while connected produced %d sockets, want 1", n)
	}
}

func TestTransportSendFailsFastWhenDown(t *testing.T) {
	cfg := testConfig()
	tr := NewBridgeTransport(cfg, testLogger())
	start := time.Now()
	if err := tr.Send([]byte(`{"type":"command"}`)); err == nil {
		t.Fatalf("send on a down transport must fail")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("send blocked for %v instead of failing fast", elapsed)
	}
}

func TestTransportDeliversInbound(t *testing.T) {
	server := newBridgeServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","event":"device_connected"}`))
	})
	cfg := testConfig()
	cfg.BridgeWSURL = server.wsURL()
	tr := NewBridgeTransport(cfg, testLogger())
	defer tr.Disconnect()

	received := make(chan []byte, 1)
	tr.OnMessage(func(data []byte) {
		select {
		case received <- data:
		default:
		}
	})
	tr.Connect()

	select {
	case data := <-received:
		if !strings.Contains(string(data), "device_connected") {
			t.Fatalf("unexpected frame: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no inbound frame delivered")
	}
}

func TestTransportReconnectsAfterServerDrop(t *testing.T) {
	server := newBridgeServer(t, func(conn *websocket.Conn) {
		// keep the socket open until the test kills it
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
	cfg := testConfig()
	cfg.BridgeWSURL = server.wsURL()
	tr := NewBridgeTransport(cfg, testLogger())
	defer tr.Disconnect()

	changes := make(chan bool, 16)
	tr.OnConnectionChange(func(up bool) { changes <- up })
	tr.Connect()
	waitFor(t, "initial connection", tr.Connected)
	<-changes // true

	server.closeAll()
	waitFor(t, "disconnect notification", func() bool {
		select {
		case up := <-changes:
			return !up
		default:
			return false
		}
	})

	// backoff base is 50ms in the test config, so recovery is quick
	waitFor(t, "reconnection", tr.Connected)
	if n := server.upgrades.Load(); n < 2 {
		t.Fatalf("expected a second upgrade after the drop, got %d", n)
	}
}

func TestTransportResetForcesReconnect(t *testing.T) {
	server := newBridgeServer(t, nil)
	cfg := testConfig()
	cfg.BridgeWSURL = server.wsURL()
	tr := NewBridgeTransport(cfg, testLogger())
	defer tr.Disconnect()

	tr.Connect()
	waitFor(t, "initial connection", tr.Connected)

	tr.Reset("peer unresponsive")
	if tr.Connected() {
		t.Fatalf("reset must drop the socket immediately")
	}
	waitFor(t, "reconnection after reset", tr.Connected)
	if n := server.upgrades.Load(); n != 2 {
		t.Fatalf("expected 2 upgrades across the reset, got %d", n)
	}
}

func TestTransportDisconnectStopsReconnecting(t *testing.T) {
	// no server: every dial fails and feeds the backoff loop
	cfg := testConfig()
	cfg.BridgeWSURL = "ws://127.0.0.1:1/ws"
	tr := NewBridgeTransport(cfg, testLogger())

	tr.Connect()
	time.Sleep(100 * time.Millisecond)
	tr.Disconnect()
	time.Sleep(3 * cfg.ReconnectMaxDelay)
	if tr.Connected() {
		t.Fatalf("transport reconnected after Disconnect")
	}
}

func TestTransportReconnectExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.BridgeWSURL = "ws://127.0.0.1:1/ws"
	cfg.ReconnectMaxAttempts = 2
	tr := NewBridgeTransport(cfg, testLogger())
	defer tr.Disconnect()

	exhausted := make(chan struct{})
	tr.OnReconnectExhausted(func() { close(exhausted) })
	tr.Connect()

	select {
	case <-exhausted:
	case <-time.After(5 * time.Second):
		t.Fatalf("bounded policy never reported exhaustion")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second
	for attempt := 1; attempt <= 12; attempt++ {
		delay := backoffDelay(base, max, attempt)
		if delay < time.Duration(float64(base)*0.8) {
			t.Fatalf("attempt %d: delay %v under jittered floor", attempt, delay)
		}
		if delay > time.Duration(float64(max)*1.2) {
			t.Fatalf("attempt %d: delay %v over jittered cap", attempt, delay)
		}
	}
	// later attempts must not keep growing past the cap
	big := backoffDelay(base, max, 50)
	if big > time.Duration(float64(max)*1.2) {
		t.Fatalf("capped delay escaped the bound: %v", big)
	}
}

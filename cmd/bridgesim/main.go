package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"neurolink/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	addr      = flag.String("addr", "127.0.0.1:8765", "WebSocket listen address")
	apiAddr   = flag.String("api-addr", "127.0.0.1:8766", "REST listen address")
	deviceID  = flag.String("device", "NL-SIM-001", "Device ID for mock data")
	eegRate   = flag.Int("eeg", 250, "EEG samples per second")
	ppgRate   = flag.Int("ppg", 64, "PPG samples per second")
	accRate   = flag.Int("acc", 52, "ACC samples per second")
	stall     = flag.Duration("stall", 0, "Stop emitting frames after this duration (0 = never)")
	autoStart = flag.Bool("auto-start", true, "Start streaming as soon as a client connects")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// simSession is one connected supervisor client.
type simSession struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	writeMu   sync.Mutex
	streaming bool
	startedAt time.Time
	mu        sync.Mutex
}

func (s *simSession) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal failed", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("write failed", zap.Error(err))
	}
}

func (s *simSession) sendEvent(eventType string, data any) {
	raw, _ := json.Marshal(data)
	s.send(models.Event{Type: models.TypeEvent, EventType: eventType, Data: raw})
}

func (s *simSession) setStreaming(on bool) {
	s.mu.Lock()
	s.streaming = on
	if on {
		s.startedAt = time.Now()
	}
	s.mu.Unlock()
}

func (s *simSession) isEmitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return false
	}
	if *stall > 0 && time.Since(s.startedAt) > *stall {
		return false
	}
	return true
}

func (s *simSession) handleCommand(cmd models.Command) {
	switch cmd.Command {
	case models.CmdHealthCheck:
		s.mu.Lock()
		streaming := s.streaming
		s.mu.Unlock()
		s.send(models.HealthCheckResponse{
			Type:             models.TypeHealthCheckResponse,
			Status:           "ok",
			ClientsConnected: 1,
			IsStreaming:      streaming,
			DeviceConnected:  true,
		})

	case models.CmdCheckDeviceConnection:
		s.sendEvent(models.EventDeviceConnected, models.DeviceInfo{
			DeviceID: *deviceID,
			Name:     "NeuroLink Sim Headset",
			Channels: []string{"eeg", "ppg", "acc", "bat"},
		})

	case models.CmdScanDevices:
		s.sendEvent(models.EventScanResult, map[string]any{
			"devices": []models.DeviceInfo{{DeviceID: *deviceID, Address: "00:11:22:33:44:55"}},
		})

	case models.CmdConnectDevice:
		s.sendEvent(models.EventDeviceConnected, models.DeviceInfo{DeviceID: *deviceID})

	case models.CmdDisconnectDevice:
		s.sendEvent(models.EventDeviceDisconnected, map[string]string{"device_id": *deviceID})

	case models.CmdStartStreaming:
		s.setStreaming(true)
		s.sendEvent(models.EventStreamStarted, map[string]string{"device_id": *deviceID})

	case models.CmdStopStreaming:
		s.setStreaming(false)
		s.sendEvent(models.EventStreamStopped, map[string]string{"device_id": *deviceID})

	default:
		s.logger.Warn("unknown command", zap.String("command", cmd.Command))
	}
}

// emitFrames pushes sensor batches every 100ms at the configured rates,
// with sinusoidal signal shapes.
func (s *simSession) emitFrames(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isEmitting() {
				continue
			}
			phase += 0.1
			now := float64(time.Now().UnixNano()) / 1e9
			s.sendFrame("eeg", now, *eegRate/10, 50.0, phase)
			s.sendFrame("ppg", now, *ppgRate/10, 1.0, phase)
			s.sendFrame("acc", now, *accRate/10, 0.2, phase)
		}
	}
}

func (s *simSession) sendFrame(sensor string, ts float64, count int, amplitude, phase float64) {
	if count <= 0 {
		count = 1
	}
	data := make([]float64, count)
	for i := range data {
		data[i] = amplitude*math.Sin(phase+float64(i)*0.1) + (rand.Float64()-0.5)*amplitude*0.1
	}
	s.send(models.SensorFrame{
		Type:       models.TypeRawData,
		SensorType: sensor,
		DeviceID:   *deviceID,
		Timestamp:  ts,
		Data:       data,
	})
}

func serveWS(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		logger.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))
		session := &simSession{conn: conn, logger: logger}
		if *autoStart {
			session.setStreaming(true)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go session.emitFrames(ctx)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				logger.Info("client disconnected", zap.Error(err))
				return
			}
			var cmd models.Command
			if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type != models.TypeCommand {
				logger.Warn("ignoring non-command frame")
				continue
			}
			session.handleCommand(cmd)
		}
	}
}

// serveAPI provides just enough of the bridge REST surface for the
// supervisor's reachability probe and command passthroughs.
func serveAPI(logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("api request", zap.String("path", r.URL.Path))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	}
	mux.HandleFunc("/api/v1/stream/status", ok)
	mux.HandleFunc("/api/v1/stream/start", ok)
	mux.HandleFunc("/api/v1/stream/stop", ok)
	mux.HandleFunc("/api/v1/device/scan", ok)
	mux.HandleFunc("/api/v1/device/connect", ok)
	mux.HandleFunc("/api/v1/device/disconnect", ok)
	mux.HandleFunc("/api/v1/recording/start", ok)
	mux.HandleFunc("/api/v1/recording/stop", ok)
	mux.HandleFunc("/api/v1/recording/status", ok)
	mux.HandleFunc("/api/v1/recording/sessions", ok)
	return mux
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Bridge simulator started",
		zap.String("ws_addr", *addr),
		zap.String("api_addr", *apiAddr),
		zap.String("device_id", *deviceID),
		zap.Int("eeg_rate", *eegRate),
		zap.Int("ppg_rate", *ppgRate),
		zap.Int("acc_rate", *accRate),
		zap.Duration("stall", *stall),
	)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", serveWS(logger))
	wsServer := &http.Server{Addr: *addr, Handler: wsMux}
	apiServer := &http.Server{Addr: *apiAddr, Handler: serveAPI(logger)}

	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ws server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down simulator")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsServer.Shutdown(ctx)
	apiServer.Shutdown(ctx)
}

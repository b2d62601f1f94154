package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"neurolink/config"
	"neurolink/models"

	"go.uber.org/zap"
)

type eventKind int

const (
	evConnChange eventKind = iota
	evInbound
	evAPICheck
	evEngineReady
	evStreamRequested
	evReconnectExhausted
)

type supervisorEvent struct {
	kind      eventKind
	connected bool
	data      []byte
	ok        bool
}

// DeviceSession is the supervisor's view of the connected device,
// assembled from bridge events and health-check acks.
type DeviceSession struct {
	Connected bool                `json:"connected"`
	DeviceID  string              `json:"device_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Channels  []models.SensorType `json:"channels,omitempty"`
	Battery   float64             `json:"battery,omitempty"`
}

// Supervisor owns the connection and streaming-state machinery: one
// transport, one health probe, one rate estimator, one detector, one
// monitor. Every piece of shared state is mutated on a single reactor
// goroutine; transport callbacks and timers only post events onto its
// queue, so there is exactly one writer and no locking inside the
// core logic. Callers get a Supervisor reference instead of importing
// global state.
type Supervisor struct {
	cfg    *config.Config
	logger *zap.Logger

	transport *BridgeTransport
	probe     *HealthProbe
	rates     *RateEstimator
	detector  *StreamingDetector
	monitor   *ConnectionMonitor
	api       *BridgeAPIClient

	events chan supervisorEvent
	stop   chan struct{}
	done   chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// reactor-owned state
	device             DeviceSession
	engineInitialized  bool
	requestedStreaming bool
	apiUp              bool
	apiCheckInFlight   bool
	streaming          models.StreamingState

	// published snapshot for concurrent readers
	snapMu        sync.RWMutex
	snapStatus    models.ConnectionStatus
	snapStreaming models.StreamingState
	snapDevice    DeviceSession
	snapDecision  RecordingDecision
}

// NewSupervisor wires the component graph. Nothing runs until Start.
func NewSupervisor(cfg *config.Config, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		logger:    logger,
		transport: NewBridgeTransport(cfg, logger.Named("transport")),
		probe:     NewHealthProbe(cfg, logger.Named("probe")),
		rates:     NewRateEstimator(cfg.RateWindow),
		detector:  NewStreamingDetector(cfg, logger.Named("detector")),
		monitor:   NewConnectionMonitor(cfg, logger.Named("monitor")),
		api:       NewBridgeAPIClient(cfg, logger.Named("api")),
		events:    make(chan supervisorEvent, 256),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		streaming: models.StreamingState{Phase: models.StreamingIdle},
		snapDecision: RecordingDecision{
			Reason: "supervisor not started",
		},
	}

	s.transport.OnConnectionChange(func(up bool) {
		s.post(supervisorEvent{kind: evConnChange, connected: up})
	})
	s.transport.OnMessage(func(data []byte) {
		s.post(supervisorEvent{kind: evInbound, data: data})
	})
	s.transport.OnReconnectExhausted(func() {
		s.post(supervisorEvent{kind: evReconnectExhausted})
	})
	return s
}

// post delivers an event to the reactor without ever blocking a
// transport goroutine; when the queue is saturated the event is
// dropped and counted as an error.
func (s *Supervisor) post(ev supervisorEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping event", zap.Int("kind", int(ev.kind)))
		s.monitor.RecordError()
	}
}

// Start launches the reactor and the first connection attempt. It is
// an error to start a supervisor twice.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true

	s.logger.Info("supervisor starting",
		zap.String("bridge_ws", s.cfg.BridgeWSURL),
		zap.String("bridge_api", s.cfg.BridgeAPIURL),
		zap.Duration("tick", s.cfg.SupervisorTick))

	go s.run(ctx)
	s.transport.Connect()
	return nil
}

// Stop tears the supervisor down: reactor joined, every timer
// cancelled before the socket is released. Idempotent.
func (s *Supervisor) Stop() {
	s.lifecycleMu.Lock()
	if !s.started || s.stopped {
		s.lifecycleMu.Unlock()
		return
	}
	s.stopped = true
	s.lifecycleMu.Unlock()

	close(s.stop)
	<-s.done
	s.transport.Disconnect()
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SupervisorTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Supervisor) handleEvent(ev supervisorEvent) {
	switch ev.kind {
	case evConnChange:
		s.handleConnChange(ev.connected)
	case evInbound:
		s.handleInbound(ev.data)
	case evAPICheck:
		s.apiCheckInFlight = false
		s.apiUp = ev.ok
	case evEngineReady:
		s.engineInitialized = ev.ok
		s.publishSnapshot()
	case evStreamRequested:
		s.requestedStreaming = ev.ok
	case evReconnectExhausted:
		s.monitor.RecordError()
		s.monitor.RecordStatus(false, s.apiUp, false)
	}
}

func (s *Supervisor) handleConnChange(up bool) {
	now := time.Now()
	if up {
		s.probe.Arm(now)
		// state may have drifted while disconnected
		if err := s.sendCommand(models.CmdCheckDeviceConnection, nil); err != nil {
			s.logger.Warn("resync command failed", zap.Error(err))
		}
		return
	}
	s.probe.Disarm()
	s.monitor.RecordError()
	s.monitor.RecordStatus(false, s.apiUp, s.streaming.Phase != models.StreamingIdle)
	s.publishSnapshot()
}

func (s *Supervisor) handleInbound(raw []byte) {
	msg, err := models.DecodeInbound(raw)
	if err != nil {
		// protocol errors drop the frame, never the connection
		s.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch msg.Kind {
	case models.TypeEvent:
		s.handleBridgeEvent(msg.Event)
	case models.TypeHealthCheckResponse:
		s.handleHealthAck(msg.Health)
	default:
		s.handleSensorFrame(msg.Frame)
	}
}

func (s *Supervisor) handleBridgeEvent(ev *models.Event) {
	switch ev.EventType {
	case models.EventDeviceInfo, models.EventDeviceConnected:
		var info models.DeviceInfo
		if err := json.Unmarshal(ev.Data, &info); err != nil {
			s.logger.Warn("dropping malformed device event", zap.Error(err))
			return
		}
		s.device.DeviceID = info.DeviceID
		if info.Name != "" {
			s.device.Name = info.Name
		}
		if ev.EventType == models.EventDeviceConnected {
			s.device.Connected = true
			s.logger.Info("device connected", zap.String("device_id", info.DeviceID))
		}
		if len(info.Channels) > 0 {
			channels := make([]models.SensorType, 0, len(info.Channels))
			for _, ch := range info.Channels {
				if sensor, ok := models.NormalizeSensorType(ch); ok {
					channels = append(channels, sensor)
				}
			}
			s.device.Channels = channels
			s.detector.SetRequired(channels)
		}

	case models.EventDeviceDisconnected:
		s.device.Connected = false
		s.logger.Info("device disconnected", zap.String("device_id", s.device.DeviceID))

	case models.EventDeviceConnectionFailed:
		s.device.Connected = false
		s.logger.Warn("device connection failed", zap.String("data", string(ev.Data)))

	case models.EventBatteryStatus:
		var battery models.BatteryStatus
		if err := json.Unmarshal(ev.Data, &battery); err != nil {
			s.logger.Warn("dropping malformed battery event", zap.Error(err))
			return
		}
		s.device.Battery = battery.Level

	case models.EventStreamStarted, models.EventStreamStopped:
		// commanded-state acknowledgements; the detector alone decides
		// whether data is flowing
		s.logger.Info("bridge stream event", zap.String("event", ev.EventType))

	case models.EventScanResult, models.EventSignalQuality:
		s.logger.Debug("bridge event", zap.String("event", ev.EventType))

	default:
		s.logger.Warn("unknown bridge event", zap.String("event", ev.EventType))
	}
	s.publishSnapshot()
}

func (s *Supervisor) handleHealthAck(hc *models.HealthCheckResponse) {
	now := time.Now()
	if latency, ok := s.probe.Ack(now); ok {
		s.monitor.RecordResponseTime(latency)
	}
	// the ack is observed truth about the device link
	s.device.Connected = hc.DeviceConnected
	s.logger.Debug("health check acknowledged",
		zap.Int("clients_connected", hc.ClientsConnected),
		zap.Bool("is_streaming", hc.IsStreaming),
		zap.Bool("device_connected", hc.DeviceConnected))
	s.publishSnapshot()
}

func (s *Supervisor) handleSensorFrame(frame *models.SensorFrame) {
	sensor, ok := models.NormalizeSensorType(frame.SensorType)
	if !ok {
		s.logger.Warn("dropping frame with unknown sensor_type",
			zap.String("sensor_type", frame.SensorType))
		return
	}
	ts := timestampFromEpoch(frame.Timestamp)
	s.rates.RecordBatch(sensor, ts, len(frame.Data))
}

func (s *Supervisor) tick(now time.Time) {
	s.rates.Tick(now)
	s.streaming = s.detector.Update(s.rates.Snapshot())

	switch s.probe.Tick(now) {
	case ProbeSend:
		if err := s.sendCommand(models.CmdHealthCheck, nil); err != nil {
			s.logger.Warn("health check send failed", zap.Error(err))
			s.monitor.RecordError()
		}
	case ProbeFailed:
		// an unresponsive peer is a transport failure
		s.monitor.RecordError()
		s.transport.Reset("health probe miss limit reached")
	}

	s.monitor.RecordStatus(s.transport.Connected(), s.apiUp, s.streaming.Phase != models.StreamingIdle)
	s.monitor.Prune(now)
	s.checkAPIReachability()
	s.publishSnapshot()
}

// checkAPIReachability pings the REST collaborator off the reactor,
// with at most one probe outstanding, and posts the result back as an
// event.
func (s *Supervisor) checkAPIReachability() {
	if s.apiCheckInFlight {
		return
	}
	s.apiCheckInFlight = true
	go func() {
		err := s.api.Ping(context.Background())
		s.post(supervisorEvent{kind: evAPICheck, ok: err == nil})
	}()
}

func (s *Supervisor) sendCommand(name string, payload map[string]any) error {
	data, err := json.Marshal(models.NewCommand(name, payload))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.transport.Send(data)
}

func (s *Supervisor) publishSnapshot() {
	status := models.NewConnectionStatus(
		s.transport.Connected(), s.apiUp, s.streaming.Phase != models.StreamingIdle, time.Now())
	decision := EvaluateRecordingGate(s.engineInitialized, s.device.Connected, s.streaming)

	s.snapMu.Lock()
	s.snapStatus = status
	s.snapStreaming = s.streaming
	s.snapDevice = s.device
	s.snapDecision = decision
	s.snapMu.Unlock()
}

// Status returns the latest raw observation of the three signals.
func (s *Supervisor) Status() models.ConnectionStatus {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapStatus
}

// Overall returns the vote-smoothed status shown to users.
func (s *Supervisor) Overall() models.OverallStatus {
	return s.monitor.GetOverallStatus()
}

// Metrics returns the monitor's derived metrics.
func (s *Supervisor) Metrics() models.ConnectionMetrics {
	return s.monitor.GetMetrics()
}

// StreamingState returns the detector's latest verdict.
func (s *Supervisor) StreamingState() models.StreamingState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapStreaming
}

// Device returns the current device session view.
func (s *Supervisor) Device() DeviceSession {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapDevice
}

// CanRecord answers whether recording may start right now, with a
// user-facing reason when it may not.
func (s *Supervisor) CanRecord() RecordingDecision {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapDecision
}

// Alerts returns every alert raised so far.
func (s *Supervisor) Alerts() []models.Alert {
	return s.monitor.Alerts()
}

// DebugInfo aggregates internals for the debug endpoint.
func (s *Supervisor) DebugInfo() map[string]any {
	info := s.monitor.GetDebugInfo()
	s.snapMu.RLock()
	info["streaming"] = s.snapStreaming
	info["device"] = s.snapDevice
	info["can_record"] = s.snapDecision
	s.snapMu.RUnlock()
	info["rates"] = s.rates.Snapshot()
	return info
}

// OnStatusChange registers a callback for reported-status transitions.
func (s *Supervisor) OnStatusChange(cb func(models.OverallStatus)) {
	s.monitor.OnStatusChange(cb)
}

// OnAlert registers a callback for every raised alert.
func (s *Supervisor) OnAlert(cb func(models.Alert)) {
	s.monitor.OnAlert(cb)
}

// SetEngineInitialized records whether the recording engine is ready.
// Flows into the recording gate on the next reactor pass.
func (s *Supervisor) SetEngineInitialized(ready bool) {
	s.post(supervisorEvent{kind: evEngineReady, ok: ready})
}

// RequestStreamStart asks the bridge to start streaming. This changes
// only the requested state; observed streaming comes from throughput.
func (s *Supervisor) RequestStreamStart(ctx context.Context) error {
	s.post(supervisorEvent{kind: evStreamRequested, ok: true})
	return s.api.StartStream(ctx)
}

// RequestStreamStop asks the bridge to stop streaming.
func (s *Supervisor) RequestStreamStop(ctx context.Context) error {
	s.post(supervisorEvent{kind: evStreamRequested, ok: false})
	return s.api.StopStream(ctx)
}

// ScanDevices proxies a device scan to the bridge REST API.
func (s *Supervisor) ScanDevices(ctx context.Context) ([]models.DeviceInfo, error) {
	return s.api.ScanDevices(ctx)
}

// ConnectDevice proxies a device connect request.
func (s *Supervisor) ConnectDevice(ctx context.Context, address string) error {
	return s.api.ConnectDevice(ctx, address)
}

// DisconnectDevice proxies a device disconnect request.
func (s *Supervisor) DisconnectDevice(ctx context.Context) error {
	return s.api.DisconnectDevice(ctx)
}

// StartRecording starts a recording session if and only if the gate
// allows it.
func (s *Supervisor) StartRecording(ctx context.Context, sessionName string) error {
	if decision := s.CanRecord(); !decision.Allowed {
		return fmt.Errorf("cannot record: %s", decision.Reason)
	}
	return s.api.StartRecording(ctx, sessionName)
}

// StopRecording stops the active recording session.
func (s *Supervisor) StopRecording(ctx context.Context) error {
	return s.api.StopRecording(ctx)
}

// timestampFromEpoch converts the bridge's float epoch-seconds stamp.
// Frames without a usable stamp are treated as arriving now.
func timestampFromEpoch(epoch float64) time.Time {
	if epoch <= 0 {
		return time.Now()
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

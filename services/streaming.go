package services

import (
	"time"

	"neurolink/config"
	"neurolink/models"

	"go.uber.org/zap"
)

// StreamingDetector is the sole authority on whether sensor data is
// actually flowing. It turns per-sensor throughput estimates into a
// debounced Idle/Active/Degrading state: fast to turn on (one
// above-threshold evaluation), slow to turn off (a configured number of
// consecutive sub-threshold evaluations), so a single dropped frame
// never flips the UI. User start/stop commands have no input here.
type StreamingDetector struct {
	logger     *zap.Logger
	thresholds map[models.SensorType]float64
	required   []models.SensorType
	downTicks  int

	phase     models.StreamingPhase
	downCount int
}

// NewStreamingDetector builds a detector from configured thresholds and
// the set of sensors a session requires.
func NewStreamingDetector(cfg *config.Config, logger *zap.Logger) *StreamingDetector {
	required := make([]models.SensorType, 0, len(cfg.RequiredSensors))
	for _, s := range cfg.RequiredSensors {
		if sensor, ok := models.NormalizeSensorType(s); ok {
			required = append(required, sensor)
		}
	}
	return &StreamingDetector{
		logger: logger,
		thresholds: map[models.SensorType]float64{
			models.SensorEEG: cfg.EEGThreshold,
			models.SensorPPG: cfg.PPGThreshold,
			models.SensorACC: cfg.ACCThreshold,
		},
		required:  required,
		downTicks: cfg.StreamDownTicks,
		phase:     models.StreamingIdle,
	}
}

// SetRequired narrows or widens the sensors that must be above
// threshold, e.g. when the connected device advertises fewer channels.
// Sensors without a configured threshold are ignored.
func (d *StreamingDetector) SetRequired(sensors []models.SensorType) {
	filtered := make([]models.SensorType, 0, len(sensors))
	for _, s := range sensors {
		if _, ok := d.thresholds[s]; ok {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return
	}
	d.required = filtered
}

// Threshold returns the activation threshold for a sensor, or 0 when
// the sensor does not gate streaming.
func (d *StreamingDetector) Threshold(sensor models.SensorType) float64 {
	return d.thresholds[sensor]
}

// Update evaluates one round of rate estimates and returns the
// resulting state. Call once per supervisor tick.
func (d *StreamingDetector) Update(rates map[models.SensorType]float64) models.StreamingState {
	allAbove := true
	for _, sensor := range d.required {
		if rates[sensor] < d.thresholds[sensor] {
			allAbove = false
			break
		}
	}

	prev := d.phase
	switch {
	case allAbove:
		d.phase = models.StreamingActive
		d.downCount = 0
	case d.phase == models.StreamingIdle:
		// nothing to debounce
	default:
		d.downCount++
		if d.downCount >= d.downTicks {
			d.phase = models.StreamingIdle
			d.downCount = 0
		} else {
			d.phase = models.StreamingDegrading
		}
	}

	if d.phase != prev {
		d.logger.Info("streaming state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(d.phase)),
			zap.Any("rates", rates))
	}

	snapshot := make(map[models.SensorType]float64, len(rates))
	for sensor, rate := range rates {
		snapshot[sensor] = rate
	}
	return models.StreamingState{
		Phase:     d.phase,
		Rates:     snapshot,
		Timestamp: time.Now(),
	}
}

// State returns the current phase without re-evaluating.
func (d *StreamingDetector) State() models.StreamingPhase {
	return d.phase
}

package models

import "time"

// SensorType identifies one telemetry channel of the headset.
type SensorType string

const (
	SensorEEG     SensorType = "eeg"
	SensorPPG     SensorType = "ppg"
	SensorACC     SensorType = "acc"
	SensorBattery SensorType = "battery"
)

// NormalizeSensorType maps a wire-level sensor_type string onto a known
// SensorType. The bridge abbreviates battery frames as "bat".
func NormalizeSensorType(wire string) (SensorType, bool) {
	switch wire {
	case "eeg":
		return SensorEEG, true
	case "ppg":
		return SensorPPG, true
	case "acc":
		return SensorACC, true
	case "bat", "battery":
		return SensorBattery, true
	}
	return "", false
}

// StreamingPhase is the debounced, observation-driven streaming signal.
type StreamingPhase string

const (
	// StreamingIdle means no sensor is delivering at its activation rate.
	StreamingIdle StreamingPhase = "idle"
	// StreamingActive means every required sensor is at or above threshold.
	StreamingActive StreamingPhase = "active"
	// StreamingDegrading is the hysteresis hold-over between Active and
	// Idle: throughput has dipped but not for long enough to flip.
	StreamingDegrading StreamingPhase = "degrading"
)

// StreamingState is the detector's verdict plus the rates that produced it.
// It is derived purely from observed throughput, never from a user command.
type StreamingState struct {
	Phase     StreamingPhase         `json:"phase"`
	Rates     map[SensorType]float64 `json:"rates,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// IsActive reports whether data is verifiably flowing.
func (s StreamingState) IsActive() bool {
	return s.Phase == StreamingActive
}

// SensorRate pairs a sensor's current throughput estimate with its
// configured activation threshold, for debug output.
type SensorRate struct {
	Sensor    SensorType `json:"sensor"`
	Rate      float64    `json:"rate"`
	Threshold float64    `json:"threshold"`
}

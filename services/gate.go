package services

import "neurolink/models"

// RecordingDecision is the gate's answer: whether recording may start
// and, when it may not, a reason suitable for showing to the user.
type RecordingDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// EvaluateRecordingGate decides whether recording may start. It is a
// pure function of the engine/device preconditions and the observed
// streaming state; a user having pressed "start streaming" carries no
// weight here, only data actually flowing does.
func EvaluateRecordingGate(engineInitialized, deviceConnected bool, streaming models.StreamingState) RecordingDecision {
	switch {
	case !engineInitialized:
		return RecordingDecision{Reason: "recording engine is not initialized"}
	case !deviceConnected:
		return RecordingDecision{Reason: "no device is connected"}
	case streaming.Phase == models.StreamingDegrading:
		return RecordingDecision{Reason: "sensor data rate has dropped below threshold"}
	case !streaming.IsActive():
		return RecordingDecision{Reason: "sensor data is not flowing"}
	default:
		return RecordingDecision{Allowed: true, Reason: "ready to record"}
	}
}

package models

import "time"

// OverallStatus is the single categorical health summary shown to users.
type OverallStatus string

const (
	StatusOffline  OverallStatus = "offline"
	StatusDegraded OverallStatus = "degraded"
	StatusReady    OverallStatus = "ready"
	StatusHealthy  OverallStatus = "healthy"
)

// ComputeOverall derives the overall status from its three inputs. It is
// the only way an overall status comes into existence.
//
//	websocket && api && streaming  -> Healthy
//	websocket && api               -> Ready
//	!websocket && !api             -> Offline
//	anything else                  -> Degraded
func ComputeOverall(websocket, api, streaming bool) OverallStatus {
	switch {
	case websocket && api && streaming:
		return StatusHealthy
	case websocket && api:
		return StatusReady
	case !websocket && !api:
		return StatusOffline
	default:
		return StatusDegraded
	}
}

// ConnectionStatus is one observation of the three health signals plus
// their derived summary.
type ConnectionStatus struct {
	WebSocket bool          `json:"websocket"`
	API       bool          `json:"api"`
	Streaming bool          `json:"streaming"`
	Overall   OverallStatus `json:"overall"`
	LastCheck time.Time     `json:"last_check"`
}

// NewConnectionStatus builds an observation, deriving Overall.
func NewConnectionStatus(websocket, api, streaming bool, at time.Time) ConnectionStatus {
	return ConnectionStatus{
		WebSocket: websocket,
		API:       api,
		Streaming: streaming,
		Overall:   ComputeOverall(websocket, api, streaming),
		LastCheck: at,
	}
}

// ConnectionMetrics are derived counters maintained by the monitor.
// Counters are monotonic for the life of the process; ErrorRate is a
// sliding-window ratio over the most recent checks.
type ConnectionMetrics struct {
	UptimeMs            uint64    `json:"uptime_ms"`
	TotalChecks         uint64    `json:"total_checks"`
	SuccessfulChecks    uint64    `json:"successful_checks"`
	FailedChecks        uint64    `json:"failed_checks"`
	AverageLatencyMs    float64   `json:"average_latency_ms"`
	ErrorRate           float64   `json:"error_rate"`
	LastSuccessfulCheck time.Time `json:"last_successful_check"`
}

// AlertLevel classifies an alert's severity.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is an append-only record of a monitor rule firing.
type Alert struct {
	ID        uint64     `json:"id"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// StatusHistory is a bounded ring of status observations, capped by
// capacity and pruned by age. It backs the monitor's reported-status
// vote, instability detection and error-rate window.
type StatusHistory struct {
	entries  []ConnectionStatus
	capacity int
}

// NewStatusHistory creates a history bounded to the given capacity.
func NewStatusHistory(capacity int) *StatusHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &StatusHistory{
		entries:  make([]ConnectionStatus, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an observation, evicting the oldest when full.
func (h *StatusHistory) Push(status ConnectionStatus) {
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.capacity-1]
	}
	h.entries = append(h.entries, status)
}

// Len returns the number of retained observations.
func (h *StatusHistory) Len() int {
	return len(h.entries)
}

// Last returns the n most recent observations, oldest first. If fewer
// than n are retained it returns all of them.
func (h *StatusHistory) Last(n int) []ConnectionStatus {
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]ConnectionStatus, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// PruneOlderThan drops observations whose check time is before the cutoff.
func (h *StatusHistory) PruneOlderThan(cutoff time.Time) {
	firstKept := len(h.entries)
	for i, e := range h.entries {
		if !e.LastCheck.Before(cutoff) {
			firstKept = i
			break
		}
	}
	if firstKept > 0 {
		h.entries = append(h.entries[:0], h.entries[firstKept:]...)
	}
}

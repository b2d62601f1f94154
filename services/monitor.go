package services

import (
	"fmt"
	"sync"
	"time"

	"neurolink/config"
	"neurolink/models"

	"go.uber.org/zap"
)

// voteWindow is the number of recent checks the reported status vote
// and the instability rule look at.
const voteWindow = 5

// errorRateWindow bounds the sliding window the error rate is computed
// over, independent of history capacity.
const errorRateWindow = 100

// ConnectionMonitor aggregates transport liveness, API reachability and
// streaming state into one authoritative status, keeps bounded history,
// derives metrics and raises alerts. The supervisor's reactor is the
// only writer; readers (status API, notifier) go through the lock.
type ConnectionMonitor struct {
	logger *zap.Logger

	mu      sync.RWMutex
	history *models.StatusHistory
	maxAge  time.Duration

	metrics    models.ConnectionMetrics
	lastRecord time.Time

	alerts         []models.Alert
	alertSeq       uint64
	errorThreshold float64
	errorRateHigh  bool
	unstable       bool

	lastRaw      models.OverallStatus
	lastReported models.OverallStatus

	statusCallbacks []func(models.OverallStatus)
	alertCallbacks  []func(models.Alert)
}

// NewConnectionMonitor creates a monitor with empty history and zeroed
// metrics.
func NewConnectionMonitor(cfg *config.Config, logger *zap.Logger) *ConnectionMonitor {
	return &ConnectionMonitor{
		logger:         logger,
		history:        models.NewStatusHistory(cfg.HistoryCapacity),
		maxAge:         cfg.HistoryMaxAge,
		errorThreshold: cfg.ErrorRateAlertThreshold,
		lastRaw:        models.StatusOffline,
		lastReported:   models.StatusOffline,
	}
}

// OnStatusChange registers a callback invoked whenever the reported
// overall status changes. Callbacks run on the recording goroutine.
func (m *ConnectionMonitor) OnStatusChange(cb func(models.OverallStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCallbacks = append(m.statusCallbacks, cb)
}

// OnAlert registers a callback invoked for every alert raised.
func (m *ConnectionMonitor) OnAlert(cb func(models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCallbacks = append(m.alertCallbacks, cb)
}

// RecordStatus records one health-check round. The overall status of
// the observation is derived, never passed in.
func (m *ConnectionMonitor) RecordStatus(websocketUp, apiUp, streamingActive bool) models.OverallStatus {
	now := time.Now()
	status := models.NewConnectionStatus(websocketUp, apiUp, streamingActive, now)

	m.mu.Lock()

	// uptime accrues while the link is at least partially up
	if !m.lastRecord.IsZero() && m.lastRaw != models.StatusOffline {
		m.metrics.UptimeMs += uint64(now.Sub(m.lastRecord).Milliseconds())
	}
	m.lastRecord = now

	m.metrics.TotalChecks++
	if status.Overall == models.StatusOffline {
		m.metrics.FailedChecks++
	} else {
		m.metrics.SuccessfulChecks++
		m.metrics.LastSuccessfulCheck = now
	}

	m.history.Push(status)
	m.history.PruneOlderThan(now.Add(-m.maxAge))
	m.metrics.ErrorRate = m.errorRateLocked()

	var fired []models.Alert
	if status.Overall == models.StatusOffline && m.lastRaw != models.StatusOffline {
		fired = append(fired, m.raiseLocked(models.AlertCritical, "bridge connection offline", now))
	}
	fired = append(fired, m.checkInstabilityLocked(now)...)
	fired = append(fired, m.checkErrorRateLocked(now)...)
	m.lastRaw = status.Overall

	reported := m.reportedLocked()
	changed := reported != m.lastReported
	m.lastReported = reported

	statusCbs := m.statusCallbacks
	alertCbs := m.alertCallbacks
	m.mu.Unlock()

	if changed {
		m.logger.Info("overall status changed",
			zap.String("reported", string(reported)),
			zap.String("raw", string(status.Overall)))
		for _, cb := range statusCbs {
			cb(reported)
		}
	}
	for _, alert := range fired {
		for _, cb := range alertCbs {
			cb(alert)
		}
	}
	return reported
}

// RecordResponseTime folds one health-check round trip into the
// exponential moving average (weight 0.1).
func (m *ConnectionMonitor) RecordResponseTime(ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics.AverageLatencyMs == 0 {
		m.metrics.AverageLatencyMs = ms
		return
	}
	m.metrics.AverageLatencyMs = m.metrics.AverageLatencyMs*0.9 + ms*0.1
}

// RecordError counts a transport-level failure that happened outside a
// regular check round (send failure, probe timeout).
func (m *ConnectionMonitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.FailedChecks++
}

// GetOverallStatus returns the vote-smoothed status shown to users.
func (m *ConnectionMonitor) GetOverallStatus() models.OverallStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReported
}

// LastRawStatus returns the most recent per-check status, unsmoothed.
func (m *ConnectionMonitor) LastRawStatus() models.OverallStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRaw
}

// GetMetrics returns a copy of the derived metrics.
func (m *ConnectionMonitor) GetMetrics() models.ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Alerts returns a copy of every alert raised so far.
func (m *ConnectionMonitor) Alerts() []models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// AlertCount returns the monotonically non-decreasing alert counter.
func (m *ConnectionMonitor) AlertCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alertSeq
}

// GetDebugInfo returns internals for the debug endpoint.
func (m *ConnectionMonitor) GetDebugInfo() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"reported_status": m.lastReported,
		"raw_status":      m.lastRaw,
		"history_length":  m.history.Len(),
		"alert_count":     m.alertSeq,
		"error_rate":      m.metrics.ErrorRate,
		"metrics":         m.metrics,
	}
}

// Prune drops history entries older than the configured maximum age.
// Called from the supervisor tick so history ages out even while no
// checks are being recorded.
func (m *ConnectionMonitor) Prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.PruneOlderThan(now.Add(-m.maxAge))
}

// reportedLocked applies the short-window vote over the latest checks.
// A majority of fully-healthy samples reports Healthy even when the
// single newest sample dipped; the raw per-check status still drives
// metrics and alerts.
func (m *ConnectionMonitor) reportedLocked() models.OverallStatus {
	recent := m.history.Last(voteWindow)
	if len(recent) == 0 {
		return models.StatusOffline
	}
	healthy, ready, up := 0, 0, 0
	for _, s := range recent {
		switch s.Overall {
		case models.StatusHealthy:
			healthy++
			ready++
			up++
		case models.StatusReady:
			ready++
			up++
		case models.StatusDegraded:
			up++
		}
	}
	switch {
	case healthy >= 3:
		return models.StatusHealthy
	case ready >= 3:
		return models.StatusReady
	case up >= 2:
		return models.StatusDegraded
	default:
		return models.StatusOffline
	}
}

func (m *ConnectionMonitor) errorRateLocked() float64 {
	recent := m.history.Last(errorRateWindow)
	if len(recent) == 0 {
		return 0
	}
	offline := 0
	for _, s := range recent {
		if s.Overall == models.StatusOffline {
			offline++
		}
	}
	return float64(offline) / float64(len(recent))
}

// checkInstabilityLocked raises a warning when the link flaps: Degraded
// in at least 3 of the last 5 checks. Edge-triggered so a persistently
// unstable link alerts once per episode.
func (m *ConnectionMonitor) checkInstabilityLocked(now time.Time) []models.Alert {
	recent := m.history.Last(voteWindow)
	degraded := 0
	for _, s := range recent {
		if s.Overall == models.StatusDegraded {
			degraded++
		}
	}
	if degraded >= 3 {
		if !m.unstable {
			m.unstable = true
			return []models.Alert{m.raiseLocked(models.AlertWarning,
				fmt.Sprintf("connection unstable: degraded in %d of last %d checks", degraded, len(recent)), now)}
		}
	} else {
		m.unstable = false
	}
	return nil
}

// checkErrorRateLocked raises one alert per crossing of the error-rate
// threshold, not one per check while above it.
func (m *ConnectionMonitor) checkErrorRateLocked(now time.Time) []models.Alert {
	if m.metrics.ErrorRate > m.errorThreshold {
		if !m.errorRateHigh {
			m.errorRateHigh = true
			return []models.Alert{m.raiseLocked(models.AlertCritical,
				fmt.Sprintf("high error rate: %.0f%% of recent checks offline", m.metrics.ErrorRate*100), now)}
		}
	} else {
		m.errorRateHigh = false
	}
	return nil
}

func (m *ConnectionMonitor) raiseLocked(level models.AlertLevel, message string, now time.Time) models.Alert {
	m.alertSeq++
	alert := models.Alert{
		ID:        m.alertSeq,
		Level:     level,
		Message:   message,
		Timestamp: now,
	}
	m.alerts = append(m.alerts, alert)
	if level == models.AlertCritical {
		m.logger.Error("alert raised", zap.Uint64("id", alert.ID), zap.String("message", message))
	} else {
		m.logger.Warn("alert raised", zap.Uint64("id", alert.ID), zap.String("message", message))
	}
	return alert
}

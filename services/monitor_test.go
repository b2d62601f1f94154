package services

import (
	"math"
	"strings"
	"testing"
	"time"

	"neurolink/models"
)

func TestMonitorVoteSmoothsSingleDip(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())

	for i := 0; i < 4; i++ {
		m.RecordStatus(true, true, true)
	}
	// one dipped check must not drop the reported status
	reported := m.RecordStatus(true, false, true)
	if reported != models.StatusHealthy {
		t.Fatalf("vote should absorb one dip, reported %s", reported)
	}
	if m.LastRawStatus() != models.StatusDegraded {
		t.Fatalf("raw status must still show the dip, got %s", m.LastRawStatus())
	}
}

func TestMonitorReportsReadyWithoutStreaming(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	var reported models.OverallStatus
	for i := 0; i < 5; i++ {
		reported = m.RecordStatus(true, true, false)
	}
	if reported != models.StatusReady {
		t.Fatalf("up but not streaming should report Ready, got %s", reported)
	}
}

func TestMonitorReportsOfflineWhenEverythingDown(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	var reported models.OverallStatus
	for i := 0; i < 5; i++ {
		reported = m.RecordStatus(false, false, false)
	}
	if reported != models.StatusOffline {
		t.Fatalf("expected Offline, got %s", reported)
	}
}

func TestMonitorOfflineAlertFiresOnTransitionOnly(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	m.RecordStatus(true, true, true)

	m.RecordStatus(false, false, false)
	first := m.AlertCount()
	if first == 0 {
		t.Fatalf("going offline must raise an alert")
	}

	m.RecordStatus(false, false, false)
	m.RecordStatus(false, false, false)
	if m.AlertCount() != first {
		t.Fatalf("staying offline must not raise further offline alerts (got %d, want %d)",
			m.AlertCount(), first)
	}
}

func TestMonitorErrorRateAlertOncePerCrossing(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryCapacity = 100
	m := NewConnectionMonitor(cfg, testLogger())

	// 60 good checks, then failures pushing the window rate past 30%
	for i := 0; i < 60; i++ {
		m.RecordStatus(true, true, true)
	}
	before := m.AlertCount()
	for i := 0; i < 40; i++ {
		m.RecordStatus(false, false, false)
	}
	if m.GetMetrics().ErrorRate <= 0.3 {
		t.Fatalf("test setup wrong: error rate is %v", m.GetMetrics().ErrorRate)
	}

	var high int
	for _, a := range m.Alerts() {
		if a.ID > before && a.Level == models.AlertCritical && strings.HasPrefix(a.Message, "high error rate") {
			high++
		}
	}
	if high != 1 {
		t.Fatalf("expected exactly one high-error-rate alert per crossing, got %d", high)
	}
}

func TestMonitorInstabilityAlert(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	before := m.AlertCount()

	// degraded in 3 of the last 5
	m.RecordStatus(true, true, true)
	m.RecordStatus(true, false, false)
	m.RecordStatus(true, true, true)
	m.RecordStatus(true, false, false)
	m.RecordStatus(true, false, false)

	found := false
	for _, a := range m.Alerts() {
		if a.ID > before && a.Level == models.AlertWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("flapping link should raise an instability warning")
	}
}

func TestMonitorAlertCountMonotonic(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	var last uint64
	for i := 0; i < 50; i++ {
		up := i%3 != 0
		m.RecordStatus(up, up, false)
		if count := m.AlertCount(); count < last {
			t.Fatalf("alert count decreased: %d -> %d", last, count)
		} else {
			last = count
		}
	}
}

func TestMonitorLatencyEMA(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	m.RecordResponseTime(100)
	if got := m.GetMetrics().AverageLatencyMs; got != 100 {
		t.Fatalf("first sample should seed the average, got %v", got)
	}
	m.RecordResponseTime(200)
	want := 100*0.9 + 200*0.1
	if got := m.GetMetrics().AverageLatencyMs; math.Abs(got-want) > 1e-9 {
		t.Fatalf("EMA wrong: got %v, want %v", got, want)
	}
}

func TestMonitorCheckCounters(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	m.RecordStatus(true, true, true)
	m.RecordStatus(false, false, false)
	m.RecordError()

	metrics := m.GetMetrics()
	if metrics.TotalChecks != 2 {
		t.Fatalf("expected 2 checks, got %d", metrics.TotalChecks)
	}
	if metrics.SuccessfulChecks != 1 {
		t.Fatalf("expected 1 successful check, got %d", metrics.SuccessfulChecks)
	}
	if metrics.FailedChecks != 2 {
		t.Fatalf("expected 2 failed checks (1 offline + 1 explicit), got %d", metrics.FailedChecks)
	}
	if metrics.LastSuccessfulCheck.IsZero() {
		t.Fatalf("last successful check timestamp not recorded")
	}
}

func TestMonitorUptimeAccruesOnlyWhileUp(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	m.RecordStatus(true, true, true)
	time.Sleep(20 * time.Millisecond)
	m.RecordStatus(true, true, true)
	up := m.GetMetrics().UptimeMs
	if up == 0 {
		t.Fatalf("uptime should accrue between healthy checks")
	}

	m.RecordStatus(false, false, false)
	time.Sleep(20 * time.Millisecond)
	m.RecordStatus(false, false, false)
	if m.GetMetrics().UptimeMs != up {
		t.Fatalf("uptime must not accrue while offline")
	}
}

func TestMonitorStatusChangeCallback(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	var seen []models.OverallStatus
	m.OnStatusChange(func(s models.OverallStatus) { seen = append(seen, s) })

	for i := 0; i < 5; i++ {
		m.RecordStatus(true, true, true)
	}
	if len(seen) == 0 || seen[len(seen)-1] != models.StatusHealthy {
		t.Fatalf("expected callback with Healthy, got %v", seen)
	}

	n := len(seen)
	m.RecordStatus(true, true, true)
	if len(seen) != n {
		t.Fatalf("callback must fire only on change")
	}
}

func TestMonitorDebugInfo(t *testing.T) {
	m := NewConnectionMonitor(testConfig(), testLogger())
	m.RecordStatus(true, true, false)
	info := m.GetDebugInfo()
	for _, key := range []string{"reported_status", "raw_status", "history_length", "alert_count", "error_rate", "metrics"} {
		if _, ok := info[key]; !ok {
			t.Errorf("debug info missing %q", key)
		}
	}
}

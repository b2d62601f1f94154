package services

import (
	"sync"
	"time"

	"neurolink/models"
)

// rateSample is one received batch: its timestamp and how many samples
// it carried.
type rateSample struct {
	at    time.Time
	count int
}

// RateEstimator converts arriving sample batches into per-sensor
// throughput estimates. The rate of a sensor is the number of samples
// whose timestamps fall inside the sliding window ending at the newest
// observation, divided by the window length. Counting inside a window
// stays stable for bursty or degenerate delivery where a
// count/(last-first) division would not be.
//
// Tick must be called periodically so that a stalled stream's rate
// decays to zero instead of freezing at its last nonzero value.
type RateEstimator struct {
	window  time.Duration
	mu      sync.RWMutex
	samples map[models.SensorType][]rateSample
	clock   time.Time // most recent of: newest sample, last tick
}

// NewRateEstimator creates an estimator with the given sliding window.
func NewRateEstimator(window time.Duration) *RateEstimator {
	return &RateEstimator{
		window:  window,
		samples: make(map[models.SensorType][]rateSample),
	}
}

// RecordBatch registers count samples for a sensor stamped at ts.
// Batches older than the window relative to the newest observation are
// pruned immediately, so the per-sensor buffer is bounded by the window
// regardless of input rate.
func (e *RateEstimator) RecordBatch(sensor models.SensorType, ts time.Time, count int) {
	if count <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if ts.After(e.clock) {
		e.clock = ts
	}
	buf := append(e.samples[sensor], rateSample{at: ts, count: count})
	e.samples[sensor] = pruneBefore(buf, e.clock.Add(-e.window))
}

// Tick advances the estimator's clock to now and drops batches that
// have aged out of the window. Without new data this walks every rate
// down to zero within one window length.
func (e *RateEstimator) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if now.After(e.clock) {
		e.clock = now
	}
	cutoff := e.clock.Add(-e.window)
	for sensor, buf := range e.samples {
		e.samples[sensor] = pruneBefore(buf, cutoff)
	}
}

// CurrentRate returns the sensor's samples/second estimate.
func (e *RateEstimator) CurrentRate(sensor models.SensorType) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rateLocked(sensor)
}

// Snapshot returns the current rate of every sensor seen so far.
func (e *RateEstimator) Snapshot() map[models.SensorType]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[models.SensorType]float64, len(e.samples))
	for sensor := range e.samples {
		out[sensor] = e.rateLocked(sensor)
	}
	return out
}

func (e *RateEstimator) rateLocked(sensor models.SensorType) float64 {
	cutoff := e.clock.Add(-e.window)
	total := 0
	for _, s := range e.samples[sensor] {
		if !s.at.Before(cutoff) {
			total += s.count
		}
	}
	return float64(total) / e.window.Seconds()
}

func pruneBefore(buf []rateSample, cutoff time.Time) []rateSample {
	firstKept := len(buf)
	for i, s := range buf {
		if !s.at.Before(cutoff) {
			firstKept = i
			break
		}
	}
	if firstKept == 0 {
		return buf
	}
	return append(buf[:0], buf[firstKept:]...)
}

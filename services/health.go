package services

import (
	"time"

	"neurolink/config"

	"go.uber.org/zap"
)

// ProbeAction tells the supervisor what one probe tick decided.
type ProbeAction int

const (
	// ProbeNone means nothing to do this tick.
	ProbeNone ProbeAction = iota
	// ProbeSend means a liveness request is due.
	ProbeSend
	// ProbeFailed means the miss limit was reached; treat exactly like a
	// transport failure.
	ProbeFailed
)

// HealthProbe exercises the transport with periodic liveness requests
// and tracks acknowledgements. Requests go out at a fixed cadence and
// each times out independently, so an unresponsive peer accumulates a
// miss per interval rather than one per timeout round trip. A
// configured number of misses escalates to a transport failure,
// decoupling "socket technically open" from "peer actually responsive".
//
// The probe holds no timers of its own: the supervisor's reactor drives
// it via Tick, so arming and disarming can never race a late callback.
type HealthProbe struct {
	logger    *zap.Logger
	interval  time.Duration
	timeout   time.Duration
	missLimit int

	armed    bool
	pending  []time.Time // send times of unacknowledged requests, oldest first
	lastSend time.Time
	misses   int
}

// NewHealthProbe builds a probe from the configured cadence.
func NewHealthProbe(cfg *config.Config, logger *zap.Logger) *HealthProbe {
	return &HealthProbe{
		logger:    logger,
		interval:  cfg.HealthCheckInterval,
		timeout:   cfg.HealthCheckTimeout,
		missLimit: cfg.HealthMissLimit,
	}
}

// Arm starts probing; called when the transport opens.
func (p *HealthProbe) Arm(now time.Time) {
	p.armed = true
	p.pending = nil
	p.misses = 0
	// backdate so the first request goes out on the next tick
	p.lastSend = now.Add(-p.interval)
}

// Disarm stops probing; called on transport loss or teardown.
func (p *HealthProbe) Disarm() {
	p.armed = false
	p.pending = nil
	p.misses = 0
}

// Tick advances the probe clock: expired requests are counted as
// misses, then a new request is sent when the interval is up. After
// ProbeFailed the probe disarms itself.
func (p *HealthProbe) Tick(now time.Time) ProbeAction {
	if !p.armed {
		return ProbeNone
	}

	for len(p.pending) > 0 && now.Sub(p.pending[0]) >= p.timeout {
		p.pending = p.pending[1:]
		p.misses++
		p.logger.Warn("health check unacknowledged",
			zap.Int("misses", p.misses),
			zap.Int("miss_limit", p.missLimit))
		if p.misses >= p.missLimit {
			p.Disarm()
			return ProbeFailed
		}
	}

	if now.Sub(p.lastSend) >= p.interval {
		p.lastSend = now
		p.pending = append(p.pending, now)
		return ProbeSend
	}
	return ProbeNone
}

// Ack records a liveness acknowledgement and returns the round trip of
// the oldest outstanding request in milliseconds. An ack proves the
// peer alive, so every outstanding request and the miss count clear
// with it. A stray ack with nothing outstanding reports ok=false.
func (p *HealthProbe) Ack(now time.Time) (latencyMs float64, ok bool) {
	if len(p.pending) == 0 {
		return 0, false
	}
	latency := float64(now.Sub(p.pending[0]).Milliseconds())
	p.pending = nil
	p.misses = 0
	return latency, true
}

// Responsive reports whether the peer is inside its miss budget.
func (p *HealthProbe) Responsive() bool {
	return p.armed && p.misses < p.missLimit
}

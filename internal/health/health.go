package health

import (
	"sync/atomic"
	"time"
)

// Status is the service-level health state reported by /health.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusOverloaded   Status = "overloaded"
	StatusShuttingDown Status = "shutting-down"
)

// Config holds the thresholds used to derive a Status.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	// RateLimitRPS is the limiter's sustained rate; 0 disables overload detection.
	RateLimitRPS     int
	DegradedWindow   time.Duration
	DegradedErrorPct int
}

// Result is one health evaluation.
type Result struct {
	Status Status
	Reason string
}

// Healthy reports whether the instance should receive traffic.
func (r Result) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker derives the service status from tracked outcomes and the
// shutdown flag.
type Checker struct {
	cfg          Config
	tracker      *Tracker
	shuttingDown atomic.Bool
}

// NewChecker returns a Checker over tracker.
func NewChecker(cfg Config, tracker *Tracker) *Checker {
	return &Checker{cfg: cfg, tracker: tracker}
}

// Tracker returns the outcome tracker the checker evaluates.
func (c *Checker) Tracker() *Tracker {
	return c.tracker
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
func (c *Checker) SetShuttingDown(v bool) {
	c.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (c *Checker) IsShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Evaluate computes the status in priority order:
// shutting-down > overloaded > degraded > healthy.
func (c *Checker) Evaluate() Result {
	if c.IsShuttingDown() {
		return Result{StatusShuttingDown, "signal"}
	}

	if c.cfg.RateLimitRPS > 0 && c.cfg.OverloadWindow > 0 && c.cfg.OverloadThresholdPct > 0 {
		capacity := float64(c.cfg.RateLimitRPS) * c.cfg.OverloadWindow.Seconds()
		threshold := capacity * float64(c.cfg.OverloadThresholdPct) / 100
		if float64(c.tracker.DenialCount(c.cfg.OverloadWindow)) > threshold {
			return Result{StatusOverloaded, "rate_limit_denials"}
		}
	}

	if c.cfg.DegradedWindow > 0 && c.cfg.DegradedErrorPct > 0 {
		errors, total := c.tracker.ErrorRate(c.cfg.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(c.cfg.DegradedErrorPct) {
				return Result{StatusDegraded, "view_error_rate"}
			}
		}
	}

	return Result{StatusHealthy, ""}
}

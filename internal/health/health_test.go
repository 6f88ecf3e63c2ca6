package health

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ErrorRateWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock)

	tr.RecordViewOutcome(true)
	tr.RecordViewOutcome(false)
	clock.Advance(90 * time.Second)
	tr.RecordViewOutcome(false)

	errs, total := tr.ErrorRate(time.Minute)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, total)

	errs, total = tr.ErrorRate(2 * time.Minute)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 3, total)
}

func TestTracker_PrunesPastMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock)

	tr.RecordDenied()
	clock.Advance(maxAge + time.Second)
	tr.RecordDenied()

	assert.Equal(t, 1, tr.DenialCount(time.Hour))
	tr.Reset()
	assert.Equal(t, 0, tr.DenialCount(time.Hour))
}

func TestChecker_Evaluate(t *testing.T) {
	cfg := Config{
		OverloadWindow:       10 * time.Second,
		OverloadThresholdPct: 50,
		RateLimitRPS:         1,
		DegradedWindow:       time.Minute,
		DegradedErrorPct:     50,
	}

	tests := []struct {
		name     string
		setup    func(c *Checker)
		want     Status
		wantHealthy bool
	}{
		{
			name:     "no traffic is healthy",
			setup:    func(c *Checker) {},
			want:     StatusHealthy,
			wantHealthy: true,
		},
		{
			name: "low error rate is healthy",
			setup: func(c *Checker) {
				c.Tracker().RecordViewOutcome(true)
				for i := 0; i < 9; i++ {
					c.Tracker().RecordViewOutcome(false)
				}
			},
			want:     StatusHealthy,
			wantHealthy: true,
		},
		{
			name: "error rate at threshold is degraded",
			setup: func(c *Checker) {
				c.Tracker().RecordViewOutcome(true)
				c.Tracker().RecordViewOutcome(false)
			},
			want: StatusDegraded,
		},
		{
			name: "denials above threshold are overloaded",
			setup: func(c *Checker) {
				for i := 0; i < 6; i++ {
					c.Tracker().RecordDenied()
				}
			},
			want: StatusOverloaded,
		},
		{
			name: "overloaded wins over degraded",
			setup: func(c *Checker) {
				c.Tracker().RecordViewOutcome(true)
				for i := 0; i < 6; i++ {
					c.Tracker().RecordDenied()
				}
			},
			want: StatusOverloaded,
		},
		{
			name: "shutting down wins over everything",
			setup: func(c *Checker) {
				c.Tracker().RecordViewOutcome(true)
				for i := 0; i < 6; i++ {
					c.Tracker().RecordDenied()
				}
				c.SetShuttingDown(true)
			},
			want: StatusShuttingDown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(cfg, NewTracker(clockwork.NewFakeClock()))
			tc.setup(c)
			got := c.Evaluate()
			require.Equal(t, tc.want, got.Status)
			assert.Equal(t, tc.wantHealthy, got.Healthy())
		})
	}
}

func TestChecker_OverloadDisabledWithoutRateLimit(t *testing.T) {
	c := NewChecker(Config{OverloadWindow: time.Second, OverloadThresholdPct: 1}, NewTracker(nil))
	for i := 0; i < 100; i++ {
		c.Tracker().RecordDenied()
	}
	assert.Equal(t, StatusHealthy, c.Evaluate().Status)
}

package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kjstillabower/aurora-service/internal/observability"
)

// inFlight counts requests being served so shutdown can drain them. When a
// gauge is set it mirrors the count.
type inFlight struct {
	n     atomic.Int64
	gauge prometheus.Gauge
}

// begin marks a request as started and returns the func that ends it.
func (f *inFlight) begin() func() {
	f.n.Add(1)
	if f.gauge != nil {
		f.gauge.Inc()
	}
	return func() {
		f.n.Add(-1)
		if f.gauge != nil {
			f.gauge.Dec()
		}
	}
}

func (f *inFlight) count() int64 {
	return f.n.Load()
}

// drain polls every interval until no request is in flight or ctx ends.
func (f *inFlight) drain(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for f.count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// requests is shared by MetricsMiddleware and the shutdown helpers below.
var requests = &inFlight{gauge: observability.HTTPRequestsInFlight}

// InFlightCount returns the number of requests currently being served.
func InFlightCount() int64 {
	return requests.count()
}

// WaitForInFlight blocks until every in-flight request finishes or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return requests.drain(ctx, checkInterval)
}

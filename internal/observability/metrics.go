package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per upstream and status. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 approaching views.timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per upstream. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Breaker state per upstream group: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Cache operations by key and result (hit, miss, expired, set).
	CacheOperationsTotal *prometheus.CounterVec

	// Cache backend failures by operation.
	CacheErrorsTotal *prometheus.CounterVec

	// View outcomes (success, stale, error). Watch for: error share per view.
	ViewOutcomesTotal *prometheus.CounterVec

	// Per-view fetch latency including fallback.
	ViewDuration *prometheus.HistogramVec

	// Composite aurora lookups.
	AuroraQueriesTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream calls by upstream and status",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream latency in seconds (per attempt)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"upstream", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts per upstream",
		},
		[]string{"upstream"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per upstream group (0 closed, 1 half-open, 2 open)",
		},
		[]string{"group"},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheOperationsTotal",
			Help: "Cache operations by key and result",
		},
		[]string{"key", "result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	ViewOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewOutcomesTotal",
			Help: "View outcomes by view and result (success, stale, error)",
		},
		[]string{"view", "result"},
	)
	ViewDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewDurationSeconds",
			Help:    "View fetch latency in seconds, fallback included",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"view"},
	)
	AuroraQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auroraQueriesTotal",
			Help: "Total number of composite aurora lookups",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Total number of cache warming runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CircuitBreakerState,
		CacheOperationsTotal, CacheErrorsTotal,
		ViewOutcomesTotal, ViewDuration,
		AuroraQueriesTotal,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RecordViewOutcome records the result and latency of one view fetch.
func RecordViewOutcome(view, result string, seconds float64) {
	ViewOutcomesTotal.WithLabelValues(view, result).Inc()
	ViewDuration.WithLabelValues(view).Observe(seconds)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/aurora-service/internal/observability"
)

var (
	ErrUpstreamFailure      = errors.New("upstream failure")
	ErrRateLimited          = errors.New("rate limited")
	ErrBadPayload           = errors.New("unparseable upstream payload")
	ErrProviderUnconfigured = errors.New("provider credentials not configured")
	ErrCircuitOpen          = errors.New("circuit breaker open")
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 8 << 20

// RetryConfig controls bounded retry with exponential backoff.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// BreakerConfig configures one gobreaker circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// NewBreaker creates a circuit breaker for an upstream group. Only retryable
// failures (5xx, 429, transport errors) count against it; state changes are
// exported on the circuitBreakerState gauge.
func NewBreaker(group string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	observability.CircuitBreakerState.WithLabelValues(group).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        group,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// upstream is the shared call path for every fetcher: per-attempt timeout,
// correlation header, metrics, breaker and retry.
type upstream struct {
	client  *http.Client
	timeout time.Duration
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

func newUpstream(httpClient *http.Client, timeout time.Duration, retry RetryConfig, breaker *gobreaker.CircuitBreaker) *upstream {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	return &upstream{client: httpClient, timeout: timeout, retry: retry, breaker: breaker}
}

// fetch performs the request built by build, retrying retryable failures.
// label names the upstream in metrics.
func (u *upstream) fetch(ctx context.Context, label string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < u.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(label).Inc()
			delay := u.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := u.attempt(ctx, label, build)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) || !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (u *upstream) attempt(ctx context.Context, label string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	if u.breaker == nil {
		return u.callAPI(ctx, label, build)
	}
	result, err := u.breaker.Execute(func() (interface{}, error) {
		return u.callAPI(ctx, label, build)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.UpstreamCallsTotal.WithLabelValues(label, "circuit_open").Inc()
			return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, u.breaker.Name(), err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (u *upstream) callAPI(ctx context.Context, label string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	start := time.Now()

	reqCtx := ctx
	if u.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	req, err := build(reqCtx)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(label, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(label, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(label, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(label, status).Inc()
	observability.UpstreamDuration.WithLabelValues(label, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "http request failed") {
		return true
	}

	return false
}

func (u *upstream) calculateBackoff(attempt int) time.Duration {
	delay := float64(u.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if u.retry.MaxDelay > 0 && delay > float64(u.retry.MaxDelay) {
		delay = float64(u.retry.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// Breakers holds one circuit breaker per upstream group.
type Breakers map[string]*gobreaker.CircuitBreaker

// States returns each group's breaker state name ("closed", "half-open", "open").
func (b Breakers) States() map[string]string {
	out := make(map[string]string, len(b))
	for group, cb := range b {
		out[group] = cb.State().String()
	}
	return out
}

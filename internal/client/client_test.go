package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testUpstream(retry RetryConfig, breakerCfg *BreakerConfig) *upstream {
	u := newUpstream(&http.Client{}, 2*time.Second, retry, nil)
	if breakerCfg != nil {
		u.breaker = NewBreaker("test", *breakerCfg)
	}
	return u
}

func getRequest(url string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestUpstream_Fetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, nil)
	body, err := u.fetch(context.Background(), "test", getRequest(server.URL))
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("fetch() body = %s", body)
	}
}

func TestUpstream_Fetch_ErrorHandling(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
		retryable  bool
	}{
		{"429 rate limited", http.StatusTooManyRequests, ErrRateLimited, true},
		{"500 server error", http.StatusInternalServerError, ErrUpstreamFailure, true},
		{"502 bad gateway", http.StatusBadGateway, ErrUpstreamFailure, true},
		{"503 unavailable", http.StatusServiceUnavailable, ErrUpstreamFailure, true},
		{"404 not found", http.StatusNotFound, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			u := testUpstream(RetryConfig{Attempts: 1}, nil)
			_, err := u.fetch(context.Background(), "test", getRequest(server.URL))
			if err == nil {
				t.Fatalf("fetch() expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("fetch() error = %v, want %v", err, tt.wantErr)
			}
			if got := isRetryable(err); got != tt.retryable {
				t.Errorf("isRetryable(%v) = %v, want %v", err, got, tt.retryable)
			}
		})
	}
}

func TestUpstream_Fetch_RetryLogic(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}, nil)
	if _, err := u.fetch(context.Background(), "test", getRequest(server.URL)); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestUpstream_Fetch_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, nil)
	if _, err := u.fetch(context.Background(), "test", getRequest(server.URL)); err == nil {
		t.Fatal("fetch() expected error, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry), got %d", attempts.Load())
	}
}

func TestUpstream_Fetch_ExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 2, BaseDelay: time.Millisecond}, nil)
	_, err := u.fetch(context.Background(), "test", getRequest(server.URL))
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("fetch() error = %v, want %v", err, ErrUpstreamFailure)
	}
}

func TestUpstream_Fetch_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := testUpstream(RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}, nil)
	_, err := u.fetch(ctx, "test", getRequest(server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("fetch() error = %v, want context.Canceled", err)
	}
}

func TestUpstream_Fetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	u := newUpstream(&http.Client{}, 20*time.Millisecond, RetryConfig{Attempts: 1}, nil)
	_, err := u.fetch(context.Background(), "test", getRequest(server.URL))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("fetch() error = %v, want deadline exceeded", err)
	}
}

func TestUpstream_Fetch_CorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
	}))
	defer server.Close()

	ctx := context.WithValue(context.Background(), "correlation_id", "test-correlation-id-123")
	u := testUpstream(RetryConfig{Attempts: 1}, nil)
	if _, err := u.fetch(ctx, "test", getRequest(server.URL)); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if captured != "test-correlation-id-123" {
		t.Errorf("X-Correlation-ID header = %q, want %q", captured, "test-correlation-id-123")
	}
}

// TestUpstream_Breaker_OpensAfterConsecutiveFailures verifies that once the
// breaker trips, calls fail with ErrCircuitOpen without reaching the upstream.
func TestUpstream_Breaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 1}, &BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute})
	for i := 0; i < 2; i++ {
		_, _ = u.fetch(context.Background(), "test", getRequest(server.URL))
	}

	_, err := u.fetch(context.Background(), "test", getRequest(server.URL))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("fetch() error = %v, want %v", err, ErrCircuitOpen)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2", hits.Load())
	}

	states := Breakers{"test": u.breaker}.States()
	if states["test"] != "open" {
		t.Errorf("States()[test] = %q, want open", states["test"])
	}
}

// TestUpstream_Breaker_IgnoresClientErrors verifies that 4xx responses do not trip the breaker.
func TestUpstream_Breaker_IgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	u := testUpstream(RetryConfig{Attempts: 1}, &BreakerConfig{ConsecutiveFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := u.fetch(context.Background(), "test", getRequest(server.URL))
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: breaker opened on client errors", i)
		}
	}
}

func TestUpstream_calculateBackoff(t *testing.T) {
	u := &upstream{retry: RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}}

	tests := []struct {
		name    string
		attempt int
		wantMax time.Duration
	}{
		{"first retry", 1, 110 * time.Millisecond},
		{"second retry", 2, 220 * time.Millisecond},
		{"third retry", 3, 440 * time.Millisecond},
		{"capped", 10, 2200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := u.calculateBackoff(tt.attempt)
			if got > tt.wantMax {
				t.Errorf("calculateBackoff(%d) = %v, want <= %v", tt.attempt, got, tt.wantMax)
			}
			if got <= 0 {
				t.Errorf("calculateBackoff(%d) = %v, want > 0", tt.attempt, got)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 101: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
// Run with -v to see skip reasons.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("callAPI_clientDo_connection_refused", func(t *testing.T) {
		t.Skip("connection refused requires network isolation; covered by integration tests")
	})
	t.Run("breaker_half_open_recovery", func(t *testing.T) {
		t.Skip("half-open probing is gobreaker's own behaviour and needs real elapsed Timeout")
	})
}

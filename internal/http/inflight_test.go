package http

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInFlight_BeginEnd(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_in_flight"})
	f := &inFlight{gauge: gauge}

	endA := f.begin()
	endB := f.begin()
	if got := f.count(); got != 2 {
		t.Errorf("count() = %d, want 2", got)
	}
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("gauge = %v, want 2", got)
	}

	endA()
	endB()
	if got := f.count(); got != 0 {
		t.Errorf("count() = %d, want 0", got)
	}
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}

func TestInFlight_DrainWaitsForRequests(t *testing.T) {
	f := &inFlight{}
	end := f.begin()

	done := make(chan error, 1)
	go func() {
		done <- f.drain(context.Background(), 5*time.Millisecond)
	}()

	select {
	case <-done:
		t.Fatal("drain returned while a request was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	end()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("drain() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not return after the last request ended")
	}
}

func TestInFlight_DrainContextDone(t *testing.T) {
	f := &inFlight{}
	f.begin()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.drain(ctx, 5*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("drain() error = %v, want context.Canceled", err)
	}
}

func TestInFlight_DrainIdleReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&inFlight{}).drain(ctx, time.Hour); err != nil {
		t.Errorf("drain() on idle counter = %v, want nil", err)
	}
}

//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
	"github.com/kjstillabower/aurora-service/internal/cache"
	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	PredictionURL string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless AURORA_INTEGRATION is set, since it calls live NOAA
// and ML endpoints.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("AURORA_INTEGRATION") == "" {
		t.Skip("AURORA_INTEGRATION not set, skipping integration test")
	}

	predictionURL := os.Getenv("PREDICTION_API_URL")
	if predictionURL == "" {
		predictionURL = client.DefaultPredictionURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		PredictionURL: predictionURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService creates a service against the live upstreams.
// Returns the service, the cache instance, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AuroraService, cache.Cache, func()) {
	clock := clockwork.NewRealClock()
	retry := client.RetryConfig{Attempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	var cacheSvc cache.Cache
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour, clock)
		if err == nil {
			cacheSvc = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}
	if cacheSvc == nil {
		cacheSvc = cache.NewInMemoryCache(clock)
	}

	svc := service.NewAuroraService(service.Deps{
		NOAA:      client.NewNOAAClient(client.NOAAURLs{}, 10*time.Second, retry, nil),
		Predictor: client.NewPredictionClient(cfg.PredictionURL, 10*time.Second, retry, nil),
		Astronomy: astronomy.NewApproximated(clock),
		Cache:     cacheSvc,
		Clock:     clock,
	}, service.Options{ViewTimeout: 15 * time.Second})

	return svc, cacheSvc, cleanup
}

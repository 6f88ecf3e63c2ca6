package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
	"github.com/kjstillabower/aurora-service/internal/cache"
	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/config"
	"github.com/kjstillabower/aurora-service/internal/health"
	httphandler "github.com/kjstillabower/aurora-service/internal/http"
	"github.com/kjstillabower/aurora-service/internal/observability"
	"github.com/kjstillabower/aurora-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else if cfg.OTLPEndpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint), zap.Float64("sample_ratio", cfg.TraceSampleRatio))
	}

	clock := clockwork.NewRealClock()
	retry := client.RetryConfig{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
	breakerCfg := client.BreakerConfig{
		MaxRequests:         cfg.BreakerMaxRequests,
		Interval:            cfg.BreakerInterval,
		Timeout:             cfg.BreakerTimeout,
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
	}
	breakers := client.Breakers{
		"noaa":       client.NewBreaker("noaa", breakerCfg),
		"prediction": client.NewBreaker("prediction", breakerCfg),
		"weatherkit": client.NewBreaker("weatherkit", breakerCfg),
	}

	noaaClient := client.NewNOAAClient(client.NOAAURLs{
		Kp:        cfg.NOAAKpURL,
		Mag:       cfg.NOAAMagURL,
		Plasma:    cfg.NOAAPlasmaURL,
		Flares:    cfg.NOAAFlaresURL,
		HemiPower: cfg.NOAAHemiPowerURL,
	}, cfg.NOAATimeout, retry, breakers["noaa"])
	predictionClient := client.NewPredictionClient(cfg.PredictionURL, cfg.PredictionTimeout, retry, breakers["prediction"])
	weatherKit, err := client.NewWeatherKitClient(cfg.WeatherKitURL, client.WeatherKitCredentials{
		KeyID:         cfg.WeatherKitKeyID,
		TeamID:        cfg.WeatherKitTeamID,
		ServiceID:     cfg.WeatherKitServiceID,
		PrivateKeyPEM: cfg.WeatherKitPrivateKey,
	}, cfg.WeatherKitTimeout, retry, breakers["weatherkit"], clock)
	if err != nil {
		logger.Fatal("weatherkit client", zap.Error(err))
	}
	strategy := selectAstronomy(cfg, weatherKit, clock)
	logger.Info("astronomy strategy", zap.String("strategy", strategy.Name()))

	backend, err := openCache(cfg, clock)
	if err != nil {
		logger.Fatal("cache", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	webcams, err := service.LoadWebcams(cfg.WebcamsPath)
	if err != nil {
		logger.Warn("webcam list unavailable, using defaults", zap.String("path", cfg.WebcamsPath), zap.Error(err))
	}

	tracker := health.NewTracker(clock)
	checker := health.NewChecker(health.Config{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}, tracker)

	auroraService := service.NewAuroraService(service.Deps{
		NOAA:      noaaClient,
		Predictor: predictionClient,
		Astronomy: strategy,
		Cache:     backend.cache,
		Clock:     clock,
		Webcams:   webcams,
		Recorder:  tracker,
	}, service.Options{
		ViewTimeout:     cfg.ViewTimeout,
		FallbackTimeout: cfg.FallbackTimeout,
		SpaceWeatherTTL: cfg.SpaceWeatherTTL,
		SolarWindTTL:    cfg.SolarWindTTL,
	})

	var warmer *cache.CacheWarmer
	if cfg.WarmingEnabled {
		warmer = cache.NewCacheWarmer(auroraService, backend.pruner, cfg.CacheRetention, cfg.WarmingTimeout, logger)
		if err := warmer.Start(cfg.WarmingInterval); err != nil {
			logger.Warn("cache warming not scheduled", zap.Error(err))
			warmer = nil
		} else {
			logger.Info("cache warming enabled", zap.Duration("interval", cfg.WarmingInterval))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(auroraService, checker, backend.pinger, breakers, logger)
	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		TestingMode:    cfg.TestingMode,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	checker.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if warmer != nil {
		warmer.Stop()
	}

	if err := observability.FlushTelemetry(shutdownCtx, logger, shutdownTracing); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if backend.close != nil {
		if err := backend.close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// cacheBackend bundles the optional capabilities of the configured cache.
type cacheBackend struct {
	cache  cache.Cache
	pinger cache.Pinger
	pruner cache.Pruner
	close  func() error
}

func openCache(cfg *config.Config, clock clockwork.Clock) (cacheBackend, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention, clock)
		if err != nil {
			return cacheBackend{}, err
		}
		// Memcached evicts on its own; no pruner.
		return cacheBackend{cache: mc, pinger: mc, close: mc.Close}, nil
	case "sqlite":
		sc, err := cache.OpenSQLiteCache(cfg.SQLitePath, clock)
		if err != nil {
			return cacheBackend{}, err
		}
		return cacheBackend{cache: sc, pinger: sc, pruner: sc, close: sc.Close}, nil
	default:
		mem := cache.NewInMemoryCache(clock)
		return cacheBackend{cache: mem, pinger: mem, pruner: mem}, nil
	}
}

// selectAstronomy prefers WeatherKit when it is configured. Without it the
// local approximation is used unless disabled, in which case the astronomy
// view reports the provider as unconfigured.
func selectAstronomy(cfg *config.Config, weatherKit *client.WeatherKitClient, clock clockwork.Clock) astronomy.Strategy {
	if weatherKit.Configured() || !cfg.ApproximateAstronomy {
		return astronomy.NewProviderBacked(weatherKit, clock)
	}
	return astronomy.NewApproximated(clock)
}

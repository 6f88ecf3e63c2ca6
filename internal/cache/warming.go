package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/aurora-service/internal/observability"
)

// Refresher is implemented by the service layer to refetch the cached views
// and write them through. Used by CacheWarmer to avoid a circular dependency
// on the service package.
type Refresher interface {
	RefreshCached(ctx context.Context) error
}

// Pruner is implemented by backends that can drop long-expired entries.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// CacheWarmer keeps the fallback cache populated by refreshing on a schedule.
type CacheWarmer struct {
	refresher Refresher
	pruner    Pruner
	retention time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. pruner may be nil. timeout bounds each run.
func NewCacheWarmer(refresher Refresher, pruner Pruner, retention, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{
		refresher: refresher,
		pruner:    pruner,
		retention: retention,
		timeout:   timeout,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Warm runs one refresh, then prunes when a pruner is configured.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Debug("warming cache")
	}

	err := w.refresher.RefreshCached(ctx)

	if w.pruner != nil {
		n, perr := w.pruner.Prune(ctx, w.retention)
		if perr != nil {
			observability.CacheErrorsTotal.WithLabelValues("prune").Inc()
			if w.logger != nil {
				w.logger.Warn("cache prune failed", zap.Error(perr))
			}
		} else if n > 0 && w.logger != nil {
			w.logger.Debug("pruned cache entries", zap.Int("removed", n))
		}
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		if w.logger != nil {
			w.logger.Warn("cache warming failed", zap.Error(err), zap.Float64("duration_seconds", duration))
		}
		return fmt.Errorf("cache warming: %w", err)
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Float64("duration_seconds", duration))
	}
	return nil
}

// Start schedules Warm every interval, starting immediately, and returns.
func (w *CacheWarmer) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	_, err := w.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		_ = w.Warm(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler; a running job is allowed to finish.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

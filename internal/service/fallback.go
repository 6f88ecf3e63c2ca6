package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/observability"
)

// fetchWithFallback fetches a cached view. On upstream failure it serves the
// last written value for key if that entry has not expired yet, reporting
// stale=true; otherwise the upstream error is returned.
func fetchWithFallback[T any](ctx context.Context, s *AuroraService, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, bool, error) {
	v, err := sharedFetch(ctx, s, key, ttl, fetch)
	if err == nil {
		return v, false, nil
	}

	stale, age, ok := readUnexpired[T](ctx, s, key)
	if !ok {
		var zero T
		return zero, false, err
	}
	loggerFromContext(ctx).Info("serving stale cache",
		zap.String("key", key),
		zap.Duration("age", age),
		zap.String("upstream_error", err.Error()),
	)
	return stale, true, nil
}

// sharedFetch runs fetch once per key across concurrent callers and writes a
// successful result through to the cache. The shared call is detached from
// any single caller's cancellation; each caller still stops waiting when its
// own context ends.
func sharedFetch[T any](ctx context.Context, s *AuroraService, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := s.flights.DoChan(key, func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", client.ErrPanic, r)
			}
		}()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ViewTimeout)
		defer cancel()
		val, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		s.writeThrough(ctx, key, val, ttl)
		return val, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			observability.CacheOperationsTotal.WithLabelValues(key, "shared").Inc()
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *AuroraService) writeThrough(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	logger := loggerFromContext(ctx)
	data, err := json.Marshal(value)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("encode").Inc()
		logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FallbackTimeout)
	defer cancel()
	if err := s.cache.Set(cctx, key, data, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationsTotal.WithLabelValues(key, "set").Inc()
}

// readUnexpired decodes the cached value for key if an entry exists and its
// TTL has not elapsed at the service clock's now.
func readUnexpired[T any](ctx context.Context, s *AuroraService, key string) (T, time.Duration, bool) {
	var zero T
	logger := loggerFromContext(ctx)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FallbackTimeout)
	defer cancel()
	entry, found, err := s.cache.Get(cctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return zero, 0, false
	}
	if !found {
		observability.CacheOperationsTotal.WithLabelValues(key, "miss").Inc()
		return zero, 0, false
	}
	now := s.clock.Now()
	if entry.IsExpired(now) {
		observability.CacheOperationsTotal.WithLabelValues(key, "expired").Inc()
		return zero, 0, false
	}

	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("decode").Inc()
		logger.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		return zero, 0, false
	}
	observability.CacheOperationsTotal.WithLabelValues(key, "stale_hit").Inc()
	return v, now.Sub(entry.InsertedAt), true
}

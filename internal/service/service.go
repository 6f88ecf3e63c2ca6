package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
	"github.com/kjstillabower/aurora-service/internal/cache"
	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/grid"
	"github.com/kjstillabower/aurora-service/internal/models"
	"github.com/kjstillabower/aurora-service/internal/observability"
	"github.com/kjstillabower/aurora-service/internal/validation"
)

// SpaceWeatherSource fetches the NOAA SWPC products.
type SpaceWeatherSource interface {
	FetchKp(ctx context.Context) ([]models.KpReading, error)
	FetchSolarWind(ctx context.Context) (*models.SolarWind, error)
	FetchFlares(ctx context.Context) (*models.SolarFlares, error)
	FetchHemisphericPower(ctx context.Context) (*models.HemisphericPower, error)
}

// Predictor scores aurora probability for one point or a batch of points.
type Predictor interface {
	Predict(ctx context.Context, lat, lon float64) (*models.Prediction, error)
	PredictBatch(ctx context.Context, points []grid.Point) ([]models.GridPoint, error)
}

// OutcomeRecorder receives one call per finished view. The health tracker
// implements it.
type OutcomeRecorder interface {
	RecordViewOutcome(failed bool)
}

// Options tunes timeouts and cache lifetimes. Zero values take defaults.
type Options struct {
	ViewTimeout     time.Duration
	FallbackTimeout time.Duration
	SpaceWeatherTTL time.Duration
	SolarWindTTL    time.Duration
}

const (
	defaultViewTimeout     = 4 * time.Second
	defaultFallbackTimeout = 500 * time.Millisecond
	defaultSpaceWeatherTTL = 5 * time.Minute
	defaultSolarWindTTL    = time.Minute
)

func (o Options) withDefaults() Options {
	if o.ViewTimeout <= 0 {
		o.ViewTimeout = defaultViewTimeout
	}
	if o.FallbackTimeout <= 0 {
		o.FallbackTimeout = defaultFallbackTimeout
	}
	if o.SpaceWeatherTTL <= 0 {
		o.SpaceWeatherTTL = defaultSpaceWeatherTTL
	}
	if o.SolarWindTTL <= 0 {
		o.SolarWindTTL = defaultSolarWindTTL
	}
	return o
}

// Deps are the collaborators an AuroraService aggregates over.
type Deps struct {
	NOAA      SpaceWeatherSource
	Predictor Predictor
	Astronomy astronomy.Strategy
	Cache     cache.Cache
	Clock     clockwork.Clock
	Webcams   []models.Webcam
	Recorder  OutcomeRecorder
}

// AuroraService assembles the composite aurora view for a location. Views run
// in parallel and fail independently; space weather and solar wind fall back
// to the last cached value when their upstream is unavailable.
type AuroraService struct {
	noaa      SpaceWeatherSource
	predictor Predictor
	astro     astronomy.Strategy
	cache     cache.Cache
	clock     clockwork.Clock
	webcams   []models.Webcam
	recorder  OutcomeRecorder
	opts      Options

	flights singleflight.Group
}

// NewAuroraService creates an AuroraService. A nil clock uses the real clock
// and a nil webcam list uses DefaultWebcams.
func NewAuroraService(deps Deps, opts Options) *AuroraService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Webcams == nil {
		deps.Webcams = DefaultWebcams()
	}
	return &AuroraService{
		noaa:      deps.NOAA,
		predictor: deps.Predictor,
		astro:     deps.Astronomy,
		cache:     deps.Cache,
		clock:     deps.Clock,
		webcams:   deps.Webcams,
		recorder:  deps.Recorder,
		opts:      opts.withDefaults(),
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns a no-op logger otherwise.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// GetConditions validates the coordinates and then fetches every requested
// view concurrently. Only invalid coordinates produce an error; upstream
// failures are reported through the Meta flags of the returned view. An
// empty view set requests everything.
func (s *AuroraService) GetConditions(ctx context.Context, lat, lon float64, views models.ViewSet) (*models.CompositeView, error) {
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		views = models.NewViewSet(models.AllViews...)
	}

	start := time.Now()
	logger := loggerFromContext(ctx)
	observability.AuroraQueriesTotal.Inc()

	ctx, span := observability.Tracer().Start(ctx, "aurora.GetConditions", trace.WithAttributes(
		attribute.Float64("aurora.lat", lat),
		attribute.Float64("aurora.lon", lon),
		attribute.Int("aurora.views", len(views)),
	))
	defer span.End()

	out := &models.CompositeView{
		Location: models.Location{Lat: lat, Lon: lon, Timezone: EstimateTimezone(lon)},
		Meta:     models.Meta{Timestamp: s.clock.Now().UTC()},
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	spawn := func(view models.View, task func()) {
		if views.Has(view) {
			g.Go(func() error {
				task()
				return nil
			})
		}
	}

	spawn(models.ViewPrediction, func() {
		p, _, err := runView(ctx, s, models.ViewPrediction, func(ctx context.Context) (*models.Prediction, bool, error) {
			p, err := s.predictor.Predict(ctx, lat, lon)
			return p, false, err
		})
		mu.Lock()
		defer mu.Unlock()
		out.Prediction, out.Meta.PredictionError = p, err != nil
	})

	spawn(models.ViewNearbyPredictions, func() {
		points := grid.Generate(lat, lon)
		scored, _, err := runView(ctx, s, models.ViewNearbyPredictions, func(ctx context.Context) ([]models.GridPoint, bool, error) {
			gp, err := s.predictor.PredictBatch(ctx, points)
			return gp, false, err
		})
		if err != nil {
			scored = grid.ToGridPoints(points)
		}
		mu.Lock()
		defer mu.Unlock()
		out.NearbyPredictions, out.Meta.NearbyError = scored, err != nil
	})

	spawn(models.ViewSpaceWeather, func() {
		series, stale, err := runView(ctx, s, models.ViewSpaceWeather, func(ctx context.Context) ([]models.KpReading, bool, error) {
			return fetchWithFallback(ctx, s, cache.KeySpaceWeather, s.opts.SpaceWeatherTTL, s.noaa.FetchKp)
		})
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			out.SpaceWeather = models.NewSpaceWeather(series)
		}
		out.Meta.SpaceWeatherError, out.Meta.SpaceWeatherStale = err != nil, stale
	})

	spawn(models.ViewSolarWind, func() {
		wind, stale, err := runView(ctx, s, models.ViewSolarWind, func(ctx context.Context) (*models.SolarWind, bool, error) {
			return fetchWithFallback(ctx, s, cache.KeySolarWind, s.opts.SolarWindTTL, s.noaa.FetchSolarWind)
		})
		mu.Lock()
		defer mu.Unlock()
		out.SolarWind = wind
		out.Meta.SolarWindError, out.Meta.SolarWindStale = err != nil, stale
	})

	spawn(models.ViewHemisphericPower, func() {
		hp, _, err := runView(ctx, s, models.ViewHemisphericPower, func(ctx context.Context) (*models.HemisphericPower, bool, error) {
			hp, err := s.noaa.FetchHemisphericPower(ctx)
			return hp, false, err
		})
		mu.Lock()
		defer mu.Unlock()
		out.HemisphericPower, out.Meta.HemisphericPowerError = hp, err != nil
	})

	spawn(models.ViewSolarFlares, func() {
		flares, _, err := runView(ctx, s, models.ViewSolarFlares, func(ctx context.Context) (*models.SolarFlares, bool, error) {
			f, err := s.noaa.FetchFlares(ctx)
			return f, false, err
		})
		mu.Lock()
		defer mu.Unlock()
		out.SolarFlares, out.Meta.SolarFlaresError = flares, err != nil
	})

	spawn(models.ViewAuroraOval, func() {
		oval, _, err := runView(ctx, s, models.ViewAuroraOval, func(context.Context) (*models.AuroraOval, bool, error) {
			return AuroraOvalAt(s.clock.Now()), false, nil
		})
		mu.Lock()
		defer mu.Unlock()
		out.AuroraOval, out.Meta.AuroraOvalError = oval, err != nil
	})

	spawn(models.ViewSunImagery, func() {
		imagery, _, _ := runView(ctx, s, models.ViewSunImagery, func(context.Context) (*models.SunImagery, bool, error) {
			return SunImageryAt(s.clock.Now()), false, nil
		})
		mu.Lock()
		defer mu.Unlock()
		out.SunImagery = imagery
	})

	spawn(models.ViewAstronomy, func() {
		astro, _, err := runView(ctx, s, models.ViewAstronomy, func(ctx context.Context) (*models.Astronomy, bool, error) {
			if s.astro == nil {
				return nil, false, client.ErrProviderUnconfigured
			}
			a, err := s.astro.Compute(ctx, lat, lon)
			return a, false, err
		})
		mu.Lock()
		defer mu.Unlock()
		out.Astronomy, out.Meta.AstronomyError = astro, err != nil
	})

	spawn(models.ViewLightPollution, func() {
		lp, _, err := runView(ctx, s, models.ViewLightPollution, func(context.Context) (*models.LightPollution, bool, error) {
			return EstimateLightPollution(lat), false, nil
		})
		mu.Lock()
		defer mu.Unlock()
		out.LightPollution, out.Meta.LightPollutionError = lp, err != nil
	})

	spawn(models.ViewWebcams, func() {
		cams, _, _ := runView(ctx, s, models.ViewWebcams, func(context.Context) ([]models.Webcam, bool, error) {
			return s.webcams, false, nil
		})
		mu.Lock()
		defer mu.Unlock()
		out.Webcams = cams
	})

	_ = g.Wait()

	logger.Debug("aurora conditions served",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Int("views", len(views)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

type viewResult[T any] struct {
	value T
	stale bool
	err   error
}

// runView executes fn for one view under the view timeout, recovering
// panics and recording the outcome. The value is zero whenever err is set.
// fn gets the view timeout for upstream work plus the fallback timeout
// for reading the cache; after that runView stops waiting and the late
// result is discarded.
func runView[T any](ctx context.Context, s *AuroraService, view models.View, fn func(context.Context) (T, bool, error)) (T, bool, error) {
	start := time.Now()
	logger := loggerFromContext(ctx).With(zap.String("view", string(view)))

	hardCtx, cancelHard := context.WithTimeout(ctx, s.opts.ViewTimeout+s.opts.FallbackTimeout)
	defer cancelHard()
	viewCtx, cancel := context.WithTimeout(hardCtx, s.opts.ViewTimeout)
	defer cancel()
	viewCtx, span := observability.Tracer().Start(viewCtx, "aurora.view."+string(view))
	defer span.End()

	done := make(chan viewResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- viewResult[T]{err: fmt.Errorf("%w: %v", client.ErrPanic, r)}
			}
		}()
		v, stale, err := fn(viewCtx)
		done <- viewResult[T]{value: v, stale: stale, err: err}
	}()

	var res viewResult[T]
	select {
	case res = <-done:
	case <-hardCtx.Done():
		res.err = fmt.Errorf("view %s: %w", view, hardCtx.Err())
	}

	outcome := "success"
	switch {
	case res.err != nil:
		outcome = "error"
		var zero T
		res.value, res.stale = zero, false
		span.RecordError(res.err)
		span.SetStatus(codes.Error, string(client.CategorizeError(res.err)))
		logger.Warn("view failed",
			zap.String("category", string(client.CategorizeError(res.err))),
			zap.Error(res.err),
		)
	case res.stale:
		outcome = "stale"
	default:
		logger.Debug("view served", zap.Duration("duration", time.Since(start)))
	}
	span.SetAttributes(attribute.String("aurora.view.outcome", outcome))
	observability.RecordViewOutcome(string(view), outcome, time.Since(start).Seconds())
	if s.recorder != nil {
		s.recorder.RecordViewOutcome(res.err != nil)
	}
	return res.value, res.stale, res.err
}

// RefreshCached fetches the cached views from upstream and writes them
// through, so a later upstream outage can be served from cache.
func (s *AuroraService) RefreshCached(ctx context.Context) error {
	_, kpErr := sharedFetch(ctx, s, cache.KeySpaceWeather, s.opts.SpaceWeatherTTL, s.noaa.FetchKp)
	_, windErr := sharedFetch(ctx, s, cache.KeySolarWind, s.opts.SolarWindTTL, s.noaa.FetchSolarWind)
	var errs []error
	if kpErr != nil {
		errs = append(errs, fmt.Errorf("refresh %s: %w", cache.KeySpaceWeather, kpErr))
	}
	if windErr != nil {
		errs = append(errs, fmt.Errorf("refresh %s: %w", cache.KeySolarWind, windErr))
	}
	return errors.Join(errs...)
}

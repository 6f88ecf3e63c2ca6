package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
	"github.com/kjstillabower/aurora-service/internal/cache"
	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/models"
	"github.com/kjstillabower/aurora-service/internal/service"
	"github.com/kjstillabower/aurora-service/internal/testhelpers"
)

// newStack builds the full handler stack over fake upstreams.
func newStack(t *testing.T) (*testhelpers.FakeUpstreams, http.Handler) {
	t.Helper()
	up := testhelpers.NewFakeUpstreams()
	t.Cleanup(up.Close)

	clock := clockwork.NewRealClock()
	retry := client.RetryConfig{Attempts: 1}
	breakers := client.Breakers{
		"noaa":       client.NewBreaker("noaa", client.BreakerConfig{ConsecutiveFailures: 100}),
		"prediction": client.NewBreaker("prediction", client.BreakerConfig{ConsecutiveFailures: 100}),
	}
	memCache := cache.NewInMemoryCache(clock)
	svc := service.NewAuroraService(service.Deps{
		NOAA:      client.NewNOAAClient(up.NOAAURLs(), 2*time.Second, retry, breakers["noaa"]),
		Predictor: client.NewPredictionClient(up.PredictionURL(), 2*time.Second, retry, breakers["prediction"]),
		Astronomy: astronomy.NewApproximated(clock),
		Cache:     memCache,
		Clock:     clock,
	}, service.Options{ViewTimeout: 3 * time.Second})

	checker := newTestChecker()
	h := NewHandler(svc, checker, memCache, breakers, zap.NewNop())
	return up, NewRouter(h, zap.NewNop(), RouterConfig{RequestTimeout: 10 * time.Second})
}

func getComposite(t *testing.T, router http.Handler, target string) models.CompositeView {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d, body %s", target, w.Code, w.Body.String())
	}
	var got models.CompositeView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRouter_AuroraEndToEnd(t *testing.T) {
	_, router := newStack(t)

	got := getComposite(t, router, "/aurora?lat=64.84&lon=-147.72")

	if got.Prediction == nil || got.Prediction.Probability != 0.72 {
		t.Errorf("Prediction = %+v, want probability 0.72", got.Prediction)
	}
	if got.SpaceWeather == nil || got.SpaceWeather.Current == nil || got.SpaceWeather.Current.Kp != 8.33 {
		t.Errorf("SpaceWeather = %+v, want current Kp 8.33", got.SpaceWeather)
	}
	if got.SolarWind == nil || got.SolarWind.Current == nil || got.SolarWind.Current.Bz != -18 || got.SolarWind.Current.Speed != 750 {
		t.Errorf("SolarWind = %+v, want bz -18 speed 750", got.SolarWind)
	}
	if got.SolarFlares == nil || got.SolarFlares.Current6h != "X5.8" {
		t.Errorf("SolarFlares = %+v, want X5.8", got.SolarFlares)
	}
	if got.HemisphericPower == nil || got.HemisphericPower.Current != 85 {
		t.Errorf("HemisphericPower = %+v, want 85", got.HemisphericPower)
	}
	if len(got.NearbyPredictions) != 315 {
		t.Fatalf("len(NearbyPredictions) = %d, want 315", len(got.NearbyPredictions))
	}
	if got.NearbyPredictions[0].Probability != 0.5 || got.NearbyPredictions[1].Probability != 0.4 {
		t.Errorf("first two probabilities = %v, %v, want 0.5, 0.4", got.NearbyPredictions[0].Probability, got.NearbyPredictions[1].Probability)
	}
	if got.NearbyPredictions[2].Probability != 0 || got.NearbyPredictions[2].CloudCover != nil {
		t.Errorf("point beyond batch response = %+v, want zero-filled", got.NearbyPredictions[2])
	}
	if got.Meta.NearbyError || got.Meta.AstronomyError || got.Astronomy == nil {
		t.Errorf("Meta = %+v, want no errors", got.Meta)
	}
}

func TestRouter_AuroraStaleAfterOutage(t *testing.T) {
	up, router := newStack(t)
	target := "/aurora?lat=60&lon=10&views=spaceWeather,solarWind,solarFlares"

	first := getComposite(t, router, target)
	if first.Meta.SpaceWeatherStale || first.Meta.SolarWindStale {
		t.Fatalf("first response should be fresh, meta %+v", first.Meta)
	}

	for _, p := range []string{testhelpers.PathKp, testhelpers.PathMag, testhelpers.PathFlares} {
		up.SetFailing(p, true)
	}

	second := getComposite(t, router, target)
	if !second.Meta.SpaceWeatherStale || second.Meta.SpaceWeatherError || second.SpaceWeather == nil {
		t.Errorf("space weather should be stale-served, meta %+v", second.Meta)
	}
	if !second.Meta.SolarWindStale || second.Meta.SolarWindError || second.SolarWind == nil {
		t.Errorf("solar wind should be stale-served, meta %+v", second.Meta)
	}
	if !second.Meta.SolarFlaresError || second.SolarFlares != nil {
		t.Errorf("flares have no fallback, meta %+v", second.Meta)
	}
}

func TestRouter_InvalidCoordinatesNoUpstreamCalls(t *testing.T) {
	up, router := newStack(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/aurora?lat=95&lon=10", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	for _, p := range []string{testhelpers.PathKp, testhelpers.PathPredict, testhelpers.PathPredictBatch} {
		if n := up.Hits(p); n != 0 {
			t.Errorf("%s hits = %d, want 0", p, n)
		}
	}
}

func TestRouter_HealthChecksBackends(t *testing.T) {
	_, router := newStack(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"cache", "noaa", "prediction"} {
		if body.Checks[k] != "healthy" {
			t.Errorf("checks[%s] = %q, want healthy", k, body.Checks[k])
		}
	}
}

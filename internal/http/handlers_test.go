package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/health"
	"github.com/kjstillabower/aurora-service/internal/models"
	"github.com/kjstillabower/aurora-service/internal/validation"
)

type mockAurora struct {
	result *models.CompositeView
	err    error
	block  bool
	gotLat float64
	gotLon float64
	views  models.ViewSet
}

func (m *mockAurora) GetConditions(ctx context.Context, lat, lon float64, views models.ViewSet) (*models.CompositeView, error) {
	m.gotLat, m.gotLon, m.views = lat, lon, views
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.CompositeView{Location: models.Location{Lat: lat, Lon: lon}}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func newTestChecker() *health.Checker {
	return health.NewChecker(health.Config{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, health.NewTracker(nil))
}

func serveAurora(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	ctx := context.WithValue(req.Context(), "correlation_id", "test-correlation-id")
	ctx = context.WithValue(ctx, "logger", zap.NewNop())
	w := httptest.NewRecorder()
	h.GetAurora(w, req.WithContext(ctx))
	return w
}

// TestHandler_GetAurora_Success verifies that a valid query returns the composite view.
func TestHandler_GetAurora_Success(t *testing.T) {
	aurora := &mockAurora{}
	h := NewHandler(aurora, newTestChecker(), nil, nil, zap.NewNop())

	w := serveAurora(t, h, "/aurora?lat=64.84&lon=-147.72&views=prediction,spaceWeather")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var got models.CompositeView
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Location.Lat != 64.84 || got.Location.Lon != -147.72 {
		t.Errorf("Location = %+v, want 64.84,-147.72", got.Location)
	}
	if len(aurora.views) != 2 || !aurora.views.Has(models.ViewPrediction) || !aurora.views.Has(models.ViewSpaceWeather) {
		t.Errorf("views = %v, want prediction and spaceWeather", aurora.views)
	}
}

// TestHandler_GetAurora_DefaultViews verifies that omitting views requests all of them.
func TestHandler_GetAurora_DefaultViews(t *testing.T) {
	aurora := &mockAurora{}
	h := NewHandler(aurora, newTestChecker(), nil, nil, zap.NewNop())

	w := serveAurora(t, h, "/aurora?lat=1&lon=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(aurora.views) != len(models.AllViews) {
		t.Errorf("len(views) = %d, want %d", len(aurora.views), len(models.AllViews))
	}
}

// TestHandler_GetAurora_BadRequests verifies the 400 error envelope for each rejected input.
func TestHandler_GetAurora_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode string
	}{
		{name: "missing lat", target: "/aurora?lon=10", wantCode: "INVALID_COORDINATES"},
		{name: "missing lon", target: "/aurora?lat=10", wantCode: "INVALID_COORDINATES"},
		{name: "non numeric", target: "/aurora?lat=north&lon=10", wantCode: "INVALID_COORDINATES"},
		{name: "lat out of range", target: "/aurora?lat=91&lon=10", wantCode: "INVALID_COORDINATES"},
		{name: "lon out of range", target: "/aurora?lat=10&lon=-180.5", wantCode: "INVALID_COORDINATES"},
		{name: "nan", target: "/aurora?lat=NaN&lon=10", wantCode: "INVALID_COORDINATES"},
		{name: "unknown view", target: "/aurora?lat=10&lon=10&views=prediction,horoscope", wantCode: "INVALID_VIEWS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockAurora{}, newTestChecker(), nil, nil, zap.NewNop())
			w := serveAurora(t, h, tc.target)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error.Code != tc.wantCode {
				t.Errorf("error.code = %q, want %q", body.Error.Code, tc.wantCode)
			}
			if body.Error.RequestID != "test-correlation-id" {
				t.Errorf("error.requestId = %q, want test-correlation-id", body.Error.RequestID)
			}
		})
	}
}

// TestHandler_GetAurora_InternalError verifies that unexpected service errors are not leaked.
func TestHandler_GetAurora_InternalError(t *testing.T) {
	h := NewHandler(&mockAurora{err: errors.New("secret upstream detail")}, newTestChecker(), nil, nil, zap.NewNop())

	w := serveAurora(t, h, "/aurora?lat=10&lon=10")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("response leaked error detail: %s", w.Body.String())
	}
}

func getHealth(t *testing.T, h *Handler) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest("GET", "/health", nil))
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, body
}

// TestHandler_GetHealth_Statuses verifies status and HTTP code for each health state.
func TestHandler_GetHealth_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(c *health.Checker)
		wantStatus string
		wantCode   int
	}{
		{name: "healthy", setup: func(c *health.Checker) {}, wantStatus: "healthy", wantCode: http.StatusOK},
		{
			name: "degraded",
			setup: func(c *health.Checker) {
				c.Tracker().RecordViewOutcome(true)
			},
			wantStatus: "degraded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "shutting down",
			setup: func(c *health.Checker) {
				c.SetShuttingDown(true)
			},
			wantStatus: "shutting-down",
			wantCode:   http.StatusServiceUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checker := newTestChecker()
			tc.setup(checker)
			h := NewHandler(&mockAurora{}, checker, nil, nil, zap.NewNop())

			code, body := getHealth(t, h)
			if code != tc.wantCode {
				t.Errorf("status code = %d, want %d", code, tc.wantCode)
			}
			if body["status"] != tc.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tc.wantStatus)
			}
			if body["service"] != "aurora-service" {
				t.Errorf("service = %v, want aurora-service", body["service"])
			}
		})
	}
}

// TestHandler_GetHealth_Checks verifies cache and breaker checks.
func TestHandler_GetHealth_Checks(t *testing.T) {
	open := client.NewBreaker("noaa", client.BreakerConfig{ConsecutiveFailures: 1, Timeout: time.Hour})
	_, _ = open.Execute(func() (interface{}, error) { return nil, client.ErrUpstreamFailure })
	closed := client.NewBreaker("prediction", client.BreakerConfig{})

	h := NewHandler(&mockAurora{}, newTestChecker(), &mockPinger{err: errors.New("connection refused")},
		client.Breakers{"noaa": open, "prediction": closed}, zap.NewNop())

	_, body := getHealth(t, h)
	checks, ok := body["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("checks = %T, want object", body["checks"])
	}
	want := map[string]string{"cache": "unhealthy", "noaa": "unhealthy", "prediction": "healthy"}
	for k, v := range want {
		if checks[k] != v {
			t.Errorf("checks[%s] = %v, want %s", k, checks[k], v)
		}
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a status change is logged once.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	checker := newTestChecker()
	h := NewHandler(&mockAurora{}, checker, nil, nil, zap.New(core))

	getHealth(t, h)
	checker.SetShuttingDown(true)
	getHealth(t, h)
	getHealth(t, h)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["current_status"]; got != "shutting-down" {
		t.Errorf("current_status = %v, want shutting-down", got)
	}
}

// TestHandler_TestActions verifies the testing-mode endpoints drive the health state.
func TestHandler_TestActions(t *testing.T) {
	checker := newTestChecker()
	h := NewHandler(&mockAurora{}, checker, nil, nil, zap.NewNop())
	router := mux.NewRouter()
	router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
	router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")

	post := func(action, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/test/"+action, strings.NewReader(body)))
		return w
	}

	if w := post("error", `{"count":3}`); w.Code != http.StatusOK {
		t.Fatalf("POST /test/error status = %d, want 200", w.Code)
	}
	if got := checker.Evaluate().Status; got != health.StatusDegraded {
		t.Errorf("status after errors = %s, want degraded", got)
	}
	if w := post("error", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("POST /test/error without count status = %d, want 400", w.Code)
	}
	if w := post("shutdown", ""); w.Code != http.StatusOK || !checker.IsShuttingDown() {
		t.Errorf("POST /test/shutdown status = %d, shutting down = %v", w.Code, checker.IsShuttingDown())
	}
	if w := post("reset", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /test/reset status = %d, want 200", w.Code)
	}
	if got := checker.Evaluate().Status; got != health.StatusHealthy {
		t.Errorf("status after reset = %s, want healthy", got)
	}
	if w := post("explode", ""); w.Code != http.StatusNotFound {
		t.Errorf("POST /test/explode status = %d, want 404", w.Code)
	}
}

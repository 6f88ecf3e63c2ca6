package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/aurora-service/internal/cache"
	"github.com/kjstillabower/aurora-service/internal/client"
	"github.com/kjstillabower/aurora-service/internal/health"
	"github.com/kjstillabower/aurora-service/internal/models"
	"github.com/kjstillabower/aurora-service/internal/observability"
	"github.com/kjstillabower/aurora-service/internal/validation"
)

// AuroraQuerier is the service operation behind GET /aurora.
type AuroraQuerier interface {
	GetConditions(ctx context.Context, lat, lon float64, views models.ViewSet) (*models.CompositeView, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	aurora      AuroraQuerier
	checker     *health.Checker
	cachePinger cache.Pinger
	breakers    client.Breakers
	logger      *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev health.Status
}

// NewHandler returns a new Handler. cachePinger and breakers may be nil.
func NewHandler(
	aurora AuroraQuerier,
	checker *health.Checker,
	cachePinger cache.Pinger,
	breakers client.Breakers,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		aurora:      aurora,
		checker:     checker,
		cachePinger: cachePinger,
		breakers:    breakers,
		logger:      logger,
	}
}

// GetAurora handles GET /aurora?lat=&lon=&views=.
func (h *Handler) GetAurora(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := parseCoordinate(q.Get("lat"))
	lon, lonErr := parseCoordinate(q.Get("lon"))
	if latErr != nil || lonErr != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "lat and lon must be decimal degrees")
		return
	}

	views, err := validation.ParseViews(q.Get("views"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_VIEWS", err.Error())
		return
	}

	result, err := h.aurora.GetConditions(r.Context(), lat, lon, views)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidCoordinates) {
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseFloat(s, 64)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Evaluate()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", string(prev)),
			zap.String("current_status", string(result.Status)),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if h.cachePinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		if err := h.cachePinger.Ping(ctx); err != nil {
			checks["cache"] = "unhealthy"
			h.logger.Debug("cache ping failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
		cancel()
	}
	for group, state := range h.breakers.States() {
		if state == "open" {
			checks[group] = "unhealthy"
		} else {
			checks[group] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if !result.Healthy() {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

// writeServiceError writes a 500 response without leaking the cause, which is
// logged at DEBUG when a request logger is present.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to assemble aurora conditions")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("aurora query failed", zap.Error(err))
	}
}

// GetTestStatus handles GET /test. Returns the tracked outcome windows.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := time.Minute
	tr := h.checker.Tracker()
	errs, total := tr.ErrorRate(window)
	result := h.checker.Evaluate()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                    result.Status,
		"reason":                    result.Reason,
		"view_outcomes_in_window":   total,
		"view_errors_in_window":     errs,
		"denied_requests_in_window": tr.DenialCount(window),
		"window_length":             window.String(),
	})
}

// PostTestAction handles POST /test/{action} for error, deny, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	tr := h.checker.Tracker()
	switch action {
	case "error", "deny":
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be {\"count\": N} with N > 0")
			return
		}
		for i := 0; i < body.Count; i++ {
			if action == "error" {
				tr.RecordViewOutcome(true)
			} else {
				tr.RecordDenied()
			}
		}
	case "reset":
		tr.Reset()
		h.checker.SetShuttingDown(false)
	case "shutdown":
		h.checker.SetShuttingDown(true)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
		return
	}
	h.logger.Info("test action applied", zap.String("action", action))
	h.GetTestStatus(w, r)
}

package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aurora-service/internal/observability"
)

// RouterConfig configures the middleware on the query route.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter is nil when rate limiting is disabled.
	Limiter *rate.Limiter
	// TestingMode exposes the /test endpoints.
	TestingMode bool
}

// NewRouter wires the handler's routes and middleware.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	var aurora http.Handler = http.HandlerFunc(h.GetAurora)
	if cfg.RequestTimeout > 0 {
		aurora = TimeoutMiddleware(cfg.RequestTimeout)(aurora)
	}
	aurora = RateLimitMiddleware(cfg.Limiter, h.checker.Tracker())(aurora)
	router.Handle("/aurora", aurora).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
	}
	return router
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/api/handlers"
	"github.com/statorq/statorq/pkg/api/middleware"
	"github.com/statorq/statorq/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET  /                        - Service status
//   - GET  /health, /health/ready   - Probes
//   - GET  /metrics                 - Prometheus metrics, when enabled
//   - POST /events/{type}/{id}      - Notice ingest (authenticated)
//   - POST /results/{type}/{id}     - Operation result ingest (authenticated)
//   - POST /notifications/...       - Delivery endpoints (authenticated)
func NewRouter(deps handlers.Deps, apiKey string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Store)
	eventsHandler := handlers.NewEventsHandler(deps)
	resultsHandler := handlers.NewResultsHandler(deps)
	notificationsHandler := handlers.NewNotificationsHandler(deps)

	// Probes and status - unauthenticated
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("statorq ok\n"))
	})
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})
	if metrics.IsEnabled() {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	// Ingress - authenticated
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(apiKey))

		r.Post("/events/{type}/{id}", eventsHandler.Post)
		r.Post("/results/{type}/{id}", resultsHandler.Post)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/dispatch", notificationsHandler.Dispatch)
			r.Post("/single", notificationsHandler.Single)
			r.Post("/batch", notificationsHandler.Batch)
			r.Post("/{id}/read", notificationsHandler.Read)
		})
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyRemoteIP, r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMS, duration.Milliseconds(),
		)
	})
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/statorq/statorq/pkg/models"
)

// HealthHandler handles the unauthenticated probe endpoints.
//
//   - Liveness: is the server process running?
//   - Readiness: can the server reach its database?
type HealthHandler struct {
	store models.Store
}

// NewHealthHandler creates a new health handler. The store may be nil, in
// which case readiness reports unavailable.
func NewHealthHandler(store models.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

type healthResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive. Designed for
// Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status: "healthy",
		Data:   map[string]string{"service": "statorq"},
	})
}

// Readiness handles GET /health/ready - readiness probe.
//
// Opens an empty transaction to verify database connectivity. Returns 503
// Service Unavailable when the database cannot be reached.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Error:  "store not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Transaction(ctx, func(models.Store) error { return nil }); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Error:  err.Error(),
		})
		return
	}

	WriteJSONOK(w, healthResponse{
		Status: "healthy",
		Data:   map[string]string{"database": "ok"},
	})
}

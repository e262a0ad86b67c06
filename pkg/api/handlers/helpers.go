package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/statorq/statorq/pkg/engine"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/notify"
)

// Deps carries the shared dependencies the handlers operate on.
type Deps struct {
	Store    models.Store
	Engine   *engine.Engine
	Changer  *engine.StateChanger
	Executor *notify.Executor
	Clients  ClientConfig

	// OutboxMetrics observes dispatches buffered by handler invocations.
	// May be nil.
	OutboxMetrics *metrics.OutboxMetrics
}

// ClientConfig holds the outbound endpoints handed to subscription handlers.
type ClientConfig struct {
	// EngineURL is this service's own ingress base URL; transition notices
	// loop back through it.
	EngineURL    string
	EngineAPIKey string

	// WebhooksURL is the base URL of the downstream webhook receiver.
	WebhooksURL    string
	WebhooksAPIKey string
}

// decodeJSONBody decodes the request body into dst. On failure it writes a
// 400 problem response and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		BadRequest(w, "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		BadRequest(w, "Request body is required")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		BadRequest(w, fmt.Sprintf("Invalid JSON: %v", err))
		return false
	}
	return true
}

// resourceParams extracts the {type}/{id} route segments.
func resourceParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	tag := chi.URLParam(r, "type")
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, fmt.Sprintf("Invalid resource id %q", raw))
		return "", 0, false
	}
	return tag, id, true
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// loadEvent fetches the event identified by eventID, or the resource's latest
// event when eventID is nil. A missing explicit id is an error; a resource
// without history yields a nil event.
func loadEvent(r *http.Request, store models.Store, parent models.Ref, eventID *int64) (*models.ActivityEvent, error) {
	ctx := r.Context()
	if eventID != nil {
		return store.GetEvent(ctx, *eventID)
	}
	event, err := store.LatestEvent(ctx, parent)
	if errors.Is(err, models.ErrEventNotFound) {
		return nil, nil
	}
	return event, err
}

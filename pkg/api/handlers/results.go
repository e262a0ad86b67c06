package handlers

import (
	"errors"
	"net/http"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/engine"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/torque"
)

// ResultsHandler ingests operation outcomes and performs the action bound to
// them, if any.
type ResultsHandler struct {
	deps Deps
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Deps) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// resultParams is the POST /results/{type}/{id} request body.
type resultParams struct {
	Operation string `json:"operation"`
	Result    string `json:"result"`
	EventID   *int64 `json:"event_id,omitempty"`
}

// resultResponse is the 200 body for a performed transition.
type resultResponse struct {
	Action     engine.Action     `json:"action"`
	State      engine.State      `json:"state"`
	Changed    bool              `json:"changed"`
	Dispatched []*torque.Receipt `json:"dispatched,omitempty"`
}

// Post handles POST /results/{type}/{id}.
//
// Resolves the (operation, result) pair against the resource's bindings and
// performs the bound action. Responds 204 when no binding matches, 400 when
// the action is not valid in the current state, 200 with the transition
// outcome otherwise. Replays of an already-applied result that leave the rule
// unmatched also yield 400, which callers treat as terminal.
func (h *ResultsHandler) Post(w http.ResponseWriter, r *http.Request) {
	tag, id, ok := resourceParams(w, r)
	if !ok {
		return
	}

	var params resultParams
	if !decodeJSONBody(w, r, &params) {
		return
	}
	if params.Operation == "" || params.Result == "" {
		BadRequest(w, "operation and result are required")
		return
	}

	ctx := r.Context()

	resource, err := h.deps.Engine.Types.Resolve(ctx, h.deps.Store, tag, id)
	if errors.Is(err, models.ErrResourceNotFound) {
		NotFound(w, "Unknown resource")
		return
	}
	if err != nil {
		InternalServerError(w, "Failed to resolve resource")
		return
	}

	action, bound := h.deps.Engine.ResolveBinding(resource, engine.Operation(params.Operation), engine.Result(params.Result))
	if !bound {
		WriteNoContent(w)
		return
	}

	event, err := loadEvent(r, h.deps.Store, resource.Ref(), params.EventID)
	if errors.Is(err, models.ErrEventNotFound) {
		NotFound(w, "Unknown event")
		return
	}
	if err != nil {
		InternalServerError(w, "Failed to load event")
		return
	}

	outcome, err := h.deps.Changer.Perform(ctx, resource, action, event)
	if err != nil {
		var invalid *engine.InvalidTransitionError
		if errors.As(err, &invalid) {
			BadRequest(w, invalid.Error())
			return
		}
		logger.ErrorCtx(ctx, "Result ingest failed",
			logger.KeyResource, resource.Ref().String(),
			logger.KeyOperation, params.Operation,
			logger.KeyResult, params.Result,
			logger.KeyError, err)
		InternalServerError(w, "Result ingest failed")
		return
	}

	WriteJSONOK(w, resultResponse{
		Action:     action,
		State:      outcome.State,
		Changed:    outcome.Changed,
		Dispatched: outcome.Dispatches,
	})
}

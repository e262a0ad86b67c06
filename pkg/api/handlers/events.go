package handlers

import (
	"errors"
	"net/http"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/engine"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/torque"
)

// EventsHandler ingests changed and happened notices and fans them out to the
// subscription bus.
type EventsHandler struct {
	deps Deps
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Deps) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventParams is the POST /events/{type}/{id} request body. Exactly one of
// State and Action selects the notice kind.
type eventParams struct {
	State   *string `json:"state,omitempty"`
	Action  *string `json:"action,omitempty"`
	EventID *int64  `json:"event_id,omitempty"`
}

// eventResponse is the 200 body: one entry per invoked handler.
type eventResponse struct {
	Handlers []engine.HandlerResult `json:"handlers"`
}

// Post handles POST /events/{type}/{id}.
//
// Resolves the resource, loads the triggering event and publishes the notice.
// All handler writes share one transaction with the ingest, so a failed
// request leaves no partial side effects. Responds 200 with the per-handler
// results, or 204 when no subscription matched.
func (h *EventsHandler) Post(w http.ResponseWriter, r *http.Request) {
	tag, id, ok := resourceParams(w, r)
	if !ok {
		return
	}

	var params eventParams
	if !decodeJSONBody(w, r, &params) {
		return
	}
	if (params.State == nil) == (params.Action == nil) {
		BadRequest(w, "Exactly one of state and action is required")
		return
	}

	var notice engine.Notice
	if params.State != nil {
		notice = engine.Notice{Kind: engine.NoticeChanged, State: engine.State(*params.State)}
	} else {
		notice = engine.Notice{Kind: engine.NoticeHappened, Action: engine.Action(*params.Action)}
	}

	ctx := r.Context()
	var results []engine.HandlerResult

	err := h.deps.Store.Transaction(ctx, func(tx models.Store) error {
		resource, err := h.deps.Engine.Types.Resolve(ctx, tx, tag, id)
		if err != nil {
			return err
		}

		event, err := loadEvent(r, tx, resource.Ref(), params.EventID)
		if err != nil {
			return err
		}

		results = h.deps.Engine.Publish(ctx, h.invocation(tx, resource, event), notice)
		return nil
	})
	switch {
	case errors.Is(err, models.ErrResourceNotFound):
		NotFound(w, "Unknown resource")
		return
	case errors.Is(err, models.ErrEventNotFound):
		NotFound(w, "Unknown event")
		return
	case err != nil:
		logger.ErrorCtx(ctx, "Event ingest failed",
			logger.KeyResource, models.Ref{Type: tag, ID: id}.String(),
			logger.KeyError, err)
		InternalServerError(w, "Event ingest failed")
		return
	}

	if len(results) == 0 {
		WriteNoContent(w)
		return
	}
	WriteJSONOK(w, eventResponse{Handlers: results})
}

// invocation builds the request-scoped handler context. The torque clients
// buffer through the transaction's outbox and the changer is rebound to the
// transaction's store, so handler side effects, chained transitions included,
// commit or roll back with the ingest.
func (h *EventsHandler) invocation(tx models.Store, resource engine.Resource, event *models.ActivityEvent) *engine.Invocation {
	outbox := torque.NewOutboxDispatcher(tx).WithMetrics(h.deps.OutboxMetrics)
	return &engine.Invocation{
		Resource:     resource,
		Event:        event,
		Store:        tx,
		Changer:      h.deps.Changer.WithStore(tx),
		Hooks:        torque.NewHookClient(h.deps.Clients.WebhooksURL, h.deps.Clients.WebhooksAPIKey, outbox),
		EngineClient: torque.NewEngineClient(h.deps.Clients.EngineURL, h.deps.Clients.EngineAPIKey, outbox),
	}
}

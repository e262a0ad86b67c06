// Package ops provides ready-made subscription handlers for the common
// reactions to a notice: dispatching the event to the webhooks service,
// performing a follow-up action, and reporting an operation result back to
// the engine.
package ops

import (
	"context"
	"errors"
	"fmt"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/engine"
	"github.com/statorq/statorq/pkg/models"
)

// Payload extracts the webhook body for a Dispatch handler. The default
// payload carries the resource reference and the triggering event.
type Payload func(inv *engine.Invocation) models.JSONMap

func defaultPayload(inv *engine.Invocation) models.JSONMap {
	payload := models.JSONMap{
		"resource": inv.Resource.Ref(),
	}
	if inv.Event != nil {
		payload["event"] = inv.Event
		payload["event_id"] = inv.Event.ID
	}
	switch inv.Notice.Kind {
	case engine.NoticeChanged:
		payload["state"] = string(inv.Notice.State)
	case engine.NoticeHappened:
		payload["action"] = string(inv.Notice.Action)
	}
	return payload
}

// Dispatch returns a handler that posts the triggering event to path on the
// webhooks service. A nil extract uses the default payload.
func Dispatch(path string, extract Payload) engine.Handler {
	if extract == nil {
		extract = defaultPayload
	}
	return func(ctx context.Context, inv *engine.Invocation) (engine.Dispatches, error) {
		if inv.Hooks == nil {
			return nil, fmt.Errorf("no hook client configured")
		}
		receipt, err := inv.Hooks.Post(ctx, path, extract(inv))
		if err != nil {
			return nil, err
		}
		return engine.Dispatches{inv.Operation: {receipt}}, nil
	}
}

// Perform returns a handler that performs action on the notified resource,
// chaining transitions off notices. An action the current state does not
// permit is logged and skipped, not an error: chained transitions are
// opportunistic.
func Perform(action engine.Action) engine.Handler {
	return func(ctx context.Context, inv *engine.Invocation) (engine.Dispatches, error) {
		if inv.Changer == nil {
			return nil, fmt.Errorf("no state changer configured")
		}
		out, err := inv.Changer.Perform(ctx, inv.Resource, action, inv.Event)
		if err != nil {
			var invalid *engine.InvalidTransitionError
			if errors.As(err, &invalid) {
				logger.Warn("Chained action not permitted, skipping",
					logger.KeyResource, inv.Resource.Ref().String(),
					logger.KeyAction, string(action),
					logger.KeyState, string(invalid.Current))
				return nil, nil
			}
			return nil, err
		}
		return engine.Dispatches{inv.Operation: out.Dispatches}, nil
	}
}

// Result returns a handler that reports result for the handler's operation
// back to the engine's results endpoint, for operations completed in-process.
func Result(result engine.Result) engine.Handler {
	return func(ctx context.Context, inv *engine.Invocation) (engine.Dispatches, error) {
		if inv.EngineClient == nil {
			return nil, fmt.Errorf("no engine client configured")
		}
		var eventID int64
		if inv.Event != nil {
			eventID = inv.Event.ID
		}
		receipt, err := inv.EngineClient.Result(ctx, inv.Resource.Ref(), string(inv.Operation), string(result), eventID)
		if err != nil {
			return nil, err
		}
		return engine.Dispatches{inv.Operation: {receipt}}, nil
	}
}

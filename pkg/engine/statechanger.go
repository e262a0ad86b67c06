package engine

import (
	"context"
	"fmt"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/internal/telemetry"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/torque"
)

// Invocation is the request-scoped context passed to subscription handlers.
// Store is bound to the ingress transaction, so handler writes commit or roll
// back together with the triggering state change.
type Invocation struct {
	Resource  Resource
	Event     *models.ActivityEvent
	Notice    Notice
	Operation Operation

	Store        models.Store
	Changer      *StateChanger
	Hooks        *torque.HookClient
	EngineClient *torque.EngineClient
}

// Publish fans a notice out to the subscribed handlers.
func (e *Engine) Publish(ctx context.Context, inv *Invocation, notice Notice) []HandlerResult {
	return e.subs.publish(ctx, inv, notice, e.metrics)
}

// Outcome is the result of a performed transition.
type Outcome struct {
	State   State
	Changed bool
	// Dispatches are the receipts of the changed/happened notices the
	// transition buffered for delivery.
	Dispatches []*torque.Receipt
}

// StateChanger validates and performs transitions. Each Perform runs in one
// database transaction holding a per-resource lock, which serialises status
// appends and keeps "current state" well defined under concurrent actions.
type StateChanger struct {
	engine    *Engine
	store     models.Store
	engineURL string
	apiKey    string
	metrics   *metrics.EngineMetrics
	outbox    *metrics.OutboxMetrics
}

// NewStateChanger creates a state changer that announces transitions to the
// engine ingress at engineURL through the transactional outbox.
func NewStateChanger(e *Engine, store models.Store, engineURL, apiKey string, m *metrics.EngineMetrics) *StateChanger {
	return &StateChanger{
		engine:    e,
		store:     store,
		engineURL: engineURL,
		apiKey:    apiKey,
		metrics:   m,
	}
}

// WithOutboxMetrics attaches outbox metrics to the dispatchers the changer
// builds for its notices.
func (c *StateChanger) WithOutboxMetrics(m *metrics.OutboxMetrics) *StateChanger {
	c.outbox = m
	return c
}

// WithStore returns a copy of the changer bound to store. Handlers running
// inside an ingest transaction chain transitions through the transaction's
// store handle, so the chained writes commit or roll back with the ingest.
func (c *StateChanger) WithStore(store models.Store) *StateChanger {
	clone := *c
	clone.store = store
	return &clone
}

// CurrentState returns the resource's current work status value.
func (c *StateChanger) CurrentState(ctx context.Context, r Resource) (State, error) {
	value, err := c.store.CurrentStatus(ctx, r.Ref())
	if err != nil {
		return "", err
	}
	return State(value), nil
}

// CanPerform reports whether a rule permits action in the resource's current
// state.
func (c *StateChanger) CanPerform(ctx context.Context, r Resource, action Action) (bool, error) {
	current, err := c.CurrentState(ctx, r)
	if err != nil {
		return false, err
	}
	rule, ok := c.engine.rules.lookup(r.Type().Capabilities, action)
	if !ok {
		return false, nil
	}
	_, ok = rule.next(current)
	return ok, nil
}

// Perform applies action to the resource. Contract, in order:
//
//  1. Look up the first machine in the capability chain exposing the action;
//     no match, or a current state outside the rule, fails with
//     InvalidTransitionError.
//  2. Compute the next state; Keep resolves to the current state.
//  3. When the state changes: append a WorkStatus row, record a derived
//     "<singular>:<state>" event, and buffer a changed notice.
//  4. Always buffer a happened notice for the action.
//
// The notices go through the transactional outbox: they reach the ingress
// endpoints, where the subscription bus runs, only if this transaction
// commits.
func (c *StateChanger) Perform(ctx context.Context, r Resource, action Action, event *models.ActivityEvent) (*Outcome, error) {
	ctx, span := telemetry.StartPerformSpan(ctx, r.Ref().String(), string(action))
	defer span.End()

	var out *Outcome

	err := c.store.Transaction(ctx, func(tx models.Store) error {
		ref := r.Ref()
		if err := tx.LockResource(ctx, ref); err != nil {
			return fmt.Errorf("failed to lock %s: %w", ref, err)
		}

		value, err := tx.CurrentStatus(ctx, ref)
		if err != nil {
			return err
		}
		current := State(value)

		rule, ok := c.engine.rules.lookup(r.Type().Capabilities, action)
		if !ok {
			c.metrics.RecordInvalidTransition(ref.Type, string(action))
			return &InvalidTransitionError{Resource: ref, Action: action, Current: current}
		}
		next, ok := rule.next(current)
		if !ok {
			c.metrics.RecordInvalidTransition(ref.Type, string(action))
			return &InvalidTransitionError{Resource: ref, Action: action, Current: current}
		}

		client := torque.NewEngineClient(c.engineURL, c.apiKey, torque.NewOutboxDispatcher(tx).WithMetrics(c.outbox))
		changed := next != current
		var receipts []*torque.Receipt

		if changed {
			status := &models.WorkStatus{
				ParentType: ref.Type,
				ParentID:   ref.ID,
				Value:      string(next),
			}
			if event != nil {
				status.EventID = &event.ID
			}
			if err := tx.CreateStatus(ctx, status); err != nil {
				return err
			}

			derived, err := c.recordDerivedEvent(ctx, tx, r, next, event)
			if err != nil {
				return err
			}

			receipt, err := client.Changed(ctx, ref, string(next), derived.ID)
			if err != nil {
				return err
			}
			receipts = append(receipts, receipt)
		}

		var eventID int64
		if event != nil {
			eventID = event.ID
		}
		receipt, err := client.Happened(ctx, ref, string(action), eventID)
		if err != nil {
			return err
		}
		receipts = append(receipts, receipt)

		out = &Outcome{State: next, Changed: changed, Dispatches: receipts}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(telemetry.State(string(out.State)), telemetry.Changed(out.Changed))
	c.metrics.RecordTransition(r.Ref().Type, string(action), out.Changed)
	logger.Debug("Performed transition",
		logger.KeyResource, r.Ref().String(),
		logger.KeyAction, string(action),
		logger.KeyState, string(out.State),
		"changed", out.Changed)
	return out, nil
}

// recordDerivedEvent writes the "<singular>:<state>" event that marks the
// state change in the resource's activity history.
func (c *StateChanger) recordDerivedEvent(ctx context.Context, tx models.Store, r Resource, next State, cause *models.ActivityEvent) (*models.ActivityEvent, error) {
	typ := r.Type()
	ref := r.Ref()

	data := models.JSONMap{"status": string(next)}
	if cause != nil {
		data["event_id"] = cause.ID
	}
	if typ.Snapshot != nil {
		snapshot, err := typ.Snapshot(ctx, tx, r)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", ref, err)
		}
		data["snapshot"] = snapshot
	}

	derived := &models.ActivityEvent{
		ParentType: ref.Type,
		ParentID:   ref.ID,
		Target:     typ.Singular,
		Action:     StateLocal(next),
		Data:       data,
	}
	if cause != nil {
		derived.UserID = cause.UserID
	}
	if err := tx.CreateEvent(ctx, derived); err != nil {
		return nil, err
	}
	return derived, nil
}

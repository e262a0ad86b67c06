package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for engine operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Engine-specific keys use the "engine." prefix.
const (
	// ========================================================================
	// Workflow attributes
	// ========================================================================
	AttrResource  = "engine.resource"  // "<type>#<id>"
	AttrState     = "engine.state"     // qualified state, e.g. "state:STARTED"
	AttrAction    = "engine.action"    // qualified action
	AttrOperation = "engine.operation" // qualified operation
	AttrResult    = "engine.result"    // qualified result
	AttrEventID   = "engine.event_id"
	AttrChanged   = "engine.changed"
	AttrNotice    = "engine.notice" // "changed" or "happened"

	// ========================================================================
	// Outbox / queue attributes
	// ========================================================================
	AttrTaskID   = "outbox.task_id"
	AttrTaskURL  = "outbox.url"
	AttrAttempts = "outbox.attempts"

	// ========================================================================
	// Notification attributes
	// ========================================================================
	AttrChannel    = "notify.channel"
	AttrDispatchID = "notify.dispatch_id"
	AttrUserID     = "user.id"
	AttrBatchSize  = "notify.batch_size"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanPerform      = "engine.perform"
	SpanPublish      = "engine.publish"
	SpanHandler      = "engine.handler"
	SpanOutboxShip   = "outbox.ship"
	SpanNotifyRun    = "notify.run"
	SpanNotifyCreate = "notify.create"
	SpanNotifySend   = "notify.send"
)

// Resource returns an attribute for the resource reference.
func Resource(ref string) attribute.KeyValue {
	return attribute.String(AttrResource, ref)
}

// State returns an attribute for a qualified state value.
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// Action returns an attribute for a qualified action.
func Action(action string) attribute.KeyValue {
	return attribute.String(AttrAction, action)
}

// Operation returns an attribute for a qualified operation.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// Result returns an attribute for a qualified result.
func Result(result string) attribute.KeyValue {
	return attribute.String(AttrResult, result)
}

// EventID returns an attribute for an activity event id.
func EventID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrEventID, id)
}

// Changed returns an attribute for the transition outcome.
func Changed(changed bool) attribute.KeyValue {
	return attribute.Bool(AttrChanged, changed)
}

// NoticeKind returns an attribute for the bus notice kind.
func NoticeKind(kind string) attribute.KeyValue {
	return attribute.String(AttrNotice, kind)
}

// TaskID returns an attribute for an outbox task id.
func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

// TaskURL returns an attribute for an outbox task target URL.
func TaskURL(url string) attribute.KeyValue {
	return attribute.String(AttrTaskURL, url)
}

// Attempts returns an attribute for the task attempt count.
func Attempts(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempts, n)
}

// Channel returns an attribute for a notification channel.
func Channel(channel string) attribute.KeyValue {
	return attribute.String(AttrChannel, channel)
}

// DispatchID returns an attribute for a notification dispatch id.
func DispatchID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrDispatchID, id)
}

// UserID returns an attribute for the acting or notified user.
func UserID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrUserID, id)
}

// BatchSize returns an attribute for a delivery group size.
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// StartPerformSpan starts a span for a transition attempt.
func StartPerformSpan(ctx context.Context, resource, action string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Resource(resource),
		Action(action),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanPerform, trace.WithAttributes(allAttrs...))
}

// StartPublishSpan starts a span for a bus fan-out.
func StartPublishSpan(ctx context.Context, resource, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Resource(resource),
		NoticeKind(kind),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanPublish, trace.WithAttributes(allAttrs...))
}

// StartShipSpan starts a span for one outbox task delivery attempt.
func StartShipSpan(ctx context.Context, taskID, url string, attempts int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanOutboxShip, trace.WithAttributes(
		TaskID(taskID),
		TaskURL(url),
		Attempts(attempts),
	))
}

// StartNotifySpan starts a span for a notification delivery.
func StartNotifySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

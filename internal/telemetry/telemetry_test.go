package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "statorq", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, Resource("models#1"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("Resource", func(t *testing.T) {
		attr := Resource("models#7")
		assert.Equal(t, AttrResource, string(attr.Key))
		assert.Equal(t, "models#7", attr.Value.AsString())
	})

	t.Run("State", func(t *testing.T) {
		attr := State("state:STARTED")
		assert.Equal(t, AttrState, string(attr.Key))
		assert.Equal(t, "state:STARTED", attr.Value.AsString())
	})

	t.Run("Action", func(t *testing.T) {
		attr := Action("action:START")
		assert.Equal(t, AttrAction, string(attr.Key))
		assert.Equal(t, "action:START", attr.Value.AsString())
	})

	t.Run("Operation", func(t *testing.T) {
		attr := Operation("op:DOIT")
		assert.Equal(t, AttrOperation, string(attr.Key))
		assert.Equal(t, "op:DOIT", attr.Value.AsString())
	})

	t.Run("Result", func(t *testing.T) {
		attr := Result("result:SUCCESS")
		assert.Equal(t, AttrResult, string(attr.Key))
		assert.Equal(t, "result:SUCCESS", attr.Value.AsString())
	})

	t.Run("EventID", func(t *testing.T) {
		attr := EventID(42)
		assert.Equal(t, AttrEventID, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("Changed", func(t *testing.T) {
		attr := Changed(true)
		assert.Equal(t, AttrChanged, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("TaskID", func(t *testing.T) {
		attr := TaskID("abc-123")
		assert.Equal(t, AttrTaskID, string(attr.Key))
		assert.Equal(t, "abc-123", attr.Value.AsString())
	})

	t.Run("Attempts", func(t *testing.T) {
		attr := Attempts(3)
		assert.Equal(t, AttrAttempts, string(attr.Key))
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})

	t.Run("Channel", func(t *testing.T) {
		attr := Channel("email")
		assert.Equal(t, AttrChannel, string(attr.Key))
		assert.Equal(t, "email", attr.Value.AsString())
	})

	t.Run("DispatchID", func(t *testing.T) {
		attr := DispatchID(9)
		assert.Equal(t, AttrDispatchID, string(attr.Key))
		assert.Equal(t, int64(9), attr.Value.AsInt64())
	})

	t.Run("UserID", func(t *testing.T) {
		attr := UserID(1000)
		assert.Equal(t, AttrUserID, string(attr.Key))
		assert.Equal(t, int64(1000), attr.Value.AsInt64())
	})
}

func TestStartPerformSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartPerformSpan(ctx, "models#1", "action:START")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartPerformSpan(ctx, "models#1", "action:START", EventID(7))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartPublishSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartPublishSpan(ctx, "models#1", "changed", State("state:STARTED"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartShipSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartShipSpan(ctx, "task-1", "http://hooks.local/x", 0)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

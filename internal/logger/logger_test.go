package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false // Disable colors for easier testing
	mu.Unlock()

	// Reconfigure with new output
	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.Contains(t, output, "DEBUG")
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "WARN")
		assert.Contains(t, output, "ERROR")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Debug("debug message")
		Info("info message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.Contains(t, output, "info message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.NotContains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("BOGUS")

		Info("still here")
		assert.Contains(t, buf.String(), "still here")
	})
}

func TestStructuredFields(t *testing.T) {
	t.Run("TextFormatRendersKeyValuePairs", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("text")

		Info("transition performed",
			KeyResource, "models#1",
			KeyAction, "action:START",
			KeyState, "state:STARTED")

		output := buf.String()
		assert.Contains(t, output, "transition performed")
		assert.Contains(t, output, "resource=models#1")
		assert.Contains(t, output, "action=action:START")
		assert.Contains(t, output, "state=state:STARTED")
	})

	t.Run("JSONFormatProducesValidJSON", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("json")
		defer SetFormat("text")

		Info("dispatch shipped", KeyTaskID, "abc-123", KeyStatus, 200)

		line := strings.TrimSpace(buf.String())
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, "dispatch shipped", record["msg"])
		assert.Equal(t, "abc-123", record[KeyTaskID])
		assert.Equal(t, float64(200), record[KeyStatus])
	})
}

func TestContextAwareLogging(t *testing.T) {
	t.Run("ContextFieldsAreInjected", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		ctx := WithContext(context.Background(), &LogContext{
			RequestID: "req-1",
			Resource:  "models#42",
			Action:    "action:PUBLISH",
			UserID:    7,
			RemoteIP:  "10.0.0.1",
		})

		InfoCtx(ctx, "handling event")

		output := buf.String()
		assert.Contains(t, output, "request_id=req-1")
		assert.Contains(t, output, "resource=models#42")
		assert.Contains(t, output, "action=action:PUBLISH")
		assert.Contains(t, output, "user_id=7")
		assert.Contains(t, output, "remote_ip=10.0.0.1")
	})

	t.Run("MissingContextIsHarmless", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		InfoCtx(context.Background(), "no log context")
		assert.Contains(t, buf.String(), "no log context")
	})

	t.Run("FromContextReturnsNilWithoutValue", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
		assert.Nil(t, FromContext(nil))
	})

	t.Run("ZeroFieldsAreOmitted", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		ctx := WithContext(context.Background(), &LogContext{Resource: "models#1"})
		InfoCtx(ctx, "sparse context")

		output := buf.String()
		assert.Contains(t, output, "resource=models#1")
		assert.NotContains(t, output, "user_id=")
		assert.NotContains(t, output, "remote_ip=")
	})
}

func TestInitWithWriter(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	buf := new(bytes.Buffer)
	InitWithWriter(buf, "DEBUG", "text", false)

	Debug("writer message", KeyCount, 3)
	assert.Contains(t, buf.String(), "writer message")
	assert.Contains(t, buf.String(), "count=3")
}

func TestWith(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	l := With(KeyChannel, "email")
	l.Info("bound fields")

	assert.Contains(t, buf.String(), "channel=email")
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				Info("concurrent", "worker", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 200, lines)
}

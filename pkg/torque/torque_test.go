package torque

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/store/memory"
)

// capture records the last request a test server received.
type capture struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int, response string, got *capture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		*got = capture{
			method: r.Method,
			url:    r.URL.String(),
			header: r.Header.Clone(),
			body:   body,
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func TestQueueClientEnqueue(t *testing.T) {
	var got capture
	server := captureServer(t, http.StatusOK, `{"id": 1}`, &got)
	defer server.Close()

	client := NewQueueClient(server.URL, "queue-secret")
	receipt, err := client.Enqueue(context.Background(), &Dispatch{
		URL:     "http://hooks.local/order-shipped",
		Body:    []byte(`{"event_id":7}`),
		Headers: map[string]string{"X-Webhooks-Api-Key": "hook-secret"},
	})
	require.NoError(t, err)

	// The queue call wraps the target call.
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/?method=POST&url=http%3A%2F%2Fhooks.local%2Forder-shipped", got.url)
	assert.Equal(t, "queue-secret", got.header.Get("Authorization"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "hook-secret", got.header.Get(PassthroughPrefix+"X-Webhooks-Api-Key"))
	assert.Equal(t, `{"event_id":7}`, string(got.body))

	assert.Equal(t, http.StatusOK, receipt.Status)
	assert.Equal(t, `{"id": 1}`, receipt.Response)
	assert.Equal(t, "http://hooks.local/order-shipped", receipt.URL)
	assert.True(t, receipt.Queued)
}

func TestQueueClientCustomMethod(t *testing.T) {
	var got capture
	server := captureServer(t, http.StatusOK, "", &got)
	defer server.Close()

	client := NewQueueClient(server.URL, "")
	_, err := client.Enqueue(context.Background(), &Dispatch{
		URL:    "http://hooks.local/x",
		Method: http.MethodPut,
	})
	require.NoError(t, err)

	assert.Equal(t, "/?method=PUT&url=http%3A%2F%2Fhooks.local%2Fx", got.url)
	assert.Empty(t, got.header.Get("Authorization"))
}

func TestQueueClientRejection(t *testing.T) {
	var got capture
	server := captureServer(t, http.StatusServiceUnavailable, "overloaded", &got)
	defer server.Close()

	client := NewQueueClient(server.URL, "")
	receipt, err := client.Enqueue(context.Background(), &Dispatch{URL: "http://hooks.local/x"})
	require.Error(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, http.StatusServiceUnavailable, receipt.Status)
	assert.Equal(t, "overloaded", receipt.Response)
}

func TestDirectDispatcher(t *testing.T) {
	var got capture
	server := captureServer(t, http.StatusCreated, "done", &got)
	defer server.Close()

	d := NewDirectDispatcher()
	receipt, err := d.Dispatch(context.Background(), &Dispatch{
		URL:     server.URL + "/notifications/email",
		Path:    "/notifications/email",
		Body:    []byte(`{"n":1}`),
		Headers: map[string]string{"X-Webhooks-Api-Key": "hook-secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/notifications/email", got.url)
	assert.Equal(t, "hook-secret", got.header.Get("X-Webhooks-Api-Key"))
	assert.Equal(t, `{"n":1}`, string(got.body))

	assert.Equal(t, http.StatusCreated, receipt.Status)
	assert.Equal(t, "done", receipt.Response)
	assert.Equal(t, "/notifications/email", receipt.Path)
	assert.False(t, receipt.Queued)
}

func TestOutboxDispatcher(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	d := NewOutboxDispatcher(store)
	receipt, err := d.Dispatch(ctx, &Dispatch{
		URL:     "http://engine.local/events/orders/1",
		Body:    []byte(`{"action":"action:SHIP"}`),
		Headers: map[string]string{APIKeyHeader: "engine-secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, receipt.Status)
	assert.True(t, receipt.Queued)
	require.NotEmpty(t, receipt.TaskID)

	tasks, err := store.PendingTasks(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, receipt.TaskID, tasks[0].ID)
	assert.Equal(t, http.MethodPost, tasks[0].Method)
	assert.Equal(t, "engine-secret", tasks[0].Headers[APIKeyHeader])
}

func TestOutboxDispatcherRecordsBuffered(t *testing.T) {
	metrics.InitRegistry()
	m := metrics.NewOutboxMetrics()
	require.NotNil(t, m)

	d := NewOutboxDispatcher(memory.New()).WithMetrics(m)
	_, err := d.Dispatch(context.Background(), &Dispatch{
		URL:  "http://engine.local/events/orders/1",
		Body: []byte(`{}`),
	})
	require.NoError(t, err)

	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() != "statorq_outbox_buffered_total" {
			continue
		}
		found = true
		require.Len(t, family.GetMetric(), 1)
		assert.Equal(t, float64(1), family.GetMetric()[0].GetCounter().GetValue())
	}
	assert.True(t, found, "buffered counter was not registered")
}

// recordingDispatcher captures dispatches instead of sending them.
type recordingDispatcher struct {
	dispatches []*Dispatch
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, d *Dispatch) (*Receipt, error) {
	r.dispatches = append(r.dispatches, d)
	return &Receipt{Status: http.StatusOK, URL: d.URL, Path: d.Path}, nil
}

func TestEngineClient(t *testing.T) {
	ctx := context.Background()
	ref := models.Ref{Type: "orders", ID: 5}

	t.Run("changed", func(t *testing.T) {
		rec := &recordingDispatcher{}
		client := NewEngineClient("http://engine.local", "engine-secret", rec)

		_, err := client.Changed(ctx, ref, "state:SHIPPED", 7)
		require.NoError(t, err)

		require.Len(t, rec.dispatches, 1)
		d := rec.dispatches[0]
		assert.Equal(t, "http://engine.local/events/orders/5", d.URL)
		assert.Equal(t, "/events/orders/5", d.Path)
		assert.Equal(t, "engine-secret", d.Headers[APIKeyHeader])

		var payload map[string]any
		require.NoError(t, json.Unmarshal(d.Body, &payload))
		assert.Equal(t, "state:SHIPPED", payload["state"])
		assert.Equal(t, float64(7), payload["event_id"])
	})

	t.Run("happened", func(t *testing.T) {
		rec := &recordingDispatcher{}
		client := NewEngineClient("http://engine.local", "", rec)

		_, err := client.Happened(ctx, ref, "action:SHIP", 7)
		require.NoError(t, err)

		d := rec.dispatches[0]
		assert.Equal(t, "/events/orders/5", d.Path)
		assert.Empty(t, d.Headers)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(d.Body, &payload))
		assert.Equal(t, "action:SHIP", payload["action"])
	})

	t.Run("result", func(t *testing.T) {
		rec := &recordingDispatcher{}
		client := NewEngineClient("http://engine.local", "", rec)

		_, err := client.Result(ctx, ref, "op:SHIP_IT", "result:OK", 9)
		require.NoError(t, err)

		d := rec.dispatches[0]
		assert.Equal(t, "/results/orders/5", d.Path)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(d.Body, &payload))
		assert.Equal(t, "op:SHIP_IT", payload["operation"])
		assert.Equal(t, "result:OK", payload["result"])
		assert.Equal(t, float64(9), payload["event_id"])
	})
}

func TestHookClient(t *testing.T) {
	rec := &recordingDispatcher{}
	client := NewHookClient("http://hooks.local", "hook-secret", rec)

	_, err := client.Post(context.Background(), "/order-shipped", map[string]any{"event_id": 3})
	require.NoError(t, err)

	require.Len(t, rec.dispatches, 1)
	d := rec.dispatches[0]
	assert.Equal(t, "http://hooks.local/order-shipped", d.URL)
	assert.Equal(t, "hook-secret", d.Headers[HooksAPIKeyHeader])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(d.Body, &payload))
	assert.Equal(t, float64(3), payload["event_id"])
}

func TestShipPending(t *testing.T) {
	ctx := context.Background()

	enqueue := func(t *testing.T, store models.OutboxStore, id string) {
		t.Helper()
		require.NoError(t, store.EnqueueTask(ctx, &models.OutboxTask{
			ID:            id,
			URL:           "http://hooks.local/x",
			Method:        http.MethodPost,
			Body:          []byte(`{}`),
			Headers:       models.JSONMap{APIKeyHeader: "engine-secret"},
			NextAttemptAt: time.Now().UTC().Add(-time.Second),
		}))
	}

	t.Run("ships and stamps", func(t *testing.T) {
		var got capture
		server := captureServer(t, http.StatusOK, "", &got)
		defer server.Close()

		store := memory.New()
		enqueue(t, store, "task-1")

		shipper := NewShipper(store, NewQueueClient(server.URL, ""), DefaultShipperConfig(), nil)
		shipped := shipper.ShipPending(ctx)
		assert.Equal(t, 1, shipped)

		// Passthrough header survives the outbox round trip.
		assert.Equal(t, "engine-secret", got.header.Get(PassthroughPrefix+APIKeyHeader))

		tasks, err := store.PendingTasks(ctx, time.Now().UTC().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("failure reschedules with backoff", func(t *testing.T) {
		var got capture
		server := captureServer(t, http.StatusBadGateway, "", &got)
		defer server.Close()

		store := memory.New()
		enqueue(t, store, "task-1")

		shipper := NewShipper(store, NewQueueClient(server.URL, ""), DefaultShipperConfig(), nil)
		shipped := shipper.ShipPending(ctx)
		assert.Equal(t, 0, shipped)

		// Not due again immediately.
		tasks, err := store.PendingTasks(ctx, time.Now().UTC(), 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)

		tasks, err = store.PendingTasks(ctx, time.Now().UTC().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 1, tasks[0].Attempts)
		assert.NotEmpty(t, tasks[0].LastError)
	})
}

func TestBackoff(t *testing.T) {
	shipper := NewShipper(memory.New(), nil, ShipperConfig{MaxBackoff: 5 * time.Minute}, nil)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{10, 5 * time.Minute},
		{30, 5 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shipper.backoff(tc.attempts), "attempts=%d", tc.attempts)
	}
}

package torque

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
)

// Dispatcher sends a Dispatch towards its target.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *Dispatch) (*Receipt, error)
}

// QueueClient talks to the nTorque task queue. Calls are queued as
// `POST <queue>/?url=<target>&method=<verb>` with the body passed through and
// passthrough-prefixed headers forwarded to the target.
type QueueClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQueueClient creates a task queue client.
func NewQueueClient(baseURL, apiKey string) *QueueClient {
	return &QueueClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Enqueue hands a dispatch to the task queue.
func (c *QueueClient) Enqueue(ctx context.Context, d *Dispatch) (*Receipt, error) {
	method := d.Method
	if method == "" {
		method = http.MethodPost
	}

	q := url.Values{}
	q.Set("url", d.URL)
	q.Set("method", method)
	target := c.baseURL + "/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(d.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create queue request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	for name, value := range d.Headers {
		req.Header.Set(PassthroughPrefix+name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue response: %w", err)
	}

	receipt := &Receipt{
		Status:   resp.StatusCode,
		Response: string(body),
		Headers:  resp.Header,
		URL:      d.URL,
		Path:     d.Path,
		Queued:   true,
	}
	if resp.StatusCode >= 400 {
		return receipt, fmt.Errorf("queue rejected dispatch: status %d", resp.StatusCode)
	}
	return receipt, nil
}

// DirectDispatcher performs the HTTP call itself, synchronously, bypassing
// both the outbox and the task queue. Used by the inline notification
// executor where delivery must happen within the request.
type DirectDispatcher struct {
	httpClient *http.Client
}

// NewDirectDispatcher creates a synchronous dispatcher.
func NewDirectDispatcher() *DirectDispatcher {
	return &DirectDispatcher{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Dispatch implements Dispatcher.
func (d *DirectDispatcher) Dispatch(ctx context.Context, dispatch *Dispatch) (*Receipt, error) {
	method := dispatch.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, dispatch.URL, bytes.NewReader(dispatch.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range dispatch.Headers {
		req.Header.Set(name, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s failed: %w", dispatch.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", dispatch.URL, err)
	}

	return &Receipt{
		Status:   resp.StatusCode,
		Response: string(body),
		Headers:  resp.Header,
		URL:      dispatch.URL,
		Path:     dispatch.Path,
	}, nil
}

// OutboxDispatcher buffers dispatches in the outbox table. The rows are
// written through the store handle it was built with, so inside a transaction
// they commit or roll back together with the rest of the work.
type OutboxDispatcher struct {
	store   models.OutboxStore
	metrics *metrics.OutboxMetrics
}

// NewOutboxDispatcher creates a dispatcher that buffers into store.
func NewOutboxDispatcher(store models.OutboxStore) *OutboxDispatcher {
	return &OutboxDispatcher{store: store}
}

// WithMetrics attaches outbox metrics to the dispatcher.
func (d *OutboxDispatcher) WithMetrics(m *metrics.OutboxMetrics) *OutboxDispatcher {
	d.metrics = m
	return d
}

// Dispatch implements Dispatcher.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, dispatch *Dispatch) (*Receipt, error) {
	method := dispatch.Method
	if method == "" {
		method = http.MethodPost
	}

	headers := models.JSONMap{}
	for name, value := range dispatch.Headers {
		headers[name] = value
	}

	task := &models.OutboxTask{
		ID:            uuid.NewString(),
		URL:           dispatch.URL,
		Method:        method,
		Body:          dispatch.Body,
		Headers:       headers,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := d.store.EnqueueTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to buffer dispatch: %w", err)
	}
	d.metrics.RecordBuffered(method)

	return &Receipt{
		Status: http.StatusAccepted,
		URL:    dispatch.URL,
		Path:   dispatch.Path,
		TaskID: task.ID,
		Queued: true,
	}, nil
}

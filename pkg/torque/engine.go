package torque

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/statorq/statorq/pkg/models"
)

// APIKeyHeader authenticates calls to the engine's own ingress endpoints.
const APIKeyHeader = "X-Engine-Api-Key"

// EngineClient dispatches the engine's own ingress calls: the `changed` and
// `happened` notices a transition emits, and operation results reported back
// by remote workers. Payloads carry event_id as a deduplication key for the
// receiving side.
type EngineClient struct {
	baseURL    string
	apiKey     string
	dispatcher Dispatcher
}

// NewEngineClient creates a client that reaches the engine at baseURL through
// the given dispatcher.
func NewEngineClient(baseURL, apiKey string, dispatcher Dispatcher) *EngineClient {
	return &EngineClient{baseURL: baseURL, apiKey: apiKey, dispatcher: dispatcher}
}

// Changed announces that parent's work status moved to state.
func (c *EngineClient) Changed(ctx context.Context, parent models.Ref, state string, eventID int64) (*Receipt, error) {
	return c.post(ctx, eventsPath(parent), map[string]any{
		"state":    state,
		"event_id": eventID,
	})
}

// Happened announces that action occurred on parent.
func (c *EngineClient) Happened(ctx context.Context, parent models.Ref, action string, eventID int64) (*Receipt, error) {
	return c.post(ctx, eventsPath(parent), map[string]any{
		"action":   action,
		"event_id": eventID,
	})
}

// Result reports an operation outcome for parent.
func (c *EngineClient) Result(ctx context.Context, parent models.Ref, operation, result string, eventID int64) (*Receipt, error) {
	path := fmt.Sprintf("/results/%s/%d", parent.Type, parent.ID)
	return c.post(ctx, path, map[string]any{
		"operation": operation,
		"result":    result,
		"event_id":  eventID,
	})
}

func (c *EngineClient) post(ctx context.Context, path string, payload map[string]any) (*Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", path, err)
	}

	d := &Dispatch{
		URL:  c.baseURL + path,
		Path: path,
		Body: body,
	}
	if c.apiKey != "" {
		d.Headers = map[string]string{APIKeyHeader: c.apiKey}
	}
	return c.dispatcher.Dispatch(ctx, d)
}

func eventsPath(parent models.Ref) string {
	return fmt.Sprintf("/events/%s/%d", parent.Type, parent.ID)
}

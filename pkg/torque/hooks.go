package torque

import (
	"context"
	"encoding/json"
	"fmt"
)

// HooksAPIKeyHeader authenticates calls to the webhooks service.
const HooksAPIKeyHeader = "X-Webhooks-Api-Key"

// HookClient dispatches calls to the downstream webhooks service that turns
// engine events into user-facing side effects.
type HookClient struct {
	baseURL    string
	apiKey     string
	dispatcher Dispatcher
}

// NewHookClient creates a client that reaches the webhooks service at baseURL
// through the given dispatcher.
func NewHookClient(baseURL, apiKey string, dispatcher Dispatcher) *HookClient {
	return &HookClient{baseURL: baseURL, apiKey: apiKey, dispatcher: dispatcher}
}

// Post dispatches a JSON payload to path on the webhooks service.
func (c *HookClient) Post(ctx context.Context, path string, payload any) (*Receipt, error) {
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
		d.Headers = map[string]string{HooksAPIKeyHeader: c.apiKey}
	}
	return c.dispatcher.Dispatch(ctx, d)
}

// Package torque delivers outbound HTTP work through the nTorque task queue.
//
// A Dispatch is a description of an HTTP call to make. Dispatchers decide how
// it reaches the queue: DirectDispatcher hands it over synchronously, while
// OutboxDispatcher buffers it in the outbox table so it only ships if the
// surrounding database transaction commits. The background Shipper drains the
// outbox with bounded exponential backoff, giving at-least-once delivery.
package torque

import (
	"net/http"
	"time"
)

// PassthroughPrefix marks headers the task queue forwards verbatim to the
// target of a queued call.
const PassthroughPrefix = "NTORQUE-PASSTHROUGH-"

// DefaultTimeout bounds every outbound HTTP call.
const DefaultTimeout = 30 * time.Second

// Dispatch describes one outbound HTTP call.
type Dispatch struct {
	// URL is the absolute target URL.
	URL string
	// Path is the target path relative to the owning client's base URL.
	// Informational; kept so receipts can report it.
	Path string
	// Method is the HTTP verb, POST unless set.
	Method string
	// Body is the JSON request body.
	Body []byte
	// Headers are forwarded to the target via the queue's passthrough
	// mechanism.
	Headers map[string]string
}

// Receipt reports what happened to a dispatch. For queued deliveries Status
// reflects the queue's acknowledgement, not the eventual target response.
type Receipt struct {
	Status   int         `json:"status"`
	Response string      `json:"response,omitempty"`
	Headers  http.Header `json:"response_headers,omitempty"`
	Data     any         `json:"data,omitempty"`
	URL      string      `json:"url"`
	Path     string      `json:"path,omitempty"`
	// TaskID is set when the dispatch was buffered in the outbox.
	TaskID string `json:"task_id,omitempty"`
	// Queued is true when the dispatch awaits the background shipper.
	Queued bool `json:"queued,omitempty"`
}

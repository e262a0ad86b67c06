package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Engine domain
	KeyResource  = "resource"  // Resource reference: <type>#<id>
	KeyState     = "state"     // Work status value: state:STARTED
	KeyAction    = "action"    // Action value: action:START
	KeyOperation = "operation" // Operation value: op:DOIT
	KeyResult    = "result"    // Result value: result:SUCCESS
	KeyEventID   = "event_id"  // Activity event id
	KeyUserID    = "user_id"   // Owning user id

	// Outbound dispatch
	KeyTaskID = "task_id" // Outbox task id
	KeyURL    = "url"     // Dispatch target URL
	KeyStatus = "status"  // HTTP status code

	// Notifications
	KeyChannel    = "channel"     // Delivery channel: email, sms
	KeyDispatchID = "dispatch_id" // Notification dispatch id

	// HTTP ingress
	KeyRequestID = "request_id" // chi request id
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // Request path
	KeyRemoteIP  = "remote_ip"  // Client IP address

	// General
	KeyError      = "error"       // Error message
	KeyDurationMS = "duration_ms" // Elapsed time in milliseconds
	KeyCount      = "count"       // Generic item count
)

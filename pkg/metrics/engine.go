package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics observes state transitions and subscriber dispatch.
type EngineMetrics struct {
	transitions *prometheus.CounterVec
	invalid     *prometheus.CounterVec
	handlers    *prometheus.CounterVec
}

// NewEngineMetrics creates a Prometheus-backed engine metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewEngineMetrics() *EngineMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &EngineMetrics{
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_transitions_total",
				Help: "Total number of performed state transitions by resource type and action",
			},
			[]string{"type", "action", "changed"},
		),
		invalid: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_invalid_transitions_total",
				Help: "Total number of rejected transitions by resource type and action",
			},
			[]string{"type", "action"},
		),
		handlers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_handler_invocations_total",
				Help: "Total number of subscription handler invocations by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
	}
}

// RecordTransition records a performed transition.
func (m *EngineMetrics) RecordTransition(resourceType, action string, changed bool) {
	if m == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	m.transitions.WithLabelValues(resourceType, action, label).Inc()
}

// RecordInvalidTransition records a transition rejected by the rule table.
func (m *EngineMetrics) RecordInvalidTransition(resourceType, action string) {
	if m == nil {
		return
	}
	m.invalid.WithLabelValues(resourceType, action).Inc()
}

// RecordHandler records one subscription handler invocation.
func (m *EngineMetrics) RecordHandler(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.handlers.WithLabelValues(outcome).Inc()
}

// OutboxMetrics observes the transactional outbox and its shipper.
type OutboxMetrics struct {
	buffered *prometheus.CounterVec
	shipped  prometheus.Counter
	failed   prometheus.Counter
	latency  prometheus.Histogram
}

// NewOutboxMetrics creates a Prometheus-backed outbox metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewOutboxMetrics() *OutboxMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &OutboxMetrics{
		buffered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_outbox_buffered_total",
				Help: "Total number of dispatches buffered in the outbox by method",
			},
			[]string{"method"},
		),
		shipped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "statorq_outbox_shipped_total",
				Help: "Total number of outbox tasks handed to the task queue",
			},
		),
		failed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "statorq_outbox_failed_attempts_total",
				Help: "Total number of failed ship attempts",
			},
		),
		latency: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statorq_outbox_ship_seconds",
				Help:    "Time from buffering to successful ship",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}
}

// RecordBuffered records a dispatch written to the outbox.
func (m *OutboxMetrics) RecordBuffered(method string) {
	if m == nil {
		return
	}
	m.buffered.WithLabelValues(method).Inc()
}

// RecordShipped records a task handed to the queue and its end-to-end latency.
func (m *OutboxMetrics) RecordShipped(bufferedAt time.Time) {
	if m == nil {
		return
	}
	m.shipped.Inc()
	m.latency.Observe(time.Since(bufferedAt).Seconds())
}

// RecordFailedAttempt records one failed ship attempt.
func (m *OutboxMetrics) RecordFailedAttempt() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

// NotificationMetrics observes the notification factory and executor.
type NotificationMetrics struct {
	created   *prometheus.CounterVec
	delivered *prometheus.CounterVec
}

// NewNotificationMetrics creates a Prometheus-backed notification metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewNotificationMetrics() *NotificationMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &NotificationMetrics{
		created: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_notification_dispatches_created_total",
				Help: "Total number of notification dispatch rows created by channel",
			},
			[]string{"channel"},
		),
		delivered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statorq_notification_dispatches_delivered_total",
				Help: "Total number of notification dispatches delivered by channel and mode",
			},
			[]string{"channel", "mode"}, // mode: "single", "batch"
		),
	}
}

// RecordCreated records a created dispatch row.
func (m *NotificationMetrics) RecordCreated(channel string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(channel).Inc()
}

// RecordDelivered records a delivered dispatch.
func (m *NotificationMetrics) RecordDelivered(channel, mode string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(channel, mode).Inc()
}

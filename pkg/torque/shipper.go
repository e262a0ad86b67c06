package torque

import (
	"context"
	"sync"
	"time"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/internal/telemetry"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
)

// ShipperConfig holds configuration for the outbox shipper.
type ShipperConfig struct {
	// Interval between outbox polls.
	// Default: 1s
	Interval time.Duration

	// BatchSize is the maximum number of tasks claimed per poll.
	// Default: 100
	BatchSize int

	// MaxBackoff caps the retry delay for failing tasks.
	// Default: 5m
	MaxBackoff time.Duration
}

// DefaultShipperConfig returns sensible defaults.
func DefaultShipperConfig() ShipperConfig {
	return ShipperConfig{
		Interval:   time.Second,
		BatchSize:  100,
		MaxBackoff: 5 * time.Minute,
	}
}

// Shipper drains the outbox table into the task queue. It polls for tasks
// whose next attempt is due, hands each to the queue, and either stamps it
// shipped or reschedules it with exponential backoff. Delivery is
// at-least-once: a crash between queue acknowledgement and the shipped stamp
// replays the task.
type Shipper struct {
	store   models.OutboxStore
	queue   *QueueClient
	cfg     ShipperConfig
	metrics *metrics.OutboxMetrics

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewShipper creates an outbox shipper.
func NewShipper(store models.OutboxStore, queue *QueueClient, cfg ShipperConfig, m *metrics.OutboxMetrics) *Shipper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}

	return &Shipper{
		store:     store,
		queue:     queue,
		cfg:       cfg,
		metrics:   m,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins draining the outbox.
func (s *Shipper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	logger.Info("Starting outbox shipper", "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
	go s.run(ctx)
}

// Stop shuts the shipper down, waiting up to timeout for the current batch.
func (s *Shipper) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedCh:
		logger.Info("Outbox shipper stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Outbox shipper stop timed out")
	}
}

func (s *Shipper) run(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ShipPending(ctx)
		}
	}
}

// ShipPending performs one drain pass and returns how many tasks shipped.
func (s *Shipper) ShipPending(ctx context.Context) int {
	tasks, err := s.store.PendingTasks(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		logger.Error("Failed to poll outbox", "error", err)
		return 0
	}

	shipped := 0
	for _, task := range tasks {
		if s.shipOne(ctx, task) {
			shipped++
		}
		select {
		case <-s.stopCh:
			return shipped
		case <-ctx.Done():
			return shipped
		default:
		}
	}
	return shipped
}

func (s *Shipper) shipOne(ctx context.Context, task *models.OutboxTask) bool {
	ctx, span := telemetry.StartShipSpan(ctx, task.ID, task.URL, task.Attempts)
	defer span.End()

	headers := make(map[string]string, len(task.Headers))
	for name, value := range task.Headers {
		if v, ok := value.(string); ok {
			headers[name] = v
		}
	}

	_, err := s.queue.Enqueue(ctx, &Dispatch{
		URL:     task.URL,
		Method:  task.Method,
		Body:    task.Body,
		Headers: headers,
	})
	now := time.Now().UTC()
	if err != nil {
		telemetry.RecordError(ctx, err)
		s.metrics.RecordFailedAttempt()
		next := now.Add(s.backoff(task.Attempts + 1))
		logger.Warn("Outbox ship attempt failed",
			"task_id", task.ID,
			"url", task.URL,
			"attempts", task.Attempts+1,
			"next_attempt", next,
			"error", err)
		if mErr := s.store.MarkFailed(ctx, task.ID, err.Error(), next); mErr != nil {
			logger.Error("Failed to record ship failure", "task_id", task.ID, "error", mErr)
		}
		return false
	}

	if err := s.store.MarkShipped(ctx, task.ID, now); err != nil {
		logger.Error("Failed to stamp shipped task", "task_id", task.ID, "error", err)
		return false
	}
	s.metrics.RecordShipped(task.CreatedAt)
	logger.Debug("Shipped outbox task", "task_id", task.ID, "url", task.URL)
	return true
}

// backoff returns the delay before the given attempt number, doubling per
// attempt from one second up to the configured cap.
func (s *Shipper) backoff(attempts int) time.Duration {
	d := time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}

package models

import (
	"context"
	"time"
)

// EventStore persists activity events and work status history.
//
// Thread-safe implementations are required.
type EventStore interface {
	// CreateEvent inserts a new activity event and fills in its ID and CreatedAt.
	CreateEvent(ctx context.Context, event *ActivityEvent) error

	// GetEvent returns an event by id.
	// Returns ErrEventNotFound if the event doesn't exist.
	GetEvent(ctx context.Context, id int64) (*ActivityEvent, error)

	// ListEvents returns a resource's events, most recent first.
	ListEvents(ctx context.Context, parent Ref) ([]*ActivityEvent, error)

	// LatestEvent returns a resource's most recent event, or
	// ErrEventNotFound if there is none.
	LatestEvent(ctx context.Context, parent Ref) (*ActivityEvent, error)

	// CreateStatus appends a work status entry for a resource.
	CreateStatus(ctx context.Context, status *WorkStatus) error

	// CurrentStatus returns a resource's current status value: the status
	// row with the greatest (created_at, id), or DefaultState() when the
	// resource has no status history.
	CurrentStatus(ctx context.Context, parent Ref) (string, error)

	// StatusHistory returns a resource's status entries, most recent first.
	StatusHistory(ctx context.Context, parent Ref) ([]*WorkStatus, error)

	// QueryByStatus returns the ids of resources of parentType whose
	// current status is one of values, or, with negate, none of them.
	// Only resources with status history are considered.
	QueryByStatus(ctx context.Context, parentType string, values []string, negate bool) ([]int64, error)
}

// NotificationStore persists notifications, their per-channel dispatches and
// user preferences.
type NotificationStore interface {
	// CreateNotification inserts a notification together with its dispatches.
	CreateNotification(ctx context.Context, notification *Notification) error

	// GetNotification returns a notification by id.
	// Returns ErrNotificationNotFound if it doesn't exist.
	GetNotification(ctx context.Context, id int64) (*Notification, error)

	// MarkRead stamps a notification's ReadAt. Stamping twice is a no-op.
	MarkRead(ctx context.Context, id int64, at time.Time) error

	// GetDispatch returns a dispatch by id.
	// Returns ErrDispatchNotFound if it doesn't exist.
	GetDispatch(ctx context.Context, id int64) (*NotificationDispatch, error)

	// DueDispatches returns unsent dispatches with due <= now, oldest first.
	DueDispatches(ctx context.Context, now time.Time) ([]*NotificationDispatch, error)

	// MarkSent stamps a dispatch's Sent.
	MarkSent(ctx context.Context, id int64, at time.Time) error

	// GetPreference returns a user's notification preference.
	// Returns ErrPreferenceNotFound if the user has none.
	GetPreference(ctx context.Context, userID int64) (*NotificationPreference, error)

	// SetPreference creates or replaces a user's notification preference.
	SetPreference(ctx context.Context, pref *NotificationPreference) error
}

// OutboxStore persists buffered outbound dispatch tasks.
type OutboxStore interface {
	// EnqueueTask inserts an outbox task.
	EnqueueTask(ctx context.Context, task *OutboxTask) error

	// PendingTasks returns unshipped tasks whose next attempt is due,
	// oldest first, up to limit.
	PendingTasks(ctx context.Context, now time.Time, limit int) ([]*OutboxTask, error)

	// MarkShipped stamps a task as delivered to the queue.
	MarkShipped(ctx context.Context, id string, at time.Time) error

	// MarkFailed records a failed attempt and schedules the next one.
	MarkFailed(ctx context.Context, id string, attemptErr string, nextAttempt time.Time) error
}

// Store is the full persistence surface of the engine.
type Store interface {
	EventStore
	NotificationStore
	OutboxStore

	// Transaction runs fn inside a database transaction. The Store passed
	// to fn routes all operations through that transaction. A non-nil
	// error from fn rolls the transaction back.
	Transaction(ctx context.Context, fn func(Store) error) error

	// LockResource serialises state changes for one resource until the
	// surrounding transaction commits or rolls back. Calling it outside a
	// transaction is an error.
	LockResource(ctx context.Context, ref Ref) error

	// Migrate creates or updates the database schema.
	Migrate(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}

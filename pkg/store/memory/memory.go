// Package memory provides an in-memory models.Store for unit tests.
//
// Semantics match the SQL store where tests depend on them: current status is
// the row with the greatest (created_at, id), due and pending queries use the
// same predicates and ordering. Transactions serialise against each other but
// do not roll back partial writes; tests that need rollback use the SQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/statorq/statorq/pkg/models"
)

// Store is an in-memory models.Store.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	nextEventID    int64
	nextStatusID   int64
	nextNotifID    int64
	nextDispatchID int64
	nextPrefID     int64

	events        map[int64]*models.ActivityEvent
	statuses      map[int64]*models.WorkStatus
	notifications map[int64]*models.Notification
	dispatches    map[int64]*models.NotificationDispatch
	preferences   map[int64]*models.NotificationPreference // keyed by user id
	tasks         map[string]*models.OutboxTask
	taskOrder     []string

	// Clock lets tests pin row timestamps.
	Clock func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:        make(map[int64]*models.ActivityEvent),
		statuses:      make(map[int64]*models.WorkStatus),
		notifications: make(map[int64]*models.Notification),
		dispatches:    make(map[int64]*models.NotificationDispatch),
		preferences:   make(map[int64]*models.NotificationPreference),
		tasks:         make(map[string]*models.OutboxTask),
		Clock:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) now() time.Time {
	return s.Clock()
}

// ============================================
// EVENTS
// ============================================

func (s *Store) CreateEvent(ctx context.Context, event *models.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	event.ID = s.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.Data == nil {
		event.Data = models.JSONMap{}
	}
	clone := *event
	s.events[event.ID] = &clone
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*models.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	clone := *event
	return &clone, nil
}

func (s *Store) ListEvents(ctx context.Context, parent models.Ref) ([]*models.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*models.ActivityEvent
	for _, event := range s.events {
		if event.ParentType == parent.Type && event.ParentID == parent.ID {
			clone := *event
			events = append(events, &clone)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})
	return events, nil
}

func (s *Store) LatestEvent(ctx context.Context, parent models.Ref) (*models.ActivityEvent, error) {
	events, err := s.ListEvents(ctx, parent)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, models.ErrEventNotFound
	}
	return events[0], nil
}

// ============================================
// WORK STATUS
// ============================================

func (s *Store) CreateStatus(ctx context.Context, status *models.WorkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStatusID++
	status.ID = s.nextStatusID
	if status.CreatedAt.IsZero() {
		status.CreatedAt = s.now()
	}
	clone := *status
	s.statuses[status.ID] = &clone
	return nil
}

// currentLocked returns the current status row for parent, or nil.
// Caller holds s.mu.
func (s *Store) currentLocked(parent models.Ref) *models.WorkStatus {
	var current *models.WorkStatus
	for _, status := range s.statuses {
		if status.ParentType != parent.Type || status.ParentID != parent.ID {
			continue
		}
		if current == nil ||
			status.CreatedAt.After(current.CreatedAt) ||
			(status.CreatedAt.Equal(current.CreatedAt) && status.ID > current.ID) {
			current = status
		}
	}
	return current
}

func (s *Store) CurrentStatus(ctx context.Context, parent models.Ref) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.currentLocked(parent)
	if current == nil {
		return models.DefaultState(), nil
	}
	return current.Value, nil
}

func (s *Store) StatusHistory(ctx context.Context, parent models.Ref) ([]*models.WorkStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var statuses []*models.WorkStatus
	for _, status := range s.statuses {
		if status.ParentType == parent.Type && status.ParentID == parent.ID {
			clone := *status
			statuses = append(statuses, &clone)
		}
	}
	sort.Slice(statuses, func(i, j int) bool {
		if !statuses[i].CreatedAt.Equal(statuses[j].CreatedAt) {
			return statuses[i].CreatedAt.After(statuses[j].CreatedAt)
		}
		return statuses[i].ID > statuses[j].ID
	})
	return statuses, nil
}

func (s *Store) QueryByStatus(ctx context.Context, parentType string, values []string, negate bool) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currents := make(map[int64]*models.WorkStatus)
	for _, status := range s.statuses {
		if status.ParentType != parentType {
			continue
		}
		current, ok := currents[status.ParentID]
		if !ok ||
			status.CreatedAt.After(current.CreatedAt) ||
			(status.CreatedAt.Equal(current.CreatedAt) && status.ID > current.ID) {
			currents[status.ParentID] = status
		}
	}

	valueSet := make(map[string]struct{}, len(values))
	for _, v := range values {
		valueSet[v] = struct{}{}
	}

	var ids []int64
	for id, current := range currents {
		_, match := valueSet[current.Value]
		if match != negate {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ============================================
// NOTIFICATIONS
// ============================================

func (s *Store) CreateNotification(ctx context.Context, notification *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nextNotifID++
	notification.ID = s.nextNotifID
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	for i := range notification.Dispatches {
		s.nextDispatchID++
		d := &notification.Dispatches[i]
		d.ID = s.nextDispatchID
		d.NotificationID = notification.ID
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		clone := *d
		s.dispatches[d.ID] = &clone
	}

	clone := *notification
	clone.Dispatches = nil
	s.notifications[notification.ID] = &clone
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.notifications[id]
	if !ok {
		return nil, models.ErrNotificationNotFound
	}
	clone := *notification
	for _, d := range s.dispatches {
		if d.NotificationID == id {
			clone.Dispatches = append(clone.Dispatches, *d)
		}
	}
	sort.Slice(clone.Dispatches, func(i, j int) bool {
		return clone.Dispatches[i].ID < clone.Dispatches[j].ID
	})
	return &clone, nil
}

func (s *Store) MarkRead(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notification, ok := s.notifications[id]
	if !ok {
		return models.ErrNotificationNotFound
	}
	if notification.ReadAt == nil {
		stamp := at
		notification.ReadAt = &stamp
	}
	return nil
}

func (s *Store) GetDispatch(ctx context.Context, id int64) (*models.NotificationDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dispatch, ok := s.dispatches[id]
	if !ok {
		return nil, models.ErrDispatchNotFound
	}
	clone := *dispatch
	return &clone, nil
}

func (s *Store) DueDispatches(ctx context.Context, now time.Time) ([]*models.NotificationDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.NotificationDispatch
	for _, dispatch := range s.dispatches {
		if dispatch.Sent != nil || dispatch.Due.After(now) {
			continue
		}
		notification, ok := s.notifications[dispatch.NotificationID]
		if !ok || notification.ReadAt != nil {
			continue
		}
		clone := *dispatch
		due = append(due, &clone)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Due.Equal(due[j].Due) {
			return due[i].Due.Before(due[j].Due)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dispatch, ok := s.dispatches[id]
	if !ok {
		return models.ErrDispatchNotFound
	}
	if dispatch.Sent == nil {
		stamp := at
		dispatch.Sent = &stamp
	}
	return nil
}

func (s *Store) GetPreference(ctx context.Context, userID int64) (*models.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pref, ok := s.preferences[userID]
	if !ok {
		return nil, models.ErrPreferenceNotFound
	}
	clone := *pref
	return &clone, nil
}

func (s *Store) SetPreference(ctx context.Context, pref *models.NotificationPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.preferences[pref.UserID]; ok {
		pref.ID = existing.ID
		pref.CreatedAt = existing.CreatedAt
	} else {
		s.nextPrefID++
		pref.ID = s.nextPrefID
		if pref.CreatedAt.IsZero() {
			pref.CreatedAt = s.now()
		}
	}
	clone := *pref
	s.preferences[pref.UserID] = &clone
	return nil
}

// ============================================
// OUTBOX
// ============================================

func (s *Store) EnqueueTask(ctx context.Context, task *models.OutboxTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("outbox task without id")
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}
	clone := *task
	s.tasks[task.ID] = &clone
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

func (s *Store) PendingTasks(ctx context.Context, now time.Time, limit int) ([]*models.OutboxTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.OutboxTask
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if task.ShippedAt != nil || task.NextAttemptAt.After(now) {
			continue
		}
		clone := *task
		pending = append(pending, &clone)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkShipped(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	if task.ShippedAt == nil {
		stamp := at
		task.ShippedAt = &stamp
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, attemptErr string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.ErrTaskNotFound
	}
	task.Attempts++
	task.LastError = attemptErr
	task.NextAttemptAt = nextAttempt
	return nil
}

// ============================================
// STORE PLUMBING
// ============================================

// Transaction serialises fn against other transactions. Partial writes are
// not rolled back on error.
func (s *Store) Transaction(ctx context.Context, fn func(models.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{Store: s}
	return fn(tx)
}

// txStore marks a store handle as transaction-scoped.
type txStore struct {
	*Store
}

func (t *txStore) LockResource(ctx context.Context, ref models.Ref) error {
	return nil
}

func (t *txStore) Transaction(ctx context.Context, fn func(models.Store) error) error {
	return fn(t)
}

// LockResource fails outside a transaction, matching the SQL store.
func (s *Store) LockResource(ctx context.Context, ref models.Ref) error {
	return fmt.Errorf("LockResource called outside a transaction")
}

// Migrate is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

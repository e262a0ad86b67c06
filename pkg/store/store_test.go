package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorq/statorq/pkg/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()

	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "engine.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestCurrentStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ref := models.Ref{Type: "orders", ID: 1}

	t.Run("no history yields default state", func(t *testing.T) {
		value, err := s.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, models.FallbackDefaultState, value)
	})

	t.Run("latest created_at wins", func(t *testing.T) {
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
			ParentType: ref.Type, ParentID: ref.ID, Value: "state:CREATED", CreatedAt: base,
		}))
		require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
			ParentType: ref.Type, ParentID: ref.ID, Value: "state:SHIPPED", CreatedAt: base.Add(time.Minute),
		}))

		value, err := s.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "state:SHIPPED", value)
	})

	t.Run("equal created_at ties break by id", func(t *testing.T) {
		ref := models.Ref{Type: "orders", ID: 2}
		at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
			ParentType: ref.Type, ParentID: ref.ID, Value: "state:FIRST", CreatedAt: at,
		}))
		require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
			ParentType: ref.Type, ParentID: ref.ID, Value: "state:SECOND", CreatedAt: at,
		}))

		value, err := s.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "state:SECOND", value)
	})

	t.Run("other resources do not interfere", func(t *testing.T) {
		other := models.Ref{Type: "invoices", ID: 1}
		value, err := s.CurrentStatus(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, models.FallbackDefaultState, value)
	})
}

func TestStatusHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ref := models.Ref{Type: "orders", ID: 7}

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i, value := range []string{"state:CREATED", "state:PACKED", "state:SHIPPED"} {
		require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
			ParentType: ref.Type, ParentID: ref.ID, Value: value,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	history, err := s.StatusHistory(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "state:SHIPPED", history[0].Value)
	assert.Equal(t, "state:CREATED", history[2].Value)
}

func TestQueryByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	seed := func(id int64, values ...string) {
		for i, value := range values {
			require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
				ParentType: "orders", ParentID: id, Value: value,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
	}
	seed(1, "state:CREATED", "state:SHIPPED")
	seed(2, "state:CREATED")
	seed(3, "state:CREATED", "state:SHIPPED", "state:DELIVERED")

	t.Run("matches current status only", func(t *testing.T) {
		ids, err := s.QueryByStatus(ctx, "orders", []string{"state:SHIPPED"}, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, ids)
	})

	t.Run("multiple values", func(t *testing.T) {
		ids, err := s.QueryByStatus(ctx, "orders", []string{"state:SHIPPED", "state:DELIVERED"}, false)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids)
	})

	t.Run("negate", func(t *testing.T) {
		ids, err := s.QueryByStatus(ctx, "orders", []string{"state:SHIPPED"}, true)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, ids)
	})

	t.Run("no values", func(t *testing.T) {
		ids, err := s.QueryByStatus(ctx, "orders", nil, false)
		require.NoError(t, err)
		assert.Nil(t, ids)
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ref := models.Ref{Type: "orders", ID: 1}

	first := &models.ActivityEvent{
		ParentType: ref.Type, ParentID: ref.ID,
		Target: "order", Action: "created",
		CreatedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateEvent(ctx, first))

	second := &models.ActivityEvent{
		ParentType: ref.Type, ParentID: ref.ID,
		Target: "order", Action: "shipped",
		Data:      models.JSONMap{"carrier": "acme"},
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateEvent(ctx, second))

	t.Run("get", func(t *testing.T) {
		got, err := s.GetEvent(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, "order:shipped", got.Type())
		assert.Equal(t, "acme", got.Data["carrier"])
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.GetEvent(ctx, 9999)
		assert.ErrorIs(t, err, models.ErrEventNotFound)
	})

	t.Run("latest", func(t *testing.T) {
		got, err := s.LatestEvent(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("latest with no history", func(t *testing.T) {
		_, err := s.LatestEvent(ctx, models.Ref{Type: "orders", ID: 99})
		assert.ErrorIs(t, err, models.ErrEventNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		events, err := s.ListEvents(ctx, ref)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, second.ID, events[0].ID)
	})
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	enqueue := func(id string, createdAt, nextAt time.Time) {
		require.NoError(t, s.EnqueueTask(ctx, &models.OutboxTask{
			ID: id, URL: "http://engine.local/events/orders/1", Method: "POST",
			Body: []byte(`{}`), CreatedAt: createdAt, NextAttemptAt: nextAt,
		}))
	}
	enqueue("task-b", now.Add(-time.Minute), now.Add(-time.Minute))
	enqueue("task-a", now.Add(-2*time.Minute), now.Add(-2*time.Minute))
	enqueue("task-later", now.Add(-time.Minute), now.Add(time.Hour))

	t.Run("pending respects due time and creation order", func(t *testing.T) {
		tasks, err := s.PendingTasks(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "task-a", tasks[0].ID)
		assert.Equal(t, "task-b", tasks[1].ID)
	})

	t.Run("pending honours limit", func(t *testing.T) {
		tasks, err := s.PendingTasks(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "task-a", tasks[0].ID)
	})

	t.Run("mark shipped removes from pending", func(t *testing.T) {
		require.NoError(t, s.MarkShipped(ctx, "task-a", now))

		tasks, err := s.PendingTasks(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "task-b", tasks[0].ID)

		// Second stamp is a no-op, not an error.
		require.NoError(t, s.MarkShipped(ctx, "task-a", now.Add(time.Minute)))
	})

	t.Run("mark shipped unknown task", func(t *testing.T) {
		assert.ErrorIs(t, s.MarkShipped(ctx, "no-such-task", now), models.ErrTaskNotFound)
	})

	t.Run("mark failed reschedules with attempt count", func(t *testing.T) {
		next := now.Add(2 * time.Second)
		require.NoError(t, s.MarkFailed(ctx, "task-b", "connection refused", next))
		require.NoError(t, s.MarkFailed(ctx, "task-b", "connection refused", next))

		tasks, err := s.PendingTasks(ctx, next, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 2, tasks[0].Attempts)
		assert.Equal(t, "connection refused", tasks[0].LastError)

		// Not due before the rescheduled time.
		tasks, err = s.PendingTasks(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("mark failed unknown task", func(t *testing.T) {
		assert.ErrorIs(t, s.MarkFailed(ctx, "no-such-task", "boom", now), models.ErrTaskNotFound)
	})
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	notification := &models.Notification{
		UserID:  10,
		EventID: 1,
		Dispatches: []models.NotificationDispatch{
			{Channel: models.ChannelEmail, Address: "a@example.com", Due: now.Add(-time.Minute)},
			{Channel: models.ChannelSMS, Address: "+15550100", Due: now.Add(time.Hour)},
		},
	}
	require.NoError(t, s.CreateNotification(ctx, notification))
	require.NotZero(t, notification.ID)

	t.Run("get preloads dispatches", func(t *testing.T) {
		got, err := s.GetNotification(ctx, notification.ID)
		require.NoError(t, err)
		assert.Len(t, got.Dispatches, 2)
	})

	t.Run("due skips rows not yet due", func(t *testing.T) {
		due, err := s.DueDispatches(ctx, now)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, models.ChannelEmail, due[0].Channel)
	})

	t.Run("mark sent removes from due", func(t *testing.T) {
		emailID := notification.Dispatches[0].ID
		require.NoError(t, s.MarkSent(ctx, emailID, now))

		due, err := s.DueDispatches(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, due)

		dispatch, err := s.GetDispatch(ctx, emailID)
		require.NoError(t, err)
		require.NotNil(t, dispatch.Sent)
		first := *dispatch.Sent

		// Replay keeps the original stamp.
		require.NoError(t, s.MarkSent(ctx, emailID, now.Add(time.Hour)))
		dispatch, err = s.GetDispatch(ctx, emailID)
		require.NoError(t, err)
		assert.Equal(t, first, *dispatch.Sent)
	})

	t.Run("read notifications are excluded from due", func(t *testing.T) {
		require.NoError(t, s.MarkRead(ctx, notification.ID, now))

		due, err := s.DueDispatches(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		got, err := s.GetNotification(ctx, notification.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ReadAt)
		first := *got.ReadAt

		require.NoError(t, s.MarkRead(ctx, notification.ID, now.Add(time.Hour)))
		got, err = s.GetNotification(ctx, notification.ID)
		require.NoError(t, err)
		assert.Equal(t, first, *got.ReadAt)
	})

	t.Run("mark read unknown notification", func(t *testing.T) {
		assert.ErrorIs(t, s.MarkRead(ctx, 9999, now), models.ErrNotificationNotFound)
	})

	t.Run("get dispatch unknown", func(t *testing.T) {
		_, err := s.GetDispatch(ctx, 9999)
		assert.ErrorIs(t, err, models.ErrDispatchNotFound)
	})
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("missing preference", func(t *testing.T) {
		_, err := s.GetPreference(ctx, 42)
		assert.ErrorIs(t, err, models.ErrPreferenceNotFound)
	})

	t.Run("set and update", func(t *testing.T) {
		require.NoError(t, s.SetPreference(ctx, &models.NotificationPreference{
			UserID: 42, Channel: models.ChannelEmail, Frequency: models.FrequencyDaily,
		}))

		pref, err := s.GetPreference(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, models.FrequencyDaily, pref.Frequency)

		require.NoError(t, s.SetPreference(ctx, &models.NotificationPreference{
			UserID: 42, Channel: models.ChannelSMS, Frequency: models.FrequencyHourly,
		}))

		updated, err := s.GetPreference(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, pref.ID, updated.ID)
		assert.Equal(t, models.ChannelSMS, updated.Channel)
		assert.Equal(t, models.FrequencyHourly, updated.Frequency)
	})
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ref := models.Ref{Type: "orders", ID: 1}

	t.Run("rollback discards writes", func(t *testing.T) {
		sentinel := assert.AnError
		err := s.Transaction(ctx, func(tx models.Store) error {
			if err := tx.CreateStatus(ctx, &models.WorkStatus{
				ParentType: ref.Type, ParentID: ref.ID, Value: "state:SHIPPED",
			}); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		value, err := s.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, models.FallbackDefaultState, value)
	})

	t.Run("nested transaction joins the outer one", func(t *testing.T) {
		err := s.Transaction(ctx, func(tx models.Store) error {
			return tx.Transaction(ctx, func(inner models.Store) error {
				return inner.CreateStatus(ctx, &models.WorkStatus{
					ParentType: ref.Type, ParentID: ref.ID, Value: "state:SHIPPED",
				})
			})
		})
		require.NoError(t, err)

		value, err := s.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "state:SHIPPED", value)
	})

	t.Run("lock outside transaction is rejected", func(t *testing.T) {
		assert.Error(t, s.LockResource(ctx, ref))
	})

	t.Run("lock inside transaction is a no-op on sqlite", func(t *testing.T) {
		err := s.Transaction(ctx, func(tx models.Store) error {
			return tx.LockResource(ctx, ref)
		})
		assert.NoError(t, err)
	})
}

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/store"
)

// newPostgresStore starts a PostgreSQL container (or connects to an external
// instance via DATABASE_URL) and opens a migrated store against it.
func newPostgresStore(t *testing.T) *store.GORMStore {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("statorq_test"),
			postgres.WithUsername("statorq_test"),
			postgres.WithPassword("statorq_test"),
			testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		)
		require.NoError(t, err, "failed to start postgres container")
		t.Cleanup(func() { _ = container.Terminate(ctx) })

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "5432")
		require.NoError(t, err)

		url = fmt.Sprintf("postgres://statorq_test:statorq_test@%s:%d/statorq_test?sslmode=disable",
			host, port.Int())
	}

	s, err := store.New(&store.Config{
		Type:     store.DatabaseTypePostgres,
		Postgres: store.PostgresConfig{URL: url},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStatusFlow(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	ref := models.Ref{Type: "orders", ID: 1}

	value, err := s.CurrentStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.FallbackDefaultState, value)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
		ParentType: ref.Type, ParentID: ref.ID, Value: "state:CREATED", CreatedAt: at,
	}))
	require.NoError(t, s.CreateStatus(ctx, &models.WorkStatus{
		ParentType: ref.Type, ParentID: ref.ID, Value: "state:SHIPPED", CreatedAt: at,
	}))

	// Equal timestamps tie-break by id.
	value, err = s.CurrentStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "state:SHIPPED", value)

	ids, err := s.QueryByStatus(ctx, "orders", []string{"state:SHIPPED"}, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	ids, err = s.QueryByStatus(ctx, "orders", []string{"state:SHIPPED"}, true)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPostgresAdvisoryLockSerialises(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	ref := models.Ref{Type: "orders", ID: 42}

	// Two concurrent transactions appending under the same resource lock;
	// both must land, serialised, without deadlocking.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- s.Transaction(ctx, func(tx models.Store) error {
				if err := tx.LockResource(ctx, ref); err != nil {
					return err
				}
				value, err := tx.CurrentStatus(ctx, ref)
				if err != nil {
					return err
				}
				_ = value
				return tx.CreateStatus(ctx, &models.WorkStatus{
					ParentType: ref.Type, ParentID: ref.ID,
					Value: fmt.Sprintf("state:STEP%d", n),
				})
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := s.StatusHistory(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPostgresOutboxRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.EnqueueTask(ctx, &models.OutboxTask{
		ID:     "task-pg-1",
		URL:    "http://hooks.local/x",
		Method: "POST",
		Body:   []byte(`{"event_id":1}`),
		Headers: models.JSONMap{
			"X-Engine-Api-Key": "secret",
		},
	}))

	tasks, err := s.PendingTasks(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "secret", tasks[0].Headers["X-Engine-Api-Key"])
	assert.Equal(t, `{"event_id":1}`, string(tasks[0].Body))

	require.NoError(t, s.MarkFailed(ctx, "task-pg-1", "timeout", now.Add(time.Minute)))
	tasks, err = s.PendingTasks(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, s.MarkShipped(ctx, "task-pg-1", now))
	tasks, err = s.PendingTasks(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPostgresNotifications(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	now := time.Now().UTC()

	notification := &models.Notification{
		UserID:  1,
		EventID: 1,
		Dispatches: []models.NotificationDispatch{
			{Channel: models.ChannelEmail, Address: "a@example.com", Due: now.Add(-time.Minute)},
		},
	}
	require.NoError(t, s.CreateNotification(ctx, notification))

	due, err := s.DueDispatches(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.MarkRead(ctx, notification.ID, now))
	due, err = s.DueDispatches(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

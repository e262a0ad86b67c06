package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/internal/telemetry"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/torque"
)

// Endpoints are one channel's delivery URLs. BatchURL may be empty; groups
// then degrade to sequential single sends.
type Endpoints struct {
	SingleURL string `mapstructure:"single_url"`
	BatchURL  string `mapstructure:"batch_url"`
}

// RunReport summarises one executor pass.
type RunReport struct {
	Considered int `json:"considered"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Executor delivers due notification dispatches. Delivery is at-least-once:
// rows are stamped sent only on a 2xx response, and unstamped rows are
// retried by the next pass.
type Executor struct {
	store      models.Store
	dispatcher torque.Dispatcher
	endpoints  map[string]Endpoints
	apiKey     string
	metrics    *metrics.NotificationMetrics
	now        func() time.Time
}

// NewExecutor creates an executor delivering through dispatcher, typically a
// torque.DirectDispatcher.
func NewExecutor(store models.Store, dispatcher torque.Dispatcher, endpoints map[string]Endpoints, apiKey string, m *metrics.NotificationMetrics) *Executor {
	return &Executor{
		store:      store,
		dispatcher: dispatcher,
		endpoints:  endpoints,
		apiKey:     apiKey,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock pins the executor's clock. For tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Run performs one delivery pass: in a single transaction, find unsent rows
// whose due time has elapsed and whose notification is unread, group them by
// user then channel, and deliver each group through the channel's single or
// batch endpoint.
func (e *Executor) Run(ctx context.Context) (*RunReport, error) {
	ctx, span := telemetry.StartNotifySpan(ctx, telemetry.SpanNotifyRun)
	defer span.End()

	report := &RunReport{}

	err := e.store.Transaction(ctx, func(tx models.Store) error {
		due, err := tx.DueDispatches(ctx, e.now())
		if err != nil {
			return err
		}
		report.Considered = len(due)
		if len(due) == 0 {
			return nil
		}

		groups, err := e.groupByUserChannel(ctx, tx, due)
		if err != nil {
			return err
		}

		for _, group := range groups {
			var sent int
			var sendErr error
			if len(group.dispatches) == 1 || e.endpoints[group.channel].BatchURL == "" {
				sent, sendErr = e.sendSequential(ctx, tx, group.dispatches)
			} else {
				sent, sendErr = e.sendBatch(ctx, tx, group)
			}
			report.Sent += sent
			report.Failed += len(group.dispatches) - sent
			if sendErr != nil {
				logger.Warn("Notification group delivery failed",
					logger.KeyUserID, group.userID,
					logger.KeyChannel, group.channel,
					logger.KeyCount, len(group.dispatches),
					logger.KeyError, sendErr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Notification executor pass complete",
		logger.KeyCount, report.Considered,
		"sent", report.Sent,
		"failed", report.Failed)
	return report, nil
}

// group is all of one user's due dispatches for one channel.
type group struct {
	userID     int64
	channel    string
	dispatches []*models.NotificationDispatch
}

func (e *Executor) groupByUserChannel(ctx context.Context, tx models.Store, due []*models.NotificationDispatch) ([]*group, error) {
	notifications := make(map[int64]*models.Notification)
	byKey := make(map[string]*group)
	var keys []string

	for _, dispatch := range due {
		notification, ok := notifications[dispatch.NotificationID]
		if !ok {
			var err error
			notification, err = tx.GetNotification(ctx, dispatch.NotificationID)
			if err != nil {
				return nil, err
			}
			notifications[dispatch.NotificationID] = notification
		}

		key := fmt.Sprintf("%d/%s", notification.UserID, dispatch.Channel)
		g, ok := byKey[key]
		if !ok {
			g = &group{userID: notification.UserID, channel: dispatch.Channel}
			byKey[key] = g
			keys = append(keys, key)
		}
		g.dispatches = append(g.dispatches, dispatch)
	}

	sort.Strings(keys)
	groups := make([]*group, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, byKey[key])
	}
	return groups, nil
}

func (e *Executor) sendSequential(ctx context.Context, tx models.Store, dispatches []*models.NotificationDispatch) (int, error) {
	sent := 0
	var firstErr error
	for _, dispatch := range dispatches {
		if err := e.SendDispatch(ctx, tx, dispatch); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// SendDispatch delivers one dispatch through its channel's single endpoint
// and stamps it sent on a 2xx response.
func (e *Executor) SendDispatch(ctx context.Context, tx models.Store, dispatch *models.NotificationDispatch) error {
	endpoints, ok := e.endpoints[dispatch.Channel]
	if !ok || endpoints.SingleURL == "" {
		return fmt.Errorf("no single endpoint for channel %q", dispatch.Channel)
	}

	body, err := json.Marshal(map[string]any{
		"notification_dispatch_id": dispatch.ID,
		"channel":                  dispatch.Channel,
		"address":                  dispatch.Address,
		"view":                     dispatch.View,
		"spec":                     dispatch.SingleSpec,
	})
	if err != nil {
		return err
	}

	receipt, err := e.dispatch(ctx, endpoints.SingleURL, body)
	if err != nil {
		return err
	}
	if receipt.Status >= 300 {
		return fmt.Errorf("single delivery returned status %d", receipt.Status)
	}

	if err := tx.MarkSent(ctx, dispatch.ID, e.now()); err != nil {
		return err
	}
	e.metrics.RecordDelivered(dispatch.Channel, "single")
	return nil
}

// sendBatch delivers a group through the channel's batch endpoint. The batch
// payload identifies the user, the channel and the dispatch rows; the
// receiver renders them with the rows' batch specs.
func (e *Executor) sendBatch(ctx context.Context, tx models.Store, g *group) (int, error) {
	ids := make([]int64, 0, len(g.dispatches))
	for _, dispatch := range g.dispatches {
		ids = append(ids, dispatch.ID)
	}

	body, err := json.Marshal(map[string]any{
		"user_id":                   g.userID,
		"channel":                   g.channel,
		"address":                   g.dispatches[0].Address,
		"view":                      g.dispatches[0].View,
		"spec":                      g.dispatches[0].BatchSpec,
		"notification_dispatch_ids": ids,
	})
	if err != nil {
		return 0, err
	}

	receipt, err := e.dispatch(ctx, e.endpoints[g.channel].BatchURL, body)
	if err != nil {
		return 0, err
	}
	if receipt.Status >= 300 {
		return 0, fmt.Errorf("batch delivery returned status %d", receipt.Status)
	}

	now := e.now()
	for _, dispatch := range g.dispatches {
		if err := tx.MarkSent(ctx, dispatch.ID, now); err != nil {
			return 0, err
		}
	}
	e.metrics.RecordDelivered(g.channel, "batch")
	return len(g.dispatches), nil
}

// SendGroup delivers the identified dispatches as one user/channel group:
// through the channel's batch endpoint when it has one and the group holds
// more than one unsent row, sequentially otherwise. Already-sent rows are
// skipped. Returns the number of rows delivered.
func (e *Executor) SendGroup(ctx context.Context, tx models.Store, userID int64, channel string, ids []int64) (int, error) {
	g := &group{userID: userID, channel: channel}
	for _, id := range ids {
		dispatch, err := tx.GetDispatch(ctx, id)
		if err != nil {
			return 0, err
		}
		if dispatch.Sent != nil || dispatch.Channel != channel {
			continue
		}
		g.dispatches = append(g.dispatches, dispatch)
	}
	if len(g.dispatches) == 0 {
		return 0, nil
	}
	if len(g.dispatches) == 1 || e.endpoints[channel].BatchURL == "" {
		return e.sendSequential(ctx, tx, g.dispatches)
	}
	return e.sendBatch(ctx, tx, g)
}

func (e *Executor) dispatch(ctx context.Context, url string, body []byte) (*torque.Receipt, error) {
	d := &torque.Dispatch{URL: url, Body: body}
	if e.apiKey != "" {
		d.Headers = map[string]string{torque.HooksAPIKeyHeader: e.apiKey}
	}
	return e.dispatcher.Dispatch(ctx, d)
}

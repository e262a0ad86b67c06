// Package notify materialises per-user notification dispatches and delivers
// them through per-channel endpoints, immediately or batched by the user's
// frequency preference.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
)

// ChannelSpec describes how one channel renders a notification.
type ChannelSpec struct {
	View       string
	SingleSpec string
	BatchSpec  string
}

// DispatchMapping maps channel names to their render specs. One dispatch row
// is created per entry.
type DispatchMapping map[string]ChannelSpec

// AddressBook resolves a user's delivery address for a channel.
type AddressBook interface {
	Address(ctx context.Context, userID int64, channel string) (string, error)
}

// AddressFunc adapts a function to AddressBook.
type AddressFunc func(ctx context.Context, userID int64, channel string) (string, error)

// Address implements AddressBook.
func (f AddressFunc) Address(ctx context.Context, userID int64, channel string) (string, error) {
	return f(ctx, userID, channel)
}

// NormaliseDue maps (now, frequency) to a dispatch due time:
//
//	immediate: now
//	hourly:    next top of hour
//	daily:     today 20:00 if now is before it, else tomorrow 20:00
//
// Daily rollover uses calendar arithmetic, so month and year boundaries are
// handled.
func NormaliseDue(now time.Time, frequency string) time.Time {
	now = now.UTC()
	switch frequency {
	case models.FrequencyHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case models.FrequencyDaily:
		evening := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, time.UTC)
		if now.Before(evening) {
			return evening
		}
		return evening.AddDate(0, 0, 1)
	default:
		return now
	}
}

// Factory creates notifications and their dispatch rows.
type Factory struct {
	book     AddressBook
	executor *Executor
	metrics  *metrics.NotificationMetrics
	now      func() time.Time
}

// NewFactory creates a factory. executor may be nil to disable opportunistic
// immediate delivery.
func NewFactory(book AddressBook, executor *Executor, m *metrics.NotificationMetrics) *Factory {
	return &Factory{
		book:     book,
		executor: executor,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock pins the factory's clock. For tests.
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// Create materialises a notification for user about event: one dispatch row
// per mapping entry, due per the user's frequency preference plus delay.
// Users without a preference get the default (email, immediate). Rows already
// due are handed to the executor's send-now path opportunistically.
func (f *Factory) Create(ctx context.Context, store models.Store, userID, eventID int64, mapping DispatchMapping, delay time.Duration) (*models.Notification, error) {
	if len(mapping) == 0 {
		return nil, fmt.Errorf("empty dispatch mapping")
	}

	pref, err := f.ensurePreference(ctx, store, userID)
	if err != nil {
		return nil, err
	}

	now := f.now()
	due := NormaliseDue(now, pref.Frequency).Add(delay)

	notification := &models.Notification{
		UserID:  userID,
		EventID: eventID,
	}
	for _, channel := range models.Channels {
		spec, ok := mapping[channel]
		if !ok {
			continue
		}
		address, err := f.book.Address(ctx, userID, channel)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s address for user %d: %w", channel, userID, err)
		}
		notification.Dispatches = append(notification.Dispatches, models.NotificationDispatch{
			Channel:    channel,
			Address:    address,
			View:       spec.View,
			SingleSpec: spec.SingleSpec,
			BatchSpec:  spec.BatchSpec,
			Due:        due,
		})
	}
	if len(notification.Dispatches) == 0 {
		return nil, fmt.Errorf("dispatch mapping has no known channel")
	}

	if err := store.CreateNotification(ctx, notification); err != nil {
		return nil, err
	}
	for _, d := range notification.Dispatches {
		f.metrics.RecordCreated(d.Channel)
	}

	if f.executor != nil && !due.After(now) {
		for i := range notification.Dispatches {
			d := &notification.Dispatches[i]
			if err := f.executor.SendDispatch(ctx, store, d); err != nil {
				// The periodic pass retries; creation succeeded.
				logger.Warn("Opportunistic notification send failed",
					logger.KeyDispatchID, d.ID,
					logger.KeyChannel, d.Channel,
					logger.KeyError, err)
			}
		}
	}

	return notification, nil
}

// ensurePreference returns the user's preference, creating the default
// (email, immediate) when none exists.
func (f *Factory) ensurePreference(ctx context.Context, store models.Store, userID int64) (*models.NotificationPreference, error) {
	pref, err := store.GetPreference(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, models.ErrPreferenceNotFound) {
		return nil, err
	}

	pref = &models.NotificationPreference{
		UserID:    userID,
		Channel:   models.ChannelEmail,
		Frequency: models.FrequencyImmediate,
	}
	if err := store.SetPreference(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

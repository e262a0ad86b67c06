package store

import (
	"context"
	"time"

	"github.com/statorq/statorq/pkg/models"
)

// ============================================
// NOTIFICATION OPERATIONS
// ============================================

func (s *GORMStore) CreateNotification(ctx context.Context, notification *models.Notification) error {
	now := time.Now().UTC()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	for i := range notification.Dispatches {
		if notification.Dispatches[i].CreatedAt.IsZero() {
			notification.Dispatches[i].CreatedAt = now
		}
	}
	return s.db.WithContext(ctx).Create(notification).Error
}

func (s *GORMStore) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	var notification models.Notification
	err := s.db.WithContext(ctx).
		Preload("Dispatches").
		Where("id = ?", id).
		First(&notification).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrNotificationNotFound)
	}
	return &notification, nil
}

// MarkRead stamps ReadAt once; later calls leave the original stamp.
func (s *GORMStore) MarkRead(ctx context.Context, id int64, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either missing or already read; distinguish for the caller.
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.ErrNotificationNotFound
		}
	}
	return nil
}

func (s *GORMStore) GetDispatch(ctx context.Context, id int64) (*models.NotificationDispatch, error) {
	var dispatch models.NotificationDispatch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&dispatch).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrDispatchNotFound)
	}
	return &dispatch, nil
}

// DueDispatches returns unsent dispatches whose due time has elapsed and
// whose parent notification is still unread, oldest first.
func (s *GORMStore) DueDispatches(ctx context.Context, now time.Time) ([]*models.NotificationDispatch, error) {
	var dispatches []*models.NotificationDispatch
	err := s.db.WithContext(ctx).
		Table("notification_dispatches AS d").
		Select("d.*").
		Joins("JOIN notifications n ON n.id = d.notification_id").
		Where("d.sent IS NULL AND d.due <= ? AND n.read_at IS NULL", now).
		Order("d.due ASC, d.id ASC").
		Scan(&dispatches).Error
	if err != nil {
		return nil, err
	}
	return dispatches, nil
}

func (s *GORMStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.NotificationDispatch{}).
		Where("id = ? AND sent IS NULL", id).
		Update("sent", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.NotificationDispatch{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.ErrDispatchNotFound
		}
	}
	return nil
}

func (s *GORMStore) GetPreference(ctx context.Context, userID int64) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrPreferenceNotFound)
	}
	return &pref, nil
}

func (s *GORMStore) SetPreference(ctx context.Context, pref *models.NotificationPreference) error {
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = time.Now().UTC()
	}

	var existing models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", pref.UserID).First(&existing).Error
	if err == nil {
		pref.ID = existing.ID
		pref.CreatedAt = existing.CreatedAt
		return s.db.WithContext(ctx).Model(&existing).
			Select("Channel", "Frequency").
			Updates(pref).Error
	}
	if convertNotFoundError(err, models.ErrPreferenceNotFound) != models.ErrPreferenceNotFound {
		return err
	}
	return s.db.WithContext(ctx).Create(pref).Error
}

package store

import (
	"context"
	"time"

	"github.com/statorq/statorq/pkg/models"
)

// ============================================
// ACTIVITY EVENT OPERATIONS
// ============================================

func (s *GORMStore) CreateEvent(ctx context.Context, event *models.ActivityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Data == nil {
		event.Data = models.JSONMap{}
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GORMStore) GetEvent(ctx context.Context, id int64) (*models.ActivityEvent, error) {
	var event models.ActivityEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrEventNotFound)
	}
	return &event, nil
}

func (s *GORMStore) ListEvents(ctx context.Context, parent models.Ref) ([]*models.ActivityEvent, error) {
	var events []*models.ActivityEvent
	err := s.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parent.Type, parent.ID).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GORMStore) LatestEvent(ctx context.Context, parent models.Ref) (*models.ActivityEvent, error) {
	var event models.ActivityEvent
	err := s.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parent.Type, parent.ID).
		Order("created_at DESC, id DESC").
		First(&event).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrEventNotFound)
	}
	return &event, nil
}

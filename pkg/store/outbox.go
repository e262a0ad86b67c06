package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/statorq/statorq/pkg/models"
)

// ============================================
// OUTBOX OPERATIONS
// ============================================

func (s *GORMStore) EnqueueTask(ctx context.Context, task *models.OutboxTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *GORMStore) PendingTasks(ctx context.Context, now time.Time, limit int) ([]*models.OutboxTask, error) {
	var tasks []*models.OutboxTask
	err := s.db.WithContext(ctx).
		Where("shipped_at IS NULL AND next_attempt_at <= ?", now).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *GORMStore) MarkShipped(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.OutboxTask{}).
		Where("id = ? AND shipped_at IS NULL", id).
		Update("shipped_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.OutboxTask{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.ErrTaskNotFound
		}
	}
	return nil
}

func (s *GORMStore) MarkFailed(ctx context.Context, id string, attemptErr string, nextAttempt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.OutboxTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      attemptErr,
			"next_attempt_at": nextAttempt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

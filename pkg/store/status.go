package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/statorq/statorq/pkg/models"
)

// ============================================
// WORK STATUS OPERATIONS
// ============================================

func (s *GORMStore) CreateStatus(ctx context.Context, status *models.WorkStatus) error {
	if status.CreatedAt.IsZero() {
		status.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(status).Error
}

// CurrentStatus returns the value of the status row with the greatest
// (created_at, id) for the resource, or the default state when it has no
// history.
func (s *GORMStore) CurrentStatus(ctx context.Context, parent models.Ref) (string, error) {
	var status models.WorkStatus
	err := s.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parent.Type, parent.ID).
		Order("created_at DESC, id DESC").
		First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultState(), nil
		}
		return "", err
	}
	return status.Value, nil
}

func (s *GORMStore) StatusHistory(ctx context.Context, parent models.Ref) ([]*models.WorkStatus, error) {
	var statuses []*models.WorkStatus
	err := s.db.WithContext(ctx).
		Where("parent_type = ? AND parent_id = ?", parent.Type, parent.ID).
		Order("created_at DESC, id DESC").
		Find(&statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// QueryByStatus finds resources by their current status with a correlated
// antijoin: a row is current iff no other row for the same resource has a
// greater (created_at, id). Ties break by id, matching CurrentStatus.
func (s *GORMStore) QueryByStatus(ctx context.Context, parentType string, values []string, negate bool) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}

	match := "s.value IN ?"
	if negate {
		match = "s.value NOT IN ?"
	}

	var ids []int64
	err := s.db.WithContext(ctx).
		Table("work_statuses AS s").
		Select("s.parent_id").
		Where("s.parent_type = ?", parentType).
		Where(match, values).
		Where(`NOT EXISTS (
			SELECT 1 FROM work_statuses s2
			WHERE s2.parent_type = s.parent_type
			  AND s2.parent_id = s.parent_id
			  AND (s2.created_at > s.created_at
			       OR (s2.created_at = s.created_at AND s2.id > s.id))
		)`).
		Order("s.parent_id").
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

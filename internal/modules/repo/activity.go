package repo

import (
	"context"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ActivityRepo interface {
	Create(ctx context.Context, a *model.Activity) error
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*model.Activity, error)
}

type activityRepo struct{ db *gorm.DB }

func NewActivityRepo(db *gorm.DB) ActivityRepo {
	return &activityRepo{db: db}
}

func (r *activityRepo) Create(ctx context.Context, a *model.Activity) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *activityRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*model.Activity, error) {
	q := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC")
	// Only apply limit if limit > 0
	if limit > 0 {
		q = q.Limit(limit)
	}

	var items []*model.Activity
	return items, q.Find(&items).Error
}

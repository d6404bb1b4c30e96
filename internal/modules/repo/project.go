package repo

import (
	"context"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	GetMember(ctx context.Context, projectID uuid.UUID, userID uuid.UUID) (*model.ProjectMember, error)
	UpsertMember(ctx context.Context, m *model.ProjectMember) error
}

type projectRepo struct{ db *gorm.DB }

func NewProjectRepo(db *gorm.DB) ProjectRepo {
	return &projectRepo{db: db}
}

func (r *projectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepo) GetMember(ctx context.Context, projectID uuid.UUID, userID uuid.UUID) (*model.ProjectMember, error) {
	var m model.ProjectMember
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *projectRepo) UpsertMember(ctx context.Context, m *model.ProjectMember) error {
	return r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", m.ProjectID, m.UserID).
		Assign(model.ProjectMember{Role: m.Role}).
		FirstOrCreate(m).Error
}

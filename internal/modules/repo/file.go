package repo

import (
	"context"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileRepo interface {
	Create(ctx context.Context, f *model.ProjectFile) error
	GetByPath(ctx context.Context, projectID uuid.UUID, path string) (*model.ProjectFile, error)
	ExistsByPath(ctx context.Context, projectID uuid.UUID, path string) (bool, error)
	// UpdateContent returns the number of rows touched; zero means no such file.
	UpdateContent(ctx context.Context, projectID uuid.UUID, path string, content string, size int64, authorID *uuid.UUID) (int64, error)
	Rename(ctx context.Context, projectID uuid.UUID, path string, newPath string, actorID *uuid.UUID) (int64, error)
	DeleteByPath(ctx context.Context, projectID uuid.UUID, path string) (int64, error)
	ListPaths(ctx context.Context, projectID uuid.UUID) ([]string, error)
}

type fileRepo struct{ db *gorm.DB }

func NewFileRepo(db *gorm.DB) FileRepo {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.ProjectFile) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *fileRepo) GetByPath(ctx context.Context, projectID uuid.UUID, path string) (*model.ProjectFile, error) {
	var file model.ProjectFile
	err := r.db.WithContext(ctx).Where("project_id = ? AND path = ?", projectID, path).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepo) ExistsByPath(ctx context.Context, projectID uuid.UUID, path string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ProjectFile{}).
		Where("project_id = ? AND path = ?", projectID, path).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *fileRepo) UpdateContent(ctx context.Context, projectID uuid.UUID, path string, content string, size int64, authorID *uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ProjectFile{}).
		Where("project_id = ? AND path = ?", projectID, path).
		Updates(map[string]interface{}{
			"content":          content,
			"size":             size,
			"last_modified_by": authorID,
		})
	return res.RowsAffected, res.Error
}

func (r *fileRepo) Rename(ctx context.Context, projectID uuid.UUID, path string, newPath string, actorID *uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ProjectFile{}).
		Where("project_id = ? AND path = ?", projectID, path).
		Updates(map[string]interface{}{
			"path":             newPath,
			"last_modified_by": actorID,
		})
	return res.RowsAffected, res.Error
}

func (r *fileRepo) DeleteByPath(ctx context.Context, projectID uuid.UUID, path string) (int64, error) {
	res := r.db.WithContext(ctx).Where("project_id = ? AND path = ?", projectID, path).Delete(&model.ProjectFile{})
	return res.RowsAffected, res.Error
}

func (r *fileRepo) ListPaths(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).
		Model(&model.ProjectFile{}).
		Where("project_id = ?", projectID).
		Order("path ASC").
		Pluck("path", &paths).Error
	if err != nil {
		return nil, err
	}
	return paths, nil
}

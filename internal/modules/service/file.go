package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/repo"
	"github.com/codecanvas-io/collab/internal/pkg/utils/mime"
	pathutil "github.com/codecanvas-io/collab/internal/pkg/utils/path"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FileService persists project files. Paths are normalized before use.
type FileService interface {
	UpdateFile(ctx context.Context, projectID, path, content, authorID string) error
	CreateFile(ctx context.Context, projectID, path, content, authorID string) (*model.ProjectFile, error)
	DeleteFile(ctx context.Context, projectID, path, actorID string) error
	RenameFile(ctx context.Context, projectID, path, newPath, actorID string) (*model.ProjectFile, error)
	ListPaths(ctx context.Context, projectID uuid.UUID) ([]string, error)
}

type fileService struct {
	r repo.FileRepo
}

func NewFileService(r repo.FileRepo) FileService {
	return &fileService{r: r}
}

func (s *fileService) UpdateFile(ctx context.Context, projectID, path, content, authorID string) error {
	pid, p, err := parseTarget(projectID, path)
	if err != nil {
		return err
	}
	n, err := s.r.UpdateContent(ctx, pid, p, content, int64(len(content)), optionalID(authorID))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (s *fileService) CreateFile(ctx context.Context, projectID, path, content, authorID string) (*model.ProjectFile, error) {
	pid, p, err := parseTarget(projectID, path)
	if err != nil {
		return nil, err
	}
	exists, err := s.r.ExistsByPath(ctx, pid, p)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrFileExists
	}

	f := &model.ProjectFile{
		ProjectID:      pid,
		Path:           p,
		Content:        content,
		MimeType:       mime.Detect(p, []byte(content)),
		Size:           int64(len(content)),
		LastModifiedBy: optionalID(authorID),
	}
	if err := s.r.Create(ctx, f); err != nil {
		// lost a race with a concurrent create
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrFileExists
		}
		return nil, err
	}
	return f, nil
}

func (s *fileService) DeleteFile(ctx context.Context, projectID, path, actorID string) error {
	pid, p, err := parseTarget(projectID, path)
	if err != nil {
		return err
	}
	n, err := s.r.DeleteByPath(ctx, pid, p)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (s *fileService) RenameFile(ctx context.Context, projectID, path, newPath, actorID string) (*model.ProjectFile, error) {
	pid, from, err := parseTarget(projectID, path)
	if err != nil {
		return nil, err
	}
	to, err := pathutil.NormalizePath(newPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if from == to {
		return nil, fmt.Errorf("%w: new path equals old path", ErrInvalidPath)
	}

	exists, err := s.r.ExistsByPath(ctx, pid, to)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrFileExists
	}

	n, err := s.r.Rename(ctx, pid, from, to, optionalID(actorID))
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrFileExists
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrFileNotFound
	}
	return s.r.GetByPath(ctx, pid, to)
}

func (s *fileService) ListPaths(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	return s.r.ListPaths(ctx, projectID)
}

func parseTarget(projectID, path string) (uuid.UUID, string, error) {
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return uuid.Nil, "", ErrProjectNotFound
	}
	p, err := pathutil.NormalizePath(path)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return pid, p, nil
}

// optionalID parses id, returning nil for an empty or malformed value.
func optionalID(id string) *uuid.UUID {
	if id == "" {
		return nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &u
}

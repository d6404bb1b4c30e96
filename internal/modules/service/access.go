package service

import (
	"context"
	"errors"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/repo"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessService decides who may read or write a project.
//
// The owner may do anything. Members may do what their role grants. Anyone
// authenticated may read a public project.
type AccessService interface {
	CanAccess(ctx context.Context, userID, projectID string, action model.Access) (bool, error)
}

type accessService struct {
	projects repo.ProjectRepo
}

func NewAccessService(projects repo.ProjectRepo) AccessService {
	return &accessService{projects: projects}
}

func (s *accessService) CanAccess(ctx context.Context, userID, projectID string, action model.Access) (bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return false, ErrProjectNotFound
	}

	p, err := s.projects.GetByID(ctx, pid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrProjectNotFound
		}
		return false, err
	}
	if p.OwnerID == uid {
		return true, nil
	}

	m, err := s.projects.GetMember(ctx, pid, uid)
	switch {
	case err == nil:
		if m.Grants(action) {
			return true, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	return p.IsPublic && action == model.AccessRead, nil
}

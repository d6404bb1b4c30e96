package service

import (
	"context"
	"time"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 200
)

// EventPublisher fans activity out to downstream consumers.
type EventPublisher interface {
	PublishJSON(ctx context.Context, exchangeName string, routingKey string, body any) error
}

type ActivityService interface {
	RecordActivity(ctx context.Context, projectID, kind, actorID string, details map[string]any) error
	List(ctx context.Context, projectID uuid.UUID, limit int) ([]*model.Activity, error)
}

type activityService struct {
	r        repo.ActivityRepo
	pub      EventPublisher
	exchange string
	log      *zap.Logger
}

// NewActivityService returns an ActivityService. A nil pub disables
// publishing.
func NewActivityService(r repo.ActivityRepo, pub EventPublisher, exchange string, log *zap.Logger) ActivityService {
	return &activityService{r: r, pub: pub, exchange: exchange, log: log}
}

// ActivityMessage is the body published for every recorded activity. The
// routing key is "activity.<kind>".
type ActivityMessage struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	Kind      string         `json:"kind"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *activityService) RecordActivity(ctx context.Context, projectID, kind, actorID string, details map[string]any) error {
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return ErrProjectNotFound
	}
	a := &model.Activity{
		ProjectID: pid,
		Kind:      kind,
		ActorID:   optionalID(actorID),
		Details:   datatypes.JSONMap(details),
	}
	if err := s.r.Create(ctx, a); err != nil {
		return err
	}

	if s.pub == nil {
		return nil
	}
	msg := ActivityMessage{
		ID:        a.ID,
		ProjectID: a.ProjectID,
		Kind:      a.Kind,
		ActorID:   a.ActorID,
		Details:   details,
		CreatedAt: a.CreatedAt,
	}
	if err := s.pub.PublishJSON(ctx, s.exchange, "activity."+kind, msg); err != nil {
		// the row is the record of truth
		s.log.Warn("publish activity failed",
			zap.String("project", projectID),
			zap.String("kind", kind),
			zap.Error(err))
	}
	return nil
}

func (s *activityService) List(ctx context.Context, projectID uuid.UUID, limit int) ([]*model.Activity, error) {
	switch {
	case limit <= 0:
		limit = DefaultActivityLimit
	case limit > MaxActivityLimit:
		limit = MaxActivityLimit
	}
	return s.r.ListByProject(ctx, projectID, limit)
}

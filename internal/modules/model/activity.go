package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Activity struct {
	ID        uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID         `gorm:"type:uuid;not null;index:idx_activity_project_created_at,priority:1" json:"project_id"`
	Kind      string            `gorm:"type:text;not null" json:"kind"`
	ActorID   *uuid.UUID        `gorm:"type:uuid;index" json:"actor_id"`
	Details   datatypes.JSONMap `gorm:"type:jsonb" swaggertype:"object" json:"details"`

	CreatedAt time.Time `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP;index:idx_activity_project_created_at,priority:2" json:"created_at"`

	// Activity <-> Project
	Project *Project `gorm:"foreignKey:ProjectID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Activity) TableName() string { return "activities" }

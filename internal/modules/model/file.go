package model

import (
	"time"

	"github.com/google/uuid"
)

type ProjectFile struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_file_path,priority:1" json:"project_id"`
	Path      string    `gorm:"type:text;not null;uniqueIndex:idx_project_file_path,priority:2" json:"path"`
	Content   string    `gorm:"type:text;not null;default:''" json:"content"`
	MimeType  string    `gorm:"type:text" json:"mime_type"`
	Size      int64     `gorm:"not null;default:0" json:"size"`

	LastModifiedBy *uuid.UUID `gorm:"type:uuid" json:"last_modified_by"`

	CreatedAt time.Time `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// ProjectFile <-> Project
	Project *Project `gorm:"foreignKey:ProjectID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (ProjectFile) TableName() string { return "project_files" }

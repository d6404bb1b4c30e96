package relay

import (
	"time"

	"github.com/codecanvas-io/collab/internal/pkg/transform"
)

const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventUserInactive   = "user-inactive"
	EventActiveUsers    = "active-users"
	EventCursorMove     = "cursor-move"
	EventPresenceUpdate = "presence-update"
	EventCodeChange     = "code-change"
	EventFileOperation  = "file-operation"
)

// Event is one outbound message. Data is marshalled as-is by the transport.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

type UserLeftPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	ProjectID    string `json:"projectId"`
	Username     string `json:"username,omitempty"`
}

type ActiveUsersPayload struct {
	ProjectID string    `json:"projectId"`
	Users     []Session `json:"users"`
}

type CursorMovePayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username,omitempty"`
	Cursor
}

type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Status       Status `json:"status"`
}

type CodeChangePayload struct {
	ConnectionID    string              `json:"connectionId"`
	UserID          string              `json:"userId"`
	FilePath        string              `json:"filePath"`
	Operation       transform.Operation `json:"operation"`
	Content         string              `json:"content"`
	Position        Position            `json:"position"`
	ClientTimestamp int64               `json:"clientTimestamp"`
}

type FileInfo struct {
	Path      string    `json:"path"`
	MimeType  string    `json:"mimeType,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type FileOperationPayload struct {
	ConnectionID string     `json:"connectionId"`
	UserID       string     `json:"userId"`
	Kind         FileOpKind `json:"kind"`
	Path         string     `json:"path"`
	NewPath      string     `json:"newPath,omitempty"`
	File         *FileInfo  `json:"file,omitempty"`
}

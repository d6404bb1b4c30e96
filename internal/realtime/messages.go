package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/codecanvas-io/collab/internal/pkg/transform"
	"github.com/codecanvas-io/collab/internal/relay"
	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	EventJoinProject   = "join-project"
	EventLeaveProject  = "leave-project"
	EventCursorMove    = relay.EventCursorMove
	EventPresence      = "presence"
	EventCodeChange    = relay.EventCodeChange
	EventFileOperation = relay.EventFileOperation
)

// Outbound error event names.
const (
	EventError              = "error"
	EventJoinProjectError   = "join-project-error"
	EventCursorMoveError    = "cursor-move-error"
	EventCodeChangeError    = "code-change-error"
	EventFileOperationError = "file-operation-error"
)

var errMalformed = errors.New("malformed message")

// envelope is the frame every client message arrives in.
type envelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

type JoinProjectRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
}

type LeaveProjectRequest struct {
	ProjectID string `json:"projectId" validate:"omitempty,uuid"`
}

type CursorMoveRequest struct {
	ProjectID string            `json:"projectId" validate:"required,uuid"`
	FilePath  string            `json:"filePath" validate:"required,max=1024"`
	Position  PositionPayload   `json:"position" validate:"required"`
	Selection *SelectionPayload `json:"selection"`
}

type PositionPayload struct {
	Line   *int `json:"line" validate:"required,gte=0"`
	Column *int `json:"column" validate:"required,gte=0"`
}

func (p *PositionPayload) position() relay.Position {
	var out relay.Position
	if p == nil {
		return out
	}
	if p.Line != nil {
		out.Line = *p.Line
	}
	if p.Column != nil {
		out.Column = *p.Column
	}
	return out
}

type SelectionPayload struct {
	Start PositionPayload `json:"start" validate:"required"`
	End   PositionPayload `json:"end" validate:"required"`
}

type PresenceRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
	Status    string `json:"status" validate:"required,oneof=online away busy"`
}

type CodeChangeRequest struct {
	ProjectID       string              `json:"projectId" validate:"required,uuid"`
	FilePath        string              `json:"filePath" validate:"required,max=1024"`
	Operation       transform.Operation `json:"operation"`
	Content         *string             `json:"content" validate:"required"`
	Position        *PositionPayload    `json:"position"`
	ClientTimestamp *int64              `json:"clientTimestamp" validate:"required,gte=0"`
}

type FileOperationRequest struct {
	ProjectID string `json:"projectId" validate:"required,uuid"`
	Kind      string `json:"kind" validate:"required,oneof=create delete rename"`
	Path      string `json:"path" validate:"required,max=1024"`
	NewPath   string `json:"newPath" validate:"required_if=Kind rename,max=1024"`
	Content   string `json:"content"`
}

// ErrorPayload is the body of every *-error event.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decoder unmarshals and validates inbound payloads.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (d *decoder) envelope(raw []byte) (envelope, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := d.validate.Struct(env); err != nil {
		return env, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return env, nil
}

// payload decodes data into dst and validates it. A missing data field is
// decoded as an empty object so required-field checks report it.
func (d *decoder) payload(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

package relay

import (
	"context"
	"fmt"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"go.uber.org/zap"
)

type FileOpKind string

const (
	FileCreate FileOpKind = "create"
	FileDelete FileOpKind = "delete"
	FileRename FileOpKind = "rename"
)

type FileOperation struct {
	Kind    FileOpKind
	Path    string
	NewPath string
	Content string
}

func (op FileOperation) validate() error {
	if op.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidFileOp)
	}
	switch op.Kind {
	case FileCreate, FileDelete:
	case FileRename:
		if op.NewPath == "" || op.NewPath == op.Path {
			return fmt.Errorf("%w: rename needs a different newPath", ErrInvalidFileOp)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFileOp, op.Kind)
	}
	return nil
}

// SubmitFileOperation performs a create, delete or rename through the store
// and, on success, announces it to every session in the room including the
// sender. On failure nothing is broadcast and the error is returned to the
// caller only.
func (r *Relay) SubmitFileOperation(ctx context.Context, connID string, g Grant, op FileOperation) (*FileOperationPayload, error) {
	if err := g.requireWrite(); err != nil {
		return nil, err
	}
	if err := op.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	m, err := r.lookupLocked(connID, g)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	m.LastActivity = r.now()
	userID := m.UserID
	r.mu.Unlock()

	var file *model.ProjectFile
	switch op.Kind {
	case FileCreate:
		file, err = r.files.CreateFile(ctx, g.projectID, op.Path, op.Content, userID)
	case FileDelete:
		err = r.files.DeleteFile(ctx, g.projectID, op.Path, userID)
	case FileRename:
		file, err = r.files.RenameFile(ctx, g.projectID, op.Path, op.NewPath, userID)
	}
	if err != nil {
		return nil, err
	}

	oldKey := fileKey{projectID: g.projectID, path: op.Path}
	switch op.Kind {
	case FileDelete:
		r.saves.Cancel(oldKey)
		r.dropOps(oldKey)
	case FileRename:
		// unsaved edits follow the file to its new path
		if content, ok := r.saves.Take(oldKey); ok {
			r.ScheduleSave(g.projectID, op.NewPath, content)
		}
		r.dropOps(oldKey)
	}

	details := map[string]any{"path": op.Path}
	if op.NewPath != "" {
		details["newPath"] = op.NewPath
	}
	if err := r.activity.RecordActivity(ctx, g.projectID, "file_"+string(op.Kind), userID, details); err != nil {
		r.log.Warn("record file activity failed",
			zap.String("project", g.projectID),
			zap.String("kind", string(op.Kind)),
			zap.Error(err))
	}

	payload := &FileOperationPayload{
		ConnectionID: connID,
		UserID:       userID,
		Kind:         op.Kind,
		Path:         op.Path,
		NewPath:      op.NewPath,
		File:         fileInfo(file),
	}
	r.broadcast(ctx, g.projectID, Event{Name: EventFileOperation, Data: payload}, "")
	return payload, nil
}

func fileInfo(f *model.ProjectFile) *FileInfo {
	if f == nil {
		return nil
	}
	return &FileInfo{
		Path:      f.Path,
		MimeType:  f.MimeType,
		Size:      f.Size,
		UpdatedAt: f.UpdatedAt,
	}
}

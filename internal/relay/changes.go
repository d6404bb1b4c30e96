package relay

import (
	"context"
	"errors"

	"github.com/codecanvas-io/collab/internal/modules/service"
	"github.com/codecanvas-io/collab/internal/pkg/transform"
	"github.com/codecanvas-io/collab/internal/telemetry"
	"go.uber.org/zap"
)

// Change is one code-change event as submitted by a client.
type Change struct {
	FilePath        string
	Operation       transform.Operation
	Content         string
	Position        Position
	ClientTimestamp int64
}

// SubmitChange shifts the operation against the file's recent history,
// forwards it to the rest of the room and schedules a save of Content.
//
// The shift is a best-effort heuristic. It does not guarantee convergence for
// concurrent delete/delete pairs or for more than two writers racing on
// overlapping ranges, and the sender is never told its operation moved.
func (r *Relay) SubmitChange(ctx context.Context, connID string, g Grant, ch Change) (transform.Operation, error) {
	if err := g.requireWrite(); err != nil {
		return transform.Operation{}, err
	}
	if err := ch.Operation.Validate(); err != nil {
		return transform.Operation{}, err
	}

	r.mu.Lock()
	m, err := r.lookupLocked(connID, g)
	if err != nil {
		r.mu.Unlock()
		return transform.Operation{}, err
	}
	m.LastActivity = r.now()
	userID := m.UserID
	r.mu.Unlock()

	key := fileKey{projectID: g.projectID, path: ch.FilePath}
	r.opsMu.Lock()
	log, ok := r.ops[key]
	if !ok {
		log = transform.NewLog(r.opts.PendingOpsLimit)
		r.ops[key] = log
	}
	adjusted, moved := log.Submit(ch.Operation, connID, ch.ClientTimestamp)
	r.opsMu.Unlock()

	if moved {
		telemetry.RecordAdjustedOp(ctx)
	}

	r.broadcast(ctx, g.projectID, Event{
		Name: EventCodeChange,
		Data: CodeChangePayload{
			ConnectionID:    connID,
			UserID:          userID,
			FilePath:        ch.FilePath,
			Operation:       adjusted,
			Content:         ch.Content,
			Position:        ch.Position,
			ClientTimestamp: ch.ClientTimestamp,
		},
	}, connID)

	r.ScheduleSave(g.projectID, ch.FilePath, ch.Content)
	return adjusted, nil
}

// PendingOps returns a copy of the operation history kept for one file.
func (r *Relay) PendingOps(projectID, path string) []transform.Pending {
	r.opsMu.Lock()
	defer r.opsMu.Unlock()
	if log, ok := r.ops[fileKey{projectID: projectID, path: path}]; ok {
		return log.Entries()
	}
	return nil
}

func (r *Relay) dropOps(key fileKey) {
	r.opsMu.Lock()
	delete(r.ops, key)
	r.opsMu.Unlock()
}

// ScheduleSave (re)starts the save timer of (projectID, path). When it fires
// uncontested the latest content is written with the system author.
func (r *Relay) ScheduleSave(projectID, path, content string) {
	r.saves.Schedule(fileKey{projectID: projectID, path: path}, content)
}

// save is the debounced write. Failures are logged and dropped; the next edit
// schedules another attempt.
func (r *Relay) save(key fileKey, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := r.files.UpdateFile(ctx, key.projectID, key.path, content, r.opts.SystemAuthorID)
	telemetry.RecordSave(ctx, err)
	if err != nil {
		fields := []zap.Field{
			zap.String("project", key.projectID),
			zap.String("path", key.path),
			zap.Error(err),
		}
		if errors.Is(err, service.ErrFileNotFound) {
			r.log.Warn("debounced save skipped: file not found", fields...)
			return
		}
		r.log.Error("debounced save failed", fields...)
		return
	}
	r.log.Debug("file saved", zap.String("project", key.projectID), zap.String("path", key.path))
}

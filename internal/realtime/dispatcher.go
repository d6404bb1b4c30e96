// Package realtime carries the collaboration protocol over WebSocket: it
// decodes client frames, authorizes them once and hands them to the relay.
package realtime

import (
	"context"
	"errors"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/service"
	pathutil "github.com/codecanvas-io/collab/internal/pkg/utils/path"
	"github.com/codecanvas-io/collab/internal/relay"
	"go.uber.org/zap"
)

// UserDirectory resolves what collaborators see of a user.
type UserDirectory interface {
	GetDisplayInfo(ctx context.Context, userID string) (*service.DisplayInfo, error)
}

type Dispatcher struct {
	relay  *relay.Relay
	access relay.AccessChecker
	users  UserDirectory
	dec    *decoder
	log    *zap.Logger
}

func NewDispatcher(r *relay.Relay, access relay.AccessChecker, users UserDirectory, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		relay:  r,
		access: access,
		users:  users,
		dec:    newDecoder(),
		log:    log,
	}
}

// Handle processes one inbound frame.
func (d *Dispatcher) Handle(ctx context.Context, p Peer, raw []byte) {
	env, err := d.dec.envelope(raw)
	if err != nil {
		d.fail(p, EventError, err)
		return
	}

	switch env.Event {
	case EventJoinProject:
		d.joinProject(ctx, p, env)
	case EventLeaveProject:
		d.leaveProject(ctx, p, env)
	case EventCursorMove:
		d.cursorMove(ctx, p, env)
	case EventPresence:
		d.presence(ctx, p, env)
	case EventCodeChange:
		d.codeChange(ctx, p, env)
	case EventFileOperation:
		d.fileOperation(ctx, p, env)
	default:
		d.fail(p, EventError, errors.Join(errMalformed, errors.New("unknown event "+env.Event)))
	}
}

// Disconnect removes whatever session the connection held.
func (d *Dispatcher) Disconnect(ctx context.Context, p Peer) {
	if d.relay.Leave(context.WithoutCancel(ctx), p.ID()) {
		d.log.Debug("session closed on disconnect", zap.String("conn", p.ID()))
	}
}

func (d *Dispatcher) fail(p Peer, event string, err error) {
	payload := errorPayload(err)
	if payload.Error == CategoryInternal {
		d.log.Error("collab request failed", zap.String("event", event), zap.String("conn", p.ID()), zap.Error(err))
	}
	p.Send(relay.Event{Name: event, Data: payload})
}

func (d *Dispatcher) joinProject(ctx context.Context, p Peer, env envelope) {
	var req JoinProjectRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventJoinProjectError, err)
		return
	}
	g, err := relay.Authorize(ctx, d.access, p.UserID(), req.ProjectID, model.AccessRead)
	if err != nil {
		d.fail(p, EventJoinProjectError, err)
		return
	}

	info := relay.DisplayInfo{Username: p.UserID()}
	if u, err := d.users.GetDisplayInfo(ctx, p.UserID()); err == nil {
		info = relay.DisplayInfo{Username: u.Username, FullName: u.FullName, AvatarURL: u.AvatarURL}
	} else {
		d.log.Warn("display info lookup failed", zap.String("user", p.UserID()), zap.Error(err))
	}

	others, err := d.relay.Join(ctx, p, g, info)
	if err != nil {
		d.fail(p, EventJoinProjectError, err)
		return
	}
	p.Send(relay.Event{
		Name: relay.EventActiveUsers,
		Data: relay.ActiveUsersPayload{ProjectID: req.ProjectID, Users: others},
	})
}

func (d *Dispatcher) leaveProject(ctx context.Context, p Peer, env envelope) {
	var req LeaveProjectRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventError, err)
		return
	}
	d.relay.Leave(ctx, p.ID())
}

// cursorMove and presence are best effort: only malformed input is reported.
func (d *Dispatcher) cursorMove(ctx context.Context, p Peer, env envelope) {
	var req CursorMoveRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventCursorMoveError, err)
		return
	}
	filePath, err := pathutil.NormalizePath(req.FilePath)
	if err != nil {
		d.fail(p, EventCursorMoveError, errors.Join(errMalformed, err))
		return
	}
	g, err := relay.Authorize(ctx, d.access, p.UserID(), req.ProjectID, model.AccessRead)
	if err != nil {
		d.log.Debug("cursor-move dropped", zap.String("conn", p.ID()), zap.Error(err))
		return
	}

	cursor := relay.Cursor{FilePath: filePath, Position: req.Position.position()}
	if req.Selection != nil {
		cursor.Selection = &relay.Selection{
			Start: req.Selection.Start.position(),
			End:   req.Selection.End.position(),
		}
	}
	d.relay.UpdateCursor(ctx, p.ID(), g, cursor)
}

func (d *Dispatcher) presence(ctx context.Context, p Peer, env envelope) {
	var req PresenceRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventError, err)
		return
	}
	g, err := relay.Authorize(ctx, d.access, p.UserID(), req.ProjectID, model.AccessRead)
	if err != nil {
		d.log.Debug("presence dropped", zap.String("conn", p.ID()), zap.Error(err))
		return
	}
	d.relay.UpdatePresence(ctx, p.ID(), g, relay.Status(req.Status))
}

func (d *Dispatcher) codeChange(ctx context.Context, p Peer, env envelope) {
	var req CodeChangeRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventCodeChangeError, err)
		return
	}
	filePath, err := pathutil.NormalizePath(req.FilePath)
	if err != nil {
		d.fail(p, EventCodeChangeError, errors.Join(errMalformed, err))
		return
	}
	g, err := relay.Authorize(ctx, d.access, p.UserID(), req.ProjectID, model.AccessWrite)
	if err != nil {
		d.fail(p, EventCodeChangeError, err)
		return
	}

	_, err = d.relay.SubmitChange(ctx, p.ID(), g, relay.Change{
		FilePath:        filePath,
		Operation:       req.Operation,
		Content:         *req.Content,
		Position:        req.Position.position(),
		ClientTimestamp: *req.ClientTimestamp,
	})
	if err != nil {
		d.fail(p, EventCodeChangeError, err)
	}
}

func (d *Dispatcher) fileOperation(ctx context.Context, p Peer, env envelope) {
	var req FileOperationRequest
	if err := d.dec.payload(env.Data, &req); err != nil {
		d.fail(p, EventFileOperationError, err)
		return
	}
	op := relay.FileOperation{Kind: relay.FileOpKind(req.Kind), Content: req.Content}
	var err error
	if op.Path, err = pathutil.NormalizePath(req.Path); err != nil {
		d.fail(p, EventFileOperationError, errors.Join(errMalformed, err))
		return
	}
	if req.NewPath != "" {
		if op.NewPath, err = pathutil.NormalizePath(req.NewPath); err != nil {
			d.fail(p, EventFileOperationError, errors.Join(errMalformed, err))
			return
		}
	}
	g, err := relay.Authorize(ctx, d.access, p.UserID(), req.ProjectID, model.AccessWrite)
	if err != nil {
		d.fail(p, EventFileOperationError, err)
		return
	}

	if _, err := d.relay.SubmitFileOperation(ctx, p.ID(), g, op); err != nil {
		d.fail(p, EventFileOperationError, err)
	}
}

package relay

import (
	"context"
	"sort"
	"time"

	"github.com/codecanvas-io/collab/internal/telemetry"
	"go.uber.org/zap"
)

// Join puts conn into the room of g's project and returns the other sessions
// already there. Joining again with the same connection replaces the session;
// joining a different project leaves the previous room first.
func (r *Relay) Join(ctx context.Context, conn Conn, g Grant, info DisplayInfo) ([]Session, error) {
	if !g.valid() {
		return nil, ErrForbidden
	}
	now := r.now()
	connID := conn.ID()

	r.mu.Lock()
	var left *member
	rejoin := false
	if prev, ok := r.sessions[connID]; ok {
		if prev.ProjectID == g.projectID {
			rejoin = true
		} else {
			r.removeLocked(prev)
			left = prev
		}
	}

	m := &member{
		Session: Session{
			ConnectionID: connID,
			UserID:       g.userID,
			ProjectID:    g.projectID,
			DisplayInfo:  info,
			JoinedAt:     now,
			LastActivity: now,
			Status:       StatusOnline,
		},
		conn: conn,
	}
	room, ok := r.rooms[g.projectID]
	if !ok {
		room = make(map[string]*member)
		r.rooms[g.projectID] = room
	}
	room[connID] = m
	r.sessions[connID] = m

	others := make([]Session, 0, len(room)-1)
	for id, o := range room {
		if id != connID {
			others = append(others, o.snapshot())
		}
	}
	joined := m.snapshot()
	r.mu.Unlock()

	sortSessions(others)

	if left != nil {
		r.broadcast(ctx, left.ProjectID, Event{Name: EventUserLeft, Data: leftPayload(left.Session)}, connID)
	}
	if !rejoin {
		telemetry.RecordJoin(ctx)
		r.broadcast(ctx, g.projectID, Event{Name: EventUserJoined, Data: joined}, connID)
	}
	r.log.Debug("session joined",
		zap.String("conn", connID),
		zap.String("user", g.userID),
		zap.String("project", g.projectID),
		zap.Bool("rejoin", rejoin))
	return others, nil
}

// Leave removes the session of connID. Unknown connections are ignored.
func (r *Relay) Leave(ctx context.Context, connID string) bool {
	r.mu.Lock()
	m, ok := r.sessions[connID]
	if ok {
		r.removeLocked(m)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	telemetry.RecordLeave(ctx, "leave")
	r.broadcast(ctx, m.ProjectID, Event{Name: EventUserLeft, Data: leftPayload(m.Session)}, connID)
	return true
}

// removeLocked drops m from the directory and deletes its room when empty.
func (r *Relay) removeLocked(m *member) {
	delete(r.sessions, m.ConnectionID)
	room := r.rooms[m.ProjectID]
	delete(room, m.ConnectionID)
	if len(room) == 0 {
		delete(r.rooms, m.ProjectID)
	}
}

// lookupLocked returns the session of connID if it belongs to g's project.
func (r *Relay) lookupLocked(connID string, g Grant) (*member, error) {
	m, ok := r.sessions[connID]
	if !ok {
		return nil, ErrNotJoined
	}
	if m.ProjectID != g.projectID || m.UserID != g.userID {
		return nil, ErrProjectMismatch
	}
	return m, nil
}

// UpdateCursor records the cursor of connID and forwards it to the rest of the
// room. Presence updates for unknown sessions are dropped silently.
func (r *Relay) UpdateCursor(ctx context.Context, connID string, g Grant, cursor Cursor) bool {
	if !g.valid() {
		return false
	}

	r.mu.Lock()
	m, err := r.lookupLocked(connID, g)
	if err != nil {
		r.mu.Unlock()
		return false
	}
	m.Cursor = cursor.clone()
	m.LastActivity = r.now()
	payload := CursorMovePayload{
		ConnectionID: connID,
		UserID:       m.UserID,
		Username:     m.Username,
		Cursor:       *cursor.clone(),
	}
	projectID := m.ProjectID
	r.mu.Unlock()

	r.broadcast(ctx, projectID, Event{Name: EventCursorMove, Data: payload}, connID)
	return true
}

// UpdatePresence refreshes the activity clock of connID and announces a status
// change to the rest of the room.
func (r *Relay) UpdatePresence(ctx context.Context, connID string, g Grant, status Status) bool {
	if !g.valid() {
		return false
	}

	r.mu.Lock()
	m, err := r.lookupLocked(connID, g)
	if err != nil {
		r.mu.Unlock()
		return false
	}
	m.LastActivity = r.now()
	changed := status != "" && status != m.Status
	if changed {
		m.Status = status
	}
	projectID, userID := m.ProjectID, m.UserID
	r.mu.Unlock()

	if changed {
		r.broadcast(ctx, projectID, Event{
			Name: EventPresenceUpdate,
			Data: PresencePayload{ConnectionID: connID, UserID: userID, Status: status},
		}, connID)
	}
	return true
}

// ListActive returns a copy of the sessions in projectID's room.
func (r *Relay) ListActive(projectID string) []Session {
	r.mu.Lock()
	room := r.rooms[projectID]
	out := make([]Session, 0, len(room))
	for _, m := range room {
		out = append(out, m.snapshot())
	}
	r.mu.Unlock()

	sortSessions(out)
	return out
}

// Rooms returns the number of non-empty rooms.
func (r *Relay) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// EvictInactive removes every session idle for longer than threshold. The
// evicted connection and the rest of its room are told with user-inactive.
func (r *Relay) EvictInactive(threshold time.Duration) []Session {
	now := r.now()

	r.mu.Lock()
	var evicted []*member
	for _, m := range r.sessions {
		if now.Sub(m.LastActivity) > threshold {
			evicted = append(evicted, m)
		}
	}
	for _, m := range evicted {
		r.removeLocked(m)
	}
	r.mu.Unlock()

	ctx := context.Background()
	out := make([]Session, 0, len(evicted))
	for _, m := range evicted {
		ev := Event{Name: EventUserInactive, Data: leftPayload(m.Session)}
		m.conn.Send(ev)
		r.broadcast(ctx, m.ProjectID, ev, m.ConnectionID)
		telemetry.RecordLeave(ctx, "inactive")
		out = append(out, m.snapshot())
	}
	sortSessions(out)
	return out
}

func leftPayload(s Session) UserLeftPayload {
	return UserLeftPayload{
		ConnectionID: s.ConnectionID,
		UserID:       s.UserID,
		ProjectID:    s.ProjectID,
		Username:     s.Username,
	}
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].JoinedAt.Equal(s[j].JoinedAt) {
			return s[i].ConnectionID < s[j].ConnectionID
		}
		return s[i].JoinedAt.Before(s[j].JoinedAt)
	})
}

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/service"
	"github.com/codecanvas-io/collab/internal/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	projectA = "11111111-1111-1111-1111-111111111111"
	projectB = "22222222-2222-2222-2222-222222222222"
	systemID = "99999999-9999-9999-9999-999999999999"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// MockFileStore is a mock implementation of FileStore
type MockFileStore struct {
	mock.Mock
}

func (m *MockFileStore) UpdateFile(ctx context.Context, projectID, path, content, authorID string) error {
	args := m.Called(ctx, projectID, path, content, authorID)
	return args.Error(0)
}

func (m *MockFileStore) CreateFile(ctx context.Context, projectID, path, content, authorID string) (*model.ProjectFile, error) {
	args := m.Called(ctx, projectID, path, content, authorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProjectFile), args.Error(1)
}

func (m *MockFileStore) DeleteFile(ctx context.Context, projectID, path, actorID string) error {
	args := m.Called(ctx, projectID, path, actorID)
	return args.Error(0)
}

func (m *MockFileStore) RenameFile(ctx context.Context, projectID, path, newPath, actorID string) (*model.ProjectFile, error) {
	args := m.Called(ctx, projectID, path, newPath, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ProjectFile), args.Error(1)
}

// MockActivityRecorder is a mock implementation of ActivityRecorder
type MockActivityRecorder struct {
	mock.Mock
}

func (m *MockActivityRecorder) RecordActivity(ctx context.Context, projectID, kind, actorID string, details map[string]any) error {
	args := m.Called(ctx, projectID, kind, actorID, details)
	return args.Error(0)
}

// roleChecker grants read to everyone and write to the listed users.
type roleChecker struct {
	writers map[string]bool
}

func (c roleChecker) CanAccess(_ context.Context, userID, _ string, action model.Access) (bool, error) {
	return action == model.AccessRead || c.writers[userID], nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	relay    *Relay
	files    *MockFileStore
	activity *MockActivityRecorder
	clock    *fakeClock
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		files:    &MockFileStore{},
		activity: &MockActivityRecorder{},
		clock:    &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.relay = New(f.files, f.activity, zap.NewNop(), Options{
		SaveDebounce:   debounce,
		SystemAuthorID: systemID,
		Clock:          f.clock.Now,
	})
	return f
}

func grantFor(t *testing.T, userID, projectID string, action model.Access) Grant {
	t.Helper()
	g, err := Authorize(context.Background(), roleChecker{writers: map[string]bool{userID: true}}, userID, projectID, action)
	require.NoError(t, err)
	return g
}

func (f *fixture) join(t *testing.T, conn *fakeConn, userID, projectID string) Grant {
	t.Helper()
	g := grantFor(t, userID, projectID, model.AccessWrite)
	_, err := f.relay.Join(context.Background(), conn, g, DisplayInfo{Username: userID})
	require.NoError(t, err)
	return g
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	checker := roleChecker{writers: map[string]bool{"alice": true}}

	g, err := Authorize(ctx, checker, "bob", projectA, model.AccessRead)
	require.NoError(t, err)
	assert.False(t, g.CanWrite())

	_, err = Authorize(ctx, checker, "bob", projectA, model.AccessWrite)
	assert.ErrorIs(t, err, ErrForbidden)

	g, err = Authorize(ctx, checker, "alice", projectA, model.AccessWrite)
	require.NoError(t, err)
	assert.True(t, g.CanWrite())
	assert.Equal(t, "alice", g.UserID())
	assert.Equal(t, projectA, g.ProjectID())

	_, err = Authorize(ctx, checker, "", projectA, model.AccessRead)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorize_CheckerError(t *testing.T) {
	failing := checkerFunc(func(context.Context, string, string, model.Access) (bool, error) {
		return false, service.ErrProjectNotFound
	})
	_, err := Authorize(context.Background(), failing, "alice", projectA, model.AccessRead)
	assert.ErrorIs(t, err, service.ErrProjectNotFound)
}

type checkerFunc func(ctx context.Context, userID, projectID string, action model.Access) (bool, error)

func (f checkerFunc) CanAccess(ctx context.Context, userID, projectID string, action model.Access) (bool, error) {
	return f(ctx, userID, projectID, action)
}

func TestJoin_ZeroGrantRejected(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.relay.Join(context.Background(), newConn("c1"), Grant{}, DisplayInfo{})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, f.relay.Rooms())
}

func TestJoinLeave_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	observer := newConn("observer")
	a := newConn("a")

	f.join(t, observer, "carol", projectA)
	f.join(t, a, "alice", projectA)
	f.join(t, a, "alice", projectA)

	assert.Len(t, f.relay.ListActive(projectA), 2)
	assert.Len(t, observer.named(EventUserJoined), 1, "rejoin must not announce twice")

	assert.True(t, f.relay.Leave(ctx, "a"))
	assert.False(t, f.relay.Leave(ctx, "a"))
	assert.Len(t, observer.named(EventUserLeft), 1)
	assert.Len(t, f.relay.ListActive(projectA), 1)

	assert.True(t, f.relay.Leave(ctx, "observer"))
	assert.Equal(t, 0, f.relay.Rooms())
	assert.Empty(t, f.relay.ListActive(projectA))

	// a later join recreates a fresh room
	others, err := f.relay.Join(ctx, a, grantFor(t, "alice", projectA, model.AccessRead), DisplayInfo{})
	require.NoError(t, err)
	assert.Empty(t, others)
	assert.Equal(t, 1, f.relay.Rooms())
}

func TestJoin_ReturnsOthers(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.join(t, newConn("a"), "alice", projectA)
	f.clock.Advance(time.Second)
	f.join(t, newConn("b"), "bob", projectA)

	others, err := f.relay.Join(context.Background(), newConn("c"), grantFor(t, "carol", projectA, model.AccessRead), DisplayInfo{Username: "carol"})
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "a", others[0].ConnectionID)
	assert.Equal(t, "b", others[1].ConnectionID)
}

func TestJoin_SwitchProjectLeavesPreviousRoom(t *testing.T) {
	f := newFixture(t, time.Hour)
	observer := newConn("observer")
	a := newConn("a")
	f.join(t, observer, "carol", projectA)
	f.join(t, a, "alice", projectA)

	f.join(t, a, "alice", projectB)

	assert.Len(t, observer.named(EventUserLeft), 1)
	assert.Len(t, f.relay.ListActive(projectA), 1)
	assert.Len(t, f.relay.ListActive(projectB), 1)
	assert.Equal(t, 2, f.relay.Rooms())
}

func TestUpdateCursor_NotifiesEveryoneElse(t *testing.T) {
	f := newFixture(t, time.Hour)
	conns := []*fakeConn{newConn("a"), newConn("b"), newConn("c"), newConn("d")}
	grants := make([]Grant, len(conns))
	for i, c := range conns {
		grants[i] = f.join(t, c, "user-"+c.id, projectA)
	}

	ok := f.relay.UpdateCursor(context.Background(), "a", grants[0], Cursor{
		FilePath:  "main.go",
		Position:  Position{Line: 3, Column: 7},
		Selection: &Selection{Start: Position{Line: 3, Column: 1}, End: Position{Line: 3, Column: 7}},
	})
	require.True(t, ok)

	total := 0
	for _, c := range conns {
		total += len(c.named(EventCursorMove))
	}
	assert.Equal(t, len(conns)-1, total)
	assert.Empty(t, conns[0].named(EventCursorMove))

	ev := conns[1].named(EventCursorMove)[0].Data.(CursorMovePayload)
	assert.Equal(t, "main.go", ev.FilePath)
	assert.Equal(t, 7, ev.Position.Column)

	sessions := f.relay.ListActive(projectA)
	var stored *Cursor
	for _, s := range sessions {
		if s.ConnectionID == "a" {
			stored = s.Cursor
		}
	}
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.Position.Line)
}

func TestUpdateCursor_UnknownSessionIsIgnored(t *testing.T) {
	f := newFixture(t, time.Hour)
	b := newConn("b")
	f.join(t, b, "bob", projectA)

	ok := f.relay.UpdateCursor(context.Background(), "ghost", grantFor(t, "ghost", projectA, model.AccessRead), Cursor{FilePath: "x"})
	assert.False(t, ok)
	assert.Empty(t, b.named(EventCursorMove))
}

func TestUpdatePresence_AnnouncesChangesOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	a, b := newConn("a"), newConn("b")
	ga := f.join(t, a, "alice", projectA)
	f.join(t, b, "bob", projectA)

	assert.True(t, f.relay.UpdatePresence(ctx, "a", ga, StatusOnline))
	assert.Empty(t, b.named(EventPresenceUpdate))

	assert.True(t, f.relay.UpdatePresence(ctx, "a", ga, StatusAway))
	require.Len(t, b.named(EventPresenceUpdate), 1)
	assert.Equal(t, StatusAway, b.named(EventPresenceUpdate)[0].Data.(PresencePayload).Status)
}

func TestEvictInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	idle, busy := newConn("idle"), newConn("busy")
	f.join(t, idle, "alice", projectA)
	gb := f.join(t, busy, "bob", projectA)

	f.clock.Advance(2 * time.Minute)
	require.True(t, f.relay.UpdatePresence(ctx, "busy", gb, ""))
	f.clock.Advance(4 * time.Minute)

	// idle for 6 minutes, busy for 4
	evicted := f.relay.EvictInactive(5 * time.Minute)
	require.Len(t, evicted, 1)
	assert.Equal(t, "idle", evicted[0].ConnectionID)

	active := f.relay.ListActive(projectA)
	require.Len(t, active, 1)
	assert.Equal(t, "busy", active[0].ConnectionID)

	assert.Len(t, idle.named(EventUserInactive), 1)
	assert.Len(t, busy.named(EventUserInactive), 1)
}

func TestEvictInactive_LastSessionRemovesRoom(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.join(t, newConn("a"), "alice", projectA)
	f.clock.Advance(10 * time.Minute)

	assert.Len(t, f.relay.EvictInactive(5*time.Minute), 1)
	assert.Equal(t, 0, f.relay.Rooms())
}

func TestSubmitChange_AdjustsAndDoesNotEcho(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	a, b := newConn("a"), newConn("b")
	ga := f.join(t, a, "alice", projectA)
	gb := f.join(t, b, "bob", projectA)

	_, err := f.relay.SubmitChange(ctx, "b", gb, Change{
		FilePath:        "main.go",
		Operation:       transform.Operation{Kind: transform.Insert, Offset: 3, Text: "abcd"},
		Content:         "abcabcd",
		ClientTimestamp: 1,
	})
	require.NoError(t, err)

	adjusted, err := f.relay.SubmitChange(ctx, "a", ga, Change{
		FilePath:        "main.go",
		Operation:       transform.Operation{Kind: transform.Insert, Offset: 10, Text: "x"},
		Content:         "abcabcdxyzx",
		ClientTimestamp: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 14, adjusted.Offset)

	require.Len(t, a.named(EventCodeChange), 1)
	require.Len(t, b.named(EventCodeChange), 1)
	fromA := b.named(EventCodeChange)[0].Data.(CodeChangePayload)
	assert.Equal(t, "a", fromA.ConnectionID)
	assert.Equal(t, 14, fromA.Operation.Offset)
	fromB := a.named(EventCodeChange)[0].Data.(CodeChangePayload)
	assert.Equal(t, "b", fromB.ConnectionID)

	assert.Len(t, f.relay.PendingOps(projectA, "main.go"), 2)
}

func TestSubmitChange_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	a, b := newConn("a"), newConn("b")
	f.join(t, a, "alice", projectA)
	f.join(t, b, "bob", projectA)
	insert := Change{FilePath: "main.go", Operation: transform.Operation{Kind: transform.Insert, Text: "x"}}

	tests := []struct {
		name    string
		connID  string
		grant   Grant
		change  Change
		wantErr error
	}{
		{"read-only grant", "a", grantFor(t, "alice", projectA, model.AccessRead), insert, ErrForbidden},
		{"zero grant", "a", Grant{}, insert, ErrForbidden},
		{"not joined", "ghost", grantFor(t, "ghost", projectA, model.AccessWrite), insert, ErrNotJoined},
		{"other project", "a", grantFor(t, "alice", projectB, model.AccessWrite), insert, ErrProjectMismatch},
		{"other user", "a", grantFor(t, "bob", projectA, model.AccessWrite), insert, ErrProjectMismatch},
		{"empty insert", "a", grantFor(t, "alice", projectA, model.AccessWrite), Change{FilePath: "main.go", Operation: transform.Operation{Kind: transform.Insert}}, transform.ErrEmptyOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.relay.SubmitChange(ctx, tt.connID, tt.grant, tt.change)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, a.named(EventCodeChange))
	assert.Empty(t, b.named(EventCodeChange))
	assert.Empty(t, f.relay.PendingOps(projectA, "main.go"))
}

func TestScheduleSave_CoalescesToLatest(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	saved := make(chan string, 3)
	f.files.On("UpdateFile", mock.Anything, projectA, "main.go", mock.Anything, systemID).
		Run(func(args mock.Arguments) { saved <- args.String(3) }).
		Return(nil)

	f.relay.ScheduleSave(projectA, "main.go", "v1")
	f.relay.ScheduleSave(projectA, "main.go", "v2")
	f.relay.ScheduleSave(projectA, "main.go", "v3")

	select {
	case content := <-saved:
		assert.Equal(t, "v3", content)
	case <-time.After(2 * time.Second):
		t.Fatal("save did not fire")
	}

	// nothing else fires afterwards
	select {
	case content := <-saved:
		t.Fatalf("unexpected second save of %q", content)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSave_ErrorsAreSwallowed(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.files.On("UpdateFile", mock.Anything, projectA, "gone.go", "x", systemID).Return(service.ErrFileNotFound).Once()
	f.files.On("UpdateFile", mock.Anything, projectA, "err.go", "y", systemID).Return(errors.New("db down")).Once()

	f.relay.ScheduleSave(projectA, "gone.go", "x")
	f.relay.ScheduleSave(projectA, "err.go", "y")

	assert.Equal(t, 2, f.relay.Flush())
	f.files.AssertExpectations(t)
}

func TestSubmitFileOperation_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	a, b := newConn("a"), newConn("b")
	ga := f.join(t, a, "alice", projectA)
	f.join(t, b, "bob", projectA)

	f.files.On("CreateFile", mock.Anything, projectA, "util.go", "package util\n", "alice").
		Return(&model.ProjectFile{Path: "util.go", Size: 13, MimeType: "text/x-go"}, nil)
	f.activity.On("RecordActivity", mock.Anything, projectA, "file_create", "alice", map[string]any{"path": "util.go"}).
		Return(nil)

	payload, err := f.relay.SubmitFileOperation(ctx, "a", ga, FileOperation{Kind: FileCreate, Path: "util.go", Content: "package util\n"})
	require.NoError(t, err)
	require.NotNil(t, payload.File)
	assert.Equal(t, int64(13), payload.File.Size)

	// the requester is told too
	assert.Len(t, a.named(EventFileOperation), 1)
	assert.Len(t, b.named(EventFileOperation), 1)
	f.files.AssertExpectations(t)
	f.activity.AssertExpectations(t)
}

func TestSubmitFileOperation_CreateExistingBroadcastsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	a, b := newConn("a"), newConn("b")
	ga := f.join(t, a, "alice", projectA)
	f.join(t, b, "bob", projectA)

	f.files.On("CreateFile", mock.Anything, projectA, "main.go", "", "alice").Return(nil, service.ErrFileExists)

	_, err := f.relay.SubmitFileOperation(ctx, "a", ga, FileOperation{Kind: FileCreate, Path: "main.go"})
	assert.ErrorIs(t, err, service.ErrFileExists)
	assert.Empty(t, a.named(EventFileOperation))
	assert.Empty(t, b.named(EventFileOperation))
	f.activity.AssertNotCalled(t, "RecordActivity", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitFileOperation_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	ga := f.join(t, newConn("a"), "alice", projectA)

	tests := []struct {
		name string
		op   FileOperation
	}{
		{"no path", FileOperation{Kind: FileCreate}},
		{"unknown kind", FileOperation{Kind: "copy", Path: "a.go"}},
		{"rename without target", FileOperation{Kind: FileRename, Path: "a.go"}},
		{"rename onto itself", FileOperation{Kind: FileRename, Path: "a.go", NewPath: "a.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.relay.SubmitFileOperation(ctx, "a", ga, tt.op)
			assert.ErrorIs(t, err, ErrInvalidFileOp)
		})
	}
	f.files.AssertNotCalled(t, "CreateFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitFileOperation_RenameMovesPendingSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	ga := f.join(t, newConn("a"), "alice", projectA)

	_, err := f.relay.SubmitChange(ctx, "a", ga, Change{
		FilePath:  "old.go",
		Operation: transform.Operation{Kind: transform.Insert, Text: "x"},
		Content:   "x",
	})
	require.NoError(t, err)

	f.files.On("RenameFile", mock.Anything, projectA, "old.go", "new.go", "alice").
		Return(&model.ProjectFile{Path: "new.go"}, nil)
	f.activity.On("RecordActivity", mock.Anything, projectA, "file_rename", "alice", mock.Anything).
		Return(errors.New("activity store down"))
	f.files.On("UpdateFile", mock.Anything, projectA, "new.go", "x", systemID).Return(nil).Once()

	_, err = f.relay.SubmitFileOperation(ctx, "a", ga, FileOperation{Kind: FileRename, Path: "old.go", NewPath: "new.go"})
	require.NoError(t, err, "activity failures must not fail the operation")

	assert.Empty(t, f.relay.PendingOps(projectA, "old.go"))
	assert.Equal(t, 1, f.relay.Flush())
	f.files.AssertExpectations(t)
	f.files.AssertNotCalled(t, "UpdateFile", mock.Anything, projectA, "old.go", mock.Anything, mock.Anything)
}

func TestSubmitFileOperation_DeleteCancelsPendingSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	ga := f.join(t, newConn("a"), "alice", projectA)

	_, err := f.relay.SubmitChange(ctx, "a", ga, Change{
		FilePath:  "doomed.go",
		Operation: transform.Operation{Kind: transform.Insert, Text: "x"},
		Content:   "x",
	})
	require.NoError(t, err)

	f.files.On("DeleteFile", mock.Anything, projectA, "doomed.go", "alice").Return(nil)
	f.activity.On("RecordActivity", mock.Anything, projectA, "file_delete", "alice", mock.Anything).Return(nil)

	_, err = f.relay.SubmitFileOperation(ctx, "a", ga, FileOperation{Kind: FileDelete, Path: "doomed.go"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.relay.Flush())
	assert.Empty(t, f.relay.PendingOps(projectA, "doomed.go"))
	f.files.AssertNotCalled(t, "UpdateFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, _ string, ev Event, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func TestOptions_CustomBroadcaster(t *testing.T) {
	bc := &recordingBroadcaster{}
	r := New(&MockFileStore{}, &MockActivityRecorder{}, nil, Options{Broadcaster: bc})
	a, b := newConn("a"), newConn("b")
	_, err := r.Join(context.Background(), a, grantFor(t, "alice", projectA, model.AccessRead), DisplayInfo{})
	require.NoError(t, err)
	_, err = r.Join(context.Background(), b, grantFor(t, "bob", projectA, model.AccessRead), DisplayInfo{})
	require.NoError(t, err)

	// events go through the broker, not straight to the connections
	assert.Len(t, bc.events, 2)
	assert.Equal(t, 0, a.count())

	// the broker hands them back through Deliver
	assert.Equal(t, 1, r.Deliver(projectA, bc.events[1], "b"))
	assert.Len(t, a.named(EventUserJoined), 1)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.relay.RunSweeper(ctx, 10*time.Millisecond, time.Minute)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

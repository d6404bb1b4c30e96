// Package relay tracks who is present in which project, forwards cursor, code
// and file events between them, and persists the latest file content after a
// quiet period.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/pkg/debounce"
	"github.com/codecanvas-io/collab/internal/pkg/transform"
	"github.com/codecanvas-io/collab/internal/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultSaveDebounce      = 2 * time.Second
	DefaultSweepInterval     = 60 * time.Second
	DefaultInactiveThreshold = 5 * time.Minute

	saveTimeout = 10 * time.Second
)

// Conn is the addressable end of one client connection. Send must not block.
type Conn interface {
	ID() string
	Send(ev Event) bool
}

// Broadcaster delivers ev to every session in a project room except the
// connection named by exclude. An empty exclude reaches everyone.
type Broadcaster interface {
	Broadcast(ctx context.Context, projectID string, ev Event, exclude string)
}

// FileStore is the project store the relay persists through.
type FileStore interface {
	UpdateFile(ctx context.Context, projectID, path, content, authorID string) error
	CreateFile(ctx context.Context, projectID, path, content, authorID string) (*model.ProjectFile, error)
	DeleteFile(ctx context.Context, projectID, path, actorID string) error
	RenameFile(ctx context.Context, projectID, path, newPath, actorID string) (*model.ProjectFile, error)
}

type ActivityRecorder interface {
	RecordActivity(ctx context.Context, projectID, kind, actorID string, details map[string]any) error
}

type Options struct {
	SaveDebounce    time.Duration
	PendingOpsLimit int
	// SystemAuthorID is recorded as the author of debounced saves.
	SystemAuthorID string
	// Broadcaster defaults to in-process delivery.
	Broadcaster Broadcaster
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type fileKey struct {
	projectID string
	path      string
}

type Relay struct {
	files    FileStore
	activity ActivityRecorder
	log      *zap.Logger
	opts     Options
	bcast    Broadcaster
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*member            // connection id -> member
	rooms    map[string]map[string]*member // project id -> connection id -> member

	opsMu sync.Mutex
	ops   map[fileKey]*transform.Log

	saves *debounce.Debouncer[fileKey, string]
}

func New(files FileStore, activity ActivityRecorder, log *zap.Logger, opts Options) *Relay {
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.PendingOpsLimit <= 0 {
		opts.PendingOpsLimit = transform.DefaultLogLimit
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Relay{
		files:    files,
		activity: activity,
		log:      log,
		opts:     opts,
		bcast:    opts.Broadcaster,
		now:      opts.Clock,
		sessions: make(map[string]*member),
		rooms:    make(map[string]map[string]*member),
		ops:      make(map[fileKey]*transform.Log),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.bcast == nil {
		r.bcast = localBroadcaster{r}
	}
	r.saves = debounce.New(opts.SaveDebounce, r.save)
	return r
}

type localBroadcaster struct{ r *Relay }

func (b localBroadcaster) Broadcast(_ context.Context, projectID string, ev Event, exclude string) {
	b.r.Deliver(projectID, ev, exclude)
}

// Deliver sends ev to the sessions of projectID held by this process, skipping
// exclude. It returns how many connections accepted the event.
func (r *Relay) Deliver(projectID string, ev Event, exclude string) int {
	r.mu.Lock()
	room := r.rooms[projectID]
	targets := make([]Conn, 0, len(room))
	for id, m := range room {
		if id == exclude {
			continue
		}
		targets = append(targets, m.conn)
	}
	r.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.Send(ev) {
			sent++
		} else {
			r.log.Warn("dropping event for slow connection",
				zap.String("event", ev.Name), zap.String("conn", c.ID()))
		}
	}
	telemetry.RecordBroadcast(context.Background(), ev.Name, sent)
	return sent
}

func (r *Relay) broadcast(ctx context.Context, projectID string, ev Event, exclude string) {
	r.bcast.Broadcast(ctx, projectID, ev, exclude)
}

// RunSweeper evicts idle sessions every interval until ctx is cancelled.
func (r *Relay) RunSweeper(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultInactiveThreshold
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := len(r.EvictInactive(threshold)); n > 0 {
				r.log.Info("evicted inactive sessions", zap.Int("count", n))
			}
		}
	}
}

// Flush writes every pending debounced save immediately. Used on shutdown.
func (r *Relay) Flush() int {
	return r.saves.Flush()
}

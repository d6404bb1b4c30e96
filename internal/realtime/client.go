package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/codecanvas-io/collab/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	DefaultSendBuffer = 256
)

// Peer is an authenticated connection as seen by a Handler.
type Peer interface {
	relay.Conn
	UserID() string
}

// Handler consumes the frames of one connection. Handle is called from a
// single goroutine per connection, in arrival order.
type Handler interface {
	Handle(ctx context.Context, p Peer, raw []byte)
	Disconnect(ctx context.Context, p Peer)
}

// Client is one WebSocket connection. Outbound events are queued on a
// buffered channel and written by a dedicated goroutine; a client whose queue
// overflows is disconnected.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	log    *zap.Logger

	send      chan relay.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID string, buffer int, log *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		log:    log,
		send:   make(chan relay.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send queues ev without blocking. It reports false when the client is closed
// or its queue is full, in which case the client is closed.
func (c *Client) Send(ev relay.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Warn("send queue full, disconnecting", zap.String("conn", c.id), zap.String("user", c.userID))
		c.Close()
		return false
	}
}

// Close stops the client. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Serve runs the connection until the peer goes away, the client is closed or
// ctx is cancelled. h.Disconnect is called exactly once before it returns.
func (c *Client) Serve(ctx context.Context, h Handler) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx, h)
	c.Close()
	h.Disconnect(ctx, c)
	<-writerDone
}

func (c *Client) readPump(ctx context.Context, h Handler) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket closed unexpectedly", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.Handle(ctx, c, raw)
	}
}

// writePump owns all writes to the connection and closes it on exit, which
// also unblocks readPump.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			b, err := sonic.Marshal(ev)
			if err != nil {
				c.log.Error("encode event", zap.String("event", ev.Name), zap.Error(err))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-ctx.Done():
			c.Close()
			c.writeClose(websocket.CloseGoingAway)
			return
		case <-c.done:
			c.writeClose(websocket.CloseNormalClosure)
			return
		}
	}
}

func (c *Client) writeClose(code int) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
}

// Registry tracks live clients so they can be closed on shutdown. A client
// counts as live until Remove, which callers run after Serve returns.
type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]struct{})}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()
}

func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return
	}
	delete(r.clients, c)
	r.wg.Done()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Wait blocks until every registered client has been removed or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAll closes every registered client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

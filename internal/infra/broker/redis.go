// Package broker fans relay events out across server instances over Redis
// pub/sub. Every instance publishes room events to one channel per project and
// delivers whatever arrives on those channels to its own connections.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/codecanvas-io/collab/internal/relay"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deliverer hands an event to the connections held by this instance.
type Deliverer interface {
	Deliver(projectID string, ev relay.Event, exclude string) int
}

type envelope struct {
	Event   string          `json:"event"`
	Exclude string          `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type outbound struct {
	Event   string `json:"event"`
	Exclude string `json:"exclude,omitempty"`
	Data    any    `json:"data"`
}

type Redis struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger

	mu       sync.RWMutex
	fallback Deliverer
}

func NewRedis(rdb *redis.Client, prefix string, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, log: log}
}

func (b *Redis) channel(projectID string) string { return b.prefix + projectID }

// Broadcast implements relay.Broadcaster. When publishing fails the event is
// still delivered to this instance's connections.
func (b *Redis) Broadcast(ctx context.Context, projectID string, ev relay.Event, exclude string) {
	payload, err := sonic.Marshal(outbound{Event: ev.Name, Exclude: exclude, Data: ev.Data})
	if err != nil {
		b.log.Error("encode broadcast", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(projectID), payload).Err(); err != nil {
		b.log.Warn("publish broadcast failed, delivering locally",
			zap.String("project", projectID), zap.String("event", ev.Name), zap.Error(err))
		b.mu.RLock()
		d := b.fallback
		b.mu.RUnlock()
		if d != nil {
			d.Deliver(projectID, ev, exclude)
		}
	}
}

// Run subscribes to every project channel and delivers incoming events to d
// until ctx is cancelled. It returns once the subscription is gone.
func (b *Redis) Run(ctx context.Context, d Deliverer) error {
	b.mu.Lock()
	b.fallback = d
	b.mu.Unlock()

	pubsub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info("redis broker subscribed", zap.String("pattern", b.prefix+"*"))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(d, msg)
		}
	}
}

func (b *Redis) handle(d Deliverer, msg *redis.Message) {
	projectID := strings.TrimPrefix(msg.Channel, b.prefix)
	var env envelope
	if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
		b.log.Warn("drop malformed broadcast", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	d.Deliver(projectID, relay.Event{Name: env.Event, Data: env.Data}, env.Exclude)
}

package mq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/codecanvas-io/collab/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "collab.mq"

// DialFunc opens a broker connection. Publishers keep it to reconnect.
type DialFunc func() (*amqp.Connection, error)

// NewDialFunc builds a DialFunc from config. TLS is used when enabled or when
// the URL already says amqps.
func NewDialFunc(cfg *config.Config) DialFunc {
	return func() (*amqp.Connection, error) {
		url := cfg.RabbitMQ.URL
		if cfg.RabbitMQ.EnableTLS || strings.HasPrefix(url, "amqps://") {
			if strings.HasPrefix(url, "amqp://") {
				url = strings.Replace(url, "amqp://", "amqps://", 1)
			}
			return amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
		}
		return amqp.Dial(url)
	}
}

// tableCarrier adapts amqp.Table to TextMapCarrier for OpenTelemetry propagation
type tableCarrier struct {
	table amqp.Table
}

func (c tableCarrier) Get(key string) string {
	if val, ok := c.table[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", val)
	}
	return ""
}

func (c tableCarrier) Set(key, value string) {
	c.table[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c.table))
	for k := range c.table {
		keys = append(keys, k)
	}
	return keys
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Publisher publishes JSON messages to topic exchanges, reopening its channel
// once when the broker closed it.
type Publisher struct {
	dial DialFunc
	log  *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewPublisher(dial DialFunc, log *zap.Logger) (*Publisher, error) {
	p := &Publisher{dial: dial, log: log, declared: make(map[string]bool)}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial()
		if err != nil {
			return err
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.ch = ch
	p.declared = make(map[string]bool)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJSON(ctx context.Context, exchangeName string, routingKey string, body any) error {
	b, err := sonic.Marshal(body)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rabbitmq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", exchangeName),
			attribute.String("messaging.destination_kind", "exchange"),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
			attribute.Int("messaging.message.body.size", len(b)),
		))
	defer span.End()

	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier{table: headers})

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         b,
		Headers:      headers,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchangeName, routingKey, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.log.Warn("rabbitmq channel closed, reconnecting", zap.Error(err))
		if err = p.connect(); err == nil {
			err = p.publishLocked(ctx, exchangeName, routingKey, msg)
		}
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, exchangeName, routingKey string, msg amqp.Publishing) error {
	if !p.declared[exchangeName] {
		if err := declareExchange(p.ch, exchangeName); err != nil {
			return err
		}
		p.declared[exchangeName] = true
	}
	return p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, msg)
}

// Consumer reads from a private queue bound to a topic exchange.
type Consumer struct {
	ch  *amqp.Channel
	q   amqp.Queue
	log *zap.Logger
}

// NewConsumer declares an exclusive auto-delete queue bound to exchangeName
// with bindingKey, e.g. "activity.#".
func NewConsumer(conn *amqp.Connection, exchangeName, bindingKey string, log *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, exchangeName); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchangeName, false, nil); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, q: q, log: log}, nil
}

func (c *Consumer) Close() error { return c.ch.Close() }

// Handle delivers messages to handler until ctx is done. A handler error
// requeues the message.
func (c *Consumer) Handle(ctx context.Context, handler func(ctx context.Context, routingKey string, body []byte) error) error {
	msgs, err := c.ch.Consume(c.q.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	tracer := otel.Tracer(tracerName)
	propagator := otel.GetTextMapPropagator()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return errors.New("consumer channel closed")
			}

			msgCtx := ctx
			if m.Headers != nil {
				msgCtx = propagator.Extract(ctx, tableCarrier{table: m.Headers})
			}
			msgCtx, span := tracer.Start(msgCtx, "rabbitmq.consume",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", "rabbitmq"),
					attribute.String("messaging.destination", c.q.Name),
					attribute.String("messaging.rabbitmq.routing_key", m.RoutingKey),
				))

			if err := handler(msgCtx, m.RoutingKey, m.Body); err != nil {
				span.RecordError(err)
				_ = m.Nack(false, true)
				c.log.Sugar().Errorw("consume error", "err", err)
			} else {
				_ = m.Ack(false)
			}
			span.End()
		}
	}
}

// Package amqp adapts the domain's queue needs onto a single AMQP 0-9-1
// broker connection: one durable direct exchange, with each queue name
// doubling as its own routing key, per spec.md §6.
package amqp

import (
	"context"
	"fmt"
	"log/slog"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
)

// Queue wraps a single AMQP connection/channel pair bound to a direct
// exchange, with one durable queue declared per name passed to New.
type Queue struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	known    map[string]struct{}
}

// Config describes how to dial the broker and which exchange/queues to declare.
type Config struct {
	URL      string
	Exchange string
	Queues   []string
}

// New dials the broker, declares a durable direct exchange, and declares
// plus binds one durable queue per name in cfg.Queues (routing key = queue
// name). The returned Queue refuses to publish or consume on any name not
// in that set (ErrQueueUnknown).
func New(cfg Config) (*Queue, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("op=amqp.new.dial: %w: %v", domain.ErrQueueConnection, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.new.channel: %w: %v", domain.ErrQueueConnection, err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp091.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("op=amqp.new.exchange_declare: %w: %v", domain.ErrQueueConnection, err)
	}

	known := make(map[string]struct{}, len(cfg.Queues))
	for _, name := range cfg.Queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("op=amqp.new.queue_declare: %w: %v", domain.ErrQueueConnection, err)
		}
		if err := ch.QueueBind(name, name, cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("op=amqp.new.queue_bind: %w: %v", domain.ErrQueueConnection, err)
		}
		known[name] = struct{}{}
	}

	return &Queue{conn: conn, ch: ch, exchange: cfg.Exchange, known: known}, nil
}

// Close tears down the channel and connection.
func (q *Queue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publish sends body to queueName with routing key = queueName, persisted
// to disk so it survives a broker restart.
func (q *Queue) Publish(ctx context.Context, queueName string, body []byte) error {
	if _, ok := q.known[queueName]; !ok {
		return fmt.Errorf("op=amqp.publish: %w: %s", domain.ErrQueueUnknown, queueName)
	}

	tracer := otel.Tracer("queue.amqp")
	ctx, span := tracer.Start(ctx, "amqp.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", queueName),
	)

	err := q.ch.PublishWithContext(ctx, q.exchange, queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("op=amqp.publish: %w: %v", domain.ErrQueueConnection, err)
	}
	return nil
}

// PublishBatch publishes every body to queueName in sequence, stopping on
// the first error.
func (q *Queue) PublishBatch(ctx context.Context, queueName string, bodies [][]byte) error {
	for i, b := range bodies {
		if err := q.Publish(ctx, queueName, b); err != nil {
			return fmt.Errorf("op=amqp.publish_batch[%d]: %w", i, err)
		}
	}
	return nil
}

// Handler processes one delivery body. A nil return acks the message; any
// other return nacks it with requeue=true, per spec.md §4.1.5/§6.
type Handler func(ctx context.Context, body []byte) error

// ConsumeForever consumes queueName until ctx is cancelled, the delivery
// channel closes, or a handler returns an error, with prefetch=1 and manual ack/nack so a crashed worker's in-flight message is
// redelivered rather than lost.
func (q *Queue) ConsumeForever(ctx context.Context, queueName string, handler Handler) error {
	if _, ok := q.known[queueName]; !ok {
		return fmt.Errorf("op=amqp.consume_forever: %w: %s", domain.ErrQueueUnknown, queueName)
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("op=amqp.consume_forever.qos: %w: %v", domain.ErrQueueConnection, err)
	}

	deliveries, err := q.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=amqp.consume_forever.consume: %w: %v", domain.ErrQueueConnection, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("op=amqp.consume_forever: %w", domain.ErrQueueConnection)
			}
			if err := q.handleOne(ctx, queueName, d, handler); err != nil {
				return fmt.Errorf("op=amqp.consume_forever: %w", err)
			}
		}
	}
}

// ConsumeOne consumes and handles a single delivery from queueName, for
// tests and for message types that don't warrant a dedicated forever loop.
func (q *Queue) ConsumeOne(ctx context.Context, queueName string, handler Handler) error {
	return q.ConsumeN(ctx, queueName, 1, handler)
}

// ConsumeN consumes and handles up to n deliveries from queueName, then
// returns.
func (q *Queue) ConsumeN(ctx context.Context, queueName string, n int, handler Handler) error {
	if _, ok := q.known[queueName]; !ok {
		return fmt.Errorf("op=amqp.consume_n: %w: %s", domain.ErrQueueUnknown, queueName)
	}
	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("op=amqp.consume_n.qos: %w: %v", domain.ErrQueueConnection, err)
	}
	deliveries, err := q.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=amqp.consume_n.consume: %w: %v", domain.ErrQueueConnection, err)
	}

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("op=amqp.consume_n: %w", domain.ErrQueueConnection)
			}
			if err := q.handleOne(ctx, queueName, d, handler); err != nil {
				return fmt.Errorf("op=amqp.consume_n: %w", err)
			}
		}
	}
	return nil
}

// handleOne runs handler against one delivery. On failure it nacks with
// requeue=true and re-raises the handler's error so a persistent fatal
// condition reaches the consume loop's caller instead of nacking forever
// (spec.md §4.1.5/§4.1.6).
func (q *Queue) handleOne(ctx context.Context, queueName string, d amqp091.Delivery, handler Handler) error {
	tracer := otel.Tracer("queue.amqp")
	ctx, span := tracer.Start(ctx, "amqp.Consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", queueName),
	)

	if err := handler(ctx, d.Body); err != nil {
		slog.Error("message handler failed, nacking with requeue",
			slog.String("queue", queueName), slog.Any("error", err))
		if ackErr := d.Nack(false, true); ackErr != nil {
			slog.Error("nack failed", slog.String("queue", queueName), slog.Any("error", ackErr))
		}
		return err
	}
	if err := d.Ack(false); err != nil {
		slog.Error("ack failed", slog.String("queue", queueName), slog.Any("error", err))
	}
	return nil
}

package amqp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/louisb0/talos/internal/domain"
)

// These tests exercise the queue-name guard paths, which run before any
// broker I/O, without requiring a live RabbitMQ connection. The
// publish/consume happy paths and ack/nack behavior require a real broker
// (the teacher's test stack reaches for testcontainers-go for that) and are
// not exercised here.

func TestPublishRejectsUnknownQueue(t *testing.T) {
	q := &Queue{known: map[string]struct{}{"community.rescan": {}}}

	err := q.Publish(context.Background(), "not.a.queue", []byte("body"))
	assert.ErrorIs(t, err, domain.ErrQueueUnknown)
}

func TestConsumeForeverRejectsUnknownQueue(t *testing.T) {
	q := &Queue{known: map[string]struct{}{"community.rescan": {}}}

	err := q.ConsumeForever(context.Background(), "not.a.queue", func(ctx context.Context, body []byte) error { return nil })
	assert.ErrorIs(t, err, domain.ErrQueueUnknown)
}

func TestConsumeNRejectsUnknownQueue(t *testing.T) {
	q := &Queue{known: map[string]struct{}{"community.rescan": {}}}

	err := q.ConsumeN(context.Background(), "not.a.queue", 1, func(ctx context.Context, body []byte) error { return nil })
	assert.ErrorIs(t, err, domain.ErrQueueUnknown)
}

func TestPublishBatchStopsOnFirstError(t *testing.T) {
	q := &Queue{known: map[string]struct{}{}}

	err := q.PublishBatch(context.Background(), "not.a.queue", [][]byte{[]byte("a"), []byte("b")})
	assert.ErrorIs(t, err, domain.ErrQueueUnknown)
}

func TestCloseOnNilQueueIsNoop(t *testing.T) {
	var q *Queue
	assert.NoError(t, q.Close())
}

func TestCloseWithNoConnectionIsNoop(t *testing.T) {
	q := &Queue{}
	assert.NoError(t, q.Close())
}

package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskflow/backend/internal/worker"
)

// Observer receives the outcome of each publish attempt.
type Observer interface {
	ObservePublish(event, result string)
}

// AsyncPublisher hands publishes to a worker pool so callers never wait on
// the broker. A message that cannot be queued is dropped.
type AsyncPublisher struct {
	next     Publisher
	pool     *worker.Pool
	log      *zap.Logger
	observer Observer
}

func NewAsyncPublisher(next Publisher, pool *worker.Pool, log *zap.Logger, observer Observer) *AsyncPublisher {
	return &AsyncPublisher{next: next, pool: pool, log: log, observer: observer}
}

// Publish always returns nil; delivery failures are logged by the pool.
func (p *AsyncPublisher) Publish(_ context.Context, topic string, msg Message) error {
	accepted := p.pool.Submit(worker.Job{
		Name: "publish " + msg.Event,
		Run: func(ctx context.Context) error {
			if err := p.next.Publish(ctx, topic, msg); err != nil {
				p.observe(msg.Event, "error")
				return fmt.Errorf("publish to %s: %w", topic, err)
			}
			p.observe(msg.Event, "sent")
			return nil
		},
	})
	if !accepted {
		p.observe(msg.Event, "dropped")
		p.log.Warn("broadcast dropped", zap.String("topic", topic), zap.String("event", msg.Event))
	}
	return nil
}

func (p *AsyncPublisher) observe(event, result string) {
	if p.observer != nil {
		p.observer.ObservePublish(event, result)
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker carries messages over Redis PUBLISH/SUBSCRIBE so every server
// instance sees events raised by any other.
type RedisBroker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisBroker(client *redis.Client, log *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	// Wait for the confirmation so nothing published after Subscribe
	// returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := newSubscription(topic, func() { _ = ps.Close() })
	go b.forward(ps, sub)
	return sub, nil
}

func (b *RedisBroker) forward(ps *redis.PubSub, sub *Subscription) {
	defer sub.Close()

	for raw := range ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			b.log.Warn("discarding malformed broadcast",
				zap.String("topic", raw.Channel), zap.Error(err))
			continue
		}
		if !sub.offer(msg) {
			b.log.Debug("subscriber buffer full, dropping message",
				zap.String("topic", raw.Channel), zap.String("event", msg.Event))
		}
	}
}

// Close is a no-op: the client is shared with the cache and owned by main.
func (b *RedisBroker) Close() error {
	return nil
}

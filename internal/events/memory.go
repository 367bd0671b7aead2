package events

import (
	"context"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryBroker fans messages out to subscribers in the same process.
type MemoryBroker struct {
	topics *xsync.MapOf[string, *xsync.MapOf[uint64, *Subscription]]
	nextID atomic.Uint64
	drops  atomic.Int64
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: xsync.NewMapOf[string, *xsync.MapOf[uint64, *Subscription]](),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, topic string, msg Message) error {
	subs, ok := b.topics.Load(topic)
	if !ok {
		return nil
	}
	subs.Range(func(_ uint64, sub *Subscription) bool {
		if !sub.offer(msg) {
			b.drops.Add(1)
		}
		return true
	})
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	id := b.nextID.Add(1)
	sub := newSubscription(topic, func() { b.remove(topic, id) })

	b.topics.Compute(topic, func(subs *xsync.MapOf[uint64, *Subscription], loaded bool) (*xsync.MapOf[uint64, *Subscription], bool) {
		if !loaded {
			subs = xsync.NewMapOf[uint64, *Subscription]()
		}
		subs.Store(id, sub)
		return subs, false
	})
	return sub, nil
}

func (b *MemoryBroker) remove(topic string, id uint64) {
	b.topics.Compute(topic, func(subs *xsync.MapOf[uint64, *Subscription], loaded bool) (*xsync.MapOf[uint64, *Subscription], bool) {
		if !loaded {
			return nil, true
		}
		subs.Delete(id)
		return subs, subs.Size() == 0
	})
}

// Subscribers counts live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	subs, ok := b.topics.Load(topic)
	if !ok {
		return 0
	}
	return subs.Size()
}

func (b *MemoryBroker) Dropped() int64 {
	return b.drops.Load()
}

func (b *MemoryBroker) Close() error {
	var all []*Subscription
	b.topics.Range(func(_ string, subs *xsync.MapOf[uint64, *Subscription]) bool {
		subs.Range(func(_ uint64, sub *Subscription) bool {
			all = append(all, sub)
			return true
		})
		return true
	})
	for _, sub := range all {
		sub.Close()
	}
	return nil
}

package events

import (
	"context"
	"sync"
)

// Publisher sends a message to every current subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

const subscriptionBuffer = 64

// Subscription is one live listener on a topic. Messages that arrive while
// its buffer is full are dropped.
type Subscription struct {
	Topic string

	ch      chan Message
	once    sync.Once
	onClose func()

	mu     sync.RWMutex
	closed bool
}

func newSubscription(topic string, onClose func()) *Subscription {
	return &Subscription{
		Topic:   topic,
		ch:      make(chan Message, subscriptionBuffer),
		onClose: onClose,
	}
}

// Messages is closed once the subscription ends.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// offer hands msg to the subscriber without blocking.
func (s *Subscription) offer(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

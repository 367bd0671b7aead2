package handlers

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"taskflow/backend/internal/events"
)

// SubscriberObserver is told when event streams open and close.
type SubscriberObserver interface {
	SubscriberConnected()
	SubscriberDisconnected()
}

type BroadcastHandler struct {
	subscriber events.Subscriber
	heartbeat  time.Duration
	log        *zap.Logger
	observer   SubscriberObserver

	done      chan struct{}
	closeOnce sync.Once
}

func NewBroadcastHandler(subscriber events.Subscriber, heartbeat time.Duration, log *zap.Logger, observer SubscriberObserver) *BroadcastHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &BroadcastHandler{
		subscriber: subscriber,
		heartbeat:  heartbeat,
		log:        log,
		observer:   observer,
		done:       make(chan struct{}),
	}
}

// Close ends every open stream. Streams opened afterwards end immediately.
func (h *BroadcastHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// StreamTasks relays the user's private task topic as Server-Sent Events.
// The first event, "connected", carries the socket id the client sends back
// in X-Socket-ID so its own writes are not echoed to it.
func (h *BroadcastHandler) StreamTasks(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "user_id")
	if !ok {
		return
	}

	topic := events.TaskTopic(id)
	if err := events.AuthorizeTopic(user.ID, topic); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "You may only subscribe to your own channel"})
		return
	}

	ctx := c.Request.Context()
	sub, err := h.subscriber.Subscribe(ctx, topic)
	if err != nil {
		h.log.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast_unavailable"})
		return
	}
	defer sub.Close()

	if h.observer != nil {
		h.observer.SubscriberConnected()
		defer h.observer.SubscriberDisconnected()
	}

	socketID := uuid.Must(uuid.NewV4()).String()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", gin.H{"socket_id": socketID, "channel": topic})
	c.Writer.Flush()

	h.log.Debug("subscriber connected", zap.String("topic", topic), zap.String("socket_id", socketID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			if msg.DeliverTo(socketID) {
				c.SSEvent(msg.Event, msg.Data)
			}
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": heartbeat\n\n")
			return err == nil
		}
	})

	h.log.Debug("subscriber disconnected", zap.String("topic", topic), zap.String("socket_id", socketID))
}

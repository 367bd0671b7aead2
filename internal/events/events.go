// Package events broadcasts task changes to the owner's open sessions.
//
// Delivery is at-most-once: nothing is persisted or replayed, and a
// subscriber that is not connected when a message is published never sees it.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"taskflow/backend/internal/models"
)

const (
	TaskCreated       = "task.created"
	TaskStatusChanged = "task.status.changed"

	topicPrefix = "private:tasks."
)

var ErrTopicForbidden = errors.New("not allowed to subscribe to topic")

// TaskTopic is the private topic that carries a user's task events.
func TaskTopic(userID uint) string {
	return topicPrefix + strconv.FormatUint(uint64(userID), 10)
}

// AuthorizeTopic allows a principal to subscribe only to its own task topic.
func AuthorizeTopic(principalID uint, topic string) error {
	raw, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicForbidden, topic)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || uint(id) != principalID || principalID == 0 {
		return fmt.Errorf("%w: %s", ErrTopicForbidden, topic)
	}
	return nil
}

// Message is the envelope carried over the broker.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	// SocketID identifies the connection that caused the event. That
	// connection does not receive the message.
	SocketID string `json:"socket_id,omitempty"`
}

func NewMessage(event string, payload interface{}, socketID string) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data, SocketID: socketID}, nil
}

// DeliverTo reports whether the connection with socketID should receive m.
func (m Message) DeliverTo(socketID string) bool {
	return m.SocketID == "" || m.SocketID != socketID
}

type TaskCreatedPayload struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	Priority  models.Priority `json:"priority"`
	Status    models.Status   `json:"status"`
	Category  *string         `json:"category"`
	UserName  string          `json:"user_name"`
	CreatedAt string          `json:"created_at"`
}

type TaskStatusChangedPayload struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	OldStatus models.Status   `json:"old_status"`
	NewStatus models.Status   `json:"new_status"`
	Priority  models.Priority `json:"priority"`
	UserName  string          `json:"user_name"`
	UpdatedAt string          `json:"updated_at"`
}

func NewTaskCreatedPayload(task *models.Task, user *models.User, now time.Time) TaskCreatedPayload {
	return TaskCreatedPayload{
		ID:        task.ID,
		Title:     task.Title,
		Priority:  task.Priority,
		Status:    task.Status,
		Category:  task.CategoryName(),
		UserName:  user.Name,
		CreatedAt: Relative(task.CreatedAt, now),
	}
}

func NewTaskStatusChangedPayload(task *models.Task, oldStatus models.Status, user *models.User, now time.Time) TaskStatusChangedPayload {
	return TaskStatusChangedPayload{
		ID:        task.ID,
		Title:     task.Title,
		OldStatus: oldStatus,
		NewStatus: task.Status,
		Priority:  task.Priority,
		UserName:  user.Name,
		UpdatedAt: Relative(task.UpdatedAt, now),
	}
}

// Relative renders t as human text relative to now, e.g. "3 minutes ago".
func Relative(t, now time.Time) string {
	if now.Sub(t) < time.Second && t.Sub(now) < time.Second {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

type socketKey struct{}

// WithSocketID marks ctx as belonging to a request issued from the given
// subscriber connection.
func WithSocketID(ctx context.Context, socketID string) context.Context {
	if socketID == "" {
		return ctx
	}
	return context.WithValue(ctx, socketKey{}, socketID)
}

func SocketIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(socketKey{}).(string)
	return id
}

// Package services holds the business rules of the API. Every write follows
// the same order: store write, cache invalidation, event publish. The last two
// are best effort and never fail a request whose write committed.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskflow/backend/internal/cache"
	"taskflow/backend/internal/events"
)

// CacheTTLs sets how long each cached read stays fresh.
type CacheTTLs struct {
	DashboardStats time.Duration
	RecentTasks    time.Duration
	Categories     time.Duration
	TaskList       time.Duration
}

func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		DashboardStats: 300 * time.Second,
		RecentTasks:    120 * time.Second,
		Categories:     600 * time.Second,
		TaskList:       180 * time.Second,
	}
}

// Clock returns the current time. Tests replace it to pin "today".
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// userWriteKeys are the cached reads touched by any change to a user's tasks.
// The category list is included because it carries task counts.
func userWriteKeys(userID uint) []string {
	return append(cache.UserKeys(userID), cache.CategoryListKey)
}

func publish(ctx context.Context, pub events.Publisher, log *zap.Logger, userID uint, event string, payload interface{}) {
	msg, err := events.NewMessage(event, payload, events.SocketIDFromContext(ctx))
	if err != nil {
		log.Warn("event encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := pub.Publish(ctx, events.TaskTopic(userID), msg); err != nil {
		log.Warn("event publish failed",
			zap.String("event", event), zap.Uint("user_id", userID), zap.Error(err))
	}
}

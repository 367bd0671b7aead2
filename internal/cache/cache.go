package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

// Cache is a key/value store with a per-key TTL. Values are JSON encoded by
// every implementation, so Get always decodes a private copy into dest.
type Cache interface {
	// Get decodes the live value stored under key into dest. It returns
	// ErrCacheMiss when the key is absent or its TTL has passed.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Health(ctx context.Context) error
	Close() error
}

// GetOrCompute returns the value cached under key, or runs compute, stores its
// result for ttl and returns it.
//
// A failing cache never fails the call: read errors fall through to compute
// and write errors are logged. Errors from compute are returned and nothing is
// stored. Concurrent misses on the same key each run compute.
func GetOrCompute[T any](ctx context.Context, c Cache, log *zap.Logger, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	err := c.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warn("cache read failed, computing", zap.String("key", key), zap.Error(err))
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// Invalidate deletes keys and logs instead of returning a failure.
func Invalidate(ctx context.Context, c Cache, log *zap.Logger, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.Delete(ctx, keys...); err != nil {
		log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/viccon/sturdyc"
)

type MemoryConfig struct {
	Capacity int
	Shards   int
	// MaxTTL bounds how long any entry can live in the store. Entries also
	// carry their own deadline, so shorter per-key TTLs are honored exactly.
	MaxTTL             time.Duration
	EvictionPercentage int
}

func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Capacity:           10000,
		Shards:             16,
		MaxTTL:             24 * time.Hour,
		EvictionPercentage: 10,
	}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache on top of a sharded sturdyc store.
type MemoryCache struct {
	store *sturdyc.Client[memoryEntry]
	now   func() time.Time
}

func NewMemoryCache(config *MemoryConfig) (*MemoryCache, error) {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	if config.Capacity <= 0 || config.Shards <= 0 || config.Capacity < config.Shards {
		return nil, errors.New("memory cache needs a positive capacity of at least one entry per shard")
	}
	if config.MaxTTL <= 0 {
		return nil, errors.New("memory cache max ttl must be positive")
	}
	if config.EvictionPercentage < 0 || config.EvictionPercentage > 100 {
		return nil, errors.New("memory cache eviction percentage must be within 0-100")
	}

	return &MemoryCache{
		store: sturdyc.New[memoryEntry](config.Capacity, config.Shards, config.MaxTTL, config.EvictionPercentage),
		now:   time.Now,
	}, nil
}

// WithClock replaces the time source used for per-key expiry.
func (m *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	m.now = now
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	entry, ok := m.store.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	if !m.now().Before(entry.expiresAt) {
		m.store.Delete(key)
		return ErrCacheMiss
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %v for key %s", ttl, key)
	}
	m.store.Set(key, memoryEntry{data: data, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.store.Delete(key)
	}
	return nil
}

func (m *MemoryCache) Health(context.Context) error {
	return nil
}

func (m *MemoryCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend": "memory",
		"entries": m.store.Size(),
	}
}

func (m *MemoryCache) Close() error {
	return nil
}

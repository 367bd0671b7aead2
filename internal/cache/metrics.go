package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

type CacheMetrics struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`

	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	StartTime int64 `json:"start_time"`
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		StartTime: time.Now().Unix(),
	}
}

func (m *CacheMetrics) RecordHit() {
	atomic.AddInt64(&m.Hits, 1)
}

func (m *CacheMetrics) RecordMiss() {
	atomic.AddInt64(&m.Misses, 1)
}

func (m *CacheMetrics) RecordError() {
	atomic.AddInt64(&m.Errors, 1)
}

func (m *CacheMetrics) RecordSet() {
	atomic.AddInt64(&m.Sets, 1)
}

func (m *CacheMetrics) RecordDelete(n int) {
	atomic.AddInt64(&m.Deletes, int64(n))
}

func (m *CacheMetrics) Snapshot() CacheMetrics {
	return CacheMetrics{
		Hits:      atomic.LoadInt64(&m.Hits),
		Misses:    atomic.LoadInt64(&m.Misses),
		Errors:    atomic.LoadInt64(&m.Errors),
		Sets:      atomic.LoadInt64(&m.Sets),
		Deletes:   atomic.LoadInt64(&m.Deletes),
		StartTime: atomic.LoadInt64(&m.StartTime),
	}
}

// HitRate is the percentage of reads served from the cache.
func (m *CacheMetrics) HitRate() float64 {
	hits := atomic.LoadInt64(&m.Hits)
	misses := atomic.LoadInt64(&m.Misses)
	total := hits + misses

	if total == 0 {
		return 0.0
	}

	return float64(hits) / float64(total) * 100.0
}

func (m *CacheMetrics) Reset() {
	atomic.StoreInt64(&m.Hits, 0)
	atomic.StoreInt64(&m.Misses, 0)
	atomic.StoreInt64(&m.Errors, 0)
	atomic.StoreInt64(&m.Sets, 0)
	atomic.StoreInt64(&m.Deletes, 0)
	atomic.StoreInt64(&m.StartTime, time.Now().Unix())
}

// Observer receives one call per cache operation, e.g. ("get", "hit").
type Observer interface {
	ObserveCache(op, result string)
}

// InstrumentedCache counts hits, misses, writes and failures of the wrapped Cache.
type InstrumentedCache struct {
	next     Cache
	metrics  *CacheMetrics
	observer Observer
}

func NewInstrumentedCache(next Cache, metrics *CacheMetrics, observer Observer) *InstrumentedCache {
	if metrics == nil {
		metrics = NewCacheMetrics()
	}
	return &InstrumentedCache{next: next, metrics: metrics, observer: observer}
}

func (c *InstrumentedCache) observe(op, result string) {
	if c.observer != nil {
		c.observer.ObserveCache(op, result)
	}
}

func (c *InstrumentedCache) Get(ctx context.Context, key string, dest interface{}) error {
	err := c.next.Get(ctx, key, dest)
	switch {
	case err == nil:
		c.metrics.RecordHit()
		c.observe("get", "hit")
	case errors.Is(err, ErrCacheMiss):
		c.metrics.RecordMiss()
		c.observe("get", "miss")
	default:
		c.metrics.RecordMiss()
		c.metrics.RecordError()
		c.observe("get", "error")
	}
	return err
}

func (c *InstrumentedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.next.Set(ctx, key, value, ttl); err != nil {
		c.metrics.RecordError()
		c.observe("set", "error")
		return err
	}
	c.metrics.RecordSet()
	c.observe("set", "ok")
	return nil
}

func (c *InstrumentedCache) Delete(ctx context.Context, keys ...string) error {
	if err := c.next.Delete(ctx, keys...); err != nil {
		c.metrics.RecordError()
		c.observe("delete", "error")
		return err
	}
	c.metrics.RecordDelete(len(keys))
	c.observe("delete", "ok")
	return nil
}

func (c *InstrumentedCache) Health(ctx context.Context) error {
	return c.next.Health(ctx)
}

func (c *InstrumentedCache) Close() error {
	return c.next.Close()
}

func (c *InstrumentedCache) Metrics() *CacheMetrics {
	return c.metrics
}

func (c *InstrumentedCache) Stats() map[string]interface{} {
	snap := c.metrics.Snapshot()
	stats := map[string]interface{}{
		"hits":     snap.Hits,
		"misses":   snap.Misses,
		"errors":   snap.Errors,
		"sets":     snap.Sets,
		"deletes":  snap.Deletes,
		"hit_rate": c.metrics.HitRate(),
		"since":    snap.StartTime,
	}
	if s, ok := c.next.(interface{ Stats() map[string]interface{} }); ok {
		for k, v := range s.Stats() {
			stats[k] = v
		}
	}
	return stats
}

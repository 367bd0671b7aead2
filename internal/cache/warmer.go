package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// WarmupJob recomputes one cache entry.
type WarmupJob struct {
	Key  string
	TTL  time.Duration
	Load func(ctx context.Context) (interface{}, error)
}

// CacheWarmer refreshes registered global entries on a cron schedule so the
// first reader after expiry does not pay for the query.
type CacheWarmer struct {
	cache    Cache
	log      *zap.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	jobs    []WarmupJob
	cron    *cron.Cron
	running bool
}

func NewCacheWarmer(c Cache, log *zap.Logger, schedule string) *CacheWarmer {
	return &CacheWarmer{
		cache:    c,
		log:      log.Named("cache-warmer"),
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

func (w *CacheWarmer) Register(job WarmupJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
}

// WarmNow runs every registered job once and returns how many entries were stored.
func (w *CacheWarmer) WarmNow(ctx context.Context) int {
	w.mu.Lock()
	jobs := make([]WarmupJob, len(w.jobs))
	copy(jobs, w.jobs)
	w.mu.Unlock()

	warmed := 0
	for _, job := range jobs {
		value, err := job.Load(ctx)
		if err != nil {
			w.log.Warn("warmup load failed", zap.String("key", job.Key), zap.Error(err))
			continue
		}
		if err := w.cache.Set(ctx, job.Key, value, job.TTL); err != nil {
			w.log.Warn("warmup store failed", zap.String("key", job.Key), zap.Error(err))
			continue
		}
		warmed++
	}
	w.log.Debug("cache warmed", zap.Int("entries", warmed), zap.Int("jobs", len(jobs)))
	return warmed
}

func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(w.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		w.WarmNow(runCtx)
	})
	if err != nil {
		return fmt.Errorf("invalid warm schedule %q: %w", w.schedule, err)
	}

	c.Start()
	w.cron = c
	w.running = true
	w.log.Info("cache warmer started", zap.String("schedule", w.schedule))
	return nil
}

func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.running = false
	w.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		w.log.Info("cache warmer stopped")
	}
}

func (w *CacheWarmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

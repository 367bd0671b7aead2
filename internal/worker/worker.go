package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of fire-and-forget work. Failures are logged, never retried.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	QueueSize   int
	Concurrency int
	// JobTimeout bounds a single Run call.
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   1024,
		Concurrency: 2,
		JobTimeout:  5 * time.Second,
	}
}

var ErrStopped = errors.New("worker pool stopped")

// Pool runs submitted jobs on a fixed set of goroutines fed by a bounded
// in-memory queue. Submit never blocks: when the queue is full the job is
// dropped and counted.
type Pool struct {
	config Config
	log    *zap.Logger
	queue  chan Job

	mu      sync.RWMutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewPool(config Config, log *zap.Logger) *Pool {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: config,
		log:    log,
		queue:  make(chan Job, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.log.Info("starting worker pool",
		zap.Int("concurrency", p.config.Concurrency),
		zap.Int("queue_size", p.config.QueueSize))

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Submit enqueues job and reports whether it was accepted.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		p.dropped.Add(1)
		p.log.Warn("worker queue full, dropping job", zap.String("job", job.Name))
		return false
	}
}

// Stop refuses new jobs and waits for queued ones to finish. If ctx expires
// first, running jobs are cancelled and the rest of the queue is abandoned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool stopped", zap.Int64("processed", p.processed.Load()))
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for job := range p.queue {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		p.execute(job)
	}
}

func (p *Pool) execute(job Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.log.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.failed.Add(1)
		p.log.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	p.processed.Add(1)
}

func (p *Pool) Pending() int {
	return len(p.queue)
}

func (p *Pool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"pending":   p.Pending(),
		"processed": p.processed.Load(),
		"failed":    p.failed.Load(),
		"dropped":   p.dropped.Load(),
	}
}

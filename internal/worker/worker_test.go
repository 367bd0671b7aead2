package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := NewPool(Config{QueueSize: 10, Concurrency: 2}, zap.NewNop())
	p.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := p.Submit(Job{Name: "count", Run: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}})
		require.True(t, ok)
	}
	wg.Wait()

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, int64(5), p.Stats()["processed"])
}

func TestPool_DropsWhenFull(t *testing.T) {
	p := NewPool(Config{QueueSize: 1, Concurrency: 1}, zap.NewNop())

	assert.True(t, p.Submit(Job{Name: "first", Run: func(context.Context) error { return nil }}))
	assert.False(t, p.Submit(Job{Name: "second", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, int64(1), p.Stats()["dropped"])
	assert.Equal(t, 1, p.Pending())
}

func TestPool_StopDrainsQueue(t *testing.T) {
	p := NewPool(Config{QueueSize: 10, Concurrency: 1}, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		p.Submit(Job{Name: "drain", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	p.Start()

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
	assert.False(t, p.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestPool_StopHonorsDeadline(t *testing.T) {
	p := NewPool(Config{QueueSize: 10, Concurrency: 1, JobTimeout: time.Minute}, zap.NewNop())
	p.Start()

	started := make(chan struct{})
	p.Submit(Job{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_FailuresAndPanicsAreContained(t *testing.T) {
	p := NewPool(Config{QueueSize: 10, Concurrency: 1}, zap.NewNop())
	p.Start()

	p.Submit(Job{Name: "fail", Run: func(context.Context) error { return errors.New("nope") }})
	p.Submit(Job{Name: "panic", Run: func(context.Context) error { panic("boom") }})

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int64(2), p.Stats()["failed"])
}

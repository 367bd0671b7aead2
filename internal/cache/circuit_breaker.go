package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

type CircuitBreakerConfig struct {
	MaxFailures      int           `json:"max_failures"`
	Timeout          time.Duration `json:"timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker stops calling a failing dependency for Timeout after
// MaxFailures consecutive errors, then lets HalfOpenMaxCalls probes through
// before closing again.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	inFlight        int
	lastFailureTime time.Time

	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int
	now              func() time.Time
}

func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreaker{
		state:            CircuitBreakerClosed,
		maxFailures:      max(config.MaxFailures, 1),
		timeout:          config.Timeout,
		halfOpenMaxCalls: max(config.HalfOpenMaxCalls, 1),
		now:              time.Now,
	}
}

// Execute runs fn unless the breaker is open. Errors for which counts returns
// false pass through without tripping the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteCounting(fn, func(error) bool { return true })
}

func (cb *CircuitBreaker) ExecuteCounting(fn func() error, counts func(error) bool) error {
	if !cb.allow() {
		return ErrCircuitBreakerOpen
	}

	err := fn()
	if err != nil && counts(err) {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			return false
		}
		cb.state = CircuitBreakerHalfOpen
		cb.successCount = 0
		cb.inFlight = 1
		return true
	case CircuitBreakerHalfOpen:
		if cb.inFlight >= cb.halfOpenMaxCalls {
			return false
		}
		cb.inFlight++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitBreakerClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = CircuitBreakerOpen
		}
	case CircuitBreakerHalfOpen:
		cb.state = CircuitBreakerOpen
		cb.successCount = 0
		cb.inFlight = 0
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerClosed:
		cb.failureCount = 0
	case CircuitBreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.state = CircuitBreakerClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.inFlight = 0
		}
	}
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"state":           cb.state.String(),
		"failure_count":   cb.failureCount,
		"success_count":   cb.successCount,
		"last_failure":    cb.lastFailureTime.Unix(),
		"max_failures":    cb.maxFailures,
		"timeout_seconds": cb.timeout.Seconds(),
	}
}

// BreakerCache guards a remote Cache with a CircuitBreaker. While the breaker
// is open every call returns ErrCircuitBreakerOpen immediately, so readers fall
// back to computing instead of waiting on a dead server. Misses do not count as
// failures.
type BreakerCache struct {
	next    Cache
	breaker *CircuitBreaker
}

func NewBreakerCache(next Cache, breaker *CircuitBreaker) *BreakerCache {
	if breaker == nil {
		breaker = NewCircuitBreaker(nil)
	}
	return &BreakerCache{next: next, breaker: breaker}
}

func isCacheFailure(err error) bool {
	return !errors.Is(err, ErrCacheMiss)
}

func (b *BreakerCache) Get(ctx context.Context, key string, dest interface{}) error {
	return b.breaker.ExecuteCounting(func() error {
		return b.next.Get(ctx, key, dest)
	}, isCacheFailure)
}

func (b *BreakerCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return b.breaker.Execute(func() error {
		return b.next.Set(ctx, key, value, ttl)
	})
}

func (b *BreakerCache) Delete(ctx context.Context, keys ...string) error {
	return b.breaker.Execute(func() error {
		return b.next.Delete(ctx, keys...)
	})
}

// Health always probes the backend so a recovered server is reported healthy
// even before the breaker closes.
func (b *BreakerCache) Health(ctx context.Context) error {
	return b.next.Health(ctx)
}

func (b *BreakerCache) Close() error {
	return b.next.Close()
}

func (b *BreakerCache) Breaker() *CircuitBreaker {
	return b.breaker
}

func (b *BreakerCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{"breaker": b.breaker.GetStats()}
	if s, ok := b.next.(interface{ Stats() map[string]interface{} }); ok {
		for k, v := range s.Stats() {
			stats[k] = v
		}
	}
	return stats
}

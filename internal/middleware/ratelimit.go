package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// IdleTTL is how long a client's limiter is kept after its last request.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	config  RateLimitConfig
	clients *xsync.MapOf[string, *clientLimiter]
	now     func() time.Time
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 5 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		clients: xsync.NewMapOf[string, *clientLimiter](),
		now:     time.Now,
	}
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(int(time.Minute.Seconds())/l.config.RequestsPerMinute+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(client string) bool {
	now := l.now()
	entry, _ := l.clients.Compute(client, func(old *clientLimiter, loaded bool) (*clientLimiter, bool) {
		if !loaded {
			every := time.Minute / time.Duration(l.config.RequestsPerMinute)
			old = &clientLimiter{limiter: rate.NewLimiter(rate.Every(every), l.config.Burst)}
		}
		old.lastSeen = now
		return old, false
	})
	return entry.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than the configured TTL.
func (l *RateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.config.IdleTTL)
	removed := 0
	l.clients.Range(func(client string, entry *clientLimiter) bool {
		l.clients.Compute(client, func(old *clientLimiter, loaded bool) (*clientLimiter, bool) {
			if loaded && old.lastSeen.Before(cutoff) {
				removed++
				return nil, true
			}
			return old, !loaded
		})
		return true
	})
	return removed
}

// Run sweeps idle clients every interval until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *RateLimiter) Clients() int {
	return l.clients.Size()
}

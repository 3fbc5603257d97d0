// Package ratelimit provides fixed-window rate limiting middleware.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kmw384/paygate/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// Limit is the max requests per key per window
	Limit int
	// Window is the fixed window length
	Window time.Duration
	// CleanupInterval is how often to sweep stale entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Limit:           60,
		Window:          time.Minute,
		CleanupInterval: time.Minute,
	}
}

type windowState struct {
	count       int
	windowStart time.Time
}

// Limiter tracks fixed request windows by key. Each key gets a counter
// that resets when a full window has elapsed since windowStart.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*windowState
	stop    chan struct{}
}

// New creates a rate limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*windowState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes entries idle for more than 2 windows.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, state := range l.windows {
				if now.Sub(state.windowStart) > 2*l.cfg.Window {
					delete(l.windows, key)
				}
			}
			metrics.RateWindowsTracked.Set(float64(len(l.windows)))
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks whether a request for key is within the limit.
// When denied, retryAfter is the time remaining until the window resets.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, ok := l.windows[key]
	if !ok {
		l.windows[key] = &windowState{count: 1, windowStart: now}
		metrics.RateWindowsTracked.Set(float64(len(l.windows)))
		return true, 0
	}

	if now.Sub(state.windowStart) >= l.cfg.Window {
		state.count = 1
		state.windowStart = now
		return true, 0
	}

	if state.count >= l.cfg.Limit {
		remaining := l.cfg.Window - now.Sub(state.windowStart)
		return false, remaining
	}

	state.count++
	return true, 0
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// retryAfterSeconds rounds up so clients never retry before the window resets.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Middleware returns a Gin middleware that rate limits by client IP.
// Denied requests get 429 with a Retry-After header.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := l.Allow(c.ClientIP())
		if !allowed {
			secs := retryAfterSeconds(retryAfter)
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"reason":      "rate_limited",
				"retry_after": secs,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

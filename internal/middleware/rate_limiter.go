package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mrkniai/backend/internal/config"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedRateLimiter keeps one token bucket per key (a user id, or an address for anonymous
// callers). Idle buckets are dropped after ttl.
type KeyedRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	lastGC  time.Time
	now     func() time.Time
}

// NewKeyedRateLimiter allows cfg.Requests events per cfg.Window on top of a cfg.Burst
// allowance, per key.
func NewKeyedRateLimiter(cfg config.RateLimitConfig) *KeyedRateLimiter {
	requests, window, burst := cfg.Requests, cfg.Window, cfg.Burst
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	ttl := 2 * window
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}

	return &KeyedRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (l *KeyedRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastGC) > l.ttl {
		l.gcLocked(now)
	}
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Len reports how many keys are tracked.
func (l *KeyedRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedRateLimiter) gcLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
	l.lastGC = now
}

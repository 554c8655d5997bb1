package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key (client IP). Buckets idle longer than
// idleTTL are dropped on the next Allow call that sweeps.
type Limiter struct {
	mu      sync.Mutex
	m       map[string]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	sweep   time.Time
	now     func() time.Time
}

// New creates a limiter allowing perSecond events with the given burst per key.
func New(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:       make(map[string]*client),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweep) > l.idleTTL {
		for k, c := range l.m {
			if now.Sub(c.seen) > l.idleTTL {
				delete(l.m, k)
			}
		}
		l.sweep = now
	}

	c, ok := l.m[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

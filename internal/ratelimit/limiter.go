// Package ratelimit limits requests per client key with a token bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows up to limit requests per window for each key. A full
// window of idleness refills a bucket completely, so such keys are dropped.
type Limiter struct {
	limit     int
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	clients   map[string]*client
	lastPrune time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter. A limit or window of zero or less disables limiting.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	limiter := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*client),
	}

	for _, opt := range opts {
		opt(limiter)
	}

	limiter.lastPrune = limiter.now()

	return limiter
}

// Enabled reports whether the limiter rejects anything.
func (l *Limiter) Enabled() bool {
	return l.limit > 0 && l.window > 0
}

// Allow consumes one request for key and reports whether it is within the
// limit.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	entry, ok := l.clients[key]
	if !ok {
		entry = &client{
			limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit),
		}
		l.clients[key] = entry
	}

	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// Tracked returns the number of keys currently held.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.clients)
}

func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}

	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) >= l.window {
			delete(l.clients, key)
		}
	}

	l.lastPrune = now
}

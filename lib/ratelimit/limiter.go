// Package ratelimit provides a token bucket rate limiter used to pace
// calls against external services that enforce request quotas.
package ratelimit

import (
	"sync"
	"time"

	"github.com/torontoai/reservoir/lib/metrics"
)

// Limiter is a token bucket rate limiter. The bucket starts full, so a
// burst of up to capacity calls passes immediately after creation.
type Limiter struct {
	mu       sync.Mutex
	name     string
	rate     float64 // tokens added per second
	capacity float64
	tokens   float64
	last     time.Time

	// now is swapped in tests
	now func() time.Time
}

// New creates a rate limiter named for logs and metrics. rate is tokens
// per second and capacity is the maximum burst size.
func New(name string, rate float64, capacity int) *Limiter {
	l := &Limiter{
		name:     name,
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		now:      time.Now,
	}
	l.last = l.now()
	return l
}

// Allow consumes one token if available. It never blocks; callers decide
// whether a denied call fails or is retried later.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n tokens if all are available, none otherwise.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	needed := float64(n)
	if l.tokens >= needed {
		l.tokens -= needed
		return true
	}
	metrics.RateLimitDeniedTotal.WithLabelValues(l.name).Inc()
	return false
}

// refill adds tokens for the time elapsed since the last call. Must be
// called with the lock held.
func (l *Limiter) refill() {
	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Name returns the limiter's name.
func (l *Limiter) Name() string {
	return l.name
}

// KeyedLimiter applies an independent token bucket per key, for callers
// that rate-limit per tenant or per endpoint. Idle buckets are dropped
// lazily once they have refilled to capacity.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	name     string
	rate     float64
	capacity int
	idleFor  time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewKeyed creates a per-key rate limiter. Buckets idle for longer than
// idleFor are removed on the next Allow call for any key.
func NewKeyed(name string, rate float64, capacity int, idleFor time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		lastSeen: make(map[string]time.Time),
		name:     name,
		rate:     rate,
		capacity: capacity,
		idleFor:  idleFor,
		now:      time.Now,
	}
}

// Allow consumes one token from the bucket for key.
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	now := kl.now()
	kl.evictIdle(now)

	limiter, ok := kl.limiters[key]
	if !ok {
		limiter = New(kl.name, kl.rate, kl.capacity)
		limiter.now = kl.now
		limiter.last = now
		kl.limiters[key] = limiter
	}
	kl.lastSeen[key] = now
	kl.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of live per-key buckets.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// evictIdle drops buckets that have not been used within idleFor. Must
// be called with the lock held.
func (kl *KeyedLimiter) evictIdle(now time.Time) {
	for key, seen := range kl.lastSeen {
		if now.Sub(seen) > kl.idleFor {
			delete(kl.limiters, key)
			delete(kl.lastSeen, key)
		}
	}
}

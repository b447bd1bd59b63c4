// Package client provides the glue an integration client needs around
// the cache and pool layers: memoized reads, borrow/run/release around
// each call, and cache invalidation after mutating operations.
//
// The package performs no network I/O itself; operations receive a
// borrowed connection and do their own work with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/torontoai/reservoir/lib/cache"
	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/pool"
	"github.com/torontoai/reservoir/lib/ratelimit"
	"github.com/torontoai/reservoir/lib/resilience"
)

var log = logger.Get()

// ErrRateLimited is returned when the client's rate limiter denies a
// call. The operation was not attempted and may be retried later.
var ErrRateLimited = errors.New("client: rate limit exceeded")

// Op is one logical operation performed on a borrowed connection.
type Op func(ctx context.Context, conn pool.Connection) (any, error)

// Client binds a cache and a connection pool for one external service.
// Read operations go through Cached; mutating operations go through Do
// followed by Invalidate for the entries they made stale.
type Client struct {
	cache   *cache.Cache
	pool    *pool.Pool
	limiter *ratelimit.Limiter
	breaker *resilience.Breaker
}

// Option configures optional client behavior.
type Option func(*Client)

// WithLimiter paces calls through the given rate limiter. Denied calls
// fail with ErrRateLimited; cache hits are never limited.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBreaker sheds calls through the given circuit breaker while the
// service is failing. Shed calls fail with resilience.ErrOpen.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates a client around an existing cache and pool. The caller
// keeps ownership of both: closing the pool (directly or through its
// registry) shuts the client down.
func New(c *cache.Cache, p *pool.Pool, opts ...Option) *Client {
	cl := &Client{cache: c, pool: p}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Do borrows a connection, runs op, and returns the connection to the
// pool. A failing op discards the connection instead of pooling it, on
// the assumption that the failure may have poisoned the session. The
// rate limiter and circuit breaker, when configured, gate the call
// before a connection is borrowed.
func (c *Client) Do(ctx context.Context, op Op) (any, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		log.WithField("limiter", c.limiter.Name()).Debug("call denied by rate limiter")
		return nil, ErrRateLimited
	}

	if c.breaker == nil {
		return c.borrowAndRun(ctx, op)
	}

	var result any
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.borrowAndRun(ctx, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) borrowAndRun(ctx context.Context, op Op) (any, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		log.WithError(err).WithField("pool", c.pool.Name()).Error("failed to acquire connection")
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	result, err := op(ctx, conn)
	if err != nil {
		c.pool.Discard(conn)
		return nil, err
	}

	c.pool.Release(conn)
	return result, nil
}

// Cached serves a read operation from the cache when possible, otherwise
// runs op through Do and stores the result under key for ttl. Errors are
// never cached. Mutating operations must not go through Cached; use Do
// plus Invalidate.
func (c *Client) Cached(ctx context.Context, key string, ttl time.Duration, op Op) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	result, err := c.Do(ctx, op)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, result, ttl)
	return result, nil
}

// CachedDefault is Cached with the cache's default TTL.
func (c *Client) CachedDefault(ctx context.Context, key string, op Op) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}

	result, err := c.Do(ctx, op)
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(key, result)
	return result, nil
}

// Invalidate drops the cache entries a mutating operation made stale.
func (c *Client) Invalidate(keys ...string) {
	for _, k := range keys {
		c.cache.Delete(k)
	}
}

// Stats combines the client's cache and pool statistics.
type Stats struct {
	Cache cache.Stats `json:"cache"`
	Pool  pool.Stats  `json:"pool"`
}

// Stats returns current cache and pool statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Cache: c.cache.Stats(),
		Pool:  c.pool.Stats(),
	}
}

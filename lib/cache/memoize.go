package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Func is a memoizable operation taking one argument.
type Func[A, R any] func(ctx context.Context, arg A) (R, error)

// KeyFunc derives the cache key for an argument.
type KeyFunc[A any] func(arg A) string

// Memoize wraps fn so that, per derived key, its result is served from c
// for ttl. Errors from fn propagate unchanged and are never cached.
// Concurrent calls for the same key that arrive before the first
// completes each execute fn; use MemoizeShared when duplicate work must
// be collapsed. A ttl <= 0 disables caching and always calls through.
func Memoize[A, R any](c *Cache, ttl time.Duration, key KeyFunc[A], fn Func[A, R]) Func[A, R] {
	if ttl <= 0 {
		return fn
	}

	return func(ctx context.Context, arg A) (R, error) {
		k := key(arg)
		if v, ok := c.Get(k); ok {
			if r, ok := v.(R); ok {
				return r, nil
			}
			// Key collision with a value of another type; recompute.
			log.WithField("cache", c.cfg.Name).WithField("key", k).Warn("cached value has unexpected type")
		}

		r, err := fn(ctx, arg)
		if err != nil {
			return r, err
		}
		c.Set(k, r, ttl)
		return r, nil
	}
}

// MemoizeShared is Memoize with single-flight de-duplication: concurrent
// calls for the same key share one in-progress execution of fn instead of
// each triggering it.
func MemoizeShared[A, R any](c *Cache, ttl time.Duration, key KeyFunc[A], fn Func[A, R]) Func[A, R] {
	if ttl <= 0 {
		return fn
	}

	var group singleflight.Group
	return func(ctx context.Context, arg A) (R, error) {
		k := key(arg)
		if v, ok := c.Get(k); ok {
			if r, ok := v.(R); ok {
				return r, nil
			}
			log.WithField("cache", c.cfg.Name).WithField("key", k).Warn("cached value has unexpected type")
		}

		v, err, _ := group.Do(k, func() (any, error) {
			// Re-check: another flight may have populated the cache
			// between the miss above and this call.
			if v, ok := c.Get(k); ok {
				return v, nil
			}
			r, err := fn(ctx, arg)
			if err != nil {
				return nil, err
			}
			c.Set(k, r, ttl)
			return r, nil
		})
		if err != nil {
			var zero R
			return zero, err
		}

		r, ok := v.(R)
		if !ok {
			// Shared flight returned another type; fall back to a
			// direct call so the caller still gets a typed result.
			return fn(ctx, arg)
		}
		return r, nil
	}
}

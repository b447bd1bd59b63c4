// Package pool provides a generic connection pool for reusable resources
// such as authenticated sessions to external services.
//
// The pool supports:
//   - Bounded size with optional pre-warming
//   - Validation before reuse, with invalid connections replaced
//   - FIFO reuse of idle connections
//   - Context-aware acquisition with timeout support
//   - Metrics for pool utilization
//
// Connections are opaque: the pool creates, validates, and destroys them
// only through the caller-supplied Lifecycle, and never performs network
// I/O of its own.
//
// # Basic Usage
//
//	lc := pool.LifecycleFuncs{
//	    CreateFunc: func(ctx context.Context) (pool.Connection, error) {
//	        return net.Dial("tcp", "localhost:8080")
//	    },
//	    ValidateFunc: func(conn pool.Connection) bool {
//	        return ping(conn.(net.Conn)) == nil
//	    },
//	    DestroyFunc: func(conn pool.Connection) error {
//	        return conn.(net.Conn).Close()
//	    },
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MinSize = 1
//	cfg.MaxSize = 10
//
//	p, err := pool.New("issue-tracker", lc, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(conn)
//
//	// Use connection...
//
// # Errors
//
// Acquire fails loudly with typed errors so callers can tell "no
// capacity, try later" (ErrPoolExhausted) from "factory is broken"
// (*CreationError) from "pool was shut down" (ErrPoolClosed). Validation
// and destroy failures are swallowed internally: the pool compensates by
// discarding and recreating.
//
// # Metrics
//
// Pool utilization is reported through the metrics package, labeled by
// pool name:
//   - reservoir_pool_connections_max: maximum pool size
//   - reservoir_pool_connections_open: current open connections
//   - reservoir_pool_connections_idle: current idle connections
//   - reservoir_pool_connections_in_use: borrowed connections
//   - reservoir_pool_acquire_total: acquire attempts
//   - reservoir_pool_acquire_success_total: successful acquires
//   - reservoir_pool_acquire_failed_total: failed acquires
//   - reservoir_pool_release_total: releases
//   - reservoir_pool_validation_failed_total: validation failures
//   - reservoir_pool_prewarm_failed_total: pre-warm failures
//   - reservoir_pool_acquire_duration_seconds: acquire latency
package pool

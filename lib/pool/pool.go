package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/metrics"
)

var log = logger.Get()

var (
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("pool: pool is closed")
	// ErrPoolExhausted is returned when Acquire times out waiting for capacity.
	ErrPoolExhausted = errors.New("pool: connection pool exhausted")
	// ErrNilLifecycle is returned by New when no lifecycle is supplied.
	ErrNilLifecycle = errors.New("pool: lifecycle is required")
)

// CreationError reports that the lifecycle could not produce a
// connection. The pool's outstanding count is unchanged by a failed
// creation.
type CreationError struct {
	// Pool is the name of the pool that attempted the creation.
	Pool string
	// Err is the failure returned by the lifecycle.
	Err error
}

// Error implements the error interface.
func (e *CreationError) Error() string {
	return fmt.Sprintf("pool %s: creating connection: %v", e.Pool, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CreationError) Unwrap() error {
	return e.Err
}

// Config configures a connection pool.
type Config struct {
	// MinSize is the number of idle connections to create at
	// construction. Pre-warm failures are non-fatal: the pool starts
	// smaller and reports them via Stats.
	// Default: 0 (no pre-warming)
	MinSize int
	// MaxSize bounds idle plus borrowed connections.
	// Default: 10
	MaxSize int
	// AcquireTimeout applies to Acquire calls whose context carries no
	// deadline.
	// Default: 30 seconds
	AcquireTimeout time.Duration
	// ValidateTimeout bounds a single Validate call; a validator still
	// running when it elapses counts as invalid.
	// Default: 5 seconds
	ValidateTimeout time.Duration
	// DestroyTimeout bounds how long the pool waits for Destroy before
	// abandoning the connection.
	// Default: 5 seconds
	DestroyTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:         10,
		AcquireTimeout:  30 * time.Second,
		ValidateTimeout: 5 * time.Second,
		DestroyTimeout:  5 * time.Second,
	}
}

// Pool manages a bounded set of connections for one named resource class.
// Idle connections are reused in FIFO order after validation.
type Pool struct {
	name      string
	lifecycle Lifecycle
	cfg       Config

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []Connection
	borrowed map[Connection]struct{}
	open     int // idle + borrowed + creations in flight
	closed   bool

	acquireCount     uint64
	acquireSuccess   uint64
	acquireFailed    uint64
	releaseCount     uint64
	validationFailed uint64
	prewarmFailed    uint64
}

// New creates a pool for one resource class and pre-warms up to MinSize
// idle connections. It returns an error for a nil lifecycle or an
// inconsistent size configuration.
func New(name string, lc Lifecycle, cfg Config) (*Pool, error) {
	if lc == nil {
		return nil, ErrNilLifecycle
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("pool %s: min size %d must be within [0, %d]", name, cfg.MinSize, cfg.MaxSize)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 5 * time.Second
	}
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = 5 * time.Second
	}

	p := &Pool{
		name:      name,
		lifecycle: lc,
		cfg:       cfg,
		idle:      make([]Connection, 0, cfg.MaxSize),
		borrowed:  make(map[Connection]struct{}, cfg.MaxSize),
	}
	p.cond = sync.NewCond(&p.mu)
	p.prewarm()

	metrics.PoolConnectionsMax.WithLabelValues(name).Set(float64(cfg.MaxSize))
	p.mu.Lock()
	p.publishGaugesLocked()
	p.mu.Unlock()

	log.WithField("pool", name).WithField("minSize", cfg.MinSize).WithField("maxSize", cfg.MaxSize).Debug("pool created")
	return p, nil
}

// prewarm eagerly creates MinSize idle connections. Failures shrink the
// initial pool instead of failing construction.
func (p *Pool) prewarm() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	for i := 0; i < p.cfg.MinSize; i++ {
		conn, err := p.lifecycle.Create(ctx)
		if err != nil {
			p.prewarmFailed++
			metrics.PoolPrewarmFailedTotal.WithLabelValues(p.name).Inc()
			log.WithError(err).WithField("pool", p.name).Warn("pre-warm connection creation failed")
			continue
		}
		p.idle = append(p.idle, conn)
		p.open++
	}
}

// Name returns the pool's resource class name.
func (p *Pool) Name() string {
	return p.name
}

// Acquire returns a validated connection, creating one when the pool is
// below MaxSize. When the pool is saturated it blocks until a release,
// the context ends, or the acquire timeout elapses. A timeout yields
// ErrPoolExhausted; cancellation yields the context error; a factory
// failure yields a *CreationError.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	timer := prometheus.NewTimer(metrics.PoolAcquireDuration.WithLabelValues(p.name))
	defer timer.ObserveDuration()

	// Use the configured timeout when the context has no deadline.
	acquireCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquireCount++
	metrics.PoolAcquireTotal.WithLabelValues(p.name).Inc()

	for {
		if p.closed {
			return nil, p.failAcquireLocked(ErrPoolClosed)
		}

		// Reuse an idle connection when one validates.
		if conn, ok := p.nextIdleLocked(); ok {
			p.borrowed[conn] = struct{}{}
			p.acquireSuccess++
			metrics.PoolAcquireSuccessTotal.WithLabelValues(p.name).Inc()
			p.publishGaugesLocked()
			log.WithField("pool", p.name).Debug("acquired idle connection")
			return conn, nil
		}

		// Create a new connection while under the limit. The permit is
		// taken before unlocking so concurrent acquires cannot overshoot
		// MaxSize, and returned on failure.
		if p.open < p.cfg.MaxSize {
			p.open++
			p.mu.Unlock()
			conn, err := p.lifecycle.Create(acquireCtx)
			p.mu.Lock()

			if err != nil {
				p.open--
				p.cond.Signal()
				log.WithError(err).WithField("pool", p.name).Debug("connection creation failed")
				return nil, p.failAcquireLocked(&CreationError{Pool: p.name, Err: err})
			}
			if p.closed {
				// The pool closed while the factory ran.
				p.open--
				go p.destroy(conn)
				return nil, p.failAcquireLocked(ErrPoolClosed)
			}

			p.borrowed[conn] = struct{}{}
			p.acquireSuccess++
			metrics.PoolAcquireSuccessTotal.WithLabelValues(p.name).Inc()
			p.publishGaugesLocked()
			log.WithField("pool", p.name).Debug("created new connection")
			return conn, nil
		}

		// Saturated: give up when the context is done, otherwise wait
		// for a release.
		select {
		case <-acquireCtx.Done():
			if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
				return nil, p.failAcquireLocked(ErrPoolExhausted)
			}
			return nil, p.failAcquireLocked(acquireCtx.Err())
		default:
		}

		p.waitLocked(acquireCtx)
	}
}

// failAcquireLocked records a failed acquire and returns err. Caller must
// hold mu.
func (p *Pool) failAcquireLocked(err error) error {
	p.acquireFailed++
	metrics.PoolAcquireFailedTotal.WithLabelValues(p.name).Inc()
	return err
}

// nextIdleLocked pops idle connections in FIFO order until one validates.
// Invalid connections are destroyed and counted; the caller falls through
// to the creation path to replace them. Caller must hold mu.
func (p *Pool) nextIdleLocked() (Connection, bool) {
	for len(p.idle) > 0 {
		conn := p.idle[0]
		p.idle = p.idle[1:]

		if p.validate(conn) {
			return conn, true
		}

		p.validationFailed++
		metrics.PoolValidationFailedTotal.WithLabelValues(p.name).Inc()
		p.open--
		go p.destroy(conn)
		log.WithField("pool", p.name).Debug("discarded invalid idle connection")
	}
	return nil, false
}

// waitLocked blocks on the pool condition until a release, a close, or
// the context ending wakes it. Caller must hold mu.
func (p *Pool) waitLocked(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
}

// Release returns a borrowed connection to the idle queue and wakes one
// waiting Acquire. Releasing a handle the pool did not lend out, or
// releasing the same handle twice, is logged and ignored. After Close the
// connection is destroyed instead of pooled. Release never blocks.
func (p *Pool) Release(conn Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.borrowed[conn]; !ok {
		p.mu.Unlock()
		log.WithField("pool", p.name).Warn("ignoring release of unknown or already released connection")
		return
	}
	delete(p.borrowed, conn)
	p.releaseCount++
	metrics.PoolReleaseTotal.WithLabelValues(p.name).Inc()

	if p.closed {
		p.open--
		p.publishGaugesLocked()
		p.mu.Unlock()
		go p.destroy(conn)
		return
	}

	p.idle = append(p.idle, conn)
	p.cond.Signal()
	p.publishGaugesLocked()
	p.mu.Unlock()
	log.WithField("pool", p.name).Debug("connection released to pool")
}

// Discard removes a borrowed connection from the pool without returning
// it to the idle queue. Use this when the connection is known to be bad;
// the freed capacity wakes one waiting Acquire.
func (p *Pool) Discard(conn Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.borrowed[conn]; !ok {
		p.mu.Unlock()
		log.WithField("pool", p.name).Warn("ignoring discard of unknown connection")
		return
	}
	delete(p.borrowed, conn)
	p.open--
	p.cond.Signal()
	p.publishGaugesLocked()
	p.mu.Unlock()

	log.WithField("pool", p.name).Debug("discarding bad connection")
	p.destroy(conn)
}

// Close destroys every idle connection and marks the pool closed.
// Subsequent Acquire calls fail with ErrPoolClosed; borrowed connections
// are destroyed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.cond.Broadcast()
	p.publishGaugesLocked()
	p.mu.Unlock()

	for _, conn := range idle {
		p.destroy(conn)
	}

	log.WithField("pool", p.name).Debug("pool closed")
	return nil
}

// validate runs the lifecycle Validate with a timeout guard. Panics and
// timeouts count as invalid.
func (p *Pool) validate(conn Connection) bool {
	result := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("pool", p.name).WithField("panic", r).Warn("validator panicked")
				result <- false
			}
		}()
		result <- p.lifecycle.Validate(conn)
	}()

	select {
	case ok := <-result:
		return ok
	case <-time.After(p.cfg.ValidateTimeout):
		log.WithField("pool", p.name).Warn("validator timed out")
		return false
	}
}

// destroy runs the lifecycle Destroy with a timeout guard. Errors and
// panics are logged and swallowed; a Destroy still running when the guard
// elapses is abandoned.
func (p *Pool) destroy(conn Connection) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.WithField("pool", p.name).WithField("panic", r).Warn("destroy panicked")
			}
		}()
		if err := p.lifecycle.Destroy(conn); err != nil {
			log.WithError(err).WithField("pool", p.name).Debug("destroy failed")
		}
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DestroyTimeout):
		log.WithField("pool", p.name).Warn("destroy timed out, abandoning connection")
	}
}

// publishGaugesLocked pushes the current pool shape to the metrics
// package. Caller must hold mu.
func (p *Pool) publishGaugesLocked() {
	metrics.PoolConnectionsOpen.WithLabelValues(p.name).Set(float64(p.open))
	metrics.PoolConnectionsIdle.WithLabelValues(p.name).Set(float64(len(p.idle)))
	metrics.PoolConnectionsInUse.WithLabelValues(p.name).Set(float64(len(p.borrowed)))
}

// Stats is a point-in-time snapshot of pool state and cumulative
// counters.
type Stats struct {
	// Name is the pool's resource class name.
	Name string `json:"name"`
	// Idle is the number of connections waiting in the pool.
	Idle int `json:"idle"`
	// Borrowed is the number of connections held by callers.
	Borrowed int `json:"borrowed"`
	// Open is idle plus borrowed plus creations in flight.
	Open int `json:"open"`
	// MaxSize is the configured connection limit.
	MaxSize int `json:"max_size"`
	// AcquireCount is the total number of acquire attempts.
	AcquireCount uint64 `json:"acquire_count"`
	// AcquireSuccess is the number of successful acquires.
	AcquireSuccess uint64 `json:"acquire_success"`
	// AcquireFailed is the number of failed acquires.
	AcquireFailed uint64 `json:"acquire_failed"`
	// ReleaseCount is the number of releases accepted by the pool.
	ReleaseCount uint64 `json:"release_count"`
	// ValidationFailed is the number of connections discarded because
	// validation failed.
	ValidationFailed uint64 `json:"validation_failed"`
	// PrewarmFailed is the number of pre-warm creations that failed.
	PrewarmFailed uint64 `json:"prewarm_failed"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:             p.name,
		Idle:             len(p.idle),
		Borrowed:         len(p.borrowed),
		Open:             p.open,
		MaxSize:          p.cfg.MaxSize,
		AcquireCount:     p.acquireCount,
		AcquireSuccess:   p.acquireSuccess,
		AcquireFailed:    p.acquireFailed,
		ReleaseCount:     p.releaseCount,
		ValidationFailed: p.validationFailed,
		PrewarmFailed:    p.prewarmFailed,
	}
}

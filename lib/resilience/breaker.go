// Package resilience provides a circuit breaker that sheds calls to an
// external service while it is failing, giving it room to recover.
//
// State transitions:
//
//	Closed (normal) -> Open (shedding) -> HalfOpen (probing) -> Closed
//	                     ^                     |
//	                     +---------------------+ (probe failed)
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/metrics"
)

var log = logger.Get()

// ErrOpen is returned when the circuit is open and the call was shed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the current mode of a Breaker.
type State int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = iota
	// StateOpen sheds all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a few probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls when the breaker trips and how it recovers.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that close it
	// again
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before probing
	ResetTimeout time.Duration
	// HalfOpenMax bounds concurrent probe calls while half-open
	HalfOpenMax int
}

// DefaultConfig returns thresholds suitable for a moderately busy
// integration client.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
	}
}

// Breaker is a circuit breaker. The zero value is not usable; create one
// with New.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  Config

	state    State
	failures int
	probes   int // successful probes while half-open
	inFlight int // probe calls admitted while half-open
	openedAt time.Time

	// now is swapped in tests
	now func() time.Time
}

// New creates a breaker named for logs and metrics. Non-positive config
// fields fall back to the defaults.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}

	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed, admitting it as a probe when
// the breaker is half-open. Callers that use Allow directly must pair it
// with RecordSuccess or RecordFailure; Do handles this.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			b.inFlight = 1
			return true
		}
		metrics.BreakerRejectedTotal.WithLabelValues(b.name).Inc()
		return false
	case StateHalfOpen:
		if b.inFlight < b.cfg.HalfOpenMax {
			b.inFlight++
			return true
		}
		metrics.BreakerRejectedTotal.WithLabelValues(b.name).Inc()
		return false
	default:
		return false
	}
}

// RecordSuccess feeds a successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.releaseProbeLocked()
		b.probes++
		if b.probes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure feeds a failed call back into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Probe failed, back off again.
		b.transition(StateOpen)
	}
}

// Do runs fn if the breaker allows it, returning ErrOpen otherwise.
// Context cancellation is not counted as a service failure; a cancelled
// call gives its probe slot back.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if ctx.Err() != nil {
		b.releaseProbe()
		return ctx.Err()
	}

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			b.releaseProbe()
			return ctx.Err()
		}
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// releaseProbe gives back a probe slot taken by Allow when the call
// ended without a success or failure verdict.
func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.releaseProbeLocked()
	}
}

// releaseProbeLocked frees one half-open probe slot. Must be called with
// the lock held.
func (b *Breaker) releaseProbeLocked() {
	if b.inFlight > 0 {
		b.inFlight--
	}
}

// State returns the breaker's current state, accounting for an elapsed
// reset timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset returns the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// Stats is a point-in-time snapshot of the breaker.
type Stats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Probes   int    `json:"probes"`
}

// Stats returns a snapshot of the breaker's state and counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:     b.name,
		State:    b.state.String(),
		Failures: b.failures,
		Probes:   b.probes,
	}
}

// transition changes state and resets the counters the new state uses.
// Must be called with the lock held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		// Reset still clears counters.
		b.failures = 0
		b.probes = 0
		b.inFlight = 0
		return
	}

	prev := b.state
	b.state = next
	b.failures = 0
	b.probes = 0
	b.inFlight = 0
	if next == StateOpen {
		b.openedAt = b.now()
	}

	metrics.BreakerState.WithLabelValues(b.name).Set(float64(next))
	log.WithField("breaker", b.name).
		WithField("from", prev.String()).
		WithField("to", next.String()).
		Info("circuit breaker state change")
}

// Package registry provides a named registry of connection pools so that
// integration clients sharing a process can share pool plumbing and
// report aggregate statistics from one place.
//
// A Registry is constructed explicitly and passed by reference; there is
// no package-level instance, so tests can run isolated registries side
// by side.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/pool"
)

var log = logger.Get()

var (
	// ErrDuplicatePool is returned when a pool name is already registered.
	ErrDuplicatePool = errors.New("registry: pool name already registered")
	// ErrPoolNotFound is returned when no pool is registered under a name.
	ErrPoolNotFound = errors.New("registry: pool not found")
)

// Registry maps unique pool names to connection pools. Pools are added
// by explicit creation and removed only by explicit request.
type Registry struct {
	mu       sync.Mutex
	pools    map[string]*pool.Pool
	creating map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pools:    make(map[string]*pool.Pool),
		creating: make(map[string]struct{}),
	}
}

// CreatePool creates a pool for one resource class and registers it
// under name. It fails with ErrDuplicatePool when the name is taken and
// propagates pool construction errors, releasing the name on failure.
//
// Pool construction pre-warms connections through the caller's
// lifecycle, so it runs outside the registry lock; the name is reserved
// first so other lookups never stall behind a slow factory.
func (r *Registry) CreatePool(name string, lc pool.Lifecycle, cfg pool.Config) (*pool.Pool, error) {
	r.mu.Lock()
	if _, ok := r.pools[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePool, name)
	}
	if _, ok := r.creating[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePool, name)
	}
	r.creating[name] = struct{}{}
	r.mu.Unlock()

	p, err := pool.New(name, lc, cfg)

	r.mu.Lock()
	delete(r.creating, name)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.pools[name] = p
	r.mu.Unlock()

	log.WithField("pool", name).Debug("pool registered")
	return p, nil
}

// Pool returns the pool registered under name, or ErrPoolNotFound.
func (r *Registry) Pool(name string) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return p, nil
}

// RemovePool closes the pool registered under name and unregisters it.
// Removing an unknown name is a no-op.
func (r *Registry) RemovePool(name string) {
	r.mu.Lock()
	p, ok := r.pools[name]
	delete(r.pools, name)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		log.WithError(err).WithField("pool", name).Debug("closing removed pool")
	}
	log.WithField("pool", name).Debug("pool removed")
}

// Stats returns a snapshot of every registered pool's statistics, keyed
// by pool name.
func (r *Registry) Stats() map[string]pool.Stats {
	r.mu.Lock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	// Pool stats take each pool's own lock; collect outside ours.
	out := make(map[string]pool.Stats, len(pools))
	for _, p := range pools {
		out[p.Name()] = p.Stats()
	}
	return out
}

// Close closes every registered pool and empties the registry. Intended
// for process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*pool.Pool)
	r.mu.Unlock()

	for _, p := range pools {
		if err := p.Close(); err != nil {
			log.WithError(err).WithField("pool", p.Name()).Debug("closing pool at shutdown")
		}
	}
	log.Debug("registry closed")
}

// Handler returns an http.Handler that serves the registry statistics as
// JSON, for health checks and dashboards.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Stats()); err != nil {
			log.WithError(err).Debug("encoding registry stats")
		}
	})
}

package pool

import "context"

// Connection is an opaque resource handle managed by a Pool, such as an
// authenticated network session. The pool never interprets its contents;
// it only tracks identity, so handles must be comparable (in practice,
// pointers).
type Connection any

// Lifecycle creates, validates, and destroys the connections of one
// resource class. Keeping the three operations on one interface ties
// their invariants together: Validate and Destroy are only ever called on
// connections this Lifecycle created.
type Lifecycle interface {
	// Create makes a new connection. A failure surfaces to the Acquire
	// caller as a *CreationError and leaves the pool state unchanged.
	Create(ctx context.Context) (Connection, error)

	// Validate reports whether an idle connection is still usable. A
	// panicking or timed-out Validate counts as false.
	Validate(conn Connection) bool

	// Destroy releases the resources behind a connection. Errors are
	// logged and swallowed; the pool has already discarded the handle.
	Destroy(conn Connection) error
}

// LifecycleFuncs adapts plain functions to the Lifecycle interface. A nil
// ValidateFunc treats every connection as valid; a nil DestroyFunc means
// there is nothing to release.
type LifecycleFuncs struct {
	CreateFunc   func(ctx context.Context) (Connection, error)
	ValidateFunc func(conn Connection) bool
	DestroyFunc  func(conn Connection) error
}

func (l LifecycleFuncs) Create(ctx context.Context) (Connection, error) {
	return l.CreateFunc(ctx)
}

func (l LifecycleFuncs) Validate(conn Connection) bool {
	if l.ValidateFunc == nil {
		return true
	}
	return l.ValidateFunc(conn)
}

func (l LifecycleFuncs) Destroy(conn Connection) error {
	if l.DestroyFunc == nil {
		return nil
	}
	return l.DestroyFunc(conn)
}

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockConn is a mock connection for testing.
type mockConn struct {
	id        int
	mu        sync.Mutex
	destroyed bool
}

func (m *mockConn) markDestroyed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
}

func (m *mockConn) IsDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// countingLifecycle creates mock connections and records destroys.
func countingLifecycle(counter *int32) LifecycleFuncs {
	return LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (Connection, error) {
			id := atomic.AddInt32(counter, 1)
			return &mockConn{id: int(id)}, nil
		},
		DestroyFunc: func(conn Connection) error {
			conn.(*mockConn).markDestroyed()
			return nil
		},
	}
}

// failingLifecycle always fails creation.
func failingLifecycle(cause error) LifecycleFuncs {
	return LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (Connection, error) {
			return nil, cause
		},
	}
}

// waitDestroyed polls until the connection's Destroy has run.
func waitDestroyed(t *testing.T, c *mockConn) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.IsDestroyed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection was not destroyed in time")
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New("p", nil, DefaultConfig()); !errors.Is(err, ErrNilLifecycle) {
		t.Errorf("Expected ErrNilLifecycle, got %v", err)
	}

	var counter int32
	cfg := DefaultConfig()
	cfg.MinSize = 5
	cfg.MaxSize = 2
	if _, err := New("p", countingLifecycle(&counter), cfg); err == nil {
		t.Error("Expected error for MinSize > MaxSize")
	}
}

func TestAcquireRelease(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 3

	p, err := New("acquire-release", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn1 == nil {
		t.Fatal("Expected non-nil connection")
	}

	stats := p.Stats()
	if stats.Open != 1 {
		t.Errorf("Expected 1 open, got %d", stats.Open)
	}
	if stats.Idle != 0 {
		t.Errorf("Expected 0 idle, got %d", stats.Idle)
	}
	if stats.Borrowed != 1 {
		t.Errorf("Expected 1 borrowed, got %d", stats.Borrowed)
	}

	p.Release(conn1)

	stats = p.Stats()
	if stats.Open != 1 {
		t.Errorf("Expected 1 open after release, got %d", stats.Open)
	}
	if stats.Idle != 1 {
		t.Errorf("Expected 1 idle after release, got %d", stats.Idle)
	}
	if stats.Borrowed != 0 {
		t.Errorf("Expected 0 borrowed after release, got %d", stats.Borrowed)
	}

	// Acquire again - should reuse the released connection.
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if conn2 != conn1 {
		t.Error("Expected to get same connection from pool")
	}
	p.Release(conn2)
}

func TestFIFOReuse(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 2

	p, err := New("fifo", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn1, _ := p.Acquire(context.Background())
	conn2, _ := p.Acquire(context.Background())
	p.Release(conn1)
	p.Release(conn2)

	// The first connection released must be the first reused.
	got1, _ := p.Acquire(context.Background())
	got2, _ := p.Acquire(context.Background())
	if got1 != conn1 {
		t.Error("Expected first released connection to be reused first")
	}
	if got2 != conn2 {
		t.Error("Expected second released connection to be reused second")
	}
	p.Release(got1)
	p.Release(got2)
}

func TestExhaustionScenario(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2

	p, err := New("exhaustion", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	// Two acquires succeed immediately: one pre-warmed, one created.
	conn1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if n := atomic.LoadInt32(&counter); n != 2 {
		t.Errorf("Expected 2 connections created, got %d", n)
	}

	// A third acquire with no capacity fails with ErrPoolExhausted and
	// leaves the outstanding count unchanged.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}
	if stats := p.Stats(); stats.Open != 2 {
		t.Errorf("Expected 2 open after failed acquire, got %d", stats.Open)
	}

	// After a release, the retry succeeds and returns the released
	// connection.
	p.Release(conn1)
	conn3, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Retry after release failed: %v", err)
	}
	if conn3 != conn1 {
		t.Error("Expected retry to return the released connection")
	}

	p.Release(conn2)
	p.Release(conn3)
}

func TestAcquireWithIdleNeverBlocks(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2

	p, err := New("idle-fastpath", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	// Even an already-expired context gets the idle connection.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Expected idle connection despite expired context, got %v", err)
	}
	p.Release(conn)
}

func TestCreationError(t *testing.T) {
	cause := errors.New("dial failed")
	p, err := New("creation-error", failingLifecycle(cause), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	_, err = p.Acquire(context.Background())
	var ce *CreationError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *CreationError, got %v", err)
	}
	if ce.Pool != "creation-error" {
		t.Errorf("Expected pool name in error, got %q", ce.Pool)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected CreationError to wrap the factory error")
	}

	stats := p.Stats()
	if stats.Open != 0 {
		t.Errorf("Expected 0 open after failed creation, got %d", stats.Open)
	}
	if stats.AcquireFailed != 1 {
		t.Errorf("Expected 1 acquire failure, got %d", stats.AcquireFailed)
	}
}

func TestValidationFailureReplacesConnection(t *testing.T) {
	var counter int32
	lc := countingLifecycle(&counter)
	var invalid sync.Map
	lc.ValidateFunc = func(conn Connection) bool {
		_, bad := invalid.Load(conn)
		return !bad
	}

	cfg := DefaultConfig()
	cfg.MaxSize = 2
	p, err := New("validation", lc, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn1, _ := p.Acquire(context.Background())
	p.Release(conn1)
	invalid.Store(conn1, true)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn2 == conn1 {
		t.Error("Expected invalid connection to never be handed back")
	}
	waitDestroyed(t, conn1.(*mockConn))

	stats := p.Stats()
	if stats.ValidationFailed != 1 {
		t.Errorf("Expected 1 validation failure, got %d", stats.ValidationFailed)
	}
	if stats.Open != 1 {
		t.Errorf("Expected 1 open (replacement only), got %d", stats.Open)
	}
	p.Release(conn2)
}

func TestValidatorPanicTreatedAsInvalid(t *testing.T) {
	var counter int32
	lc := countingLifecycle(&counter)
	lc.ValidateFunc = func(conn Connection) bool {
		if conn.(*mockConn).id == 1 {
			panic("validator blew up")
		}
		return true
	}

	p, err := New("validator-panic", lc, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn1, _ := p.Acquire(context.Background())
	p.Release(conn1)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn2 == conn1 {
		t.Error("Expected panicking validator to count as invalid")
	}
	p.Release(conn2)
}

func TestValidatorTimeoutTreatedAsInvalid(t *testing.T) {
	var counter int32
	lc := countingLifecycle(&counter)
	block := make(chan struct{})
	lc.ValidateFunc = func(conn Connection) bool {
		if conn.(*mockConn).id == 1 {
			<-block
		}
		return true
	}
	defer close(block)

	cfg := DefaultConfig()
	cfg.ValidateTimeout = 20 * time.Millisecond
	p, err := New("validator-timeout", lc, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn1, _ := p.Acquire(context.Background())
	p.Release(conn1)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if conn2 == conn1 {
		t.Error("Expected hanging validator to count as invalid")
	}

	stats := p.Stats()
	if stats.ValidationFailed != 1 {
		t.Errorf("Expected 1 validation failure, got %d", stats.ValidationFailed)
	}
	if stats.Open != 1 {
		t.Errorf("Expected 1 open (replacement only), got %d", stats.Open)
	}
	p.Release(conn2)
}

func TestHangingDestroyIsAbandoned(t *testing.T) {
	var counter int32
	lc := countingLifecycle(&counter)
	block := make(chan struct{})
	lc.DestroyFunc = func(conn Connection) error {
		<-block
		return nil
	}
	defer close(block)

	cfg := DefaultConfig()
	cfg.MaxSize = 2
	cfg.DestroyTimeout = 20 * time.Millisecond
	p, err := New("hanging-destroy", lc, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	conn1, _ := p.Acquire(context.Background())
	conn2, _ := p.Acquire(context.Background())

	// Discard destroys synchronously; it must give up on the hung
	// cleanup after DestroyTimeout instead of blocking the caller.
	start := time.Now()
	p.Discard(conn1)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected Discard to return within the destroy timeout, took %v", elapsed)
	}
	if stats := p.Stats(); stats.Open != 1 {
		t.Errorf("Expected 1 open after discard, got %d", stats.Open)
	}

	// Close destroys the idle connection the same way.
	p.Release(conn2)
	start = time.Now()
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected Close to return within the destroy timeout, took %v", elapsed)
	}
}

func TestPrewarm(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 4

	p, err := New("prewarm", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	stats := p.Stats()
	if stats.Idle != 2 {
		t.Errorf("Expected 2 idle after pre-warm, got %d", stats.Idle)
	}
	if n := atomic.LoadInt32(&counter); n != 2 {
		t.Errorf("Expected 2 connections created, got %d", n)
	}

	// Acquire should reuse pre-warmed connections, not create more.
	conn, _ := p.Acquire(context.Background())
	if n := atomic.LoadInt32(&counter); n != 2 {
		t.Errorf("Expected no new creation, got %d total", n)
	}
	p.Release(conn)
}

func TestPrewarmFailureIsNonFatal(t *testing.T) {
	var attempts int32
	lc := LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (Connection, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, errors.New("first creation fails")
			}
			return &mockConn{}, nil
		},
	}

	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 4

	p, err := New("prewarm-failure", lc, cfg)
	if err != nil {
		t.Fatalf("Expected pre-warm failure to be non-fatal, got %v", err)
	}
	defer p.Close()

	stats := p.Stats()
	if stats.Idle != 1 {
		t.Errorf("Expected pool to start smaller with 1 idle, got %d", stats.Idle)
	}
	if stats.PrewarmFailed != 1 {
		t.Errorf("Expected 1 pre-warm failure reported, got %d", stats.PrewarmFailed)
	}
}

func TestClose(t *testing.T) {
	var counter int32
	p, err := New("close", countingLifecycle(&counter), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	conn1, _ := p.Acquire(context.Background())
	conn2, _ := p.Acquire(context.Background())
	p.Release(conn1)
	p.Release(conn2)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !conn1.(*mockConn).IsDestroyed() {
		t.Error("Expected idle conn1 to be destroyed on close")
	}
	if !conn2.(*mockConn).IsDestroyed() {
		t.Error("Expected idle conn2 to be destroyed on close")
	}

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed on double close, got %v", err)
	}
}

func TestReleaseAfterClose(t *testing.T) {
	var counter int32
	p, err := New("release-after-close", countingLifecycle(&counter), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	conn, _ := p.Acquire(context.Background())
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The borrowed connection is destroyed once it comes back.
	p.Release(conn)
	waitDestroyed(t, conn.(*mockConn))

	if stats := p.Stats(); stats.Open != 0 {
		t.Errorf("Expected 0 open after final release, got %d", stats.Open)
	}
}

func TestDoubleReleaseIgnored(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 2

	p, err := New("double-release", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn, _ := p.Acquire(context.Background())
	p.Release(conn)
	p.Release(conn) // contract violation, defensively ignored

	stats := p.Stats()
	if stats.Idle != 1 {
		t.Errorf("Expected 1 idle (no double-counted entry), got %d", stats.Idle)
	}
	if stats.ReleaseCount != 1 {
		t.Errorf("Expected 1 accepted release, got %d", stats.ReleaseCount)
	}

	// A handle the pool never lent out is ignored too.
	p.Release(&mockConn{id: 99})
	if stats := p.Stats(); stats.Idle != 1 {
		t.Errorf("Expected foreign release to be ignored, got %d idle", stats.Idle)
	}
}

func TestDiscard(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 1

	p, err := New("discard", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn, _ := p.Acquire(context.Background())
	p.Discard(conn)
	waitDestroyed(t, conn.(*mockConn))

	if stats := p.Stats(); stats.Open != 0 {
		t.Errorf("Expected 0 open after discard, got %d", stats.Open)
	}

	// Capacity freed by the discard is usable again.
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after discard failed: %v", err)
	}
	p.Release(conn2)
}

func TestBlockedAcquireWakesOnRelease(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 1

	p, err := New("wake-on-release", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn, _ := p.Acquire(context.Background())

	acquired := make(chan Connection, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("Blocked acquire failed: %v", err)
			return
		}
		acquired <- c
	}()

	// Give the goroutine time to block on the saturated pool.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("Acquire should have blocked on a saturated pool")
	default:
	}

	p.Release(conn)

	select {
	case c := <-acquired:
		if c != conn {
			t.Error("Expected waiter to receive the released connection")
		}
		p.Release(c)
	case <-time.After(time.Second):
		t.Fatal("Release did not wake the waiting acquire")
	}
}

func TestAcquireContextCancellation(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 1

	p, err := New("cancellation", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn, _ := p.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled acquire did not return")
	}

	// The cancelled waiter must not leak a permit: releasing and
	// re-acquiring still works within MaxSize.
	p.Release(conn)
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after cancellation failed: %v", err)
	}
	if stats := p.Stats(); stats.Open != 1 {
		t.Errorf("Expected 1 open, got %d", stats.Open)
	}
	p.Release(conn2)
}

func TestConcurrentAcquireReleaseBound(t *testing.T) {
	const maxSize = 4

	var open int32
	var maxSeen int32
	lc := LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (Connection, error) {
			n := atomic.AddInt32(&open, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			return &mockConn{id: int(n)}, nil
		},
		DestroyFunc: func(conn Connection) error {
			atomic.AddInt32(&open, -1)
			return nil
		},
	}

	cfg := DefaultConfig()
	cfg.MaxSize = maxSize
	cfg.AcquireTimeout = 5 * time.Second

	p, err := New("concurrent", lc, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				conn, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				time.Sleep(time.Millisecond)
				p.Release(conn)
			}
		}()
	}
	wg.Wait()
	p.Close()

	if n := atomic.LoadInt32(&maxSeen); n > maxSize {
		t.Errorf("Pool exceeded MaxSize: %d connections existed simultaneously", n)
	}
	if stats := p.Stats(); stats.Open != 0 {
		t.Errorf("Expected 0 open after close, got %d", stats.Open)
	}
}

func TestStatsCounters(t *testing.T) {
	var counter int32
	cfg := DefaultConfig()
	cfg.MaxSize = 1

	p, err := New("stats", countingLifecycle(&counter), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	conn, _ := p.Acquire(context.Background())
	p.Release(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	conn2, _ := p.Acquire(ctx)
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("Expected second acquire to fail on saturated pool")
	}
	p.Release(conn2)

	stats := p.Stats()
	if stats.Name != "stats" {
		t.Errorf("Expected pool name in stats, got %q", stats.Name)
	}
	if stats.AcquireCount != 3 {
		t.Errorf("Expected 3 acquire attempts, got %d", stats.AcquireCount)
	}
	if stats.AcquireSuccess != 2 {
		t.Errorf("Expected 2 successful acquires, got %d", stats.AcquireSuccess)
	}
	if stats.AcquireFailed != 1 {
		t.Errorf("Expected 1 failed acquire, got %d", stats.AcquireFailed)
	}
	if stats.ReleaseCount != 2 {
		t.Errorf("Expected 2 releases, got %d", stats.ReleaseCount)
	}
	if stats.MaxSize != 1 {
		t.Errorf("Expected max size 1, got %d", stats.MaxSize)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxSize != 10 {
		t.Errorf("Expected default MaxSize 10, got %d", cfg.MaxSize)
	}
	if cfg.MinSize != 0 {
		t.Errorf("Expected default MinSize 0, got %d", cfg.MinSize)
	}
	if cfg.AcquireTimeout != 30*time.Second {
		t.Errorf("Expected default AcquireTimeout 30s, got %v", cfg.AcquireTimeout)
	}
	if cfg.ValidateTimeout != 5*time.Second {
		t.Errorf("Expected default ValidateTimeout 5s, got %v", cfg.ValidateTimeout)
	}
}

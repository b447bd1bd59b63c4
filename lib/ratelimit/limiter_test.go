package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, rate float64, capacity int) (*Limiter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(t.Name(), rate, capacity)
	l.now = clk.Now
	l.last = clk.Now()
	return l, clk
}

func TestAllowConsumesBurst(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("Expected call %d within burst to be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Error("Expected call beyond burst to be denied")
	}
}

func TestRefillOverTime(t *testing.T) {
	l, clk := newTestLimiter(t, 2, 2)

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("Expected empty bucket to deny")
	}

	clk.Advance(time.Second)
	if !l.Allow() {
		t.Error("Expected refill of 2 tokens after 1s at rate 2")
	}
	if !l.Allow() {
		t.Error("Expected second refilled token")
	}
	if l.Allow() {
		t.Error("Expected bucket empty again")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l, clk := newTestLimiter(t, 10, 2)

	clk.Advance(time.Minute)
	if got := l.Tokens(); got != 2 {
		t.Errorf("Expected tokens capped at capacity 2, got %v", got)
	}
}

func TestAllowN(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 5)

	if !l.AllowN(5) {
		t.Fatal("Expected full burst to be allowed at once")
	}
	if l.AllowN(1) {
		t.Error("Expected empty bucket to deny")
	}
}

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	kl := NewKeyed(t.Name(), 1, 1, time.Minute)
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	kl.now = clk.Now

	if !kl.Allow("tenant-a") {
		t.Fatal("Expected first call for tenant-a to be allowed")
	}
	if kl.Allow("tenant-a") {
		t.Error("Expected tenant-a bucket to be empty")
	}
	if !kl.Allow("tenant-b") {
		t.Error("Expected tenant-b to have its own bucket")
	}
}

func TestKeyedLimiterEvictsIdleBuckets(t *testing.T) {
	kl := NewKeyed(t.Name(), 1, 1, time.Minute)
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	kl.now = clk.Now

	kl.Allow("tenant-a")
	if kl.Len() != 1 {
		t.Fatalf("Expected 1 bucket, got %d", kl.Len())
	}

	clk.Advance(2 * time.Minute)
	kl.Allow("tenant-b")
	if kl.Len() != 1 {
		t.Errorf("Expected idle tenant-a bucket evicted, got %d buckets", kl.Len())
	}
}

func TestConcurrentAllowDoesNotOverissue(t *testing.T) {
	l, _ := newTestLimiter(t, 0, 100)

	var allowed int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Allow() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed calls, got %d", allowed)
	}
}

package cache

import (
	"sync"
	"time"

	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/metrics"
)

var log = logger.Get()

// Config configures a Cache.
type Config struct {
	// Name identifies this cache in logs and metrics when several
	// logical namespaces share a process.
	// Default: "default"
	Name string
	// DefaultTTL is the expiry applied by SetDefault.
	// Default: 5 minutes
	DefaultTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:       "default",
		DefaultTTL: 5 * time.Minute,
	}
}

// entry is a stored value with its expiry deadline.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe in-memory key/value store with per-entry
// TTL expiry. Expired entries are removed lazily when read. All
// operations are O(1) and never fail; a read of an expired or absent key
// degrades to a miss.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64
	expired uint64

	// now is the clock used for expiry checks, replaceable in tests.
	now func() time.Time
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	log.WithField("cache", cfg.Name).WithField("defaultTTL", cfg.DefaultTTL).Debug("cache created")
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the value stored under key. It reports false when the key
// is absent or its TTL has elapsed; an entry is invalid exactly at its
// deadline. Expired entries are removed on the read that finds them.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.CacheMissesTotal.WithLabelValues(c.cfg.Name).Inc()
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		c.expired++
		metrics.CacheMissesTotal.WithLabelValues(c.cfg.Name).Inc()
		metrics.CacheExpiredTotal.WithLabelValues(c.cfg.Name).Inc()
		metrics.CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
		return nil, false
	}

	c.hits++
	metrics.CacheHitsTotal.WithLabelValues(c.cfg.Name).Inc()
	return e.value, true
}

// Set stores value under key for ttl, overwriting any prior entry.
// A ttl <= 0 means "do not cache" and the call is a no-op.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	metrics.CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
}

// SetDefault stores value under key with the configured DefaultTTL.
func (c *Cache) SetDefault(key string, value any) {
	c.Set(key, value, c.cfg.DefaultTTL)
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	metrics.CacheEntries.WithLabelValues(c.cfg.Name).Set(float64(len(c.entries)))
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	metrics.CacheEntries.WithLabelValues(c.cfg.Name).Set(0)
}

// Len returns the number of stored entries, including entries whose TTL
// has elapsed but which no read has removed yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a snapshot of cache state and cumulative counters.
type Stats struct {
	// Name is the cache namespace.
	Name string `json:"name"`
	// Entries is the current number of stored entries.
	Entries int `json:"entries"`
	// Hits is the number of reads served from the cache.
	Hits uint64 `json:"hits"`
	// Misses is the number of reads the cache could not serve.
	Misses uint64 `json:"misses"`
	// Expired is the number of entries removed because their TTL elapsed.
	Expired uint64 `json:"expired"`
}

// Stats returns current cache statistics. Counters are cumulative since
// creation.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Name:    c.cfg.Name,
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
	}
}

// Package core loads, validates, and assembles the configuration for the
// resource layer: one cache namespace, any number of named connection
// pools, and the metrics endpoint.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/torontoai/reservoir/lib/cache"
	"github.com/torontoai/reservoir/lib/pool"
	"github.com/torontoai/reservoir/lib/registry"
)

// Default configuration values
const (
	DefaultCacheName      = "default"
	DefaultCacheTTL       = 5 * time.Minute
	DefaultPoolMaxSize    = 10
	DefaultAcquireTimeout = 30 * time.Second
	DefaultMetricsListen  = "127.0.0.1:9090"
)

// Config holds all configuration for the resource layer.
type Config struct {
	Cache   CacheConfig   `toml:"cache"`
	Pools   []PoolConfig  `toml:"pools"`
	Metrics MetricsConfig `toml:"metrics"`
}

// CacheConfig configures the shared cache namespace.
type CacheConfig struct {
	// Name labels the cache in logs and metrics
	Name string `toml:"name"`
	// DefaultTTL is the expiry used when callers do not pass one
	DefaultTTL time.Duration `toml:"default_ttl"`
}

// PoolConfig describes one named connection pool.
type PoolConfig struct {
	// Name is the unique pool name used for registry lookups
	Name string `toml:"name"`
	// Network and Addr describe the endpoint for pools the daemon dials
	// itself ("tcp" or "unix"). Embedding callers supply their own
	// lifecycles and can leave these empty.
	Network string `toml:"network"`
	Addr    string `toml:"addr"`
	// MinSize is the number of connections pre-created at startup
	MinSize int `toml:"min_size"`
	// MaxSize bounds idle plus borrowed connections
	MaxSize int `toml:"max_size"`
	// AcquireTimeout is how long Acquire waits for capacity
	AcquireTimeout time.Duration `toml:"acquire_timeout"`
	// ValidateTimeout bounds one validation call
	ValidateTimeout time.Duration `toml:"validate_timeout"`
	// DestroyTimeout bounds one cleanup call
	DestroyTimeout time.Duration `toml:"destroy_timeout"`
}

// MetricsConfig configures the operational stats endpoint.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `toml:"enabled"`
	// Listen is the address for the metrics/stats HTTP server
	Listen string `toml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults and no pools.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Name:       DefaultCacheName,
			DefaultTTL: DefaultCacheTTL,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Cache.Name == "" {
		return errors.New("cache.name is required")
	}
	if c.Cache.DefaultTTL < 0 {
		return errors.New("cache.default_ttl must not be negative")
	}

	seen := make(map[string]bool, len(c.Pools))
	for _, pc := range c.Pools {
		if pc.Name == "" {
			return errors.New("pools.name is required")
		}
		if seen[pc.Name] {
			return fmt.Errorf("pools.name %q is duplicated", pc.Name)
		}
		seen[pc.Name] = true

		if pc.MaxSize < 1 {
			return fmt.Errorf("pool %q: max_size must be at least 1", pc.Name)
		}
		if pc.MinSize < 0 || pc.MinSize > pc.MaxSize {
			return fmt.Errorf("pool %q: min_size must be within [0, max_size]", pc.Name)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	return nil
}

// CacheOptions converts the cache section to the cache package
// configuration.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		Name:       c.Cache.Name,
		DefaultTTL: c.Cache.DefaultTTL,
	}
}

// PoolOptions converts one pool section to the pool package
// configuration.
func (pc PoolConfig) PoolOptions() pool.Config {
	return pool.Config{
		MinSize:         pc.MinSize,
		MaxSize:         pc.MaxSize,
		AcquireTimeout:  pc.AcquireTimeout,
		ValidateTimeout: pc.ValidateTimeout,
		DestroyTimeout:  pc.DestroyTimeout,
	}
}

// DialLifecycle returns a lifecycle that dials the pool's configured
// endpoint, used by the standalone daemon. Validation checks the socket
// is still usable; cleanup closes it.
func (pc PoolConfig) DialLifecycle() (pool.Lifecycle, error) {
	if pc.Addr == "" {
		return nil, fmt.Errorf("pool %q: addr is required for dialed pools", pc.Name)
	}
	network := pc.Network
	if network == "" {
		network = "tcp"
	}

	return pool.LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (pool.Connection, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, pc.Addr)
		},
		ValidateFunc: func(conn pool.Connection) bool {
			return conn.(net.Conn).SetDeadline(time.Time{}) == nil
		},
		DestroyFunc: func(conn pool.Connection) error {
			return conn.(net.Conn).Close()
		},
	}, nil
}

// Build assembles the cache and pool registry described by the
// configuration. lifecycles supplies the connection lifecycle for each
// configured pool, keyed by pool name; a configured pool without a
// lifecycle is an error, since the layer cannot create connections on
// its own.
func (c *Config) Build(lifecycles map[string]pool.Lifecycle) (*cache.Cache, *registry.Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	reg := registry.New()
	for _, pc := range c.Pools {
		lc, ok := lifecycles[pc.Name]
		if !ok {
			reg.Close()
			return nil, nil, fmt.Errorf("pool %q: no lifecycle supplied", pc.Name)
		}
		if _, err := reg.CreatePool(pc.Name, lc, pc.PoolOptions()); err != nil {
			reg.Close()
			return nil, nil, err
		}
	}

	return cache.New(c.CacheOptions()), reg, nil
}

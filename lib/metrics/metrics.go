// Package metrics provides Prometheus metrics for cache and pool
// utilization. Collectors are registered on a package-local registry so
// the layer never collides with collectors owned by the host application;
// Handler exposes them for scraping or health tooling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

// Pool utilization metrics, labeled by pool name.
var (
	// PoolConnectionsMax is the maximum pool size.
	PoolConnectionsMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_pool_connections_max",
		Help: "Maximum number of connections in the pool",
	}, []string{"pool"})
	// PoolConnectionsOpen is the current number of open connections.
	PoolConnectionsOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_pool_connections_open",
		Help: "Current number of open connections (idle plus borrowed)",
	}, []string{"pool"})
	// PoolConnectionsIdle is the current number of idle connections.
	PoolConnectionsIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_pool_connections_idle",
		Help: "Current number of idle connections in the pool",
	}, []string{"pool"})
	// PoolConnectionsInUse is the number of borrowed connections.
	PoolConnectionsInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_pool_connections_in_use",
		Help: "Number of connections currently borrowed by callers",
	}, []string{"pool"})
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_acquire_total",
		Help: "Total number of connection acquire attempts",
	}, []string{"pool"})
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_acquire_success_total",
		Help: "Total number of successful connection acquires",
	}, []string{"pool"})
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_acquire_failed_total",
		Help: "Total number of failed connection acquires",
	}, []string{"pool"})
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_release_total",
		Help: "Total number of connection releases",
	}, []string{"pool"})
	// PoolValidationFailedTotal is the number of validation failures.
	PoolValidationFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_validation_failed_total",
		Help: "Total number of connections that failed validation",
	}, []string{"pool"})
	// PoolPrewarmFailedTotal is the number of pre-warm creation failures.
	PoolPrewarmFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_pool_prewarm_failed_total",
		Help: "Total number of failed pre-warm connection creations",
	}, []string{"pool"})
	// PoolAcquireDuration tracks time spent acquiring connections.
	PoolAcquireDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reservoir_pool_acquire_duration_seconds",
		Help:    "Time spent acquiring a connection from the pool",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})
)

// Cache metrics, labeled by cache name.
var (
	// CacheEntries is the current number of stored entries.
	CacheEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_cache_entries",
		Help: "Current number of entries in the cache",
	}, []string{"cache"})
	// CacheHitsTotal is the number of reads served from the cache.
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache"})
	// CacheMissesTotal is the number of reads the cache could not serve.
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache"})
	// CacheExpiredTotal is the number of entries removed on expiry.
	CacheExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_cache_expired_total",
		Help: "Total number of entries removed because their TTL elapsed",
	}, []string{"cache"})
)

// Resilience metrics, labeled by breaker or limiter name.
var (
	// BreakerState is the current circuit state (0 closed, 1 open, 2 half-open).
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reservoir_breaker_state",
		Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"breaker"})
	// BreakerRejectedTotal is the number of calls rejected while open.
	BreakerRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_breaker_rejected_total",
		Help: "Total number of calls rejected by an open circuit breaker",
	}, []string{"breaker"})
	// RateLimitDeniedTotal is the number of calls denied by a rate limiter.
	RateLimitDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservoir_ratelimit_denied_total",
		Help: "Total number of calls denied by a rate limiter",
	}, []string{"limiter"})
)

func init() {
	registry.MustRegister(
		PoolConnectionsMax,
		PoolConnectionsOpen,
		PoolConnectionsIdle,
		PoolConnectionsInUse,
		PoolAcquireTotal,
		PoolAcquireSuccessTotal,
		PoolAcquireFailedTotal,
		PoolReleaseTotal,
		PoolValidationFailedTotal,
		PoolPrewarmFailedTotal,
		PoolAcquireDuration,
		CacheEntries,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheExpiredTotal,
		BreakerState,
		BreakerRejectedTotal,
		RateLimitDeniedTotal,
	)
}

// Registry returns the registry holding all reservoir collectors, for
// host applications that aggregate metrics themselves.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns an http.Handler that exposes all reservoir metrics in
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

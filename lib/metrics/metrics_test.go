package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorsRegistered(t *testing.T) {
	PoolAcquireTotal.WithLabelValues("test-pool").Inc()
	CacheHitsTotal.WithLabelValues("test-cache").Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}

	for _, name := range []string{
		"reservoir_pool_acquire_total",
		"reservoir_cache_hits_total",
	} {
		if !found[name] {
			t.Errorf("Expected metric %s to be registered", name)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	PoolReleaseTotal.WithLabelValues("test-pool").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "reservoir_pool_release_total") {
		t.Error("Expected exposition output to contain reservoir_pool_release_total")
	}
}

func TestRegistryAccessor(t *testing.T) {
	if Registry() == nil {
		t.Fatal("Expected non-nil registry")
	}
	if Registry() != registry {
		t.Error("Expected Registry to return the package registry")
	}
}

//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-station-service/internal/cache"
	"github.com/kjstillabower/weather-station-service/internal/db"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	PostgresDSN   string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if TEST_POSTGRES_DSN is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		PostgresDSN:   dsn,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupPostgres opens the configured postgres database, recreates the station
// schema and loads Seed. Tables are dropped on cleanup.
func SetupPostgres(t *testing.T, cfg IntegrationTestConfig) *db.DB {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, db.Options{Driver: "postgres", DSN: cfg.PostgresDSN, MaxOpenConns: 4})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	drop := `DROP TABLE IF EXISTS stations_TX, stations_TN, temp_max, temp_min`
	if _, err := d.ExecContext(ctx, drop); err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if _, err := d.ExecContext(ctx, Schema); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	if _, err := d.ExecContext(ctx, Seed); err != nil {
		t.Fatalf("exec seed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = d.ExecContext(context.Background(), drop)
		_ = d.Close()
	})
	return d
}

// SetupCache returns the cache selected by INTEGRATION_CACHE_BACKEND and a cleanup function.
func SetupCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("Memcached not available, using in-memory cache")
	}
	return cache.NewInMemoryCache(), func() {}
}

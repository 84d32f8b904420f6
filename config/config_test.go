package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "swcache", cfg.Cache.Prefix)
	assert.True(t, cfg.Precache.FallbackToNetwork)
	assert.Equal(t, []string{"^utm_", "^fbclid$"}, cfg.Precache.IgnoreURLParameters)
	assert.Equal(t, "offline.html", cfg.Fallback.Page)
	require.NoError(t, cfg.Validate())
}

func TestSimpleLoader_LoadFromYAML(t *testing.T) {
	path := writeFile(t, "swcache.yaml", `
worker:
  origin: "https://example.com"
  default_strategy: network-first
cache:
  driver: sqlite
  dsn: ":memory:"
  max_bytes: 1048576
precache:
  manifest: "precache-manifest.json"
routes:
  - name: fonts
    match: host
    pattern: fonts.example.com
    strategy: stale-while-revalidate
  - name: api
    match: regexp
    pattern: "^/api/"
    strategy: network-first
    network_timeout: 3s
    statuses: [200]
`)
	cfg := &config.Config{}
	require.NoError(t, config.NewSimpleLoader().WithYAMLFile(path).Load(cfg))

	assert.Equal(t, "https://example.com", cfg.Worker.Origin)
	assert.Equal(t, "network-first", cfg.Worker.DefaultStrategy)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	// Unset fields keep their defaults.
	assert.True(t, cfg.Cache.Compress)
	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "fonts.example.com", cfg.Routes[0].Pattern)
	assert.Equal(t, 3*time.Second, cfg.Routes[1].NetworkTimeout)
	assert.Equal(t, []int{200}, cfg.Routes[1].Statuses)
}

func TestSimpleLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("SWCACHE_SERVER_ADDRESS", ":9090")
	t.Setenv("SWCACHE_WORKER_ORIGIN", "https://env.example.com")
	t.Setenv("SWCACHE_CACHE_COMPRESS", "false")
	t.Setenv("SWCACHE_FETCH_TIMEOUT", "5s")
	t.Setenv("SWCACHE_CONTROL_RATE_LIMIT", "2.5")
	t.Setenv("SWCACHE_PRECACHE_IGNORE_URL_PARAMETERS", "^utm_, ^ref$")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "https://env.example.com", cfg.Worker.Origin)
	assert.False(t, cfg.Cache.Compress)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 2.5, cfg.Control.RateLimit)
	assert.Equal(t, []string{"^utm_", "^ref$"}, cfg.Precache.IgnoreURLParameters)
}

func TestSimpleLoader_CircuitBreakerFromEnv(t *testing.T) {
	t.Setenv("SWCACHE_FETCH_CIRCUIT_BREAKER_ENABLED", "true")
	t.Setenv("SWCACHE_FETCH_CIRCUIT_BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("SWCACHE_FETCH_CIRCUIT_BREAKER_OPEN_TIMEOUT", "1m")

	cfg := &config.Config{}
	require.NoError(t, config.NewSimpleLoader().Load(cfg))
	cb := cfg.Fetch.CircuitBreaker
	assert.True(t, cb.Enabled)
	assert.Equal(t, 3, cb.FailureThreshold)
	assert.Equal(t, time.Minute, cb.OpenTimeout)
	assert.Equal(t, 1, cb.HalfOpenRequests)
}

func TestSimpleLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server, cfg.Server)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "bad origin",
			mutate:  func(c *config.Config) { c.Worker.Origin = "not a url" },
			wantErr: "Worker.Origin",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *config.Config) { c.Cache.Driver = "redis" },
			wantErr: "Cache.Driver",
		},
		{
			name: "unknown strategy",
			mutate: func(c *config.Config) {
				c.Routes = []config.RouteConfig{{Match: "host", Pattern: "a.com", Strategy: "cache-only"}}
			},
			wantErr: "Strategy",
		},
		{
			name: "bad regexp",
			mutate: func(c *config.Config) {
				c.Routes = []config.RouteConfig{{Match: "regexp", Pattern: "(", Strategy: "network-first"}}
			},
			wantErr: "invalid pattern",
		},
		{
			name: "timeout on wrong strategy",
			mutate: func(c *config.Config) {
				c.Routes = []config.RouteConfig{{Match: "prefix", Pattern: "/a", Strategy: "stale-while-revalidate", NetworkTimeout: time.Second}}
			},
			wantErr: "network_timeout",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

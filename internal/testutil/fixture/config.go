// Package fixture provides shared test data.
package fixture

import (
	"time"

	"github.com/yshengliao/swcache/config"
)

// Origin is the site origin used across tests
const Origin = "https://example.com"

// TestConfig returns a test configuration with sensible defaults
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logger.Level = "debug"
	cfg.Logger.OutputPaths = []string{"stderr"}
	cfg.Worker.Origin = Origin
	cfg.Worker.Scope = "test"
	cfg.Worker.DefaultStrategy = "stale-while-revalidate"
	cfg.Cache.Driver = "memory"
	cfg.Fetch.Timeout = 5 * time.Second
	cfg.Control.RateLimit = 1000
	cfg.Control.RateBurst = 1000
	return cfg
}

// Manifest is a small precache manifest
const Manifest = `[
  {"url": "/index.html", "revision": "abc"},
  {"url": "/app.3f2a.js", "revision": null},
  "/offline.html"
]`

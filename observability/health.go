package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yshengliao/swcache/pkg/store"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status      HealthStatus   `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// HealthChecker runs registered checks on demand
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthChecker creates a checker whose checks each get timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{checks: make(map[string]HealthCheck), timeout: timeout}
}

// Register registers a health check
func (hc *HealthChecker) Register(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check performs all health checks concurrently
func (hc *HealthChecker) Check(ctx context.Context) map[string]HealthCheckResult {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	results := make(map[string]HealthCheckResult, len(checks))
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			start := time.Now()
			result := check(checkCtx)
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()

			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OverallStatus folds results into one status
func OverallStatus(results map[string]HealthCheckResult) HealthStatus {
	status := HealthStatusHealthy
	for _, r := range results {
		switch r.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// StorageHealthCheck lists cache names to prove the storage answers
func StorageHealthCheck(s store.Storage) HealthCheck {
	return func(ctx context.Context) HealthCheckResult {
		names, err := s.Keys(ctx)
		if err != nil {
			return HealthCheckResult{
				Status:  HealthStatusUnhealthy,
				Message: "Cache storage unavailable",
				Details: map[string]any{"error": err.Error()},
			}
		}
		return HealthCheckResult{
			Status:  HealthStatusHealthy,
			Message: "Cache storage reachable",
			Details: map[string]any{"caches": len(names)},
		}
	}
}

// BreakerHealthCheck reports degraded while any origin circuit is open.
// states returns the state name per origin.
func BreakerHealthCheck(states func() map[string]string) HealthCheck {
	return func(context.Context) HealthCheckResult {
		var open []string
		for origin, state := range states() {
			if state != "closed" {
				open = append(open, origin)
			}
		}
		if len(open) == 0 {
			return HealthCheckResult{Status: HealthStatusHealthy}
		}
		sort.Strings(open)
		return HealthCheckResult{
			Status:  HealthStatusDegraded,
			Message: "Serving from cache for failing origins",
			Details: map[string]any{"origins": open},
		}
	}
}

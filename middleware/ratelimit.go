// Package middleware provides the echo middleware of the swcache server
package middleware

import (
	"math"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
)

// RateLimiter decides whether a keyed request may proceed
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is the number of requests per second
	Rate float64

	// Burst is the maximum burst size
	Burst int

	// KeyFunc extracts the key from the request
	KeyFunc func(c echo.Context) string

	// ErrorHandler answers rejected requests
	ErrorHandler func(c echo.Context) error

	// Skipper exempts requests from the limit
	Skipper func(c echo.Context) bool

	// Store is the rate limiter implementation
	Store RateLimiter
}

// limiterEntry holds a rate limiter and its last access time
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryStoreConfig holds configuration for MemoryStore
type MemoryStoreConfig struct {
	Rate            float64
	Burst           int
	CleanupInterval time.Duration
	TTL             time.Duration
}

// MemoryStore keeps one token bucket per key. Buckets idle for longer than
// the TTL are dropped by a background sweep.
type MemoryStore struct {
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	cleanup  *time.Ticker
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store with a one minute sweep and a ten minute TTL
func NewMemoryStore(r float64, burst int) *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{
		Rate:            r,
		Burst:           burst,
		CleanupInterval: time.Minute,
		TTL:             10 * time.Minute,
	})
}

// NewMemoryStoreWithConfig creates a store from config
func NewMemoryStoreWithConfig(config MemoryStoreConfig) *MemoryStore {
	limit := rate.Limit(config.Rate)
	if config.Rate <= 0 {
		limit = rate.Inf
	}
	s := &MemoryStore{
		rate:     limit,
		burst:    config.Burst,
		ttl:      config.TTL,
		limiters: make(map[string]*limiterEntry),
		cleanup:  time.NewTicker(config.CleanupInterval),
		stopped:  make(chan struct{}),
	}
	go s.cleanupRoutine()
	return s
}

// Allow checks if a request is allowed
func (s *MemoryStore) Allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastAccess = now
	s.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Reset forgets the bucket of key
func (s *MemoryStore) Reset(key string) {
	s.mu.Lock()
	delete(s.limiters, key)
	s.mu.Unlock()
}

// Size returns the current number of limiters in the store
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Stop stops the cleanup routine
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		s.cleanup.Stop()
		close(s.stopped)
	})
}

func (s *MemoryStore) cleanupRoutine() {
	for {
		select {
		case <-s.cleanup.C:
			s.sweep(time.Now())
		case <-s.stopped:
			return
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastAccess) > s.ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimit returns a middleware limiting requests per client IP
func RateLimit(r float64, burst int) echo.MiddlewareFunc {
	return RateLimitWithConfig(RateLimitConfig{Rate: r, Burst: burst})
}

// RateLimitWithConfig returns a rate limiting middleware with config
func RateLimitWithConfig(config RateLimitConfig) echo.MiddlewareFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = func(c echo.Context) string { return c.RealIP() }
	}
	if config.Store == nil {
		config.Store = NewMemoryStore(config.Rate, config.Burst)
	}
	if config.ErrorHandler == nil {
		retryAfter := 1
		if config.Rate > 0 && config.Rate < 1 {
			retryAfter = int(math.Ceil(1 / config.Rate))
		}
		config.ErrorHandler = func(c echo.Context) error {
			return swerrors.RateLimitError(c, retryAfter)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper != nil && config.Skipper(c) {
				return next(c)
			}
			if !config.Store.Allow(config.KeyFunc(c)) {
				return config.ErrorHandler(c)
			}
			return next(c)
		}
	}
}

// Package worker is the runtime entrypoint. A Worker owns the cache
// storage, the network fetcher, the router, the precache controller and the
// lifecycle dispatcher, and serves inbound requests as fetch events.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/observability"
	"github.com/yshengliao/swcache/pkg/cachenames"
	"github.com/yshengliao/swcache/pkg/circuitbreaker"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/httpclient"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/quota"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/precache"
	"github.com/yshengliao/swcache/recipes"
	"github.com/yshengliao/swcache/router"
	"github.com/yshengliao/swcache/strategy"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Worker is one runtime instance. Create it with New.
type Worker struct {
	cfg    *config.Config
	origin *url.URL
	logger *zap.Logger

	storage    store.Storage
	ownStorage bool
	fetcher    fetch.Fetcher
	client     *httpclient.Client
	breakers   *circuitbreaker.Set
	quota      *quota.Registry
	names      *cachenames.Names
	router     *router.Router
	dispatcher *lifecycle.Dispatcher
	metrics    *observability.Collector
	fallbacks  *recipes.Fallbacks

	routeOpts      precache.RouteOptions
	runtimeCaches  []string
	reloadDebounce time.Duration

	current atomic.Pointer[precacheVersion]
	// reloadMu serializes manifest reloads.
	reloadMu sync.Mutex

	resultsMu    sync.Mutex
	lastInstall  *precache.InstallResult
	lastActivate *precache.ActivateResult

	background sync.WaitGroup
}

// precacheVersion pairs a controller with the route matching its URLs.
type precacheVersion struct {
	controller *precache.Controller
	route      *router.Route
}

// Option defines a functional option for Worker
type Option func(*Worker) error

// WithLogger sets the worker logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}

// WithFetcher replaces the HTTP fetcher
func WithFetcher(f fetch.Fetcher) Option {
	return func(w *Worker) error {
		if f == nil {
			return fmt.Errorf("fetcher cannot be nil")
		}
		w.fetcher = f
		return nil
	}
}

// WithStorage replaces the configured cache storage
func WithStorage(s store.Storage) Option {
	return func(w *Worker) error {
		if s == nil {
			return fmt.Errorf("storage cannot be nil")
		}
		w.storage = s
		return nil
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c *observability.Collector) Option {
	return func(w *Worker) error {
		if c == nil {
			return fmt.Errorf("metrics collector cannot be nil")
		}
		w.metrics = c
		return nil
	}
}

// WithReloadDebounce sets how long WatchManifest waits for writes to settle
func WithReloadDebounce(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return fmt.Errorf("reload debounce must be positive")
		}
		w.reloadDebounce = d
		return nil
	}
}

// New builds a worker from cfg. Nothing is installed yet; call Install and
// Activate before serving.
func New(cfg *config.Config, opts ...Option) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	w := &Worker{
		cfg:            cfg,
		dispatcher:     lifecycle.NewDispatcher(),
		reloadDebounce: defaultReloadDebounce,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.metrics == nil {
		w.metrics = observability.NewCollector()
	}

	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("worker origin %q must be an absolute URL", cfg.Worker.Origin)
	}
	w.origin = origin

	w.names = cachenames.New(cfg.Worker.Scope)
	w.names.Update(cachenames.Details{Prefix: cfg.Cache.Prefix, Suffix: cfg.Cache.Suffix})

	if w.storage == nil {
		if w.storage, err = openStorage(cfg.Cache); err != nil {
			return nil, err
		}
		w.ownStorage = true
	}
	if w.fetcher == nil {
		w.client = httpclient.New(clientConfig(cfg.Fetch))
		w.fetcher = fetch.NewHTTPFetcher(w.client, cfg.Fetch.MaxResponseBytes)
	}
	if cb := cfg.Fetch.CircuitBreaker; cb.Enabled {
		w.breakers = circuitbreaker.NewSet(w.breakerConfig(cb))
		w.fetcher = fetch.WithCircuitBreaker(w.fetcher, w.breakers)
	}

	w.quota = quota.NewRegistry(w.logger)
	w.router = router.New(origin, w.logger.Named("router"))

	if w.routeOpts, err = routeOptions(cfg.Precache); err != nil {
		return nil, err
	}
	if err := w.setupPrecache(); err != nil {
		_ = w.closeStorage()
		return nil, err
	}
	if err := w.setupRoutes(); err != nil {
		_ = w.closeStorage()
		return nil, err
	}
	if cfg.Cache.PurgeOnQuotaError {
		w.quota.Register(w.purgeRuntimeCaches)
	}
	if cfg.Fallback.Enabled {
		w.fallbacks = recipes.OfflineFallback(recipes.Deps{
			Storage:    w.storage,
			Fetcher:    w.fetcher,
			Names:      w.names,
			Router:     w.router,
			Dispatcher: w.dispatcher,
			Precache:   w,
			Logger:     w.logger.Named("fallback"),
		}, recipes.OfflineFallbackOptions{
			PageFallback:  cfg.Fallback.Page,
			ImageFallback: cfg.Fallback.Image,
			FontFallback:  cfg.Fallback.Font,
		})
	}

	w.logger.Info("worker ready",
		zap.String("origin", fetch.Origin(origin)),
		zap.String("precache", w.Precache().Strategy().CacheName()),
		zap.Int("routes", len(cfg.Routes)),
		zap.Bool("fallback", cfg.Fallback.Enabled))
	return w, nil
}

func (w *Worker) breakerConfig(cb config.CircuitBreakerConfig) circuitbreaker.Config {
	log := w.logger.Named("breaker")
	return circuitbreaker.Config{
		FailureThreshold: uint32(cb.FailureThreshold),
		OpenTimeout:      cb.OpenTimeout,
		HalfOpenRequests: uint32(cb.HalfOpenRequests),
		OnStateChange: func(origin string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed",
				zap.String("origin", origin),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	}
}

// UpstreamMetrics returns the HTTP client counters, or nil when the worker
// was given its own fetcher.
func (w *Worker) UpstreamMetrics() *httpclient.ClientMetrics {
	if w.client == nil {
		return nil
	}
	m := w.client.GetMetrics()
	return &m
}

// BreakerStates reports the circuit state per origin. It is nil when the
// circuit breaker is disabled.
func (w *Worker) BreakerStates() map[string]string {
	if w.breakers == nil {
		return nil
	}
	states := w.breakers.States()
	out := make(map[string]string, len(states))
	for origin, s := range states {
		out[origin] = s.String()
	}
	return out
}

func openStorage(cfg config.CacheConfig) (store.Storage, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(cfg.MaxBytes), nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.DSN, store.SQLiteOptions{MaxBytes: cfg.MaxBytes, Compress: cfg.Compress})
		if err != nil {
			return nil, fmt.Errorf("open cache storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func clientConfig(cfg config.FetchConfig) httpclient.Config {
	c := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.MaxIdleConns > 0 {
		c.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return c
}

func routeOptions(cfg config.PrecacheConfig) (precache.RouteOptions, error) {
	opts := precache.RouteOptions{
		DirectoryIndex: cfg.DirectoryIndex,
		CleanURLs:      cfg.CleanURLs,
	}
	for _, p := range cfg.IgnoreURLParameters {
		re, err := regexp.Compile(p)
		if err != nil {
			return opts, fmt.Errorf("ignore_url_parameters %q: %w", p, err)
		}
		opts.IgnoreURLParametersMatching = append(opts.IgnoreURLParametersMatching, re)
	}
	return opts, nil
}

// deps are the strategy collaborators shared by every strategy the worker
// builds.
func (w *Worker) deps() strategy.Deps {
	return strategy.Deps{
		Storage: w.storage,
		Fetcher: w.fetcher,
		Quota:   w.quota,
		Names:   w.names,
		Logger:  w.logger.Named("strategy"),
	}
}

// purgeRuntimeCaches is the quota callback: runtime caches are dropped so
// precached files survive.
func (w *Worker) purgeRuntimeCaches(ctx context.Context) error {
	for _, name := range w.runtimeCaches {
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("purge cache %s: %w", name, err)
		}
	}
	w.logger.Warn("quota exceeded, runtime caches purged", zap.Strings("caches", w.runtimeCaches))
	return nil
}

// Router returns the worker's router
func (w *Worker) Router() *router.Router { return w.router }

// Dispatcher returns the lifecycle dispatcher
func (w *Worker) Dispatcher() *lifecycle.Dispatcher { return w.dispatcher }

// Storage returns the cache storage
func (w *Worker) Storage() store.Storage { return w.storage }

// Metrics returns the metrics collector
func (w *Worker) Metrics() *observability.Collector { return w.metrics }

// Names returns the cache names
func (w *Worker) Names() *cachenames.Names { return w.names }

// Fallbacks returns the offline fallback recipe, nil when disabled
func (w *Worker) Fallbacks() *recipes.Fallbacks { return w.fallbacks }

// Precache returns the current precache controller
func (w *Worker) Precache() *precache.Controller {
	return w.current.Load().controller
}

// MatchPrecache looks rawURL up in the current precache.
func (w *Worker) MatchPrecache(ctx context.Context, rawURL string) (*fetch.Response, error) {
	return w.Precache().MatchPrecache(ctx, rawURL)
}

// Close waits for background work to settle, then releases the HTTP client
// and the storage the worker opened itself.
func (w *Worker) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("closing with background work still running", zap.Error(ctx.Err()))
	}
	if w.client != nil {
		w.client.Close()
	}
	return w.closeStorage()
}

func (w *Worker) closeStorage() error {
	if !w.ownStorage {
		return nil
	}
	if c, ok := w.storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

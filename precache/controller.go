// Package precache keeps a versioned set of URLs in a dedicated cache:
// it downloads them on install, removes stale entries on activate and
// serves them afterwards.
package precache

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/router"
	"github.com/yshengliao/swcache/strategy"
)

// InstallResult lists the URLs an install downloaded and the ones that
// were already cached under the same key.
type InstallResult struct {
	UpdatedURLs    []string `json:"updatedURLs"`
	NotUpdatedURLs []string `json:"notUpdatedURLs"`
}

// ActivateResult lists the cache keys removed on activate.
type ActivateResult struct {
	DeletedURLs []string `json:"deletedURLs"`
}

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	// CacheName defaults to the precache name.
	CacheName string
	Plugins   []*strategy.Plugin
	// DisableFallbackToNetwork is passed to the strategy.
	DisableFallbackToNetwork bool
	// Origin resolves relative manifest URLs.
	Origin *url.URL
}

// Controller owns the precache list and its strategy.
type Controller struct {
	strategy *Strategy
	storage  store.Storage
	origin   *url.URL
	logger   *zap.Logger

	mu                     sync.RWMutex
	urls                   []string
	urlsToCacheKeys        map[string]string
	urlsToCacheModes       map[string]string
	cacheKeysToIntegrities map[string]string

	listenersMu sync.Mutex
	listening   map[*lifecycle.Dispatcher]bool
}

// NewController creates a controller with an empty precache list.
func NewController(deps strategy.Deps, opts ControllerOptions) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	c := &Controller{
		storage:                deps.Storage,
		origin:                 opts.Origin,
		logger:                 deps.Logger,
		urlsToCacheKeys:        make(map[string]string),
		urlsToCacheModes:       make(map[string]string),
		cacheKeysToIntegrities: make(map[string]string),
		listening:              make(map[*lifecycle.Dispatcher]bool),
	}
	var origin string
	if opts.Origin != nil {
		origin = fetch.Origin(opts.Origin)
	}
	plugins := append(append([]*strategy.Plugin(nil), opts.Plugins...), cacheKeyPlugin(c))
	c.strategy = NewStrategy(deps, StrategyOptions{
		Options:                  strategy.Options{CacheName: opts.CacheName, Plugins: plugins},
		DisableFallbackToNetwork: opts.DisableFallbackToNetwork,
		Origin:                   origin,
	})
	return c
}

// Strategy returns the controller's strategy.
func (c *Controller) Strategy() *Strategy { return c.strategy }

// Precache adds entries to the list and, when d is non-nil, makes sure the
// controller's install and activate listeners are registered on d. Calling
// it repeatedly registers the listeners once.
func (c *Controller) Precache(entries []Entry, d *lifecycle.Dispatcher) error {
	if err := c.AddToCacheList(entries); err != nil {
		return err
	}
	if d == nil {
		return nil
	}

	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.listening[d] {
		return nil
	}
	c.listening[d] = true
	d.AddEventListener(lifecycle.EventInstall, func(ctx context.Context, e *lifecycle.Event) error {
		res, err := c.Install(ctx, e)
		if err != nil {
			return err
		}
		c.logger.Info("precache installed",
			zap.Int("updated", len(res.UpdatedURLs)), zap.Int("notUpdated", len(res.NotUpdatedURLs)))
		return nil
	})
	d.AddEventListener(lifecycle.EventActivate, func(ctx context.Context, e *lifecycle.Event) error {
		res, err := c.Activate(ctx, e)
		if err != nil {
			return err
		}
		c.logger.Info("precache activated", zap.Int("deleted", len(res.DeletedURLs)))
		return nil
	})
	return nil
}

// AddURLs adds bare URLs to the list.
func (c *Controller) AddURLs(urls ...string) error {
	entries := make([]Entry, len(urls))
	for i, u := range urls {
		entries[i] = URLEntry(u)
	}
	return c.AddToCacheList(entries)
}

// AddToCacheList adds entries to the list. The same URL may be added
// again with the same revision; a different revision, or a different
// integrity for the same cache key, is an error.
func (c *Controller) AddToCacheList(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unrevisioned []string
	for _, e := range entries {
		if e.Unrevisioned() {
			unrevisioned = append(unrevisioned, e.URL)
		}
		cacheKey, href, err := createCacheKey(e, c.origin)
		if err != nil {
			return err
		}
		mode := fetch.CacheDefault
		if e.revision() != "" {
			mode = fetch.CacheReload
		}

		if existing, ok := c.urlsToCacheKeys[href]; ok && existing != cacheKey {
			return swerrors.New(swerrors.CodeConflictingEntries, map[string]any{
				"firstEntry":  existing,
				"secondEntry": cacheKey,
			})
		}
		if e.Integrity != "" {
			if existing, ok := c.cacheKeysToIntegrities[cacheKey]; ok && existing != e.Integrity {
				return swerrors.New(swerrors.CodeConflictingIntegrities, map[string]any{"url": href})
			}
			c.cacheKeysToIntegrities[cacheKey] = e.Integrity
		}

		if _, ok := c.urlsToCacheKeys[href]; !ok {
			c.urls = append(c.urls, href)
		}
		c.urlsToCacheKeys[href] = cacheKey
		c.urlsToCacheModes[href] = mode
	}

	if len(unrevisioned) > 0 {
		c.logger.Warn("precaching URLs without revision info; make sure they contain a hash or add a revision",
			zap.Strings("urls", unrevisioned))
	}
	return nil
}

// Install downloads every listed URL that is not cached under its
// current key. ev may be nil.
func (c *Controller) Install(ctx context.Context, ev *lifecycle.Event) (*InstallResult, error) {
	if ev == nil {
		ev = lifecycle.NewEvent(lifecycle.EventInstall)
	}
	reporter := newInstallReporter()

	for _, href := range c.GetCachedURLs() {
		c.mu.RLock()
		cacheKey := c.urlsToCacheKeys[href]
		mode := c.urlsToCacheModes[href]
		integrity := c.cacheKeysToIntegrities[cacheKey]
		c.mu.RUnlock()

		req, err := fetch.NewRequest(href)
		if err != nil {
			return nil, err
		}
		req.Integrity = integrity
		req.Cache = mode
		req.Credentials = fetch.CredentialsSameOrigin

		exec := c.strategy.HandleAll(ctx, strategy.HandleOptions{
			Request: req,
			Event:   ev,
			Params:  Params{CacheKey: cacheKey},
			Plugins: []*strategy.Plugin{reporter.plugin},
		})
		if _, err := exec.Response(ctx); err != nil {
			return nil, fmt.Errorf("precache %s: %w", href, err)
		}
		if err := exec.Wait(ctx); err != nil {
			return nil, fmt.Errorf("precache %s: %w", href, err)
		}
	}

	res := reporter.result()
	c.logger.Debug("precache install finished",
		zap.Strings("updated", res.UpdatedURLs), zap.Strings("notUpdated", res.NotUpdatedURLs))
	return res, nil
}

// Activate deletes cached entries whose keys are no longer in the list.
// Running it twice deletes nothing the second time.
func (c *Controller) Activate(ctx context.Context, _ *lifecycle.Event) (*ActivateResult, error) {
	cache, err := c.storage.Open(ctx, c.strategy.CacheName())
	if err != nil {
		return nil, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]struct{})
	c.mu.RLock()
	for _, k := range c.urlsToCacheKeys {
		expected[k] = struct{}{}
	}
	c.mu.RUnlock()

	res := &ActivateResult{DeletedURLs: []string{}}
	for _, k := range keys {
		if _, ok := expected[k.Href()]; ok {
			continue
		}
		if _, err := cache.Delete(ctx, k, store.MatchOptions{IgnoreVary: true}); err != nil {
			return nil, err
		}
		res.DeletedURLs = append(res.DeletedURLs, k.Href())
	}
	if len(res.DeletedURLs) > 0 {
		c.logger.Debug("deleted outdated precache entries", zap.Strings("urls", res.DeletedURLs))
	}
	return res, nil
}

// GetURLsToCacheKeys returns a copy of the url to cache key mapping.
func (c *Controller) GetURLsToCacheKeys() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.urlsToCacheKeys))
	for k, v := range c.urlsToCacheKeys {
		out[k] = v
	}
	return out
}

// GetCachedURLs returns the listed URLs in the order they were added.
func (c *Controller) GetCachedURLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.urls...)
}

// GetCacheKeyForURL returns the cache key for rawURL, resolved against the
// origin, or "" when it is not precached.
func (c *Controller) GetCacheKeyForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if c.origin != nil {
		u = c.origin.ResolveReference(u)
	}
	u.Fragment = ""
	u.RawFragment = ""
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urlsToCacheKeys[u.String()]
}

// GetIntegrityForCacheKey returns the integrity registered for cacheKey.
func (c *Controller) GetIntegrityForCacheKey(cacheKey string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheKeysToIntegrities[cacheKey]
}

// MatchPrecache looks up the precached response for rawURL. It returns nil
// when the URL is not precached or not cached yet.
func (c *Controller) MatchPrecache(ctx context.Context, rawURL string) (*fetch.Response, error) {
	cacheKey := c.GetCacheKeyForURL(rawURL)
	if cacheKey == "" {
		return nil, nil
	}
	cache, err := c.storage.Open(ctx, c.strategy.CacheName())
	if err != nil {
		return nil, err
	}
	req, err := fetch.NewRequest(cacheKey)
	if err != nil {
		return nil, err
	}
	return cache.Match(ctx, req, store.MatchOptions{})
}

// CreateHandlerBoundToURL returns a handler that always answers with the
// precached response for rawURL, whatever request it is given.
func (c *Controller) CreateHandlerBoundToURL(rawURL string) (router.Handler, error) {
	cacheKey := c.GetCacheKeyForURL(rawURL)
	if cacheKey == "" {
		return nil, swerrors.New(swerrors.CodeNonPrecachedURL, map[string]any{"url": rawURL})
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if c.origin != nil {
		target = c.origin.ResolveReference(target)
	}
	return router.HandlerFunc(func(ctx context.Context, opts router.HandlerOptions) (*fetch.Response, error) {
		u := *target
		opts.Request = fetch.NewRequestURL(&u)
		params := paramsOf(opts.Params)
		if params.CacheKey == "" {
			params.CacheKey = cacheKey
		}
		opts.Params = params
		return c.strategy.Handle(ctx, opts)
	}), nil
}

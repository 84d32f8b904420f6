package strategy

import (
	"context"
	"net/url"
	"sync"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
)

// revisionParam is ignored when looking up the entry a write replaces.
const revisionParam = "__WB_REVISION__"

// Handler drives one request through a strategy. It is created by
// Base.HandleAll and destroyed once the request and its background work
// are finished.
type Handler struct {
	Request *fetch.Request
	Event   *lifecycle.Event
	URL     *url.URL
	Params  any

	strategy *Base
	plugins  []*Plugin
	logger   *zap.Logger

	mu       sync.Mutex
	states   map[*Plugin]*State
	keys     map[string]*fetch.Request
	extended []lifecycle.Waiter
	done     *lifecycle.Future[struct{}]
}

func newHandler(b *Base, opts HandleOptions) *Handler {
	plugins := b.Plugins()
	plugins = append(plugins, opts.Plugins...)
	h := &Handler{
		Request:  opts.Request,
		Event:    opts.Event,
		URL:      opts.URL,
		Params:   opts.Params,
		strategy: b,
		plugins:  plugins,
		logger:   b.deps.Logger,
		states:   make(map[*Plugin]*State),
		keys:     make(map[string]*fetch.Request),
		done:     lifecycle.NewFuture[struct{}](),
	}
	opts.Event.WaitUntil(h.done)
	return h
}

func (h *Handler) state(p *Plugin) *State {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[p]
	if !ok {
		s = &State{}
		h.states[p] = s
	}
	return s
}

func (h *Handler) withHook(hook Hook) []*Plugin {
	var out []*Plugin
	for _, p := range h.plugins {
		if p.Has(hook) {
			out = append(out, p)
		}
	}
	return out
}

// HasCallback reports whether any plugin implements hook.
func (h *Handler) HasCallback(hook Hook) bool {
	return hasHook(h.plugins, hook)
}

// Fetch requests input from the network through the plugin pipeline.
func (h *Handler) Fetch(ctx context.Context, input *fetch.Request) (*fetch.Response, error) {
	req := input
	if req.IsNavigation() && h.Event != nil && h.Event.PreloadResponse != nil {
		if resp, err := h.Event.PreloadResponse.Await(ctx); err == nil && resp != nil {
			h.logger.Debug("using preloaded navigation response", zap.String("url", req.Href()))
			return resp, nil
		}
	}

	// The original is only kept when someone will be told about a failure.
	var original *fetch.Request
	if h.HasCallback(HookFetchDidFail) {
		original = req.Clone()
	}

	for _, p := range h.withHook(HookRequestWillFetch) {
		next, err := p.RequestWillFetch(ctx, RequestWillFetchParams{Request: req.Clone(), Event: h.Event, State: h.state(p)})
		if err != nil {
			return nil, swerrors.New(swerrors.CodePluginErrorRequestFetch, map[string]any{
				"thrownErrorMessage": err.Error(),
			})
		}
		if next != nil {
			req = next
		}
	}
	filtered := req.Clone()

	var opts *fetch.Options
	if !req.IsNavigation() {
		opts = h.strategy.fetchOptions
	}

	resp, err := h.strategy.deps.Fetcher.Fetch(ctx, req, opts)
	if err == nil {
		for _, p := range h.withHook(HookFetchDidSucceed) {
			resp, err = p.FetchDidSucceed(ctx, FetchDidSucceedParams{Request: filtered, Response: resp, Event: h.Event, State: h.state(p)})
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		h.logger.Debug("network request failed", zap.String("url", req.Href()), zap.Error(err))
		if original != nil {
			for _, p := range h.withHook(HookFetchDidFail) {
				if perr := p.FetchDidFail(ctx, FetchDidFailParams{
					OriginalRequest: original.Clone(),
					Request:         filtered.Clone(),
					Error:           err,
					Event:           h.Event,
					State:           h.state(p),
				}); perr != nil {
					h.logger.Debug("fetchDidFail plugin failed", zap.String("url", req.Href()), zap.Error(perr))
				}
			}
		}
		return nil, err
	}
	return resp, nil
}

// FetchAndCachePut fetches req and stores a copy of the response in the
// background. The write extends the handler's lifetime.
func (h *Handler) FetchAndCachePut(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	resp, err := h.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	clone := resp.Clone()
	h.WaitUntil(lifecycle.Async(context.WithoutCancel(ctx), func(ctx context.Context) (bool, error) {
		return h.CachePut(ctx, req, clone)
	}))
	return resp, nil
}

// CacheMatch looks up key in the strategy's cache. A nil response means
// nothing usable was cached.
func (h *Handler) CacheMatch(ctx context.Context, key *fetch.Request) (*fetch.Response, error) {
	effective, err := h.GetCacheKey(ctx, key, KeyModeRead)
	if err != nil {
		return nil, err
	}
	opts := h.strategy.matchOptions
	opts.CacheName = h.strategy.cacheName

	resp, err := h.strategy.deps.Storage.Match(ctx, effective, opts)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		h.logger.Debug("found cached response", zap.String("cache", opts.CacheName), zap.String("url", effective.Href()))
	} else {
		h.logger.Debug("no cached response", zap.String("cache", opts.CacheName), zap.String("url", effective.Href()))
	}

	for _, p := range h.withHook(HookCachedResponseWillBeUsed) {
		resp, err = p.CachedResponseWillBeUsed(ctx, CachedResponseWillBeUsedParams{
			CacheName:      opts.CacheName,
			MatchOptions:   opts,
			Request:        effective,
			CachedResponse: resp,
			Event:          h.Event,
			State:          h.state(p),
		})
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// CachePut stores resp under key and reports whether it was written.
func (h *Handler) CachePut(ctx context.Context, key *fetch.Request, resp *fetch.Response) (bool, error) {
	effective, err := h.GetCacheKey(ctx, key, KeyModeWrite)
	if err != nil {
		return false, err
	}
	if resp == nil {
		return false, swerrors.New(swerrors.CodeCachePutWithNoResponse, map[string]any{"url": effective.Href()})
	}

	toCache, err := h.ensureResponseSafeToCache(ctx, resp)
	if err != nil {
		return false, err
	}
	if toCache == nil {
		h.logger.Debug("response will not be cached", zap.String("url", effective.Href()), zap.Int("status", resp.Status))
		return false, nil
	}

	cacheName := h.strategy.cacheName
	storage := h.strategy.deps.Storage

	var old *fetch.Response
	if h.wantsOldResponse() {
		if old, err = h.matchIgnoringRevision(ctx, cacheName, effective); err != nil {
			return false, err
		}
	}

	cache, err := storage.Open(ctx, cacheName)
	if err != nil {
		return false, err
	}
	if err := cache.Put(ctx, effective, toCache.Clone()); err != nil {
		if store.IsQuotaExceeded(err) {
			if qerr := h.strategy.deps.Quota.Run(ctx); qerr != nil {
				h.logger.Warn("quota callback failed", zap.Error(qerr))
			}
		}
		return false, err
	}

	for _, p := range h.withHook(HookCacheDidUpdate) {
		if err := p.CacheDidUpdate(ctx, CacheDidUpdateParams{
			CacheName:   cacheName,
			OldResponse: old,
			NewResponse: toCache.Clone(),
			Request:     effective,
			Event:       h.Event,
			State:       h.state(p),
		}); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (h *Handler) wantsOldResponse() bool {
	for _, p := range h.withHook(HookCacheDidUpdate) {
		if !p.IgnoresOldResponse {
			return true
		}
	}
	return false
}

// GetCacheKey returns the request used as the storage key for req. Results
// are memoized per URL and mode for the lifetime of the handler.
func (h *Handler) GetCacheKey(ctx context.Context, req *fetch.Request, mode string) (*fetch.Request, error) {
	memo := req.Href() + " | " + mode

	h.mu.Lock()
	if k, ok := h.keys[memo]; ok {
		h.mu.Unlock()
		return k, nil
	}
	h.mu.Unlock()

	effective := req
	for _, p := range h.withHook(HookCacheKeyWillBeUsed) {
		next, err := p.CacheKeyWillBeUsed(ctx, CacheKeyWillBeUsedParams{
			Mode:    mode,
			Request: effective,
			Params:  h.Params,
			Event:   h.Event,
			State:   h.state(p),
		})
		if err != nil {
			return nil, err
		}
		if next != nil {
			effective = next
		}
	}

	h.mu.Lock()
	h.keys[memo] = effective
	h.mu.Unlock()
	return effective, nil
}

// WaitUntil adds w to the work that must finish before the handler is done.
func (h *Handler) WaitUntil(w lifecycle.Waiter) {
	h.mu.Lock()
	h.extended = append(h.extended, w)
	h.mu.Unlock()
}

// DoneWaiting waits for the registered work in order, including work added
// while waiting, and stops at the first failure.
func (h *Handler) DoneWaiting(ctx context.Context) error {
	for {
		h.mu.Lock()
		if len(h.extended) == 0 {
			h.mu.Unlock()
			return nil
		}
		w := h.extended[0]
		h.extended = h.extended[1:]
		h.mu.Unlock()

		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
}

// Destroy releases the handler's hold on its event.
func (h *Handler) Destroy() {
	h.done.Resolve(struct{}{}, nil)
}

func (h *Handler) ensureResponseSafeToCache(ctx context.Context, resp *fetch.Response) (*fetch.Response, error) {
	plugins := h.withHook(HookCacheWillUpdate)
	if len(plugins) == 0 {
		if resp.Status != 200 {
			return nil, nil
		}
		return resp, nil
	}
	for _, p := range plugins {
		var err error
		resp, err = p.CacheWillUpdate(ctx, CacheWillUpdateParams{Request: h.Request, Response: resp, Event: h.Event, State: h.state(p)})
		if err != nil {
			return nil, err
		}
		if resp == nil {
			break
		}
	}
	return resp, nil
}

// matchIgnoringRevision finds the entry a write to key replaces, treating
// URLs that differ only in the revision parameter as equal.
func (h *Handler) matchIgnoringRevision(ctx context.Context, cacheName string, key *fetch.Request) (*fetch.Response, error) {
	opts := h.strategy.matchOptions
	opts.CacheName = ""

	cache, err := h.strategy.deps.Storage.Open(ctx, cacheName)
	if err != nil {
		return nil, err
	}
	stripped := stripParam(key.URL, revisionParam)
	if stripped == key.Href() {
		return cache.Match(ctx, key, opts)
	}

	keys, err := cache.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if stripParam(k.URL, revisionParam) == stripped {
			return cache.Match(ctx, k, opts)
		}
	}
	return nil, nil
}

func stripParam(u *url.URL, name string) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.RawQuery = fetch.FilterQuery(c.RawQuery, func(n string) bool { return n == name })
	return c.String()
}

// Package recipes bundles common combinations of routes and strategies.
package recipes

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/pkg/cachenames"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/router"
)

// DefaultPageFallback is served for failed navigations.
const DefaultPageFallback = "offline.html"

// PrecacheMatcher looks up precached responses.
type PrecacheMatcher interface {
	MatchPrecache(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Deps are what OfflineFallback wires itself into.
type Deps struct {
	Storage    store.Storage
	Fetcher    fetch.Fetcher
	Names      *cachenames.Names
	Router     *router.Router
	Dispatcher *lifecycle.Dispatcher
	// Precache, when set, is consulted before the fallback cache.
	Precache PrecacheMatcher
	Logger   *zap.Logger
}

// OfflineFallbackOptions name the fallback URLs. Empty image and font
// fallbacks are disabled.
type OfflineFallbackOptions struct {
	PageFallback  string
	ImageFallback string
	FontFallback  string
}

// Fallbacks serves offline fallbacks for failed requests.
type Fallbacks struct {
	deps      Deps
	cacheName string
	byDest    map[string]string
	files     []string
}

// OfflineFallback registers an install listener that caches the fallback
// files and sets the router's catch handler to serve them by request
// destination.
func OfflineFallback(deps Deps, opts OfflineFallbackOptions) *Fallbacks {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Names == nil {
		deps.Names = cachenames.New("")
	}
	if opts.PageFallback == "" {
		opts.PageFallback = DefaultPageFallback
	}

	f := &Fallbacks{
		deps:      deps,
		cacheName: cachenames.Join(deps.Names.Prefix(), "offline-fallbacks"),
		byDest:    map[string]string{"document": opts.PageFallback},
		files:     []string{opts.PageFallback},
	}
	if opts.ImageFallback != "" {
		f.byDest["image"] = opts.ImageFallback
		f.files = append(f.files, opts.ImageFallback)
	}
	if opts.FontFallback != "" {
		f.byDest["font"] = opts.FontFallback
		f.files = append(f.files, opts.FontFallback)
	}

	if deps.Dispatcher != nil {
		deps.Dispatcher.AddEventListener(lifecycle.EventInstall, func(ctx context.Context, e *lifecycle.Event) error {
			return f.Install(ctx)
		})
	}
	if deps.Router != nil {
		deps.Router.SetCatchHandler(router.HandlerFunc(f.Handle))
	}
	return f
}

// CacheName is the cache holding the fallback files.
func (f *Fallbacks) CacheName() string { return f.cacheName }

// Install fetches and stores every fallback file. Nothing is stored unless
// all of them succeed.
func (f *Fallbacks) Install(ctx context.Context) error {
	reqs := make([]*fetch.Request, 0, len(f.files))
	for _, file := range f.files {
		req, err := f.request(file)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	cache, err := f.deps.Storage.Open(ctx, f.cacheName)
	if err != nil {
		return err
	}
	if err := store.AddAll(ctx, cache, f.deps.Fetcher, reqs); err != nil {
		return fmt.Errorf("cache offline fallbacks: %w", err)
	}
	f.deps.Logger.Debug("offline fallbacks cached", zap.Strings("files", f.files))
	return nil
}

// Handle answers a failed request with the fallback for its destination,
// or a network error response when there is none.
func (f *Fallbacks) Handle(ctx context.Context, opts router.HandlerOptions) (*fetch.Response, error) {
	file, ok := f.byDest[opts.Request.Destination]
	if !ok {
		return fetch.ErrorResponse(), nil
	}

	if f.deps.Precache != nil {
		resp, err := f.deps.Precache.MatchPrecache(ctx, file)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	req, err := f.request(file)
	if err != nil {
		return nil, err
	}
	cache, err := f.deps.Storage.Open(ctx, f.cacheName)
	if err != nil {
		return nil, err
	}
	resp, err := cache.Match(ctx, req, store.MatchOptions{})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		f.deps.Logger.Warn("offline fallback not cached", zap.String("file", file))
		return fetch.ErrorResponse(), nil
	}
	return resp, nil
}

func (f *Fallbacks) request(file string) (*fetch.Request, error) {
	u, err := url.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse fallback url %q: %w", file, err)
	}
	if f.deps.Router != nil && f.deps.Router.Origin() != nil {
		u = f.deps.Router.Origin().ResolveReference(u)
	}
	return fetch.NewRequestURL(u), nil
}

package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/observability"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/precache"
	"github.com/yshengliao/swcache/router"
	"github.com/yshengliao/swcache/strategy"
)

// Strategy names accepted in configuration
const (
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
	StrategyNetworkFirst         = "network-first"
)

// setupPrecache builds the first precache version from the manifest and
// registers a route and lifecycle listeners that always delegate to the
// current version, so a reload keeps the route's position in the router.
func (w *Worker) setupPrecache() error {
	var entries []precache.Entry
	if path := w.cfg.Precache.Manifest; path != "" {
		var err error
		if entries, err = precache.LoadManifest(path); err != nil {
			return err
		}
	}
	c, err := w.newController(entries)
	if err != nil {
		return err
	}
	w.swap(c)

	match := func(mc router.MatchContext) (any, bool) {
		return w.current.Load().route.Match(mc)
	}
	handle := router.HandlerFunc(func(ctx context.Context, opts router.HandlerOptions) (*fetch.Response, error) {
		return w.current.Load().route.Handler.Handle(ctx, opts)
	})
	w.router.Register(router.NewRoute(match, handle))

	w.dispatcher.AddEventListener(lifecycle.EventInstall, func(ctx context.Context, e *lifecycle.Event) error {
		res, err := w.Precache().Install(ctx, e)
		if err != nil {
			return err
		}
		w.resultsMu.Lock()
		w.lastInstall = res
		w.resultsMu.Unlock()
		return nil
	})
	w.dispatcher.AddEventListener(lifecycle.EventActivate, func(ctx context.Context, e *lifecycle.Event) error {
		res, err := w.Precache().Activate(ctx, e)
		if err != nil {
			return err
		}
		w.resultsMu.Lock()
		w.lastActivate = res
		w.resultsMu.Unlock()
		return nil
	})
	if w.cfg.Precache.CleanupOutdated {
		// Every version shares the precache cache name.
		precache.CleanupOutdatedCaches(w.dispatcher, c, w.cfg.Worker.Scope)
	}
	return nil
}

// newController builds a precache version holding entries.
func (w *Worker) newController(entries []precache.Entry) (*precache.Controller, error) {
	c := precache.NewController(w.deps(), precache.ControllerOptions{
		Plugins:                  []*strategy.Plugin{observability.Plugin(w.metrics)},
		DisableFallbackToNetwork: !w.cfg.Precache.FallbackToNetwork,
		Origin:                   w.origin,
	})
	if err := c.AddToCacheList(entries); err != nil {
		return nil, err
	}
	return c, nil
}

func (w *Worker) swap(c *precache.Controller) {
	w.current.Store(&precacheVersion{controller: c, route: precache.NewRoute(c, w.routeOpts)})
}

// setupRoutes registers the configured runtime routes and the default
// handler.
func (w *Worker) setupRoutes() error {
	for i, rc := range w.cfg.Routes {
		handler, cacheName := w.newStrategy(rc.Strategy, rc.CacheName, rc.NetworkTimeout, rc.Statuses)
		w.addRuntimeCache(cacheName)

		var method []string
		if rc.Method != "" {
			method = []string{strings.ToUpper(rc.Method)}
		}
		capture, err := captureFor(rc)
		if err == nil {
			_, err = w.router.RegisterRoute(capture, handler, method...)
		}
		if err != nil {
			return fmt.Errorf("route %d (%s): %w", i, rc.Name, err)
		}
	}

	if name := w.cfg.Worker.DefaultStrategy; name != "" {
		handler, cacheName := w.newStrategy(name, "", 0, nil)
		w.addRuntimeCache(cacheName)
		w.router.SetDefaultHandler(handler)
	}
	return nil
}

type runtimeStrategy interface {
	router.Handler
	CacheName() string
}

func (w *Worker) newStrategy(name, cacheName string, timeout time.Duration, statuses []int) (router.Handler, string) {
	plugins := []*strategy.Plugin{observability.Plugin(w.metrics)}
	if len(statuses) > 0 {
		plugins = append(plugins, strategy.CacheableResponse(statuses, nil))
	}
	opts := strategy.Options{CacheName: cacheName, Plugins: plugins}

	var s runtimeStrategy
	switch name {
	case StrategyNetworkFirst:
		s = strategy.NewNetworkFirst(w.deps(), strategy.NetworkFirstOptions{Options: opts, NetworkTimeout: timeout})
	default:
		s = strategy.NewStaleWhileRevalidate(w.deps(), opts)
	}
	return s, s.CacheName()
}

func (w *Worker) addRuntimeCache(name string) {
	for _, n := range w.runtimeCaches {
		if n == name {
			return
		}
	}
	w.runtimeCaches = append(w.runtimeCaches, name)
}

// captureFor turns one configured matcher into a router capture.
//
//	host    the request host equals Pattern
//	regexp  Pattern matches the full URL (see router.NewRegExpRoute)
//	exact   the URL, resolved against the origin, equals Pattern
//	prefix  the same-origin path starts with Pattern, or the full URL does
//	        when Pattern is absolute
func captureFor(rc config.RouteConfig) (any, error) {
	switch rc.Match {
	case "host":
		host := rc.Pattern
		return router.MatchFunc(func(mc router.MatchContext) (any, bool) {
			return nil, strings.EqualFold(mc.URL.Host, host)
		}), nil
	case "regexp":
		return regexp.Compile(rc.Pattern)
	case "exact":
		return rc.Pattern, nil
	case "prefix":
		prefix := rc.Pattern
		absolute := !strings.HasPrefix(prefix, "/")
		return router.MatchFunc(func(mc router.MatchContext) (any, bool) {
			if absolute {
				return nil, strings.HasPrefix(mc.URL.String(), prefix)
			}
			return nil, mc.SameOrigin && strings.HasPrefix(mc.URL.Path, prefix)
		}), nil
	default:
		return nil, fmt.Errorf("unknown route match %q", rc.Match)
	}
}

package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

// Router holds the registered routes per method, a default handler per
// method and an optional global catch handler.
type Router struct {
	origin *url.URL
	logger *zap.Logger

	mu              sync.RWMutex
	routes          map[string][]*Route
	defaultHandlers map[string]Handler
	catchHandler    Handler
}

// New creates a router for the given origin. Relative captures and
// same-origin checks are resolved against it.
func New(origin *url.URL, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		origin:          origin,
		logger:          logger,
		routes:          make(map[string][]*Route),
		defaultHandlers: make(map[string]Handler),
	}
}

// Origin returns the router's origin.
func (r *Router) Origin() *url.URL { return r.origin }

// Routes returns a snapshot of the routes registered for method.
func (r *Router) Routes(method string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Route(nil), r.routes[method]...)
}

// RegisterRoute builds a route from capture and registers it. capture may
// be an exact URL string (resolved against the origin), a
// *regexp.Regexp, a MatchFunc or a ready *Route, in which case handler
// and method are ignored.
func (r *Router) RegisterRoute(capture any, handler Handler, method ...string) (*Route, error) {
	var route *Route
	switch c := capture.(type) {
	case string:
		u, err := r.resolve(c)
		if err != nil {
			return nil, err
		}
		route = NewExactRoute(u, handler, method...)
	case *regexp.Regexp:
		route = NewRegExpRoute(c, handler, method...)
	case MatchFunc:
		route = NewRoute(c, handler, method...)
	case func(MatchContext) (any, bool):
		route = NewRoute(c, handler, method...)
	case *Route:
		route = c
	default:
		return nil, swerrors.New(swerrors.CodeUnsupportedRouteType, map[string]any{
			"type": fmt.Sprintf("%T", capture),
		})
	}
	r.Register(route)
	return route, nil
}

// Register appends route to its method bucket.
func (r *Router) Register(route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.Method] = append(r.routes[route.Method], route)
	r.logger.Debug("route registered", zap.String("method", route.Method), zap.Int("position", len(r.routes[route.Method])))
}

// UnregisterRoute removes route. It fails with a route-not-found error
// when the method has no routes or the route is not registered.
func (r *Router) UnregisterRoute(route *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.routes[route.Method]
	if !ok {
		return swerrors.New(swerrors.CodeRouteMethodNotFound, map[string]any{"method": route.Method})
	}
	for i, candidate := range list {
		if candidate == route {
			r.routes[route.Method] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return swerrors.New(swerrors.CodeRouteNotRegistered, nil)
}

// SetDefaultHandler sets the handler for requests no route matches. The
// method defaults to GET.
func (r *Router) SetDefaultHandler(h Handler, method ...string) {
	m := http.MethodGet
	if len(method) > 0 && method[0] != "" {
		m = method[0]
	}
	r.mu.Lock()
	r.defaultHandlers[m] = h
	r.mu.Unlock()
}

// SetCatchHandler sets the handler used when a routed handler fails and
// the route has no catch handler of its own (or that one failed too).
func (r *Router) SetCatchHandler(h Handler) {
	r.mu.Lock()
	r.catchHandler = h
	r.mu.Unlock()
}

// FindMatchingRoute returns the first route for the request's method
// whose matcher accepts it, in registration order.
func (r *Router) FindMatchingRoute(mc MatchContext) (*Route, any) {
	for _, route := range r.Routes(mc.Request.Method) {
		params, ok := route.Match(mc)
		if !ok {
			continue
		}
		return route, normalizeParams(params)
	}
	return nil, nil
}

// HandleRequest routes req. handled is false when the router declines the
// request: non-http(s) URLs, or no route and no default handler for the
// method.
func (r *Router) HandleRequest(ctx context.Context, req *fetch.Request, ev *lifecycle.Event) (resp *fetch.Response, handled bool, err error) {
	u := req.URL
	if u == nil {
		return nil, false, nil
	}
	if !u.IsAbs() && r.origin != nil {
		u = r.origin.ResolveReference(u)
	}
	if !strings.HasPrefix(u.Scheme, "http") {
		return nil, false, nil
	}
	sameOrigin := r.origin != nil && fetch.Origin(u) == fetch.Origin(r.origin)

	route, params := r.FindMatchingRoute(MatchContext{URL: u, SameOrigin: sameOrigin, Request: req, Event: ev})
	var handler Handler
	if route != nil {
		handler = route.Handler
	}
	if handler == nil {
		r.mu.RLock()
		handler = r.defaultHandlers[req.Method]
		r.mu.RUnlock()
	}
	if handler == nil {
		r.logger.Debug("no route for request", zap.String("method", req.Method), zap.String("url", u.String()))
		return nil, false, nil
	}

	opts := HandlerOptions{Request: req, Event: ev, URL: u, Params: params}
	resp, err = safeHandle(ctx, handler, opts)
	if err == nil {
		return resp, true, nil
	}

	if route != nil {
		if catch := route.CatchHandler(); catch != nil {
			cresp, cerr := safeHandle(ctx, catch, opts)
			if cerr == nil {
				return cresp, true, nil
			}
			err = cerr
		}
	}
	r.mu.RLock()
	global := r.catchHandler
	r.mu.RUnlock()
	if global != nil {
		resp, err = safeHandle(ctx, global, HandlerOptions{Request: req, Event: ev, URL: u})
		return resp, true, err
	}
	return nil, true, err
}

// safeHandle turns a handler panic into an error.
func safeHandle(ctx context.Context, h Handler, opts HandlerOptions) (resp *fetch.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			if e, ok := rec.(error); ok {
				err = fmt.Errorf("route handler panic: %w", e)
				return
			}
			err = fmt.Errorf("route handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, opts)
}

func (r *Router) resolve(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse route url %q: %w", raw, err)
	}
	if r.origin != nil {
		u = r.origin.ResolveReference(u)
	}
	return u, nil
}

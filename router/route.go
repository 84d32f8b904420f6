// Package router maps inbound requests to the strategies that answer them.
package router

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"sync"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/strategy"
)

// HandlerOptions are passed to a Handler for one request.
type HandlerOptions = strategy.HandleOptions

// Handler answers a routed request. Strategies implement it.
type Handler interface {
	Handle(ctx context.Context, opts HandlerOptions) (*fetch.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, opts HandlerOptions) (*fetch.Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, opts HandlerOptions) (*fetch.Response, error) {
	return f(ctx, opts)
}

// MatchContext is what a matcher sees.
type MatchContext struct {
	URL        *url.URL
	SameOrigin bool
	Request    *fetch.Request
	Event      *lifecycle.Event
}

// MatchFunc decides whether a route applies. The returned params are
// handed to the handler; ok false means no match.
type MatchFunc func(mc MatchContext) (params any, ok bool)

// Route pairs a matcher with the handler for one HTTP method.
type Route struct {
	Match   MatchFunc
	Handler Handler
	Method  string

	mu           sync.RWMutex
	catchHandler Handler
}

// NewRoute creates a route. The method defaults to GET.
func NewRoute(match MatchFunc, handler Handler, method ...string) *Route {
	m := http.MethodGet
	if len(method) > 0 && method[0] != "" {
		m = method[0]
	}
	return &Route{Match: match, Handler: handler, Method: m}
}

// SetCatchHandler sets the handler used when this route's handler fails.
func (r *Route) SetCatchHandler(h Handler) {
	r.mu.Lock()
	r.catchHandler = h
	r.mu.Unlock()
}

// CatchHandler returns the route's catch handler, if any.
func (r *Route) CatchHandler() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catchHandler
}

// NewRegExpRoute matches request URLs against re. Capture groups become
// the []string params. For cross-origin requests the match must start at
// the beginning of the URL, so a pattern like `/styles/.*` does not catch
// third-party URLs by accident.
func NewRegExpRoute(re *regexp.Regexp, handler Handler, method ...string) *Route {
	match := func(mc MatchContext) (any, bool) {
		href := hrefOf(mc.URL)
		loc := re.FindStringSubmatchIndex(href)
		if loc == nil {
			return nil, false
		}
		if !mc.SameOrigin && loc[0] != 0 {
			return nil, false
		}
		var params []string
		for i := 2; i+1 < len(loc); i += 2 {
			if loc[i] < 0 {
				params = append(params, "")
				continue
			}
			params = append(params, href[loc[i]:loc[i+1]])
		}
		return params, true
	}
	return NewRoute(match, handler, method...)
}

// NewExactRoute matches one absolute URL.
func NewExactRoute(u *url.URL, handler Handler, method ...string) *Route {
	want := hrefOf(u)
	return NewRoute(func(mc MatchContext) (any, bool) {
		return nil, hrefOf(mc.URL) == want
	}, handler, method...)
}

func hrefOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// normalizeParams drops params that carry no information.
func normalizeParams(params any) any {
	if params == nil {
		return nil
	}
	if _, ok := params.(bool); ok {
		return nil
	}
	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		if v.Len() == 0 {
			return nil
		}
	}
	return params
}

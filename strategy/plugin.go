package strategy

import (
	"context"
	"sync"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
)

// Hook names one plugin callback.
type Hook int

const (
	HookCacheWillUpdate Hook = iota
	HookCacheDidUpdate
	HookCacheKeyWillBeUsed
	HookCachedResponseWillBeUsed
	HookRequestWillFetch
	HookFetchDidSucceed
	HookFetchDidFail
	HookHandlerWillStart
	HookHandlerDidError
	HookHandlerWillRespond
	HookHandlerDidRespond
	HookHandlerDidComplete
)

var hookNames = [...]string{
	"cacheWillUpdate",
	"cacheDidUpdate",
	"cacheKeyWillBeUsed",
	"cachedResponseWillBeUsed",
	"requestWillFetch",
	"fetchDidSucceed",
	"fetchDidFail",
	"handlerWillStart",
	"handlerDidError",
	"handlerWillRespond",
	"handlerDidRespond",
	"handlerDidComplete",
}

func (h Hook) String() string {
	if int(h) < len(hookNames) {
		return hookNames[h]
	}
	return "unknown"
}

// Cache key modes
const (
	KeyModeRead  = "read"
	KeyModeWrite = "write"
)

// State is the mutable bag a plugin gets for one handler invocation.
type State struct {
	mu sync.Mutex
	m  map[string]any
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores v under key.
func (s *State) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]any)
	}
	s.m[key] = v
}

type CacheWillUpdateParams struct {
	Request  *fetch.Request
	Response *fetch.Response
	Event    *lifecycle.Event
	State    *State
}

type CacheDidUpdateParams struct {
	CacheName   string
	OldResponse *fetch.Response
	NewResponse *fetch.Response
	Request     *fetch.Request
	Event       *lifecycle.Event
	State       *State
}

type CacheKeyWillBeUsedParams struct {
	Mode    string
	Request *fetch.Request
	Params  any
	Event   *lifecycle.Event
	State   *State
}

type CachedResponseWillBeUsedParams struct {
	CacheName      string
	MatchOptions   store.MatchOptions
	Request        *fetch.Request
	CachedResponse *fetch.Response
	Event          *lifecycle.Event
	State          *State
}

type RequestWillFetchParams struct {
	Request *fetch.Request
	Event   *lifecycle.Event
	State   *State
}

type FetchDidSucceedParams struct {
	Request  *fetch.Request
	Response *fetch.Response
	Event    *lifecycle.Event
	State    *State
}

type FetchDidFailParams struct {
	OriginalRequest *fetch.Request
	Request         *fetch.Request
	Error           error
	Event           *lifecycle.Event
	State           *State
}

// HandlerParams are passed to the handler lifecycle hooks. Response and
// Error are set where the hook has them.
type HandlerParams struct {
	Request  *fetch.Request
	Response *fetch.Response
	Error    error
	Event    *lifecycle.Event
	State    *State
}

// Plugin is a set of optional callbacks. Only non-nil fields take part in
// a request.
//
// Pipeline hooks (CacheKeyWillBeUsed, CachedResponseWillBeUsed,
// RequestWillFetch, FetchDidSucceed, HandlerWillRespond) receive the
// previous plugin's output. CacheWillUpdate is a veto chain: a nil
// response stops the chain and prevents the write.
type Plugin struct {
	CacheWillUpdate          func(ctx context.Context, p CacheWillUpdateParams) (*fetch.Response, error)
	CacheDidUpdate           func(ctx context.Context, p CacheDidUpdateParams) error
	CacheKeyWillBeUsed       func(ctx context.Context, p CacheKeyWillBeUsedParams) (*fetch.Request, error)
	CachedResponseWillBeUsed func(ctx context.Context, p CachedResponseWillBeUsedParams) (*fetch.Response, error)
	RequestWillFetch         func(ctx context.Context, p RequestWillFetchParams) (*fetch.Request, error)
	FetchDidSucceed          func(ctx context.Context, p FetchDidSucceedParams) (*fetch.Response, error)
	FetchDidFail             func(ctx context.Context, p FetchDidFailParams) error
	HandlerWillStart         func(ctx context.Context, p HandlerParams) error
	HandlerDidError          func(ctx context.Context, p HandlerParams) (*fetch.Response, error)
	HandlerWillRespond       func(ctx context.Context, p HandlerParams) (*fetch.Response, error)
	HandlerDidRespond        func(ctx context.Context, p HandlerParams) error
	HandlerDidComplete       func(ctx context.Context, p HandlerParams) error

	// IgnoresOldResponse marks a CacheDidUpdate hook that never reads
	// OldResponse. When every CacheDidUpdate hook sets it, CachePut skips
	// looking up the entry being replaced and OldResponse is nil.
	IgnoresOldResponse bool
}

// Has reports whether the plugin implements h.
func (p *Plugin) Has(h Hook) bool {
	if p == nil {
		return false
	}
	switch h {
	case HookCacheWillUpdate:
		return p.CacheWillUpdate != nil
	case HookCacheDidUpdate:
		return p.CacheDidUpdate != nil
	case HookCacheKeyWillBeUsed:
		return p.CacheKeyWillBeUsed != nil
	case HookCachedResponseWillBeUsed:
		return p.CachedResponseWillBeUsed != nil
	case HookRequestWillFetch:
		return p.RequestWillFetch != nil
	case HookFetchDidSucceed:
		return p.FetchDidSucceed != nil
	case HookFetchDidFail:
		return p.FetchDidFail != nil
	case HookHandlerWillStart:
		return p.HandlerWillStart != nil
	case HookHandlerDidError:
		return p.HandlerDidError != nil
	case HookHandlerWillRespond:
		return p.HandlerWillRespond != nil
	case HookHandlerDidRespond:
		return p.HandlerDidRespond != nil
	case HookHandlerDidComplete:
		return p.HandlerDidComplete != nil
	}
	return false
}

// CacheableResponse returns a CacheWillUpdate plugin that accepts
// responses whose status is in statuses and whose headers carry every
// name/value pair in headers.
func CacheableResponse(statuses []int, headers map[string]string) *Plugin {
	return &Plugin{
		CacheWillUpdate: func(_ context.Context, p CacheWillUpdateParams) (*fetch.Response, error) {
			if p.Response == nil {
				return nil, nil
			}
			if len(statuses) > 0 {
				ok := false
				for _, s := range statuses {
					if p.Response.Status == s {
						ok = true
						break
					}
				}
				if !ok {
					return nil, nil
				}
			}
			for k, v := range headers {
				if p.Response.Header.Get(k) != v {
					return nil, nil
				}
			}
			return p.Response, nil
		},
	}
}

// cacheOKAndOpaque accepts status 200 and opaque (status 0) responses.
var cacheOKAndOpaque = CacheableResponse([]int{0, 200}, nil)

func hasHook(plugins []*Plugin, h Hook) bool {
	for _, p := range plugins {
		if p.Has(h) {
			return true
		}
	}
	return false
}

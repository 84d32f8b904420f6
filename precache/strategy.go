package precache

import (
	"context"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/pkg/cachenames"
	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/strategy"
)

// Params are the route params of a precached request.
type Params struct {
	CacheKey  string
	Integrity string
}

func paramsOf(v any) Params {
	switch p := v.(type) {
	case Params:
		return p
	case *Params:
		if p != nil {
			return *p
		}
	}
	return Params{}
}

// StrategyOptions configure a Strategy.
type StrategyOptions struct {
	strategy.Options
	// DisableFallbackToNetwork makes a cache miss outside of install fail
	// with a missing-precache-entry error instead of going to the network.
	DisableFallbackToNetwork bool
	// Origin is the origin redirected responses must belong to.
	Origin string
}

// Strategy serves precached responses. During install it populates the
// cache; afterwards it answers from the cache and, unless disabled, falls
// back to the network.
type Strategy struct {
	*strategy.Base

	fallbackToNetwork bool
	copyRedirected    *strategy.Plugin
}

// defaultCacheability accepts anything below 400.
var defaultCacheability = &strategy.Plugin{
	CacheWillUpdate: func(_ context.Context, p strategy.CacheWillUpdateParams) (*fetch.Response, error) {
		if p.Response == nil || p.Response.Status >= 400 {
			return nil, nil
		}
		return p.Response, nil
	},
}

// NewStrategy creates a precache strategy. The cache name defaults to the
// precache name.
func NewStrategy(deps strategy.Deps, opts StrategyOptions) *Strategy {
	if opts.CacheName == "" {
		names := deps.Names
		if names == nil {
			names = cachenames.New("")
		}
		opts.CacheName = names.Precache()
	}
	s := &Strategy{fallbackToNetwork: !opts.DisableFallbackToNetwork}
	origin := opts.Origin
	s.copyRedirected = &strategy.Plugin{
		CacheWillUpdate: func(_ context.Context, p strategy.CacheWillUpdateParams) (*fetch.Response, error) {
			if p.Response == nil || !p.Response.Redirected {
				return p.Response, nil
			}
			return fetch.CopyResponse(p.Response, origin, nil)
		},
	}
	s.Base = strategy.NewBase(deps, opts.Options, s.respond)
	s.SetPlugins(append(opts.Plugins, s.copyRedirected))
	return s
}

// SetPlugins replaces the plugin list. The redirect copier stays and the
// default cacheability rule is added or removed as needed.
func (s *Strategy) SetPlugins(plugins []*strategy.Plugin) {
	s.Base.SetPlugins(s.manageDefaultCacheability(plugins))
}

// AddPlugin appends p and re-evaluates the default cacheability rule.
func (s *Strategy) AddPlugin(p *strategy.Plugin) {
	s.SetPlugins(append(s.Plugins(), p))
}

// manageDefaultCacheability adds the status < 400 rule when no other
// CacheWillUpdate plugin exists besides the redirect copier, and drops it
// once another one is present.
func (s *Strategy) manageDefaultCacheability(plugins []*strategy.Plugin) []*strategy.Plugin {
	out := make([]*strategy.Plugin, 0, len(plugins)+2)
	hasCopier := false
	defaultIdx := -1
	updaters := 0
	for _, p := range plugins {
		if p == s.copyRedirected {
			if hasCopier {
				continue
			}
			hasCopier = true
			out = append(out, p)
			continue
		}
		if p == defaultCacheability {
			if defaultIdx >= 0 {
				continue
			}
			defaultIdx = len(out)
		}
		if p.Has(strategy.HookCacheWillUpdate) {
			updaters++
		}
		out = append(out, p)
	}
	if !hasCopier {
		out = append(out, s.copyRedirected)
	}
	switch {
	case updaters == 0:
		out = append(out, defaultCacheability)
	case updaters > 1 && defaultIdx >= 0:
		out = append(out[:defaultIdx], out[defaultIdx+1:]...)
	}
	return out
}

// FallbackToNetwork reports whether cache misses go to the network.
func (s *Strategy) FallbackToNetwork() bool { return s.fallbackToNetwork }

func (s *Strategy) respond(ctx context.Context, h *strategy.Handler, req *fetch.Request) (*fetch.Response, error) {
	resp, err := h.CacheMatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	if h.Event != nil && h.Event.Type == lifecycle.EventInstall {
		return s.handleInstall(ctx, h, req)
	}
	return s.handleFetch(ctx, h, req)
}

func (s *Strategy) handleFetch(ctx context.Context, h *strategy.Handler, req *fetch.Request) (*fetch.Response, error) {
	if !s.fallbackToNetwork {
		return nil, swerrors.New(swerrors.CodeMissingPrecacheEntry, map[string]any{
			"cacheName": s.CacheName(),
			"url":       req.Href(),
		})
	}

	manifestIntegrity := paramsOf(h.Params).Integrity
	requestIntegrity := req.Integrity
	noConflict := requestIntegrity == "" || requestIntegrity == manifestIntegrity
	opaque := req.Mode == fetch.ModeNoCORS

	fetchReq := req.Clone()
	switch {
	case opaque:
		fetchReq.Integrity = ""
	case requestIntegrity == "":
		fetchReq.Integrity = manifestIntegrity
	}

	resp, err := h.Fetch(ctx, fetchReq)
	if err != nil {
		return nil, err
	}

	// With integrity the response is known good, so a missing entry is
	// repaired.
	if manifestIntegrity != "" && noConflict && !opaque {
		cached, err := h.CachePut(ctx, req, resp.Clone())
		if err != nil {
			return nil, err
		}
		s.Logger().Debug("precache entry repaired from network",
			zap.String("url", req.Href()), zap.Bool("cached", cached))
	}
	return resp, nil
}

func (s *Strategy) handleInstall(ctx context.Context, h *strategy.Handler, req *fetch.Request) (*fetch.Response, error) {
	resp, err := h.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	cached, err := h.CachePut(ctx, req, resp.Clone())
	if err != nil {
		return nil, err
	}
	if !cached {
		return nil, swerrors.New(swerrors.CodeBadPrecachingResponse, map[string]any{
			"url":    req.Href(),
			"status": resp.Status,
		})
	}
	return resp, nil
}

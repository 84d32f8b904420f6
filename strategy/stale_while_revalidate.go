package strategy

import (
	"context"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

// StaleWhileRevalidate answers from the cache when it can and always
// refreshes the cache from the network in the background.
type StaleWhileRevalidate struct {
	*Base
}

// NewStaleWhileRevalidate creates the strategy. Unless a CacheWillUpdate
// plugin is supplied, only status 200 and opaque responses are cached.
func NewStaleWhileRevalidate(deps Deps, opts Options) *StaleWhileRevalidate {
	if !hasHook(opts.Plugins, HookCacheWillUpdate) {
		opts.Plugins = append([]*Plugin{cacheOKAndOpaque}, opts.Plugins...)
	}
	s := &StaleWhileRevalidate{}
	s.Base = NewBase(deps, opts, s.respond)
	return s
}

func (s *StaleWhileRevalidate) respond(ctx context.Context, h *Handler, req *fetch.Request) (*fetch.Response, error) {
	// The refresh outlives the request that triggered it.
	network := lifecycle.Async(context.WithoutCancel(ctx), func(ctx context.Context) (*fetch.Response, error) {
		return h.FetchAndCachePut(ctx, req)
	})
	h.WaitUntil(lifecycle.Settled(network))

	resp, err := h.CacheMatch(ctx, req)
	if err != nil {
		h.logger.Warn("cache lookup failed", zap.String("url", req.Href()), zap.Error(err))
	}
	if resp != nil {
		h.logger.Debug("serving cached response, revalidating in background",
			zap.String("cache", s.CacheName()), zap.String("url", req.Href()))
		return resp, nil
	}

	resp, netErr := network.Await(ctx)
	if resp == nil {
		details := map[string]any{"url": req.Href()}
		if netErr != nil {
			details["error"] = netErr
		}
		return nil, swerrors.New(swerrors.CodeNoResponse, details)
	}
	h.logger.Debug("serving network response", zap.String("url", req.Href()))
	return resp, nil
}

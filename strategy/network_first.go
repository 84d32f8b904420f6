package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

// NetworkFirst prefers the network and falls back to the cache.
type NetworkFirst struct {
	*Base
	networkTimeout time.Duration
}

// NetworkFirstOptions add the network timeout to Options.
type NetworkFirstOptions struct {
	Options
	// NetworkTimeout, when positive, answers from the cache if the network
	// has not responded in time. The network request keeps running and a
	// cache miss still waits for it.
	NetworkTimeout time.Duration
}

// NewNetworkFirst creates the strategy. Unless a CacheWillUpdate plugin is
// supplied, only status 200 and opaque responses are cached.
func NewNetworkFirst(deps Deps, opts NetworkFirstOptions) *NetworkFirst {
	if !hasHook(opts.Plugins, HookCacheWillUpdate) {
		opts.Plugins = append([]*Plugin{cacheOKAndOpaque}, opts.Plugins...)
	}
	s := &NetworkFirst{networkTimeout: opts.NetworkTimeout}
	s.Base = NewBase(deps, opts.Options, s.respond)
	return s
}

func (s *NetworkFirst) respond(ctx context.Context, h *Handler, req *fetch.Request) (*fetch.Response, error) {
	bg := context.WithoutCancel(ctx)

	var timer *time.Timer
	var fromCache *lifecycle.Future[*fetch.Response]
	if s.networkTimeout > 0 {
		fromCache = lifecycle.NewFuture[*fetch.Response]()
		timer = time.AfterFunc(s.networkTimeout, func() {
			h.logger.Debug("network timed out, trying cache", zap.String("url", req.Href()),
				zap.Duration("timeout", s.networkTimeout))
			fromCache.Resolve(h.CacheMatch(bg, req))
		})
	}

	network := lifecycle.Async(bg, func(ctx context.Context) (*fetch.Response, error) {
		resp, err := h.FetchAndCachePut(ctx, req)
		if timer != nil {
			timer.Stop()
		}
		if err != nil || resp == nil {
			h.logger.Debug("network failed, falling back to cache", zap.String("url", req.Href()), zap.Error(err))
			return h.CacheMatch(ctx, req)
		}
		return resp, nil
	})
	h.WaitUntil(network)

	var resp *fetch.Response
	var err error
	if fromCache != nil {
		select {
		case <-network.Done():
			resp, err = network.Await(ctx)
		case <-fromCache.Done():
			resp, err = fromCache.Await(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
	}
	if resp == nil {
		if resp, err = network.Await(ctx); err != nil {
			return nil, err
		}
	}
	if resp == nil {
		return nil, swerrors.New(swerrors.CodeNoResponse, map[string]any{"url": req.Href()})
	}
	return resp, nil
}

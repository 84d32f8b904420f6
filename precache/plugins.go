package precache

import (
	"context"
	"net/http"
	"sync"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/strategy"
)

// cacheKeyPlugin rewrites requests to their revisioned cache keys.
func cacheKeyPlugin(c *Controller) *strategy.Plugin {
	return &strategy.Plugin{
		CacheKeyWillBeUsed: func(_ context.Context, p strategy.CacheKeyWillBeUsedParams) (*fetch.Request, error) {
			key := paramsOf(p.Params).CacheKey
			if key == "" {
				key = c.GetCacheKeyForURL(p.Request.Href())
			}
			if key == "" {
				return p.Request, nil
			}
			req, err := fetch.NewRequest(key)
			if err != nil {
				return nil, err
			}
			req.Header = p.Request.Header.Clone()
			if req.Header == nil {
				req.Header = make(http.Header)
			}
			return req, nil
		},
	}
}

const originalRequestKey = "originalRequest"

// installReporter records which URLs an install actually downloaded.
type installReporter struct {
	mu         sync.Mutex
	updated    []string
	notUpdated []string
	plugin     *strategy.Plugin
}

func newInstallReporter() *installReporter {
	r := &installReporter{}
	r.plugin = &strategy.Plugin{
		HandlerWillStart: func(_ context.Context, p strategy.HandlerParams) error {
			if p.State != nil {
				p.State.Set(originalRequestKey, p.Request)
			}
			return nil
		},
		CachedResponseWillBeUsed: func(_ context.Context, p strategy.CachedResponseWillBeUsedParams) (*fetch.Response, error) {
			if p.Event == nil || p.Event.Type != lifecycle.EventInstall || p.State == nil {
				return p.CachedResponse, nil
			}
			v, ok := p.State.Get(originalRequestKey)
			if !ok {
				return p.CachedResponse, nil
			}
			req, ok := v.(*fetch.Request)
			if !ok {
				return p.CachedResponse, nil
			}
			r.mu.Lock()
			if p.CachedResponse != nil {
				r.notUpdated = append(r.notUpdated, req.Href())
			} else {
				r.updated = append(r.updated, req.Href())
			}
			r.mu.Unlock()
			return p.CachedResponse, nil
		},
	}
	return r
}

func (r *installReporter) result() *InstallResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &InstallResult{
		UpdatedURLs:    append([]string{}, r.updated...),
		NotUpdatedURLs: append([]string{}, r.notUpdated...),
	}
}

package observability

import (
	"context"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/strategy"
)

// Plugin returns a strategy plugin that feeds cache and network activity
// into c. It never changes requests or responses.
func Plugin(c *Collector) *strategy.Plugin {
	return &strategy.Plugin{
		CachedResponseWillBeUsed: func(_ context.Context, p strategy.CachedResponseWillBeUsedParams) (*fetch.Response, error) {
			c.RecordCacheLookup(p.CachedResponse != nil)
			return p.CachedResponse, nil
		},
		CacheDidUpdate: func(context.Context, strategy.CacheDidUpdateParams) error {
			c.RecordCacheWrite()
			return nil
		},
		IgnoresOldResponse: true,
		FetchDidSucceed: func(_ context.Context, p strategy.FetchDidSucceedParams) (*fetch.Response, error) {
			c.RecordNetwork(true)
			return p.Response, nil
		},
		FetchDidFail: func(context.Context, strategy.FetchDidFailParams) error {
			c.RecordNetwork(false)
			return nil
		},
	}
}

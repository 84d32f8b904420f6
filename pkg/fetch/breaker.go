package fetch

import (
	"context"
	"fmt"

	"github.com/yshengliao/swcache/pkg/circuitbreaker"
)

// WithCircuitBreaker guards f with one breaker per origin. A request to an
// origin whose breaker is open fails at once. Only transport errors count
// as failures; HTTP error statuses are still responses.
func WithCircuitBreaker(f Fetcher, breakers *circuitbreaker.Set) Fetcher {
	return FetcherFunc(func(ctx context.Context, req *Request, opts *Options) (*Response, error) {
		done, err := breakers.Get(req.Origin()).Allow()
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Href(), err)
		}
		resp, err := f.Fetch(ctx, req, opts)
		// A caller giving up says nothing about the origin.
		switch {
		case err == nil:
			done(circuitbreaker.Success)
		case ctx.Err() != nil:
			done(circuitbreaker.Ignored)
		default:
			done(circuitbreaker.Failure)
		}
		return resp, err
	})
}

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yshengliao/swcache/pkg/httpclient"
)

// Options are the per-strategy fetch options applied to non-navigation
// requests.
type Options struct {
	// Header values are added to the outbound request.
	Header http.Header
	// Timeout bounds a single network request when positive.
	Timeout time.Duration
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request, opts *Options) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request, opts *Options) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	return f(ctx, req, opts)
}

// HTTPFetcher fetches over HTTP with a pooled client.
type HTTPFetcher struct {
	client           *httpclient.Client
	maxResponseBytes int64
}

// NewHTTPFetcher creates a fetcher. maxResponseBytes <= 0 disables the
// body size limit.
func NewHTTPFetcher(client *httpclient.Client, maxResponseBytes int64) *HTTPFetcher {
	if client == nil {
		client = httpclient.NewDefault()
	}
	return &HTTPFetcher{client: client, maxResponseBytes: maxResponseBytes}
}

// Client returns the underlying HTTP client.
func (f *HTTPFetcher) Client() *httpclient.Client {
	return f.client
}

// Fetch sends req to the network. Transport failures and integrity
// mismatches are returned as errors; HTTP error statuses are not.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	httpReq, err := req.ToHTTP()
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.Href(), err)
	}
	if opts != nil {
		for k, vs := range opts.Header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
	}

	httpResp, err := f.client.DoWithContext(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Href(), err)
	}
	resp, err := FromHTTPResponse(httpResp, f.maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Href(), err)
	}
	if resp.URL != "" && resp.URL != req.Href() {
		resp.Redirected = true
	}
	if resp.URL == "" {
		resp.URL = req.Href()
	}

	if req.Integrity != "" && req.Mode != ModeNoCORS {
		if err := VerifyIntegrity(req.Integrity, resp.Body); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Href(), err)
		}
	}
	return resp, nil
}

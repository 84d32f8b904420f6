// Package store implements named cache storage: an ordered set of
// request/response pairs per cache name.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yshengliao/swcache/pkg/fetch"
)

// ErrQuotaExceeded is returned by Put when the write would exceed the
// storage quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrUnsupportedRequest is returned when putting a request the cache cannot
// key, such as a non-GET request.
var ErrUnsupportedRequest = errors.New("request is not cacheable")

// ErrPartialResponse is returned when putting a 206 response.
var ErrPartialResponse = errors.New("partial response is not cacheable")

// MatchOptions control how cached requests are compared.
type MatchOptions struct {
	IgnoreSearch bool
	IgnoreMethod bool
	IgnoreVary   bool
	// CacheName restricts Storage.Match to a single cache.
	CacheName string
}

// Cache is a single named cache.
type Cache interface {
	// Match returns the first stored response for req, or nil.
	Match(ctx context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error)
	// Put stores resp under req, replacing matching entries.
	Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error
	// Delete removes matching entries and reports whether any existed.
	Delete(ctx context.Context, req *fetch.Request, opts MatchOptions) (bool, error)
	// Keys lists stored requests in insertion order.
	Keys(ctx context.Context) ([]*fetch.Request, error)
}

// Storage is the set of named caches.
type Storage interface {
	// Open returns the named cache, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Match searches caches in creation order.
	Match(ctx context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error)
}

// AddAll fetches every request and stores the responses. Nothing is
// stored unless all fetches succeed with an ok status.
func AddAll(ctx context.Context, c Cache, f fetch.Fetcher, reqs []*fetch.Request) error {
	resps := make([]*fetch.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := f.Fetch(gctx, req, nil)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("add %s: unexpected status %d", req.Href(), resp.Status)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, req := range reqs {
		if err := c.Put(ctx, req, resps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validatePut(req *fetch.Request, resp *fetch.Response) error {
	if req == nil || req.URL == nil {
		return ErrUnsupportedRequest
	}
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrUnsupportedRequest, req.Method)
	}
	if resp == nil {
		return errors.New("put requires a response")
	}
	if resp.Status == http.StatusPartialContent {
		return ErrPartialResponse
	}
	return nil
}

// stripSearch removes the query string and fragment from an href.
func stripSearch(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		return href[:i]
	}
	return href
}

// matches reports whether a stored pair answers req.
func matches(storedReq *fetch.Request, storedResp *fetch.Response, req *fetch.Request, opts MatchOptions) bool {
	if !opts.IgnoreMethod && req.Method != http.MethodGet {
		return false
	}
	a, b := storedReq.Href(), req.Href()
	if opts.IgnoreSearch {
		a, b = stripSearch(a), stripSearch(b)
	}
	if a != b {
		return false
	}
	if opts.IgnoreVary || storedResp == nil {
		return true
	}
	for _, v := range storedResp.Header.Values("Vary") {
		for _, field := range strings.Split(v, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if field == "*" {
				return false
			}
			if storedReq.Header.Get(field) != req.Header.Get(field) {
				return false
			}
		}
	}
	return true
}

// storedRequest keeps only what the cache needs from a request.
func storedRequest(req *fetch.Request) *fetch.Request {
	c := req.Clone()
	c.Body = nil
	c.URL.Fragment = ""
	c.URL.RawFragment = ""
	return c
}

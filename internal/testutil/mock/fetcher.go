// Package mock provides test doubles for the network and logging.
package mock

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/yshengliao/swcache/pkg/fetch"
)

// ErrNetwork is returned for URLs configured to fail.
var ErrNetwork = errors.New("mock network error")

// Route is the canned answer for one URL.
type Route struct {
	Status int
	Body   string
	Header http.Header
	// Delay is waited before answering; the wait honours ctx.
	Delay time.Duration
	// Err makes the fetch fail.
	Err error
	// RedirectTo marks the response as redirected to this URL.
	RedirectTo string
}

// Fetcher is a fetch.Fetcher answering from a table of routes. Unknown
// URLs fail with ErrNetwork.
type Fetcher struct {
	mu       sync.Mutex
	routes   map[string]Route
	calls    map[string]int
	requests []*fetch.Request
}

// NewFetcher creates an empty fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{routes: make(map[string]Route), calls: make(map[string]int)}
}

// Set configures the answer for href.
func (f *Fetcher) Set(href string, r Route) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Status == 0 && r.Err == nil {
		r.Status = http.StatusOK
	}
	f.routes[href] = r
	return f
}

// OK configures a 200 answer with body.
func (f *Fetcher) OK(href, body string) *Fetcher {
	return f.Set(href, Route{Status: http.StatusOK, Body: body})
}

// Fail configures href to fail with ErrNetwork.
func (f *Fetcher) Fail(href string) *Fetcher {
	return f.Set(href, Route{Err: ErrNetwork})
}

// Calls returns how many times href was fetched.
func (f *Fetcher) Calls(href string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[href]
}

// TotalCalls returns the number of fetches.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns the fetched requests in order.
func (f *Fetcher) Requests() []*fetch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fetch.Request(nil), f.requests...)
}

// Fetch implements fetch.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req *fetch.Request, _ *fetch.Options) (*fetch.Response, error) {
	href := req.Href()
	f.mu.Lock()
	f.calls[href]++
	f.requests = append(f.requests, req.Clone())
	r, ok := f.routes[href]
	f.mu.Unlock()

	if !ok {
		return nil, ErrNetwork
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	resp := fetch.NewResponse(r.Status, []byte(r.Body))
	for k, vs := range r.Header {
		resp.Header[k] = append([]string(nil), vs...)
	}
	resp.URL = href
	if r.RedirectTo != "" {
		resp.URL = r.RedirectTo
		resp.Redirected = true
	}
	return resp, nil
}

// Package fetch defines the request and response values that flow through
// the caching runtime, and the Fetcher that talks to the network.
//
// Bodies are buffered. A cached response has to be read more than once
// (served, stored, compared by cacheDidUpdate plugins), so Response holds
// its body as bytes and Clone is cheap.
package fetch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request modes
const (
	ModeNavigate   = "navigate"
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
	ModeSameOrigin = "same-origin"
)

// Credentials modes
const (
	CredentialsOmit       = "omit"
	CredentialsSameOrigin = "same-origin"
	CredentialsInclude    = "include"
)

// Cache modes
const (
	CacheDefault = "default"
	CacheReload  = "reload"
	CacheNoCache = "no-cache"
)

// Request is an immutable-by-convention description of a fetch.
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	Mode        string
	Credentials string
	Cache       string
	Integrity   string
	Destination string
}

// NewRequest parses rawURL and returns a GET request with the defaults a
// platform fetch would use.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url %q: %w", rawURL, err)
	}
	return NewRequestURL(u), nil
}

// NewRequestURL is NewRequest for an already parsed URL.
func NewRequestURL(u *url.URL) *Request {
	return &Request{
		Method:      http.MethodGet,
		URL:         u,
		Header:      make(http.Header),
		Mode:        ModeCORS,
		Credentials: CredentialsSameOrigin,
		Cache:       CacheDefault,
	}
}

// MustRequest is NewRequest for static URLs; it panics on parse errors.
func MustRequest(rawURL string) *Request {
	r, err := NewRequest(rawURL)
	if err != nil {
		panic(err)
	}
	return r
}

// FromHTTP converts an inbound server request into a runtime request.
// Relative request URIs are resolved against origin. Mode and destination
// come from the Fetch Metadata headers browsers send.
func FromHTTP(r *http.Request, origin *url.URL) (*Request, error) {
	u := *r.URL
	if !u.IsAbs() && origin != nil {
		u = *origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	}
	req := NewRequestURL(&u)
	req.Method = r.Method
	req.Header = r.Header.Clone()

	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		req.Mode = mode
	}
	req.Destination = r.Header.Get("Sec-Fetch-Dest")
	if req.Destination == "" && req.Mode == ModeNavigate {
		req.Destination = "document"
	}
	if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
		req.Cache = CacheNoCache
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := readAll(r.Body, 0)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// WithURL returns a copy of the request pointing at rawURL. Headers are
// kept; everything else is reset to the request defaults.
func (r *Request) WithURL(rawURL string) (*Request, error) {
	n, err := NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	n.Header = r.Header.Clone()
	if n.Header == nil {
		n.Header = make(http.Header)
	}
	return n, nil
}

// Href is the request URL without its fragment.
func (r *Request) Href() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Origin returns scheme://host of the request URL.
func (r *Request) Origin() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return Origin(r.URL)
}

// Origin returns scheme://host for u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// IsNavigation reports whether the request is a top-level navigation.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// ToHTTP builds an outbound *http.Request for the network.
func (r *Request) ToHTTP() (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequest(r.Method, r.Href(), body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	switch r.Cache {
	case CacheReload, CacheNoCache:
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	if r.Credentials == CredentialsOmit {
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}
	return req, nil
}

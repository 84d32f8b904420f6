package precache

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/router"
)

// RouteOptions control which request URLs map to a precached URL.
type RouteOptions struct {
	// IgnoreURLParametersMatching lists query parameter names to drop.
	IgnoreURLParametersMatching []*regexp.Regexp
	// DirectoryIndex is appended to URLs ending in "/". Empty disables it.
	DirectoryIndex string
	// CleanURLs also tries the URL with ".html" appended.
	CleanURLs bool
	// URLManipulation returns extra candidates for a request URL.
	URLManipulation func(u *url.URL) []*url.URL
}

// DefaultRouteOptions ignores utm_* and fbclid, uses index.html as the
// directory index and enables clean URLs.
func DefaultRouteOptions() RouteOptions {
	return RouteOptions{
		IgnoreURLParametersMatching: []*regexp.Regexp{
			regexp.MustCompile(`^utm_`),
			regexp.MustCompile(`^fbclid$`),
		},
		DirectoryIndex: "index.html",
		CleanURLs:      true,
	}
}

// URLVariations returns the candidate precache URLs for u in the order
// they are tried.
func URLVariations(u *url.URL, opts RouteOptions) []string {
	base := *u
	base.Fragment = ""
	base.RawFragment = ""
	out := []string{base.String()}

	stripped := removeIgnoredParams(base, opts.IgnoreURLParametersMatching)
	out = append(out, stripped.String())

	if opts.DirectoryIndex != "" && strings.HasSuffix(stripped.Path, "/") {
		dir := stripped
		dir.Path += opts.DirectoryIndex
		dir.RawPath = ""
		out = append(out, dir.String())
	}
	if opts.CleanURLs {
		clean := stripped
		clean.Path += ".html"
		clean.RawPath = ""
		out = append(out, clean.String())
	}
	if opts.URLManipulation != nil {
		for _, extra := range opts.URLManipulation(&base) {
			if extra != nil {
				out = append(out, extra.String())
			}
		}
	}
	return out
}

func removeIgnoredParams(u url.URL, ignore []*regexp.Regexp) url.URL {
	if u.RawQuery == "" || len(ignore) == 0 {
		return u
	}
	u.RawQuery = fetch.FilterQuery(u.RawQuery, func(name string) bool {
		for _, re := range ignore {
			if re.MatchString(name) {
				return true
			}
		}
		return false
	})
	return u
}

// NewRoute returns a route matching requests for precached URLs. The
// match params carry the cache key and integrity.
func NewRoute(c *Controller, opts RouteOptions) *router.Route {
	match := func(mc router.MatchContext) (any, bool) {
		keys := c.GetURLsToCacheKeys()
		for _, candidate := range URLVariations(mc.URL, opts) {
			if cacheKey, ok := keys[candidate]; ok {
				return Params{CacheKey: cacheKey, Integrity: c.GetIntegrityForCacheKey(cacheKey)}, true
			}
		}
		return nil, false
	}
	return router.NewRoute(match, c.Strategy())
}

// PrecacheAndRoute adds entries to c, registers its lifecycle listeners
// on d and registers the precache route on r.
func PrecacheAndRoute(c *Controller, r *router.Router, d *lifecycle.Dispatcher, entries []Entry, opts RouteOptions) (*router.Route, error) {
	if err := c.Precache(entries, d); err != nil {
		return nil, err
	}
	route := NewRoute(c, opts)
	r.Register(route)
	return route, nil
}

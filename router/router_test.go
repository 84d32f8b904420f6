package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	origin, err := url.Parse("https://example.com")
	require.NoError(t, err)
	return New(origin, nil)
}

func reply(body string) Handler {
	return HandlerFunc(func(context.Context, HandlerOptions) (*fetch.Response, error) {
		return fetch.NewResponse(http.StatusOK, []byte(body)), nil
	})
}

func failing(err error) Handler {
	return HandlerFunc(func(context.Context, HandlerOptions) (*fetch.Response, error) {
		return nil, err
	})
}

func handle(t *testing.T, r *Router, rawURL string) (*fetch.Response, bool, error) {
	t.Helper()
	return r.HandleRequest(context.Background(), fetch.MustRequest(rawURL), nil)
}

func TestRouter_FirstMatchWins(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.RegisterRoute(regexp.MustCompile(`/static/`), reply("first"))
	require.NoError(t, err)
	_, err = r.RegisterRoute(regexp.MustCompile(`\.css$`), reply("second"))
	require.NoError(t, err)

	resp, handled, err := handle(t, r, "https://example.com/static/site.css")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "first", string(resp.Body))

	resp, _, err = handle(t, r, "https://example.com/other/site.css")
	require.NoError(t, err)
	assert.Equal(t, "second", string(resp.Body))

	// Reversing the registration order flips the winner.
	reversed := newTestRouter(t)
	_, err = reversed.RegisterRoute(regexp.MustCompile(`\.css$`), reply("second"))
	require.NoError(t, err)
	_, err = reversed.RegisterRoute(regexp.MustCompile(`/static/`), reply("first"))
	require.NoError(t, err)

	resp, handled, err = handle(t, reversed, "https://example.com/static/site.css")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "second", string(resp.Body))
}

func TestRouter_RegExpCaptures(t *testing.T) {
	r := newTestRouter(t)
	var got any
	_, err := r.RegisterRoute(regexp.MustCompile(`/users/(\d+)/posts/(\d+)`), HandlerFunc(
		func(_ context.Context, opts HandlerOptions) (*fetch.Response, error) {
			got = opts.Params
			return fetch.NewResponse(http.StatusOK, nil), nil
		}))
	require.NoError(t, err)

	_, handled, err := handle(t, r, "https://example.com/users/7/posts/42")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"7", "42"}, got)
}

func TestRouter_RegExpCrossOriginMustMatchFromStart(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.RegisterRoute(regexp.MustCompile(`/styles/.*\.css`), reply("css"))
	require.NoError(t, err)
	_, err = r.RegisterRoute(regexp.MustCompile(`^https://cdn\.example\.net/`), reply("cdn"))
	require.NoError(t, err)

	_, handled, err := handle(t, r, "https://third-party.net/styles/x.css")
	require.NoError(t, err)
	assert.False(t, handled)

	resp, handled, err := handle(t, r, "https://cdn.example.net/lib.js")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "cdn", string(resp.Body))
}

func TestRouter_ExactStringCapture(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.RegisterRoute("/index.html", reply("index"))
	require.NoError(t, err)

	resp, handled, err := handle(t, r, "https://example.com/index.html#top")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "index", string(resp.Body))

	_, handled, _ = handle(t, r, "https://example.com/index.html?x=1")
	assert.False(t, handled)
}

func TestRouter_MethodBuckets(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.RegisterRoute(MatchFunc(func(MatchContext) (any, bool) { return nil, true }), reply("post"), http.MethodPost)
	require.NoError(t, err)

	_, handled, err := handle(t, r, "https://example.com/form")
	require.NoError(t, err)
	assert.False(t, handled)

	req := fetch.MustRequest("https://example.com/form")
	req.Method = http.MethodPost
	resp, handled, err := r.HandleRequest(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "post", string(resp.Body))
}

func TestRouter_DefaultHandler(t *testing.T) {
	r := newTestRouter(t)
	_, handled, err := handle(t, r, "https://example.com/anything")
	require.NoError(t, err)
	assert.False(t, handled)

	r.SetDefaultHandler(reply("default"))
	resp, handled, err := handle(t, r, "https://example.com/anything")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "default", string(resp.Body))
}

func TestRouter_IgnoresNonHTTPSchemes(t *testing.T) {
	r := newTestRouter(t)
	r.SetDefaultHandler(reply("default"))

	_, handled, err := handle(t, r, "chrome-extension://abc/page.html")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRouter_ParamsNormalization(t *testing.T) {
	tests := []struct {
		name   string
		params any
		want   any
	}{
		{"bool", true, nil},
		{"empty slice", []string{}, nil},
		{"empty map", map[string]string{}, nil},
		{"values", map[string]string{"id": "1"}, map[string]string{"id": "1"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t)
			r.Register(NewRoute(func(MatchContext) (any, bool) { return tt.params, true }, reply("ok")))
			_, params := r.FindMatchingRoute(MatchContext{Request: fetch.MustRequest("https://example.com/")})
			assert.Equal(t, tt.want, params)
		})
	}
}

func TestRouter_UnregisterRoute(t *testing.T) {
	r := newTestRouter(t)
	route, err := r.RegisterRoute("/a", reply("a"))
	require.NoError(t, err)

	orphan := NewRoute(func(MatchContext) (any, bool) { return nil, true }, reply("b"))
	err = r.UnregisterRoute(orphan)
	assert.True(t, swerrors.HasCode(err, swerrors.CodeRouteNotRegistered))
	assert.True(t, swerrors.IsRouteNotFound(err))

	put := NewRoute(func(MatchContext) (any, bool) { return nil, true }, reply("b"), http.MethodPut)
	err = r.UnregisterRoute(put)
	assert.True(t, swerrors.HasCode(err, swerrors.CodeRouteMethodNotFound))

	require.NoError(t, r.UnregisterRoute(route))
	assert.Empty(t, r.Routes(http.MethodGet))
	_, handled, _ := handle(t, r, "https://example.com/a")
	assert.False(t, handled)
}

func TestRouter_UnsupportedCapture(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.RegisterRoute(42, reply("x"))
	assert.True(t, swerrors.HasCode(err, swerrors.CodeUnsupportedRouteType))
}

func TestRouter_CatchHandlers(t *testing.T) {
	boom := errors.New("boom")

	t.Run("no catch handler returns the error", func(t *testing.T) {
		r := newTestRouter(t)
		_, err := r.RegisterRoute("/x", failing(boom))
		require.NoError(t, err)
		_, handled, err := handle(t, r, "https://example.com/x")
		assert.True(t, handled)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("route catch handler first", func(t *testing.T) {
		r := newTestRouter(t)
		route, err := r.RegisterRoute("/x", failing(boom))
		require.NoError(t, err)
		route.SetCatchHandler(reply("route-catch"))
		r.SetCatchHandler(reply("global-catch"))

		resp, _, err := handle(t, r, "https://example.com/x")
		require.NoError(t, err)
		assert.Equal(t, "route-catch", string(resp.Body))
	})

	t.Run("global catch after route catch fails", func(t *testing.T) {
		r := newTestRouter(t)
		route, err := r.RegisterRoute("/x", failing(boom))
		require.NoError(t, err)
		route.SetCatchHandler(failing(errors.New("catch failed")))
		r.SetCatchHandler(reply("global-catch"))

		resp, _, err := handle(t, r, "https://example.com/x")
		require.NoError(t, err)
		assert.Equal(t, "global-catch", string(resp.Body))
	})

	t.Run("route catch error replaces the original", func(t *testing.T) {
		r := newTestRouter(t)
		route, err := r.RegisterRoute("/x", failing(boom))
		require.NoError(t, err)
		route.SetCatchHandler(failing(errors.New("catch failed")))

		_, _, err = handle(t, r, "https://example.com/x")
		assert.EqualError(t, err, "catch failed")
	})

	t.Run("panics become errors", func(t *testing.T) {
		r := newTestRouter(t)
		_, err := r.RegisterRoute("/x", HandlerFunc(func(context.Context, HandlerOptions) (*fetch.Response, error) {
			panic("kaboom")
		}))
		require.NoError(t, err)
		_, handled, err := handle(t, r, "https://example.com/x")
		assert.True(t, handled)
		assert.ErrorContains(t, err, "kaboom")
	})
}

func TestCacheURL_JSON(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"type":"CACHE_URLS","payload":{"urlsToCache":["/a.js",["/b.css",{"mode":"no-cors"}]]}}`), &msg)
	require.NoError(t, err)
	require.Len(t, msg.Payload.URLsToCache, 2)
	assert.Equal(t, "/a.js", msg.Payload.URLsToCache[0].URL)
	assert.Nil(t, msg.Payload.URLsToCache[0].Init)
	assert.Equal(t, "/b.css", msg.Payload.URLsToCache[1].URL)
	assert.Equal(t, fetch.ModeNoCORS, msg.Payload.URLsToCache[1].Init.Mode)

	out, err := json.Marshal(msg.Payload.URLsToCache)
	require.NoError(t, err)
	assert.JSONEq(t, `["/a.js",["/b.css",{"mode":"no-cors"}]]`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"url":"/a"}`), &CacheURL{}))
}

func TestRouter_HandleMessage(t *testing.T) {
	ctx := context.Background()
	r := newTestRouter(t)

	var mu sync.Mutex
	seen := map[string]string{}
	r.SetDefaultHandler(HandlerFunc(func(_ context.Context, opts HandlerOptions) (*fetch.Response, error) {
		mu.Lock()
		seen[opts.Request.Href()] = opts.Request.Mode
		mu.Unlock()
		return fetch.NewResponse(http.StatusOK, nil), nil
	}))

	msg := Message{Type: MessageCacheURLs, Payload: MessagePayload{URLsToCache: []CacheURL{
		{URL: "/a.js"},
		{URL: "/b.css", Init: &RequestInit{Mode: fetch.ModeNoCORS}},
	}}}
	ev := lifecycle.NewEvent(lifecycle.EventMessage)
	var replied bool
	handled, err := r.HandleMessage(ctx, msg, ev, func(ok bool) { replied = ok })
	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, replied)
	require.NoError(t, ev.Wait(ctx))

	assert.Equal(t, map[string]string{
		"https://example.com/a.js":  fetch.ModeCORS,
		"https://example.com/b.css": fetch.ModeNoCORS,
	}, seen)
}

func TestRouter_HandleMessageFailure(t *testing.T) {
	r := newTestRouter(t)
	r.SetDefaultHandler(failing(errors.New("offline")))

	var replied bool
	handled, err := r.HandleMessage(context.Background(), Message{
		Type:    MessageCacheURLs,
		Payload: MessagePayload{URLsToCache: []CacheURL{{URL: "/a.js"}}},
	}, nil, func(bool) { replied = true })
	assert.True(t, handled)
	assert.EqualError(t, err, "offline")
	assert.False(t, replied)
}

func TestRouter_HandleMessageIgnoresOtherTypes(t *testing.T) {
	r := newTestRouter(t)
	handled, err := r.HandleMessage(context.Background(), Message{Type: "SKIP_WAITING"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

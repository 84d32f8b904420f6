package recipes

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/internal/testutil/fixture"
	"github.com/yshengliao/swcache/internal/testutil/mock"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/precache"
	"github.com/yshengliao/swcache/router"
	"github.com/yshengliao/swcache/strategy"
)

type env struct {
	storage    *store.Memory
	fetcher    *mock.Fetcher
	router     *router.Router
	dispatcher *lifecycle.Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	origin, err := url.Parse(fixture.Origin)
	require.NoError(t, err)
	e := &env{
		storage:    store.NewMemory(0),
		fetcher:    mock.NewFetcher(),
		router:     router.New(origin, nil),
		dispatcher: lifecycle.NewDispatcher(),
	}
	nf := strategy.NewNetworkFirst(strategy.Deps{Storage: e.storage, Fetcher: e.fetcher}, strategy.NetworkFirstOptions{})
	e.router.SetDefaultHandler(nf)
	return e
}

func (e *env) deps() Deps {
	return Deps{Storage: e.storage, Fetcher: e.fetcher, Router: e.router, Dispatcher: e.dispatcher}
}

func request(rawURL, dest string) *fetch.Request {
	req := fetch.MustRequest(rawURL)
	req.Destination = dest
	if dest == "document" {
		req.Mode = fetch.ModeNavigate
	}
	return req
}

func TestOfflineFallback_ServesPageForFailedNavigation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fetcher.OK("https://example.com/offline.html", "you are offline")

	fb := OfflineFallback(e.deps(), OfflineFallbackOptions{})
	assert.Equal(t, "swcache-offline-fallbacks", fb.CacheName())
	require.NoError(t, e.dispatcher.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventInstall)))

	resp, handled, err := e.router.HandleRequest(ctx, request("https://example.com/articles/1", "document"), nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "you are offline", string(resp.Body))
}

func TestOfflineFallback_DestinationsWithoutFallback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fetcher.OK("https://example.com/offline.html", "offline")
	OfflineFallback(e.deps(), OfflineFallbackOptions{})
	require.NoError(t, e.dispatcher.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventInstall)))

	for _, dest := range []string{"image", "font", "script"} {
		resp, _, err := e.router.HandleRequest(ctx, request("https://example.com/asset", dest), nil)
		require.NoError(t, err, dest)
		assert.True(t, resp.IsError(), dest)
	}
}

func TestOfflineFallback_ImageFallback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fetcher.
		OK("https://example.com/offline.html", "offline").
		OK("https://example.com/img/offline.svg", "<svg/>")
	OfflineFallback(e.deps(), OfflineFallbackOptions{ImageFallback: "/img/offline.svg"})
	require.NoError(t, e.dispatcher.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventInstall)))

	resp, _, err := e.router.HandleRequest(ctx, request("https://example.com/photo.png", "image"), nil)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(resp.Body))
}

func TestOfflineFallback_InstallIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fetcher.OK("https://example.com/offline.html", "offline")

	fb := OfflineFallback(e.deps(), OfflineFallbackOptions{FontFallback: "/fonts/fallback.woff2"})
	assert.Error(t, fb.Install(ctx))

	resp, _, err := e.router.HandleRequest(ctx, request("https://example.com/x", "document"), nil)
	require.NoError(t, err)
	assert.True(t, resp.IsError())
}

func TestOfflineFallback_PrefersPrecache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fetcher.OK("https://example.com/offline.html", "precached offline page")

	pc := precache.NewController(strategy.Deps{Storage: e.storage, Fetcher: e.fetcher}, precache.ControllerOptions{Origin: e.router.Origin()})
	require.NoError(t, pc.AddToCacheList([]precache.Entry{precache.Revisioned("/offline.html", "1")}))
	_, err := pc.Install(ctx, nil)
	require.NoError(t, err)

	deps := e.deps()
	deps.Dispatcher = nil
	deps.Precache = pc
	OfflineFallback(deps, OfflineFallbackOptions{})

	resp, _, err := e.router.HandleRequest(ctx, request("https://example.com/x", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, "precached offline page", string(resp.Body))
}

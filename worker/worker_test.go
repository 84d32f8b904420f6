package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/internal/testutil/fixture"
	"github.com/yshengliao/swcache/internal/testutil/mock"
	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/router"
)

const (
	indexURL   = fixture.Origin + "/index.html"
	appURL     = fixture.Origin + "/app.3f2a.js"
	offlineURL = fixture.Origin + "/offline.html"
)

type testWorker struct {
	*Worker
	fetcher  *mock.Fetcher
	storage  *store.Memory
	manifest string
}

func newTestWorker(t *testing.T, configure func(cfg *config.Config)) *testWorker {
	t.Helper()
	manifest := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(fixture.Manifest), 0o644))

	cfg := fixture.TestConfig()
	cfg.Precache.Manifest = manifest
	if configure != nil {
		configure(cfg)
	}

	f := mock.NewFetcher().
		OK(indexURL, "index").
		OK(appURL, "app").
		OK(offlineURL, "offline")
	s := store.NewMemory(0)
	w, err := New(cfg, WithFetcher(f), WithStorage(s), WithLogger(mock.NewLogger().Logger), WithReloadDebounce(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return &testWorker{Worker: w, fetcher: f, storage: s, manifest: manifest}
}

func (tw *testWorker) get(path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	tw.ServeHTTP(rec, req)
	return rec
}

func (tw *testWorker) cacheKeys(t *testing.T, cacheName string) []string {
	t.Helper()
	ctx := context.Background()
	c, err := tw.storage.Open(ctx, cacheName)
	require.NoError(t, err)
	reqs, err := c.Keys(ctx)
	require.NoError(t, err)
	out := []string{}
	for _, r := range reqs {
		out = append(out, r.Href())
	}
	return out
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := fixture.TestConfig()
	cfg.Worker.Origin = "/relative"
	_, err = New(cfg, WithFetcher(mock.NewFetcher()))
	assert.Error(t, err)

	cfg = fixture.TestConfig()
	cfg.Routes = []config.RouteConfig{{Match: "regexp", Pattern: "([", Strategy: StrategyNetworkFirst}}
	_, err = New(cfg, WithFetcher(mock.NewFetcher()))
	assert.Error(t, err)

	_, err = New(fixture.TestConfig(), WithLogger(nil))
	assert.Error(t, err)
}

func TestWorker_InstallActivateAndServePrecache(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, nil)

	installed, err := tw.Install(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{indexURL, appURL, offlineURL}, installed.UpdatedURLs)

	activated, err := tw.Activate(ctx)
	require.NoError(t, err)
	assert.Empty(t, activated.DeletedURLs)

	// "/" maps to the precached directory index.
	rec := tw.get("/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "index", rec.Body.String())

	rec = tw.get("/app.3f2a.js?utm_source=mail", nil)
	assert.Equal(t, "app", rec.Body.String())
	assert.Equal(t, 1, tw.fetcher.Calls(indexURL))
	assert.Equal(t, 1, tw.fetcher.Calls(appURL))

	// A second install finds everything cached.
	installed, err = tw.Install(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed.UpdatedURLs)
	assert.Len(t, installed.NotUpdatedURLs, 3)

	stats := tw.Metrics().Runtime()
	assert.EqualValues(t, 2, stats.Lifecycle["install"])
	assert.EqualValues(t, 1, stats.Lifecycle["activate"])
	assert.Positive(t, stats.CacheHits)
}

func TestWorker_PassthroughWithoutRoute(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) { cfg.Worker.DefaultStrategy = "" })
	tw.fetcher.OK(fixture.Origin+"/api/status", "up")

	rec := tw.get("/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "up", rec.Body.String())
	assert.EqualValues(t, 1, tw.Metrics().Runtime().Passthrough)

	// Nothing was cached for it.
	assert.Empty(t, tw.cacheKeys(t, tw.Names().Runtime()))
}

func TestWorker_NetworkFailureIsBadGateway(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) { cfg.Worker.DefaultStrategy = "" })

	rec := tw.get("/api/down", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(swerrors.CodeNoResponse), rec.Header().Get("X-Swcache-Error"))

	var body swerrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, swerrors.CodeNoResponse, body.ErrorDetail.Code)
}

func TestWorker_HandlerErrorIsBadGateway(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) { cfg.Worker.DefaultStrategy = StrategyNetworkFirst })

	rec := tw.get("/articles/1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(swerrors.CodeNoResponse), rec.Header().Get("X-Swcache-Error"))
	assert.EqualValues(t, 1, tw.Metrics().Runtime().HandlerErrors)
}

func TestWorker_ConfiguredNetworkFirstRoute(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, func(cfg *config.Config) {
		cfg.Worker.DefaultStrategy = ""
		cfg.Routes = []config.RouteConfig{{
			Name:           "api",
			Match:          "prefix",
			Pattern:        "/api/",
			Strategy:       StrategyNetworkFirst,
			CacheName:      "api",
			NetworkTimeout: time.Second,
		}}
	})
	itemsURL := fixture.Origin + "/api/items"
	tw.fetcher.OK(itemsURL, "fresh")

	resp, err := tw.Fetch(ctx, fetch.MustRequest(itemsURL))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(resp.Body))

	require.Eventually(t, func() bool {
		return len(tw.cacheKeys(t, "api")) == 1
	}, time.Second, 10*time.Millisecond)

	tw.fetcher.Fail(itemsURL)
	rec := tw.get("/api/items", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Body.String())
}

func TestCaptureFor(t *testing.T) {
	origin, err := url.Parse(fixture.Origin)
	require.NoError(t, err)
	nop := router.HandlerFunc(func(context.Context, router.HandlerOptions) (*fetch.Response, error) {
		return nil, nil
	})

	tests := []struct {
		name    string
		rc      config.RouteConfig
		url     string
		matches bool
	}{
		{"host", config.RouteConfig{Match: "host", Pattern: "cdn.example.com"}, "https://cdn.example.com/lib.js", true},
		{"host other", config.RouteConfig{Match: "host", Pattern: "cdn.example.com"}, "https://example.com/lib.js", false},
		{"regexp same origin", config.RouteConfig{Match: "regexp", Pattern: `/styles/.*\.css$`}, "https://example.com/styles/a.css", true},
		{"regexp cross origin", config.RouteConfig{Match: "regexp", Pattern: `/styles/.*\.css$`}, "https://cdn.example.com/styles/a.css", false},
		{"exact", config.RouteConfig{Match: "exact", Pattern: "/manifest.webmanifest"}, "https://example.com/manifest.webmanifest", true},
		{"exact other", config.RouteConfig{Match: "exact", Pattern: "/manifest.webmanifest"}, "https://example.com/other", false},
		{"prefix path", config.RouteConfig{Match: "prefix", Pattern: "/api/"}, "https://example.com/api/v1", true},
		{"prefix path cross origin", config.RouteConfig{Match: "prefix", Pattern: "/api/"}, "https://api.example.org/api/v1", false},
		{"prefix absolute", config.RouteConfig{Match: "prefix", Pattern: "https://fonts.example.net/"}, "https://fonts.example.net/a.woff2", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			capture, err := captureFor(tt.rc)
			require.NoError(t, err)
			r := router.New(origin, nil)
			_, err = r.RegisterRoute(capture, nop)
			require.NoError(t, err)

			req := fetch.MustRequest(tt.url)
			route, _ := r.FindMatchingRoute(router.MatchContext{
				URL:        req.URL,
				SameOrigin: req.Origin() == fixture.Origin,
				Request:    req,
			})
			assert.Equal(t, tt.matches, route != nil)
		})
	}

	_, err = captureFor(config.RouteConfig{Match: "glob", Pattern: "*"})
	assert.Error(t, err)
}

func TestWorker_OfflineFallback(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, func(cfg *config.Config) {
		cfg.Worker.DefaultStrategy = StrategyNetworkFirst
		cfg.Fallback.Enabled = true
	})
	require.NotNil(t, tw.Fallbacks())

	_, err := tw.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{offlineURL}, tw.cacheKeys(t, tw.Fallbacks().CacheName()))

	rec := tw.get("/articles/1", map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "offline", rec.Body.String())

	// Images have no fallback configured.
	rec = tw.get("/img/a.png", map[string]string{"Sec-Fetch-Dest": "image"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWorker_NavigationPreload(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) {
		cfg.Worker.DefaultStrategy = ""
		cfg.Worker.NavigationPreload = true
	})
	tw.fetcher.OK(fixture.Origin+"/about", "about")

	rec := tw.get("/about", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, "about", rec.Body.String())
	// The pass-through reused the preload instead of fetching twice.
	assert.Equal(t, 1, tw.fetcher.Calls(fixture.Origin+"/about"))
}

func TestWorker_PostMessageCachesURLs(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, nil)
	tw.fetcher.OK(fixture.Origin+"/api/data", "data")

	var replies []bool
	handled, err := tw.PostMessage(ctx, router.Message{
		Type:    router.MessageCacheURLs,
		Payload: router.MessagePayload{URLsToCache: []router.CacheURL{{URL: "/api/data"}}},
	}, func(ok bool) { replies = append(replies, ok) })
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []bool{true}, replies)
	assert.Equal(t, []string{fixture.Origin + "/api/data"}, tw.cacheKeys(t, tw.Names().Runtime()))

	handled, err = tw.PostMessage(ctx, router.Message{Type: "SKIP_WAITING"}, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWorker_ReloadPrunesRemovedEntries(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, nil)
	_, err := tw.Install(ctx)
	require.NoError(t, err)
	_, err = tw.Activate(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(tw.manifest, []byte(`[{"url": "/index.html", "revision": "def"}]`), 0o644))
	res, err := tw.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{indexURL}, res.Install.UpdatedURLs)
	assert.ElementsMatch(t, []string{indexURL + "?__WB_REVISION__=abc", appURL, offlineURL}, res.Activate.DeletedURLs)

	cacheName := tw.Precache().Strategy().CacheName()
	assert.Equal(t, []string{indexURL + "?__WB_REVISION__=def"}, tw.cacheKeys(t, cacheName))
	assert.Equal(t, 2, tw.fetcher.Calls(indexURL))

	// The precache route now serves the new version only.
	assert.Equal(t, "index", tw.get("/index.html", nil).Body.String())
	assert.Empty(t, tw.Precache().GetCacheKeyForURL("/offline.html"))
}

func TestWorker_ReloadRejectsInvalidManifest(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, nil)
	before := tw.Precache()

	require.NoError(t, os.WriteFile(tw.manifest, []byte(`{"not": "a list"}`), 0o644))
	_, err := tw.Reload(ctx)
	assert.True(t, swerrors.HasCode(err, swerrors.CodeInvalidManifest))
	assert.Same(t, before, tw.Precache())
}

func TestWorker_WatchManifest(t *testing.T) {
	tw := newTestWorker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tw.WatchManifest(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(tw.manifest, []byte(`[{"url": "/index.html", "revision": "v2"}]`), 0o644))
	require.Eventually(t, func() bool {
		return tw.Precache().GetCacheKeyForURL("/index.html") == indexURL+"?__WB_REVISION__=v2"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWorker_WatchManifestRequiresPath(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) { cfg.Precache.Manifest = "" })
	assert.Error(t, tw.WatchManifest(context.Background()))
	_, err := tw.Reload(context.Background())
	assert.Error(t, err)
}

func TestWorker_PurgesRuntimeCachesOnQuotaError(t *testing.T) {
	ctx := context.Background()
	tw := newTestWorker(t, nil)
	runtime := tw.Names().Runtime()
	c, err := tw.storage.Open(ctx, runtime)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, fetch.MustRequest(fixture.Origin+"/a"), fetch.NewResponse(http.StatusOK, []byte("a"))))

	require.NoError(t, tw.quota.Run(ctx))
	has, err := tw.storage.Has(ctx, runtime)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWorker_SQLiteStorage(t *testing.T) {
	ctx := context.Background()
	cfg := fixture.TestConfig()
	cfg.Cache.Driver = "sqlite"
	cfg.Cache.DSN = filepath.Join(t.TempDir(), "cache.db")
	cfg.Routes = []config.RouteConfig{{Match: "exact", Pattern: "/data.json", Strategy: StrategyStaleWhileRevalidate}}

	f := mock.NewFetcher().OK(fixture.Origin+"/data.json", `{"ok":true}`)
	w, err := New(cfg, WithFetcher(f))
	require.NoError(t, err)

	_, err = w.PostMessage(ctx, router.Message{
		Type:    router.MessageCacheURLs,
		Payload: router.MessagePayload{URLsToCache: []router.CacheURL{{URL: "/data.json"}}},
	}, nil)
	require.NoError(t, err)

	resp, err := w.Storage().Match(ctx, fetch.MustRequest(fixture.Origin+"/data.json"), store.MatchOptions{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	require.NoError(t, w.Close(ctx))
}

func TestWorker_CircuitBreakerFailsFast(t *testing.T) {
	tw := newTestWorker(t, func(cfg *config.Config) {
		cfg.Worker.DefaultStrategy = ""
		cfg.Fetch.CircuitBreaker = config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, OpenTimeout: time.Hour}
	})
	assert.Empty(t, tw.BreakerStates())

	assert.Equal(t, http.StatusBadGateway, tw.get("/api/down", nil).Code)
	assert.Equal(t, http.StatusBadGateway, tw.get("/api/down", nil).Code)
	assert.Equal(t, 1, tw.fetcher.Calls(fixture.Origin+"/api/down"))
	assert.Equal(t, map[string]string{fixture.Origin: "open"}, tw.BreakerStates())

	plain := newTestWorker(t, func(cfg *config.Config) { cfg.Worker.DefaultStrategy = "" })
	assert.Nil(t, plain.BreakerStates())
	// injected fetchers bypass the pooled client
	assert.Nil(t, plain.UpstreamMetrics())
}

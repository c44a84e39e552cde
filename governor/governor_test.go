package governor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/auth"
	"github.com/nutrify-app/offline-gateway/cache"
	"github.com/nutrify-app/offline-gateway/config"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/types"
)

type fakeConnectivity struct {
	online           bool
	controllerActive bool
}

func (f *fakeConnectivity) Start() error                           { return nil }
func (f *fakeConnectivity) Stop() error                            { return nil }
func (f *fakeConnectivity) IsRunning() bool                        { return true }
func (f *fakeConnectivity) Online() bool                           { return f.online }
func (f *fakeConnectivity) Observe(ctx context.Context) bool       { return f.online }
func (f *fakeConnectivity) ControllerActive() bool                 { return f.controllerActive }
func (f *fakeConnectivity) SetControllerActive(active bool)        { f.controllerActive = active }
func (f *fakeConnectivity) SubscribeOnline(string, func(bool))     {}
func (f *fakeConnectivity) SubscribeController(string, func(bool)) {}
func (f *fakeConnectivity) Unsubscribe(string)                     {}

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func startUpstream(t *testing.T, handler fasthttp.RequestHandler) (string, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Connections are closed after every response so a stopped upstream
	// cannot keep answering over a pooled keep-alive connection.
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			handler(ctx)
			ctx.SetConnectionClose()
		},
		ReadTimeout: time.Second,
	}
	go func() { _ = srv.Serve(ln) }()

	stop := func() { _ = ln.Close() }
	t.Cleanup(stop)

	return "http://" + ln.Addr().String(), stop
}

func unreachableURL(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return "http://" + addr
}

func newTestStore(t *testing.T) types.PartitionStore {
	t.Helper()

	store, err := cache.NewMemoryStore(context.Background(), testLogger(), &types.StoreConfig{Type: "memory", Prefix: "nutrify"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func testConfig(appURL, apiURL string) *types.GatewayConfig {
	return &types.GatewayConfig{
		Name:    "offline-gateway",
		Version: "v1",
		Store: &types.StoreConfig{
			Type:      "memory",
			Prefix:    "nutrify",
			APITTL:    time.Hour,
			StaticTTL: 0,
		},
		Routing: &types.RoutingConfig{
			APIPrefixes:         []string{"/items", "/random-items", "/profile"},
			APIEndpoints:        []string{"/predict"},
			RecommendationsPath: "/random-items",
			StaticPrefixes:      []string{"/_next/static/", "/static/"},
		},
		Upstreams: map[string]*types.UpstreamConfig{
			"app": {BaseURL: appURL, Timeout: time.Second},
			"api": {BaseURL: apiURL, Timeout: time.Second},
		},
	}
}

func newTestGovernor(t *testing.T, cfg *types.GatewayConfig, store types.PartitionStore) (types.Governor, *fakeConnectivity) {
	t.Helper()

	monitor := &fakeConnectivity{online: true}
	gov, err := New(context.Background(), testLogger(), config.NewStaticManager(cfg), store, monitor, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, gov.Start())
	t.Cleanup(func() {
		if gov.IsRunning() {
			require.NoError(t, gov.Stop())
		}
	})

	return gov, monitor
}

func buildRequest(method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestClassify(t *testing.T) {
	cfg := testConfig("http://localhost:3000", "http://localhost:5000")
	cfg.Routing.Origins = []string{"localhost:8080"}

	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)
	g := gov.(*Gov)

	tests := []struct {
		name    string
		method  string
		uri     string
		headers map[string]string
		want    types.RequestClass
	}{
		{"mutation bypasses", fasthttp.MethodPost, "http://localhost:8080/items", nil, types.ClassBypass},
		{"foreign origin bypasses", fasthttp.MethodGet, "http://evil.example/items", nil, types.ClassBypass},
		{"api prefix", fasthttp.MethodGet, "http://localhost:8080/items", nil, types.ClassAPI},
		{"api subpath", fasthttp.MethodGet, "http://localhost:8080/items/42", nil, types.ClassAPI},
		{"api prefix lookalike is not api", fasthttp.MethodGet, "http://localhost:8080/itemsets", nil, types.ClassGeneric},
		{"model endpoint", fasthttp.MethodGet, "http://localhost:8080/predict", nil, types.ClassAPI},
		{"static asset", fasthttp.MethodGet, "http://localhost:8080/_next/static/app.js", nil, types.ClassStatic},
		{"navigation via fetch mode", fasthttp.MethodGet, "http://localhost:8080/profile-page",
			map[string]string{"Sec-Fetch-Mode": "navigate"}, types.ClassNavigation},
		{"navigation via accept", fasthttp.MethodGet, "http://localhost:8080/",
			map[string]string{fasthttp.HeaderAccept: "text/html,application/xhtml+xml"}, types.ClassNavigation},
		{"generic asset", fasthttp.MethodGet, "http://localhost:8080/favicon.ico", nil, types.ClassGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := buildRequest(tt.method, tt.uri, tt.headers)
			require.Equal(t, tt.want, g.Classify(ctx))
		})
	}
}

func TestRequestKeySharedAcrossRequestForms(t *testing.T) {
	abs := buildRequest(fasthttp.MethodGet, "http://localhost:8080/items?limit=5", nil)
	origin := buildRequest(fasthttp.MethodGet, "/items?limit=5", nil)

	require.Equal(t, "/items?limit=5", requestKey(abs))
	require.Equal(t, requestKey(abs), requestKey(origin))
}

func TestHandleAbsorbsSessionCookie(t *testing.T) {
	apiURL, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"items":[]}`)
	})

	cfg := testConfig("http://localhost:3000", apiURL)
	store := newTestStore(t)

	creds := auth.NewCookieCredentials(testLogger())
	gov, err := New(context.Background(), testLogger(), config.NewStaticManager(cfg), store, &fakeConnectivity{online: true}, nil, nil, creds)
	require.NoError(t, err)
	require.NoError(t, gov.Start())
	t.Cleanup(func() { _ = gov.Stop() })

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/items", map[string]string{
		fasthttp.HeaderCookie: "theme=dark; jwt=tok-99",
	})
	gov.Handle(ctx)

	token, ok := creds.Token()
	require.True(t, ok)
	require.Equal(t, "tok-99", token)
}

func TestGovernorLifecycle(t *testing.T) {
	cfg := testConfig("http://localhost:3000", "http://localhost:5000")
	store := newTestStore(t)

	gov, monitor := newTestGovernor(t, cfg, store)

	require.True(t, gov.IsRunning())
	require.True(t, gov.Controlling())
	require.True(t, monitor.ControllerActive())
	require.Equal(t, "v1", gov.Version())

	require.ErrorIs(t, gov.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, gov.Stop())
	require.False(t, gov.IsRunning())
	require.False(t, gov.Controlling())
	require.False(t, monitor.ControllerActive())
	require.ErrorIs(t, gov.Stop(), types.ErrServerNotRunning)
}

func TestGovernorNotRunningRefusesTraffic(t *testing.T) {
	cfg := testConfig("http://localhost:3000", "http://localhost:5000")
	store := newTestStore(t)

	gov, err := New(context.Background(), testLogger(), config.NewStaticManager(cfg), store, &fakeConnectivity{}, nil, nil, nil)
	require.NoError(t, err)

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestStageVersionAndSkipWaiting(t *testing.T) {
	cfg := testConfig("http://localhost:3000", "http://localhost:5000")
	store := newTestStore(t)

	// Partitions that activation of v2 must drop, plus an unrelated one
	// that must survive because it is outside our prefix.
	require.NoError(t, store.Set(context.Background(), "nutrify-api-v1", "/items", &types.ResponseEntry{StatusCode: 200, Body: []byte("old")}, 0))
	require.NoError(t, store.Set(context.Background(), "legacy-data", "k", &types.ResponseEntry{StatusCode: 200, Body: []byte("keep")}, 0))

	gov, _ := newTestGovernor(t, cfg, store)

	require.ErrorIs(t, gov.SkipWaiting(), types.ErrGovernorNothingStaged)
	require.ErrorIs(t, gov.StageVersion("v1"), types.ErrGovernorAlreadyStaged)

	require.NoError(t, gov.StageVersion("v2"))
	require.Equal(t, "v1", gov.Version())

	require.ErrorIs(t, gov.StageVersion("v2"), types.ErrGovernorAlreadyStaged)

	require.NoError(t, gov.SkipWaiting())
	require.Equal(t, "v2", gov.Version())

	names, err := store.Partitions(context.Background())
	require.NoError(t, err)
	require.NotContains(t, names, "nutrify-api-v1")
	require.Contains(t, names, "legacy-data")
}

func TestHandleNetworkFirstCachesAndFallsBack(t *testing.T) {
	apiURL, stopAPI := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"items":[1,2]}`)
	})

	cfg := testConfig("http://localhost:3000", apiURL)
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, `{"items":[1,2]}`, string(ctx.Response.Body()))

	entry, ok := store.Get(context.Background(), "nutrify-api-v1", "/items")
	require.True(t, ok)
	require.Equal(t, `{"items":[1,2]}`, string(entry.Body))

	// With the upstream gone the cached copy answers.
	stopAPI()

	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, `{"items":[1,2]}`, string(ctx.Response.Body()))
}

func TestHandleNetworkFirstSynthesizesOffline(t *testing.T) {
	cfg := testConfig(unreachableURL(t), unreachableURL(t))
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	// An uncached API path gets the error-shaped payload.
	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/profile", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"error":"Service Unavailable"`)

	// The recommendations path degrades to an empty success payload so
	// the page still renders.
	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/random-items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"status":"success","message":"Offline data","data":[]}`, string(ctx.Response.Body()))
}

func TestHandleNetworkFirstSavesRecommendationsFallback(t *testing.T) {
	apiURL, stopAPI := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"success","data":["apple"]}`)
	})

	cfg := testConfig("http://localhost:3000", apiURL)
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/random-items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	entry, ok := store.Get(context.Background(), "nutrify-fallback-v1", types.FallbackKeyRecommendations)
	require.True(t, ok)
	require.Equal(t, `{"status":"success","data":["apple"]}`, string(entry.Body))

	// Drop the versioned API partition; the never-expiring fallback
	// copy still answers once the network is gone.
	stopAPI()
	require.NoError(t, store.Drop(context.Background(), "nutrify-api-v1"))

	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/random-items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, `{"status":"success","data":["apple"]}`, string(ctx.Response.Body()))
}

func TestHandleCacheFirst(t *testing.T) {
	var requests int
	appURL, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		requests++
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/javascript")
		ctx.SetBodyString("console.log(1)")
	})

	cfg := testConfig(appURL, "http://localhost:5000")
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/_next/static/app.js", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, 1, requests)

	// The cached copy short-circuits the upstream on the second hit.
	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/_next/static/app.js", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "console.log(1)", string(ctx.Response.Body()))
	require.Equal(t, 1, requests)
}

func TestHandleCacheFirstMissOffline(t *testing.T) {
	cfg := testConfig(unreachableURL(t), unreachableURL(t))
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/_next/static/missing.js", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	require.Empty(t, ctx.Response.Body())
}

func TestHandleNavigationFallbackChain(t *testing.T) {
	cfg := testConfig(unreachableURL(t), unreachableURL(t))
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	navigate := map[string]string{"Sec-Fetch-Mode": "navigate"}

	// Nothing cached at all: the inline offline document is the last resort.
	ctx := buildRequest(fasthttp.MethodGet, "http://localhost:8080/recipes", navigate)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Header.ContentType()), "text/html")

	// A saved offline page beats the inline document.
	require.NoError(t, store.Set(context.Background(), "nutrify-fallback-v1", types.FallbackKeyOfflinePage, &types.ResponseEntry{
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<html>saved offline page</html>"),
	}, 0))

	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/recipes", navigate)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Equal(t, "<html>saved offline page</html>", string(ctx.Response.Body()))

	// Serving the page with a 503 must not rewrite the stored document.
	entry, ok := store.Get(context.Background(), "nutrify-fallback-v1", types.FallbackKeyOfflinePage)
	require.True(t, ok)
	require.Equal(t, fasthttp.StatusOK, entry.StatusCode)

	// The application shell beats the offline page for client-routed paths.
	require.NoError(t, store.Set(context.Background(), "nutrify-static-v1", "/", &types.ResponseEntry{
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<html>shell</html>"),
	}, 0))

	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/recipes", navigate)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "<html>shell</html>", string(ctx.Response.Body()))

	// An exact cached document beats the shell.
	require.NoError(t, store.Set(context.Background(), "nutrify-static-v1", "/recipes", &types.ResponseEntry{
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<html>recipes</html>"),
	}, 0))

	ctx = buildRequest(fasthttp.MethodGet, "http://localhost:8080/recipes", navigate)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "<html>recipes</html>", string(ctx.Response.Body()))
}

func TestHandleBypassNeverCaches(t *testing.T) {
	apiURL, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetBodyString(`{"id":7}`)
	})

	cfg := testConfig("http://localhost:3000", apiURL)
	store := newTestStore(t)
	gov, _ := newTestGovernor(t, cfg, store)

	ctx := buildRequest(fasthttp.MethodPost, "http://localhost:8080/items", nil)
	gov.Handle(ctx)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	require.Equal(t, `{"id":7}`, string(ctx.Response.Body()))

	names, err := store.Partitions(context.Background())
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestInstallPrecachesEssentialAssets(t *testing.T) {
	appURL, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/", "/offline.html":
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetContentType("text/html")
			ctx.SetBodyString("<html>" + string(ctx.Path()) + "</html>")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	})

	cfg := testConfig(appURL, "http://localhost:5000")
	cfg.Precache = &types.PrecacheConfig{
		Essential:       []string{"/", "/offline.html"},
		Additional:      []string{"/not-there.css"},
		OfflinePagePath: "/offline.html",
	}

	store := newTestStore(t)
	newTestGovernor(t, cfg, store)

	entry, ok := store.Get(context.Background(), "nutrify-static-v1", "/")
	require.True(t, ok)
	require.Equal(t, "<html>/</html>", string(entry.Body))

	_, ok = store.Get(context.Background(), "nutrify-static-v1", "/offline.html")
	require.True(t, ok)

	// The offline page is also pinned in the fallback partition.
	entry, ok = store.Get(context.Background(), "nutrify-fallback-v1", types.FallbackKeyOfflinePage)
	require.True(t, ok)
	require.Equal(t, "<html>/offline.html</html>", string(entry.Body))

	// Failed additional items never make it into the partition.
	_, ok = store.Get(context.Background(), "nutrify-static-v1", "/not-there.css")
	require.False(t, ok)
}

package client

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
	online bool
}

func (f *fakeConnectivity) Start() error                            { return nil }
func (f *fakeConnectivity) Stop() error                             { return nil }
func (f *fakeConnectivity) IsRunning() bool                         { return true }
func (f *fakeConnectivity) Online() bool                            { return f.online }
func (f *fakeConnectivity) Observe(ctx context.Context) bool        { return f.online }
func (f *fakeConnectivity) ControllerActive() bool                  { return false }
func (f *fakeConnectivity) SetControllerActive(active bool)         {}
func (f *fakeConnectivity) SubscribeOnline(string, func(bool))      {}
func (f *fakeConnectivity) SubscribeController(string, func(bool))  {}
func (f *fakeConnectivity) Unsubscribe(string)                      {}

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func startUpstream(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			handler(ctx)
			ctx.SetConnectionClose()
		},
		ReadTimeout: time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return "http://" + ln.Addr().String()
}

// unreachableURL reserves a port and releases it so nothing listens there.
func unreachableURL(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return "http://" + addr
}

func newTestPartitionStore(t *testing.T) types.PartitionStore {
	t.Helper()

	store, err := cache.NewMemoryStore(context.Background(), testLogger(), &types.StoreConfig{Type: "memory", Prefix: "nutrify"})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func TestResponseCache(t *testing.T) {
	rc := newResponseCache(time.Hour)

	key := cacheKey(fasthttp.MethodGet, "http://localhost:5000/items")
	require.Equal(t, "GET#http://localhost:5000/items", key)

	_, _, ok := rc.Get(key)
	require.False(t, ok)

	rc.Set(key, []byte("payload"), 200)
	body, status, ok := rc.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), body)
	require.Equal(t, 200, status)

	// Returned slices are copies; mutating one must not poison the cache.
	body[0] = 'X'
	body, _, _ = rc.Get(key)
	require.Equal(t, []byte("payload"), body)

	require.Equal(t, 1, rc.Len())
	rc.Clear()
	require.Equal(t, 0, rc.Len())
}

func TestResponseCacheExpiry(t *testing.T) {
	rc := newResponseCache(time.Millisecond)

	rc.Set("GET#/items", []byte("x"), 200)
	time.Sleep(5 * time.Millisecond)

	_, _, ok := rc.Get("GET#/items")
	require.False(t, ok)
	require.Equal(t, 0, rc.Len())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(nil, testLogger(), "api")

	require.True(t, cb.CanExecute())
	require.Equal(t, "disabled", cb.GetStateString())

	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.CanExecute())
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenRequests: 1,
	}, testLogger(), "api")

	require.True(t, cb.CanExecute())
	require.Equal(t, "closed", cb.GetStateString())

	cb.RecordFailure()
	require.True(t, cb.CanExecute())
	cb.RecordFailure()
	require.Equal(t, "open", cb.GetStateString())

	// An open breaker must keep refusing until the recovery window has
	// actually elapsed.
	require.False(t, cb.CanExecute())

	time.Sleep(100 * time.Millisecond)
	require.True(t, cb.CanExecute())
	require.Equal(t, "half-open", cb.GetStateString())

	cb.RecordSuccess()
	require.Equal(t, "closed", cb.GetStateString())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenRequests: 2,
	}, testLogger(), "api")

	cb.RecordFailure()
	require.Equal(t, "open", cb.GetStateString())
	require.False(t, cb.CanExecute())

	time.Sleep(100 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	require.Equal(t, "open", cb.GetStateString())
	require.False(t, cb.CanExecute())
}

func TestOfflineClientGetIsNetworkFirst(t *testing.T) {
	var requests int
	baseURL := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		requests++
		require.Equal(t, "Bearer tok-1", string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
		switch requests {
		case 1:
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString(`{"rev":1}`)
		case 2:
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString(`{"rev":2}`)
		default:
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
		}
	})

	store := newTestPartitionStore(t)
	partitions := types.NewPartitionSet("nutrify", "v1")

	creds := auth.NewCookieCredentials(testLogger())
	creds.Set("tok-1")

	monitor := &fakeConnectivity{online: true}
	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}, OfflineClientOptions{
		Store:        store,
		Partitions:   partitions,
		Connectivity: monitor,
		Credentials:  creds,
		APITTL:       time.Hour,
	})
	t.Cleanup(c.Close)

	body, status, err := c.Get("/items", nil)
	require.NoError(t, err)
	require.Equal(t, fasthttp.StatusOK, status)
	require.Equal(t, `{"rev":1}`, string(body))

	// While online every GET hits the upstream, so a fresh payload is
	// visible immediately.
	body, _, err = c.Get("/items", nil)
	require.NoError(t, err)
	require.Equal(t, `{"rev":2}`, string(body))
	require.Equal(t, 2, requests)

	// The latest payload is persisted for cold-start fallback.
	entry, ok := store.Get(context.Background(), partitions.API, baseURL+"/items")
	require.True(t, ok)
	require.Equal(t, `{"rev":2}`, string(entry.Body))

	// Upstream failing and connectivity lost: the memory cache answers
	// with the last good payload.
	monitor.online = false
	body, status, err = c.Get("/items", nil)
	require.NoError(t, err)
	require.Equal(t, fasthttp.StatusOK, status)
	require.Equal(t, `{"rev":2}`, string(body))
	require.Equal(t, 3, requests)
}

func TestOfflineClientFallsBackToPartition(t *testing.T) {
	baseURL := unreachableURL(t)

	store := newTestPartitionStore(t)
	partitions := types.NewPartitionSet("nutrify", "v1")

	require.NoError(t, store.Set(context.Background(), partitions.API, baseURL+"/items", &types.ResponseEntry{
		StatusCode: 200,
		Body:       []byte(`{"items":["cached"]}`),
	}, time.Hour))

	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: time.Second,
	}, OfflineClientOptions{
		Store:        store,
		Partitions:   partitions,
		Connectivity: &fakeConnectivity{online: false},
	})
	t.Cleanup(c.Close)

	body, status, err := c.Get("/items", nil)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, `{"items":["cached"]}`, string(body))
}

func TestOfflineClientGetNoCachedData(t *testing.T) {
	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: unreachableURL(t),
		Timeout: time.Second,
	}, OfflineClientOptions{
		Store:        newTestPartitionStore(t),
		Partitions:   types.NewPartitionSet("nutrify", "v1"),
		Connectivity: &fakeConnectivity{online: false},
	})
	t.Cleanup(c.Close)

	_, status, err := c.Get("/items", nil)
	require.ErrorIs(t, err, types.ErrNetworkUnreachable)
	require.Equal(t, fasthttp.StatusServiceUnavailable, status)
}

func TestOfflineClientUnauthorizedClearsCredentials(t *testing.T) {
	baseURL := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})

	creds := auth.NewCookieCredentials(testLogger())
	creds.Set("expired-token")

	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}, OfflineClientOptions{
		Store:        newTestPartitionStore(t),
		Partitions:   types.NewPartitionSet("nutrify", "v1"),
		Connectivity: &fakeConnectivity{online: true},
		Credentials:  creds,
	})
	t.Cleanup(c.Close)

	_, status, err := c.Get("/profile", nil)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.Equal(t, fasthttp.StatusUnauthorized, status)

	_, ok := creds.Token()
	require.False(t, ok)
}

func TestOfflineClientNilMonitorDoesNotPanic(t *testing.T) {
	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: unreachableURL(t),
		Timeout: time.Second,
	}, OfflineClientOptions{
		Store:      newTestPartitionStore(t),
		Partitions: types.NewPartitionSet("nutrify", "v1"),
	})
	t.Cleanup(c.Close)

	_, status, err := c.Get("/items", nil)
	require.ErrorIs(t, err, types.ErrNetworkUnreachable)
	require.Equal(t, fasthttp.StatusServiceUnavailable, status)

	_, _, err = c.Post("/items", map[string]string{"name": "apple"}, nil)
	require.Error(t, err)
}

func TestOfflineClientServerErrorKeepsUpstreamMessage(t *testing.T) {
	baseURL := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString(`{"message":"database down"}`)
	})

	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}, OfflineClientOptions{
		Store:        newTestPartitionStore(t),
		Partitions:   types.NewPartitionSet("nutrify", "v1"),
		Connectivity: &fakeConnectivity{online: true},
	})
	t.Cleanup(c.Close)

	body, status, err := c.Get("/items", nil)
	require.ErrorIs(t, err, types.ErrServerFailure)
	require.Contains(t, err.Error(), "database down")
	require.Equal(t, fasthttp.StatusServiceUnavailable, status)
	require.Equal(t, `{"message":"database down"}`, string(body))
}

func TestOfflineClientMutationFailsFastOffline(t *testing.T) {
	c := NewOfflineClient(context.Background(), testLogger(), "api", &types.UpstreamConfig{
		BaseURL: unreachableURL(t),
		Timeout: time.Second,
	}, OfflineClientOptions{
		Store:        newTestPartitionStore(t),
		Partitions:   types.NewPartitionSet("nutrify", "v1"),
		Connectivity: &fakeConnectivity{online: false},
	})
	t.Cleanup(c.Close)

	_, status, err := c.Post("/items", map[string]string{"name": "apple"}, nil)
	require.ErrorIs(t, err, types.ErrOfflineMutation)
	require.Equal(t, fasthttp.StatusServiceUnavailable, status)

	_, _, err = c.Delete("/items/1", nil)
	require.ErrorIs(t, err, types.ErrOfflineMutation)
}

func TestPlainClientSharesAuthInterceptors(t *testing.T) {
	var sawToken string
	baseURL := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		sawToken = string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})

	creds := auth.NewCookieCredentials(testLogger())
	creds.Set("tok-predict")

	c := newPlainClient(context.Background(), testLogger(), "predict", &types.UpstreamConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}, creds)
	t.Cleanup(c.Close)

	_, status, err := c.Post("/predict", map[string]string{"image": "x"}, nil)
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.Equal(t, fasthttp.StatusUnauthorized, status)
	require.Equal(t, "Bearer tok-predict", sawToken)

	_, ok := creds.Token()
	require.False(t, ok)
}

func TestManagerClientLookup(t *testing.T) {
	cfg := &types.GatewayConfig{
		Upstreams: map[string]*types.UpstreamConfig{
			"api": {BaseURL: "http://localhost:5000", Timeout: time.Second},
			"app": {BaseURL: "http://localhost:3000", Timeout: time.Second},
		},
	}

	manager, err := NewManager(context.Background(), testLogger(), config.NewStaticManager(cfg), OfflineClientOptions{
		Connectivity: &fakeConnectivity{online: true},
	})
	require.NoError(t, err)
	require.NoError(t, manager.Start())
	t.Cleanup(func() { _ = manager.Stop() })

	apiClient, err := manager.Client("api")
	require.NoError(t, err)
	require.IsType(t, &OfflineClient{}, apiClient)

	appClient, err := manager.Client("app")
	require.NoError(t, err)
	require.IsType(t, &plainClient{}, appClient)

	_, err = manager.Client("missing")
	require.ErrorIs(t, err, types.ErrClientNotFound)
}

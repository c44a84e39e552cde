package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/config"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func serverConfig(host string, port int) types.ConfigManager {
	return config.NewStaticManager(&types.GatewayConfig{
		Name:    "offline-gateway",
		Version: "v1",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            host,
				Port:            port,
				ReadTimeout:     1,
				WriteTimeout:    1,
				IdleTimeout:     1,
				ShutdownTimeout: 1,
			},
			TLS: &types.TLSConfig{Enabled: false},
		},
	})
}

func buildCtx(method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestNewHTTPServerRequiresFallback(t *testing.T) {
	_, err := NewHTTPServer(context.Background(), serverConfig("127.0.0.1", 0), testLogger(), nil, nil, nil)
	require.Error(t, err)
}

func TestRouteDispatch(t *testing.T) {
	srv, err := NewHTTPServer(context.Background(), serverConfig("127.0.0.1", 0), testLogger(), nil, nil,
		func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("fallback")
		})
	require.NoError(t, err)

	srv.Handle("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	srv.Handle("", func(ctx *fasthttp.RequestCtx) {})
	srv.Handle("/nil", nil)

	handler := srv.mainHandler()

	ctx := buildCtx(fasthttp.MethodGet, "http://localhost:8080/healthz")
	handler(ctx)
	require.Equal(t, "ok", string(ctx.Response.Body()))

	// Local endpoints answer HEAD too.
	ctx = buildCtx(fasthttp.MethodHead, "http://localhost:8080/healthz")
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	// Everything unregistered belongs to the fallback.
	ctx = buildCtx(fasthttp.MethodGet, "http://localhost:8080/anything")
	handler(ctx)
	require.Equal(t, "fallback", string(ctx.Response.Body()))

	// Mutations always go to the fallback, even on a registered path.
	ctx = buildCtx(fasthttp.MethodPost, "http://localhost:8080/healthz")
	handler(ctx)
	require.Equal(t, "fallback", string(ctx.Response.Body()))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := withRecovery(testLogger(), nil, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("partial")
		panic("handler exploded")
	})

	ctx := buildCtx(fasthttp.MethodGet, "http://localhost:8080/boom")
	handler(ctx)

	require.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	require.Empty(t, ctx.Response.Body())
}

func TestServerLifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv, err := NewHTTPServer(context.Background(), serverConfig("127.0.0.1", port), testLogger(), nil, nil,
		func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("up")
		})
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	require.True(t, srv.IsRunning())
	require.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	client := &fasthttp.Client{ReadTimeout: time.Second, WriteTimeout: time.Second}

	var status int
	var body []byte
	require.Eventually(t, func() bool {
		var err error
		status, body, err = client.GetTimeout(nil, "http://"+ln.Addr().String(), time.Second)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, fasthttp.StatusOK, status)
	require.Equal(t, "up", string(body))

	require.NoError(t, srv.Stop())
	require.False(t, srv.IsRunning())
	require.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)

	_, _, err = client.GetTimeout(nil, "http://"+ln.Addr().String(), time.Second)
	require.Error(t, err)
}

package connectivity

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

func startProbeTarget(t *testing.T, status int) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(status)
			ctx.SetConnectionClose()
		},
		ReadTimeout: time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return "http://" + ln.Addr().String()
}

func newTestMonitor(t *testing.T, baseURL string) *Monitor {
	t.Helper()

	cfg := &types.GatewayConfig{
		Upstreams: map[string]*types.UpstreamConfig{
			"api": {BaseURL: baseURL, Timeout: time.Second},
		},
		Connectivity: &types.ConnectivityConfig{
			Upstream:      "api",
			ProbePath:     "/random-items",
			ProbeInterval: time.Hour,
			ProbeTimeout:  time.Second,
		},
	}

	monitor, err := NewMonitor(context.Background(), testLogger(), config.NewStaticManager(cfg), nil)
	require.NoError(t, err)

	return monitor
}

func TestMonitorObserve(t *testing.T) {
	target := startProbeTarget(t, fasthttp.StatusOK)
	monitor := newTestMonitor(t, target)

	require.True(t, monitor.Online())
	require.True(t, monitor.Observe(context.Background()))
	require.True(t, monitor.Online())
}

func TestMonitorObserveUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	monitor := newTestMonitor(t, "http://"+addr)

	require.False(t, monitor.Observe(context.Background()))
	require.False(t, monitor.Online())
}

func TestMonitorErrorStatusStillCountsAsOnline(t *testing.T) {
	// A 404 from the probe path proves the network works. Only a dead
	// connection or a 5xx flips the flag.
	target := startProbeTarget(t, fasthttp.StatusNotFound)
	monitor := newTestMonitor(t, target)
	require.True(t, monitor.Observe(context.Background()))

	target = startProbeTarget(t, fasthttp.StatusInternalServerError)
	monitor = newTestMonitor(t, target)
	require.False(t, monitor.Observe(context.Background()))
}

func TestMonitorOnlineSubscribers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	monitor := newTestMonitor(t, "http://"+addr)

	var events []bool
	monitor.SubscribeOnline("test", func(online bool) {
		events = append(events, online)
	})

	// The first failed probe is a transition from the assumed-online
	// start state; the second one is not.
	monitor.Observe(context.Background())
	monitor.Observe(context.Background())
	require.Equal(t, []bool{false}, events)

	monitor.Unsubscribe("test")
	target := startProbeTarget(t, fasthttp.StatusOK)
	monitor = newTestMonitor(t, target)
	monitor.Observe(context.Background())
	require.Equal(t, []bool{false}, events)
}

func TestMonitorControllerSubscribers(t *testing.T) {
	monitor := newTestMonitor(t, "http://localhost:5000")

	var events []bool
	monitor.SubscribeController("test", func(active bool) {
		events = append(events, active)
	})

	require.False(t, monitor.ControllerActive())

	monitor.SetControllerActive(true)
	monitor.SetControllerActive(true)
	monitor.SetControllerActive(false)

	require.Equal(t, []bool{true, false}, events)
}

func TestMonitorLifecycle(t *testing.T) {
	target := startProbeTarget(t, fasthttp.StatusOK)
	monitor := newTestMonitor(t, target)

	require.NoError(t, monitor.Start())
	require.True(t, monitor.IsRunning())
	require.ErrorIs(t, monitor.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, monitor.Stop())
	require.False(t, monitor.IsRunning())
	require.ErrorIs(t, monitor.Stop(), types.ErrServerNotRunning)
}

func TestMonitorWithoutProbeTargetAssumesOnline(t *testing.T) {
	cfg := &types.GatewayConfig{
		Connectivity: &types.ConnectivityConfig{Upstream: "missing"},
	}

	monitor, err := NewMonitor(context.Background(), testLogger(), config.NewStaticManager(cfg), nil)
	require.NoError(t, err)

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop() })

	require.True(t, monitor.Online())
	require.True(t, monitor.Observe(context.Background()))
}

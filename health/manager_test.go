package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/config"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(context.Background(),
		config.NewStaticManager(config.NewLoader().Defaults()),
		logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, manager.Start())
	t.Cleanup(func() {
		if manager.IsRunning() {
			_ = manager.Stop()
		}
	})

	return manager
}

func healthCtx() *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI("http://localhost:8080/healthz")

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestCheckAggregatesResults(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("store", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("upstream", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "connection refused"}
	})

	report := manager.Check(context.Background())

	require.Equal(t, types.StatusUnhealthy, report.Status)
	require.Equal(t, 2, report.Summary.Total)
	require.Equal(t, 1, report.Summary.Healthy)
	require.Equal(t, 1, report.Summary.Unhealthy)
	require.Equal(t, "offline-gateway", report.Service.Name)
	require.Equal(t, "connection refused", report.Checks["upstream"].Message)
}

func TestCheckAllHealthy(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("store", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := manager.Check(context.Background())
	require.Equal(t, types.StatusHealthy, report.Status)
}

func TestCheckSurvivesPanickyChecker(t *testing.T) {
	manager := newTestManager(t)

	manager.RegisterChecker("broken", func(ctx context.Context) types.HealthCheck {
		panic("checker exploded")
	})

	report := manager.Check(context.Background())
	require.Equal(t, types.StatusUnhealthy, report.Status)
	require.Contains(t, report.Checks["broken"].Message, "panicked")
}

func TestHandlerStatusCodes(t *testing.T) {
	manager := newTestManager(t)
	handler := manager.Handler()

	manager.RegisterChecker("store", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	ctx := healthCtx()
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	require.Equal(t, types.StatusHealthy, report.Status)

	manager.RegisterChecker("upstream", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})

	ctx = healthCtx()
	handler(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	// A stopped manager answers 503 without running any checks.
	require.NoError(t, manager.Stop())
	ctx = healthCtx()
	handler(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestVersionHandler(t *testing.T) {
	manager := newTestManager(t)

	ctx := healthCtx()
	manager.VersionHandler()(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"version":"v1"`)
}

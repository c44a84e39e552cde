package server

import (
	"fmt"
	"runtime"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

var requestDurationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0}

// withRecovery converts handler panics into 500 responses so a single
// bad request cannot take the listener down.
func withRecovery(logger types.Logger, metrics types.MetricsManager, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.Error("Request handler panic",
					zap.String("method", string(ctx.Method())),
					zap.String("path", string(ctx.Path())),
					zap.Any("panic", rec),
					zap.String("stack", string(buf[:n])))

				if metrics != nil {
					metrics.Counter("http_panics_total", nil).Inc()
				}

				ctx.Response.Reset()
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			}
		}()

		next(ctx)
	}
}

// withAccessLog logs one line per request and records request metrics.
func withAccessLog(logger types.Logger, metrics types.MetricsManager, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		next(ctx)

		duration := time.Since(start)
		status := ctx.Response.StatusCode()

		logger.Debug("Request completed",
			zap.String("method", string(ctx.Method())),
			zap.String("path", string(ctx.Path())),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("remote_addr", ctx.RemoteAddr().String()))

		if metrics == nil {
			return
		}

		labels := map[string]string{
			"method": string(ctx.Method()),
			"status": fmt.Sprintf("%d", status),
		}

		metrics.Counter("http_requests_total", labels).Inc()
		metrics.Histogram("http_request_duration_seconds", requestDurationBuckets, nil).Observe(duration.Seconds())
	}
}

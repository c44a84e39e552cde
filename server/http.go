package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutrify-app/offline-gateway/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultShutdownTimeout = 5 * time.Second

// FastHTTPServer is the gateway's public listener. A handful of local
// endpoints (health, version, metrics) are matched by exact path; every
// other request is handed to the fallback handler, which owns the
// caching and forwarding decisions.
type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	tlsManager      types.TLSManager
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	state           atomic.Value
	shutdownTimeout time.Duration
	fallback        types.FastHTTPHandler
	routes          map[string]types.FastHTTPHandler
	routesMu        sync.RWMutex
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	tlsManager types.TLSManager,
	fallback types.FastHTTPHandler) (*FastHTTPServer, error) {
	if fallback == nil {
		return nil, types.NewErrorf("server requires a fallback handler")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := defaultShutdownTimeout
	if t := config.GetConfig().Server.HTTP.ShutdownTimeout; t > 0 {
		shutdownTimeout = time.Duration(t) * time.Second
	}

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		tlsManager:      tlsManager,
		httpConfig:      config.GetConfig().Server.HTTP,
		tlsConfig:       config.GetConfig().Server.TLS,
		shutdownTimeout: shutdownTimeout,
		fallback:        fallback,
		routes:          make(map[string]types.FastHTTPHandler),
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Handle registers a local endpoint matched by exact path for GET and
// HEAD requests. Registering an empty path or nil handler is a no-op.
func (h *FastHTTPServer) Handle(path string, handler types.FastHTTPHandler) {
	if path == "" || handler == nil {
		return
	}

	h.routesMu.Lock()
	h.routes[path] = handler
	h.routesMu.Unlock()
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if h.getState() == StateStarting {
			h.setState(StateRunning)
		}
	}()

	h.server = &fasthttp.Server{
		Handler:                      withRecovery(h.logger, h.metrics, withAccessLog(h.logger, h.metrics, h.mainHandler())),
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	go func() {
		var err error
		if h.tlsConfig != nil && h.tlsConfig.Enabled && h.tlsManager != nil {
			h.listener, err = h.tlsManager.Serve(addr)
			if err != nil {
				h.logger.Error("TLS HTTP server failed", zap.Error(err))
				return
			}
			err = h.server.Serve(h.listener)
		} else {
			h.listener, err = net.Listen("tcp", addr)
			if err != nil {
				h.logger.Error("HTTP listener failed", zap.Error(err))
				return
			}
			err = h.server.Serve(h.listener)
		}

		if err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.logger.Info("HTTP server started",
		zap.String("address", addr),
		zap.Bool("tls", h.tlsConfig != nil && h.tlsConfig.Enabled))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server != nil {
			if h.listener != nil {
				if err := h.listener.Close(); err != nil {
					h.logger.Error("Failed to close listener", zap.Error(err))
				}
			}

			if err := h.server.ShutdownWithContext(ctx); err != nil {
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have drained")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *FastHTTPServer) mainHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if ctx.IsGet() || ctx.IsHead() {
			if handler := h.findRoute(string(ctx.Path())); handler != nil {
				handler(ctx)
				return
			}
		}

		h.fallback(ctx)
	}
}

func (h *FastHTTPServer) findRoute(path string) types.FastHTTPHandler {
	h.routesMu.RLock()
	defer h.routesMu.RUnlock()
	return h.routes[path]
}

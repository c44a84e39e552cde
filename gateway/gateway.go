package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutrify-app/offline-gateway/auth"
	"github.com/nutrify-app/offline-gateway/cache"
	"github.com/nutrify-app/offline-gateway/client"
	"github.com/nutrify-app/offline-gateway/config"
	"github.com/nutrify-app/offline-gateway/connectivity"
	"github.com/nutrify-app/offline-gateway/cron"
	"github.com/nutrify-app/offline-gateway/governor"
	"github.com/nutrify-app/offline-gateway/health"
	"github.com/nutrify-app/offline-gateway/localcache"
	"github.com/nutrify-app/offline-gateway/logger"
	"github.com/nutrify-app/offline-gateway/metrics"
	"github.com/nutrify-app/offline-gateway/notify"
	"github.com/nutrify-app/offline-gateway/server"
	"github.com/nutrify-app/offline-gateway/tls"
	"github.com/nutrify-app/offline-gateway/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Gateway wires the offline caching edge together: the partition store,
// the request governor, the connectivity monitor, the notify hub and the
// public listener. Start blocks until shutdown.
type Gateway struct {
	ctx             context.Context
	cancel          context.CancelFunc
	configPath      string
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	container       *Container
}

func New(ctx context.Context, configPath string) (*Gateway, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "config file does not exist")
	}

	gatewayCtx, cancel := context.WithCancel(ctx)
	container := InitContainer()

	gw := &Gateway{
		ctx:             gatewayCtx,
		cancel:          cancel,
		configPath:      configPath,
		container:       container,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	gw.state.Store(StateStopped)

	if err := registerProviders(container, gatewayCtx, configPath); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	SetContainer(container)
	return gw, nil
}

func (g *Gateway) Start() error {
	if !g.transitionState(StateStopped, StateStarting) {
		Logger().Warn("Gateway is already running")
		return types.ErrGatewayIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("gateway panic: %v", r)
				Logger().Error("Gateway run panic", zap.Stack(string(buf[:n])))
				g.setState(StateStopped)
			}
		}()

		runErr = g.run()
	}()

	return runErr
}

func (g *Gateway) run() error {
	Logger().Info("Starting gateway")

	ctx, cancel := context.WithTimeout(g.ctx, g.startTimeout)
	defer cancel()

	if err := g.startComponents(ctx); err != nil {
		g.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	g.setState(StateRunning)
	g.setupSignalHandling()

	g.wg.Add(1)
	go g.contextMonitor()

	Logger().Info("Gateway started successfully")

	<-g.done

	if err := g.stopComponents(); err != nil {
		Logger().Error("Error during gateway shutdown", zap.Error(err))
	}

	g.wg.Wait()
	g.setState(StateStopped)

	Logger().Info("Gateway stopped gracefully")
	return nil
}

func (g *Gateway) Stop() error {
	if !g.transitionState(StateRunning, StateStopping) {
		Logger().Warn("Gateway is not running")
		return types.ErrGatewayIsNotRunning
	}

	Logger().Info("Stopping gateway...")
	g.cancel()

	return nil
}

func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

func (g *Gateway) Cancel() {
	g.cancel()
}

func (g *Gateway) Context() context.Context {
	return g.ctx
}

func (g *Gateway) IsRunning() bool {
	return g.getState() == StateRunning
}

func (g *Gateway) getState() State {
	return g.state.Load().(State)
}

func (g *Gateway) setState(newState State) bool {
	currentState := g.getState()
	return g.state.CompareAndSwap(currentState, newState)
}

func (g *Gateway) transitionState(from, to State) bool {
	return g.state.CompareAndSwap(from, to)
}

func (g *Gateway) startComponents(ctx context.Context) error {
	_config := Config().GetConfig()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if ptr := g.container.Config.Load(); ptr != nil {
			if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
				return types.WrapError(err, "failed to start config manager")
			}
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if ptr := g.container.Logger.Load(); ptr != nil {
			if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
				return types.WrapError(err, "failed to start logger")
			}
		}
	}

	if ptr := g.container.Metrics.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
			Logger().Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		select {
		case <-egCtx.Done():
			return egCtx.Err()
		default:
			if ptr := g.container.Store.Load(); ptr != nil {
				if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
					return types.WrapError(err, "failed to start partition store")
				}
			}
			return nil
		}
	})

	if _config.Server.TLS.Enabled {
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
				if ptr := g.container.TLSManager.Load(); ptr != nil {
					if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
						Logger().Error("Failed to start TLS manager", zap.Error(err))
					}
				}
				return nil
			}
		})
	}

	if _config.Notify.Enabled {
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
				if ptr := g.container.Hub.Load(); ptr != nil {
					if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
						Logger().Error("Failed to start notify hub", zap.Error(err))
					}
				}
				return nil
			}
		})
	}

	if err := eg.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	if ptr := g.container.LocalCache.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
			Logger().Error("Failed to start local cache", zap.Error(err))
		}
	}

	if ptr := g.container.Connectivity.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
			return types.WrapError(err, "failed to start connectivity monitor")
		}
	}

	if ptr := g.container.Clients.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
			Logger().Error("Failed to start client manager", zap.Error(err))
		}
	}

	// Install and activate before the listener opens so the first
	// request already finds warm partitions.
	if ptr := g.container.Governor.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
			return types.WrapError(err, "failed to start governor")
		}
	}

	if _config.Health.Enabled {
		if ptr := g.container.Health.Load(); ptr != nil {
			if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
				Logger().Error("Failed to start health manager", zap.Error(err))
			}
		}
	}

	if ptr := g.container.HTTPServer.Load(); ptr != nil {
		if err := (*ptr).Start(); err != nil {
			return types.WrapError(err, "failed to start HTTP server")
		}
	}

	if _config.Cron.Enabled {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if ptr := g.container.Cron.Load(); ptr != nil {
				if err := (*ptr).(types.LifecycleManager).Start(); err != nil {
					Logger().Error("Failed to start cron manager", zap.Error(err))
				}
			}
		}
	}

	Logger().Info("All components started successfully")
	return nil
}

func (g *Gateway) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()

	var errs []error

	Logger().Info("Stopping gateway components...")

	if ptr := g.container.Cron.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Stop(); err != nil {
			Logger().Error("Failed to stop cron manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if ptr := g.container.HTTPServer.Load(); ptr != nil {
		if err := (*ptr).Stop(); err != nil {
			Logger().Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if ptr := g.container.Governor.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Stop(); err != nil {
			Logger().Error("Failed to stop governor", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if ptr := g.container.Clients.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Stop(); err != nil {
			Logger().Error("Failed to stop client manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if ptr := g.container.Connectivity.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Stop(); err != nil {
			Logger().Error("Failed to stop connectivity monitor", zap.Error(err))
			errs = append(errs, err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if ptr := g.container.Hub.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
				if err := manager.Stop(); err != nil {
					Logger().Error("Failed to stop notify hub", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if ptr := g.container.TLSManager.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			if err := manager.Stop(); err != nil {
				Logger().Error("Failed to stop TLS manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if ptr := g.container.LocalCache.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			if err := manager.Stop(); err != nil {
				Logger().Error("Failed to stop local cache", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if ptr := g.container.Store.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			if err := manager.Stop(); err != nil {
				Logger().Error("Failed to stop partition store", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if ptr := g.container.Metrics.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			if err := manager.Stop(); err != nil {
				Logger().Error("Failed to stop metrics manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if ptr := g.container.Health.Load(); ptr != nil {
		manager := (*ptr).(types.LifecycleManager)
		eg.Go(func() error {
			if err := manager.Stop(); err != nil {
				Logger().Error("Failed to stop health manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		select {
		case <-ctx.Done():
			Logger().Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if ptr := g.container.Config.Load(); ptr != nil {
		if err := (*ptr).(types.LifecycleManager).Stop(); err != nil {
			Logger().Error("Failed to stop config manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	Logger().Info("All components stopped successfully")
	return nil
}

func (g *Gateway) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		select {
		case sig := <-sigChan:
			Logger().Info("Received shutdown signal", zap.String("signal", sig.String()))
			if g.transitionState(StateRunning, StateStopping) {
				g.cancel()
			}

		case <-g.ctx.Done():
			Logger().Info("Gateway context cancelled")
		}

		signal.Stop(sigChan)
		close(sigChan)
	}()
}

func (g *Gateway) contextMonitor() {
	defer g.wg.Done()
	defer close(g.done)

	<-g.ctx.Done()

	switch err := g.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		Logger().Info("Gateway shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		Logger().Warn("Gateway shutdown: context deadline exceeded")
	default:
		Logger().Info("Gateway shutdown: context done")
	}
}

func registerProviders(container *Container, ctx context.Context, configPath string) error {
	var tlsManager types.TLSManager
	var hub types.NotifyHub
	var localCache types.LocalCache
	var healthManager types.HealthManager

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to register config manager")
	}
	container.SetConfig(configManager)

	_config := configManager.GetConfig()

	loggerManager, err := logger.NewManager(ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	container.SetLogger(loggerManager)

	metricsManager, err := metrics.NewManager(ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}
	container.SetMetrics(metricsManager)

	store, err := cache.NewPartitionStore(ctx, configManager, loggerManager, metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to register partition store")
	}
	container.SetStore(store)

	localCache, err = localcache.NewStore(ctx, loggerManager, _config.LocalCache, store, _config.Store.Prefix)
	if err != nil && !types.IsError(err, types.ErrStoreIsDisabled) {
		return types.WrapError(err, "failed to register local cache")
	}
	if localCache != nil {
		container.SetLocalCache(localCache)
	}

	credentials := auth.NewCookieCredentials(loggerManager)
	container.SetCredentials(credentials)

	if _config.Notify.Enabled {
		hub, err = notify.NewHub(ctx, loggerManager, configManager)
		if err != nil {
			return types.WrapError(err, "failed to register notify hub")
		}
		container.SetHub(hub)
	}

	monitor, err := connectivity.NewMonitor(ctx, loggerManager, configManager, hub)
	if err != nil {
		return types.WrapError(err, "failed to register connectivity monitor")
	}
	container.SetConnectivity(monitor)

	clientManager, err := client.NewManager(ctx, loggerManager, configManager, client.OfflineClientOptions{
		Store:        store,
		Partitions:   types.NewPartitionSet(_config.Store.Prefix, _config.Version),
		Connectivity: monitor,
		Credentials:  credentials,
	})
	if err != nil {
		return types.WrapError(err, "failed to register client manager")
	}
	container.SetClients(clientManager)

	gov, err := governor.New(ctx, loggerManager, configManager, store, monitor, hub, metricsManager, credentials)
	if err != nil {
		return types.WrapError(err, "failed to register governor")
	}
	container.SetGovernor(gov)

	if _config.Health.Enabled {
		healthManager, err = health.NewManager(ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register health manager")
		}
		registerHealthCheckers(healthManager, store, monitor, gov)
		container.SetHealth(healthManager)
	}

	if _config.Server.TLS.Enabled {
		tlsManager, err = tls.NewCertManager(ctx, loggerManager, configManager)
		if err != nil {
			return types.WrapError(err, "failed to register TLS manager")
		}
		container.SetTLSManager(tlsManager)
	}

	if _config.Cron.Enabled {
		cronManager, err := cron.NewManager(ctx, configManager, loggerManager, metricsManager)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
		if err := cron.RegisterMaintenanceJobs(cronManager, loggerManager, localCache, store); err != nil {
			return types.WrapError(err, "failed to register maintenance jobs")
		}
		container.SetCron(cronManager)
	}

	httpServer, err := server.NewHTTPServer(ctx, configManager, loggerManager, metricsManager, tlsManager, gov.Handle)
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	if healthManager != nil {
		httpServer.Handle(_config.Health.Path, healthManager.Handler())
		httpServer.Handle("/version", healthManager.VersionHandler())
	}

	if _config.Metrics.Enabled {
		if prom, ok := metricsManager.(*metrics.PrometheusMetrics); ok {
			httpServer.Handle(_config.Metrics.Path, prom.Handler())
		}
	}

	container.SetHTTPServer(httpServer)

	return nil
}

func registerHealthCheckers(hm types.HealthManager, store types.PartitionStore, monitor types.ConnectivityMonitor, gov types.Governor) {
	hm.RegisterChecker("partition_store", func(ctx context.Context) types.HealthCheck {
		check := types.HealthCheck{Name: "partition_store", LastCheck: time.Now()}

		if !store.IsRunning() {
			check.Status = types.StatusUnhealthy
			check.Message = "partition store is not running"
			return check
		}

		partitions, err := store.Partitions(ctx)
		if err != nil {
			check.Status = types.StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Status = types.StatusHealthy
		check.Details = map[string]interface{}{"partitions": len(partitions)}
		return check
	})

	// Offline is a supported mode, not a failure. The check stays healthy
	// and reports reachability as a detail.
	hm.RegisterChecker("connectivity", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{
			Name:      "connectivity",
			Status:    types.StatusHealthy,
			LastCheck: time.Now(),
			Details:   map[string]interface{}{"online": monitor.Online()},
		}
	})

	hm.RegisterChecker("governor", func(ctx context.Context) types.HealthCheck {
		check := types.HealthCheck{Name: "governor", LastCheck: time.Now()}

		if !gov.IsRunning() {
			check.Status = types.StatusUnhealthy
			check.Message = "governor is not running"
			return check
		}

		check.Status = types.StatusHealthy
		check.Details = map[string]interface{}{
			"version":     gov.Version(),
			"controlling": gov.Controlling(),
		}
		return check
	})
}

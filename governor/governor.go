package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

type GovernorState int32

const (
	GovernorStateStopped GovernorState = iota
	GovernorStateStarting
	GovernorStateRunning
	GovernorStateStopping
)

type upstream struct {
	name    string
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
}

// Gov intercepts every request the gateway serves and applies the
// per-class caching strategy: network-first for API calls, cache-first
// for static assets, the navigation fallback chain for documents. It
// owns the versioned partitions and the install/activate lifecycle that
// rolls them over.
type Gov struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       types.ConfigManager
	store        types.PartitionStore
	connectivity types.ConnectivityMonitor
	hub          types.NotifyHub
	metrics      types.MetricsManager
	credentials  types.CredentialSource

	upstreams map[string]*upstream

	versionMu   sync.RWMutex
	version     string
	staged      string
	partitions  types.PartitionSet
	controlling atomic.Bool

	state           atomic.Value
	shutdownTimeout time.Duration
}

func New(ctx context.Context, logger types.Logger, config types.ConfigManager, store types.PartitionStore, connectivity types.ConnectivityMonitor, hub types.NotifyHub, metrics types.MetricsManager, credentials types.CredentialSource) (types.Governor, error) {
	gatewayConfig := config.GetConfig()

	governorCtx, cancel := context.WithCancel(ctx)

	upstreams := make(map[string]*upstream, len(gatewayConfig.Upstreams))
	for name, upstreamConfig := range gatewayConfig.Upstreams {
		timeout := upstreamConfig.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		upstreams[name] = &upstream{
			name:    name,
			baseURL: upstreamConfig.BaseURL,
			client: &fasthttp.Client{
				ReadTimeout:  timeout,
				WriteTimeout: timeout,
			},
			timeout: timeout,
		}
	}

	g := &Gov{
		ctx:             governorCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		store:           store,
		connectivity:    connectivity,
		hub:             hub,
		metrics:         metrics,
		credentials:     credentials,
		upstreams:       upstreams,
		version:         gatewayConfig.Version,
		partitions:      types.NewPartitionSet(gatewayConfig.Store.Prefix, gatewayConfig.Version),
		shutdownTimeout: 10 * time.Second,
	}

	g.state.Store(GovernorStateStopped)

	if hub != nil {
		if err := hub.Subscribe(types.MsgSkipWaiting, func(msg *types.NotifyMessage) error {
			return g.SkipWaiting()
		}); err != nil {
			logger.Warn("failed to subscribe to skip-waiting messages", zap.Error(err))
		}
	}

	return g, nil
}

func (g *Gov) Start() error {
	if !g.transitionState(GovernorStateStopped, GovernorStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if g.getState() == GovernorStateStarting {
			g.setState(GovernorStateRunning)
		}
	}()

	if err := g.Install(); err != nil {
		g.logger.Warn("install finished with failures", zap.Error(err))
	}

	if err := g.Activate(); err != nil {
		g.setState(GovernorStateStopped)
		return err
	}

	g.logger.Info("Request governor started",
		zap.String("version", g.Version()),
		zap.Strings("partitions", g.currentPartitions().Names()))
	return nil
}

func (g *Gov) Stop() error {
	if !g.transitionState(GovernorStateRunning, GovernorStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		g.setState(GovernorStateStopped)
		g.cancel()
	}()

	g.controlling.Store(false)
	if g.connectivity != nil {
		g.connectivity.SetControllerActive(false)
	}

	g.logger.Info("Request governor stopped gracefully")
	return nil
}

func (g *Gov) IsRunning() bool {
	return g.getState() == GovernorStateRunning
}

func (g *Gov) Controlling() bool {
	return g.controlling.Load()
}

func (g *Gov) Version() string {
	g.versionMu.RLock()
	defer g.versionMu.RUnlock()
	return g.version
}

// StageVersion records a new version without switching to it and tells
// connected pages an update is waiting. The switch happens on SkipWaiting.
func (g *Gov) StageVersion(version string) error {
	g.versionMu.Lock()
	if version == g.version {
		g.versionMu.Unlock()
		return types.Errorf(types.ErrGovernorAlreadyStaged, "version %s is already active", version)
	}
	if g.staged == version {
		g.versionMu.Unlock()
		return types.Errorf(types.ErrGovernorAlreadyStaged, "version %s", version)
	}
	g.staged = version
	g.versionMu.Unlock()

	g.logger.Info("new version staged",
		zap.String("current", g.Version()),
		zap.String("staged", version))

	if g.hub != nil {
		if err := g.hub.Publish(types.MsgUpdateAvailable, map[string]string{"version": version}); err != nil {
			g.logger.Warn("failed to announce staged version", zap.Error(err))
		}
	}

	return nil
}

// SkipWaiting promotes the staged version: new partitions are warmed,
// activation drops the old ones, and pages are told the controller
// changed.
func (g *Gov) SkipWaiting() error {
	g.versionMu.Lock()
	if g.staged == "" {
		g.versionMu.Unlock()
		return types.ErrGovernorNothingStaged
	}
	g.version = g.staged
	g.staged = ""
	g.partitions = types.NewPartitionSet(g.config.GetConfig().Store.Prefix, g.version)
	g.versionMu.Unlock()

	g.logger.Info("skip waiting requested, switching version",
		zap.String("version", g.Version()))

	if err := g.Install(); err != nil {
		g.logger.Warn("install for promoted version finished with failures", zap.Error(err))
	}

	return g.Activate()
}

// Activate makes the current version's partitions authoritative: every
// partition under our prefix that the current set does not own is
// dropped, and the governor starts controlling requests.
func (g *Gov) Activate() error {
	partitions := g.currentPartitions()
	prefix := g.config.GetConfig().Store.Prefix

	ctx, cancel := context.WithTimeout(g.ctx, 30*time.Second)
	defer cancel()

	names, err := g.store.Partitions(ctx)
	if err != nil {
		return types.WrapError(err, "failed to list partitions for activation")
	}

	for _, name := range names {
		if !hasVersionPrefix(name, prefix) || partitions.Contains(name) {
			continue
		}
		if err := g.store.Drop(ctx, name); err != nil {
			g.logger.Warn("failed to drop stale partition",
				zap.String("partition", name),
				zap.Error(err))
			continue
		}
		g.logger.Info("dropped stale partition", zap.String("partition", name))
	}

	g.controlling.Store(true)
	if g.connectivity != nil {
		g.connectivity.SetControllerActive(true)
	}

	if g.hub != nil {
		if err := g.hub.Publish(types.MsgActivated, map[string]string{"version": g.Version()}); err != nil {
			g.logger.Warn("failed to announce activation", zap.Error(err))
		}
	}

	return nil
}

func (g *Gov) currentPartitions() types.PartitionSet {
	g.versionMu.RLock()
	defer g.versionMu.RUnlock()
	return g.partitions
}

func (g *Gov) getState() GovernorState {
	return g.state.Load().(GovernorState)
}

func (g *Gov) setState(newState GovernorState) bool {
	currentState := g.getState()
	return g.state.CompareAndSwap(currentState, newState)
}

func (g *Gov) transitionState(from, to GovernorState) bool {
	return g.state.CompareAndSwap(from, to)
}

func hasVersionPrefix(name, prefix string) bool {
	return len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '-'
}

func (g *Gov) recordRequest(class types.RequestClass, outcome string) {
	if g.metrics == nil {
		return
	}

	counter := g.metrics.Counter("governor_requests_total", map[string]string{
		"class":   class.String(),
		"outcome": outcome,
	})
	counter.Inc()
}

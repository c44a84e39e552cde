package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Monitor probes one upstream on a timer and keeps the resulting online
// flag. Transitions fan out to named subscribers and, when a hub is
// attached, to connected pages. It also tracks whether the request
// governor is actively controlling traffic, which flips the same way a
// page learns its controller changed.
type Monitor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	config     *types.ConnectivityConfig
	hub        types.NotifyHub
	probe      *fasthttp.Client
	probeURL   string
	online     atomic.Bool
	controller atomic.Bool

	mu             sync.RWMutex
	onlineSubs     map[string]func(online bool)
	controllerSubs map[string]func(active bool)
	stopProbe      chan struct{}
	probeDone      chan struct{}
	started        int32
}

func NewMonitor(ctx context.Context, logger types.Logger, config types.ConfigManager, hub types.NotifyHub) (*Monitor, error) {
	gatewayConfig := config.GetConfig()
	connectivityConfig := gatewayConfig.Connectivity
	if connectivityConfig == nil {
		connectivityConfig = &types.ConnectivityConfig{}
	}

	probeURL := ""
	if upstream, exists := gatewayConfig.Upstreams[connectivityConfig.Upstream]; exists {
		probeURL = upstream.BaseURL + connectivityConfig.ProbePath
	}

	timeout := connectivityConfig.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		ctx:            monitorCtx,
		cancel:         cancel,
		logger:         logger,
		config:         connectivityConfig,
		hub:            hub,
		probe:          &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		probeURL:       probeURL,
		onlineSubs:     make(map[string]func(online bool)),
		controllerSubs: make(map[string]func(active bool)),
		stopProbe:      make(chan struct{}),
		probeDone:      make(chan struct{}),
	}

	// Assume online until a probe says otherwise.
	m.online.Store(true)

	return m, nil
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Observe runs one probe immediately and returns the fresh state.
func (m *Monitor) Observe(ctx context.Context) bool {
	online := m.runProbe()
	m.setOnline(online)
	return online
}

func (m *Monitor) ControllerActive() bool {
	return m.controller.Load()
}

func (m *Monitor) SetControllerActive(active bool) {
	if m.controller.Swap(active) == active {
		return
	}

	m.logger.Info("controller state changed", zap.Bool("active", active))

	m.mu.RLock()
	subs := make([]func(bool), 0, len(m.controllerSubs))
	for _, fn := range m.controllerSubs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(active)
	}
}

func (m *Monitor) SubscribeOnline(name string, fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onlineSubs[name] = fn
}

func (m *Monitor) SubscribeController(name string, fn func(active bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllerSubs[name] = fn
}

func (m *Monitor) Unsubscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.onlineSubs, name)
	delete(m.controllerSubs, name)
}

func (m *Monitor) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	if m.probeURL == "" {
		m.logger.Warn("connectivity monitor started without a probe target, assuming online")
		close(m.probeDone)
		return nil
	}

	go m.probeLoop()

	m.logger.Info("Connectivity monitor started",
		zap.String("probe_url", m.probeURL),
		zap.Duration("interval", m.interval()))
	return nil
}

func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	close(m.stopProbe)
	m.cancel()

	select {
	case <-m.probeDone:
	case <-time.After(defaultProbeTimeout):
		m.logger.Warn("connectivity probe loop stop timeout")
	}

	m.logger.Info("Connectivity monitor stopped gracefully")
	return nil
}

func (m *Monitor) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *Monitor) interval() time.Duration {
	if m.config.ProbeInterval > 0 {
		return m.config.ProbeInterval
	}
	return defaultProbeInterval
}

func (m *Monitor) probeLoop() {
	defer close(m.probeDone)

	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	m.setOnline(m.runProbe())

	for {
		select {
		case <-m.stopProbe:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.setOnline(m.runProbe())
		}
	}
}

func (m *Monitor) runProbe() bool {
	if m.probeURL == "" {
		return true
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(m.probeURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := m.config.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	err := m.probe.DoTimeout(req, resp, timeout)
	if err != nil {
		return false
	}

	// Any answer means the network path works, even an error status.
	return resp.StatusCode() < fasthttp.StatusInternalServerError
}

func (m *Monitor) setOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost")
	}

	m.mu.RLock()
	subs := make([]func(bool), 0, len(m.onlineSubs))
	for _, fn := range m.onlineSubs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(online)
	}

	if m.hub != nil {
		event := &types.ConnectivityEvent{Online: online, Timestamp: time.Now()}
		if err := m.hub.Publish(types.MsgConnectivity, event); err != nil {
			m.logger.Warn("failed to publish connectivity event", zap.Error(err))
		}
	}
}

var _ types.ConnectivityMonitor = (*Monitor)(nil)

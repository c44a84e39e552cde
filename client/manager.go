package client

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

// Manager owns one client per configured upstream. The primary API
// upstream gets the offline-aware client; every other upstream gets a
// plain HTTP client because their responses must never be served stale.
type Manager struct {
	ctx     context.Context
	logger  types.Logger
	config  types.ConfigManager
	opts    OfflineClientOptions
	mu      sync.RWMutex
	clients map[string]types.APIClient
	started int32
}

const apiUpstreamName = "api"

func NewManager(ctx context.Context, logger types.Logger, config types.ConfigManager, opts OfflineClientOptions) (*Manager, error) {
	gatewayConfig := config.GetConfig()

	clients := make(map[string]types.APIClient, len(gatewayConfig.Upstreams))

	for name, upstreamConfig := range gatewayConfig.Upstreams {
		if name == apiUpstreamName {
			clients[name] = NewOfflineClient(ctx, logger, name, upstreamConfig, opts)
			continue
		}
		clients[name] = newPlainClient(ctx, logger, name, upstreamConfig, opts.Credentials)
	}

	return &Manager{
		ctx:     ctx,
		logger:  logger,
		config:  config,
		opts:    opts,
		clients: clients,
	}, nil
}

func (m *Manager) Client(name string) (types.APIClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[name]
	if !exists {
		return nil, types.Errorf(types.ErrClientNotFound, "upstream: %s", name)
	}
	return client, nil
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Client manager started",
		zap.Int("upstreams", len(m.clients)))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, client := range m.clients {
		client.Close()
		m.logger.Debug("upstream client closed", zap.String("upstream", name))
	}

	m.logger.Info("Client manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

// plainClient adapts HTTPClient to the APIClient interface without any
// caching or offline behavior. It still runs the shared pipeline, so
// auth attach and 401 handling match the offline-aware client.
type plainClient struct {
	pipeline *callPipeline
}

func newPlainClient(ctx context.Context, logger types.Logger, name string, config *types.UpstreamConfig, credentials types.CredentialSource) *plainClient {
	return &plainClient{
		pipeline: &callPipeline{
			http:        NewHTTPClient(ctx, logger, name, config),
			credentials: credentials,
		},
	}
}

func (p *plainClient) Get(path string, opts *types.CallOptions) ([]byte, int, error) {
	return p.pipeline.call("GET", path, nil, opts)
}

func (p *plainClient) Post(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return p.pipeline.call("POST", path, data, opts)
}

func (p *plainClient) Put(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return p.pipeline.call("PUT", path, data, opts)
}

func (p *plainClient) Patch(path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	return p.pipeline.call("PATCH", path, data, opts)
}

func (p *plainClient) Delete(path string, opts *types.CallOptions) ([]byte, int, error) {
	return p.pipeline.call("DELETE", path, nil, opts)
}

func (p *plainClient) Close() {
	p.pipeline.http.Close()
}

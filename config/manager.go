package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nutrify-app/offline-gateway/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.GatewayConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Value
	mu          sync.RWMutex
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)

	if err := cm.Load(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an already-built config, used by tests and by
// embedders that assemble the gateway programmatically.
func NewStaticManager(config *types.GatewayConfig) *ConfigurationManager {
	ctx, cancel := context.WithCancel(context.Background())

	cm := &ConfigurationManager{
		ctx:         ctx,
		cancel:      cancel,
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)
	cm.config.Store(config)
	cm.parser.Store(NewParser(config))

	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(nil)
	cm.parser.Store(nil)

	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigInvalidPath
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	type result struct {
		config *types.GatewayConfig
		err    error
	}

	resultChan := make(chan result, 1)
	go func() {
		config, err := cm.loader.LoadFromFile(cm.configPath)
		resultChan <- result{config: config, err: err}
	}()

	var config *types.GatewayConfig
	select {
	case res := <-resultChan:
		if res.err != nil {
			return types.WrapError(res.err, "failed to load configuration from file")
		}
		config = res.config
	case <-loadCtx.Done():
		return types.WrapError(loadCtx.Err(), "configuration load timeout")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(config))

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.GatewayConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *ConfigurationManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

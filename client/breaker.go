package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

type CircuitBreakerState int32

const (
	StateBreakerClosed CircuitBreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
	StateBreakerStopped
)

type CircuitBreaker struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       *types.CircuitBreakerConfig
	logger       types.Logger
	upstreamName string
	state        atomic.Value
	failures     atomic.Int32
	successes    atomic.Int32
	lastFail     atomic.Int64
	mutex        sync.RWMutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, upstreamName string) *CircuitBreaker {
	if config == nil || !config.Enabled {
		cb := &CircuitBreaker{
			config:       &types.CircuitBreakerConfig{Enabled: false},
			logger:       logger,
			upstreamName: upstreamName,
		}
		cb.state.Store(StateBreakerStopped)
		return cb
	}

	ctx, cancel := context.WithCancel(context.Background())

	cb := &CircuitBreaker{
		ctx:          ctx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		upstreamName: upstreamName,
	}

	cb.state.Store(StateBreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		return true
	case StateBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFail.Load())) > cb.config.RecoveryTimeout {
			cb.transitionToHalfOpen()
			return true
		}
		return false
	case StateBreakerHalfOpen:
		return true
	case StateBreakerStopped:
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		cb.failures.Store(0)
	case StateBreakerOpen:
		cb.logger.Warn("Success recorded in open circuit breaker state",
			zap.String("upstream", cb.upstreamName))
	case StateBreakerHalfOpen:
		successes := cb.successes.Add(1)
		if successes >= int32(cb.config.HalfOpenRequests) {
			cb.transitionToClosed()
		}
	case StateBreakerStopped:
		return
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().UnixNano())

	switch cb.getStateUnsafe() {
	case StateBreakerStopped:
		return
	case StateBreakerClosed:
		failures := cb.failures.Add(1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}
	case StateBreakerOpen:
	case StateBreakerHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) GetStateString() string {
	if cb == nil || !cb.config.Enabled {
		return "disabled"
	}

	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return cb.stateToString(cb.getStateUnsafe())
}

func (cb *CircuitBreaker) Stop() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	currentState := cb.getStateUnsafe()
	cb.mutex.Unlock()

	if currentState == StateBreakerStopped {
		return
	}

	if cb.transitionState(currentState, StateBreakerStopped) {
		cb.cancel()
	}
}

func (cb *CircuitBreaker) getStateUnsafe() CircuitBreakerState {
	state := cb.state.Load()
	if state == nil {
		return StateBreakerClosed
	}
	return state.(CircuitBreakerState)
}

func (cb *CircuitBreaker) transitionState(from, to CircuitBreakerState) bool {
	return cb.state.CompareAndSwap(from, to)
}

func (cb *CircuitBreaker) transitionToClosed() {
	currentState := cb.getStateUnsafe()
	if cb.transitionState(currentState, StateBreakerClosed) {
		cb.failures.Store(0)
		cb.successes.Store(0)
		cb.lastFail.Store(0)
		cb.logger.Info("Circuit breaker closed",
			zap.String("upstream", cb.upstreamName))
	}
}

func (cb *CircuitBreaker) transitionToOpen() {
	currentState := cb.getStateUnsafe()
	if cb.transitionState(currentState, StateBreakerOpen) {
		cb.failures.Store(1)
		cb.successes.Store(0)
		cb.logger.Warn("Circuit breaker opened",
			zap.String("upstream", cb.upstreamName),
			zap.Int32("failures", cb.failures.Load()),
			zap.Int("threshold", cb.config.FailureThreshold))
	}
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	currentState := cb.getStateUnsafe()
	if cb.transitionState(currentState, StateBreakerHalfOpen) {
		cb.successes.Store(0)
		cb.logger.Info("Circuit breaker transitioned to half-open",
			zap.String("upstream", cb.upstreamName))
	}
}

func (cb *CircuitBreaker) stateToString(state CircuitBreakerState) string {
	switch state {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	case StateBreakerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 429, 408, 502, 503, 504:
		return true
	default:
		return false
	}
}

func IsSuccessfulResponse(statusCode int, err error) bool {
	if err != nil {
		return false
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return true
	case statusCode >= 400 && statusCode < 500:
		return statusCode != 429 && statusCode != 408
	default:
		return false
	}
}

// IsNetworkError reports whether an error means the upstream was
// unreachable rather than the request being rejected. It decides which
// arm of the offline fallback chain runs.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNABORTED) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return true
		}
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT:
			return true
		}
	}

	return false
}

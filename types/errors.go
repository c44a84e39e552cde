package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrPartitionNotFound     = errors.New("cache partition not found")
	ErrPartitionKeyEmpty     = errors.New("cache partition key empty")
	ErrPartitionNameEmpty    = errors.New("cache partition name empty")
	ErrStoreConnectionFailed = errors.New("cache store connection failed")
	ErrStoreTypeUnknown      = errors.New("cache store type unknown")
	ErrStoreOperationFailed  = errors.New("cache store operation failed")
	ErrStoreIsDisabled       = errors.New("cache store is disabled")
)

var (
	ErrLocalCacheKeyEmpty   = errors.New("local cache key empty")
	ErrLocalCacheKeyUnknown = errors.New("local cache key unknown")
	ErrLocalCacheOpenFailed = errors.New("local cache open failed")
	ErrLocalCacheClosed     = errors.New("local cache closed")
)

var (
	ErrClientNotFound        = errors.New("client not found")
	ErrClientNotRunning      = errors.New("client not running")
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServerFailure      = errors.New("server failure")
	ErrValidationFailed   = errors.New("validation failed")
	ErrOfflineMutation    = errors.New("mutation attempted while offline")
)

var (
	ErrGovernorNotActive     = errors.New("governor not active")
	ErrGovernorAlreadyStaged = errors.New("governor version already staged")
	ErrGovernorNothingStaged = errors.New("no governor version staged")
	ErrPrecacheFailed        = errors.New("precache failed")
)

var (
	ErrNotifyNotRunning    = errors.New("notify hub not running")
	ErrNotifyPublishFailed = errors.New("notify publish failed")
	ErrNotifyClientClosed  = errors.New("notify client closed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
)

var (
	ErrGatewayIsRunning     = errors.New("gateway is running")
	ErrGatewayIsNotRunning  = errors.New("gateway is not running")
	ErrComponentNotFound    = errors.New("component not found")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrNotImplemented   = errors.New("not implemented")
	ErrResourceNotFound = errors.New("resource not found")
	ErrInternalError    = errors.New("internal error")
	ErrContextCancelled = errors.New("context cancelled")
	ErrContextTimeout   = errors.New("context timeout")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotSupported     = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

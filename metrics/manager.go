package metrics

import (
	"context"
	"sync"

	"github.com/nutrify-app/offline-gateway/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

// NewManager returns the configured metrics backend, or the no-op one
// when metrics are disabled, so callers never need a nil check.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics

	if metricsConfig == nil || !metricsConfig.Enabled {
		return NewNoopMetrics(), nil
	}

	switch metricsConfig.Type {
	case "", "prometheus":
		return NewPrometheusMetrics(ctx, logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators.Load(metricsConfig.Type); exists {
			return creator.(types.MetricsManagerCreator)(metricsConfig)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
	}
}

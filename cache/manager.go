package cache

import (
	"context"
	"time"

	"github.com/nutrify-app/offline-gateway/types"
)

var customStoreCreators = make(map[string]types.PartitionStoreCreator)

func RegisterPartitionStore(storeName string, creator types.PartitionStoreCreator) {
	customStoreCreators[storeName] = creator
}

func NewPartitionStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.PartitionStore, error) {
	storeConfig := config.GetConfig().Store

	storeName := storeConfig.Type
	if storeName == "" {
		storeName = "memory"
	}

	var impl types.PartitionStore
	var err error

	switch storeName {
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, storeConfig)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, storeConfig)
	case "clover":
		impl, err = NewCloverStore(ctx, logger, storeConfig)
	default:
		if creator, exists := customStoreCreators[storeName]; exists {
			impl, err = creator(storeConfig)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", storeName)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(logger, metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.PartitionStore
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.PartitionStore) types.PartitionStore {
	return &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, partition, key string) (*types.ResponseEntry, bool) {
	start := time.Now()
	entry, exists := is.impl.Get(ctx, partition, key)
	duration := time.Since(start)

	result := "miss"
	if exists {
		result = "hit"
	}

	is.recordMetric("get", result, duration)
	return entry, exists
}

func (is *instrumentedStore) Set(ctx context.Context, partition, key string, entry *types.ResponseEntry, ttl time.Duration) error {
	start := time.Now()
	err := is.impl.Set(ctx, partition, key, entry, ttl)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	is.recordMetric("set", result, duration)
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, partition, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, partition, key)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	is.recordMetric("delete", result, duration)
	return err
}

func (is *instrumentedStore) Keys(ctx context.Context, partition string) ([]string, error) {
	return is.impl.Keys(ctx, partition)
}

func (is *instrumentedStore) Drop(ctx context.Context, partition string) error {
	start := time.Now()
	err := is.impl.Drop(ctx, partition)
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	is.recordMetric("drop", result, duration)
	return err
}

func (is *instrumentedStore) Partitions(ctx context.Context) ([]string, error) {
	return is.impl.Partitions(ctx)
}

func (is *instrumentedStore) Size(ctx context.Context, partition string) (int64, error) {
	return is.impl.Size(ctx, partition)
}

func (is *instrumentedStore) Start() error {
	start := time.Now()
	err := is.impl.Start()
	duration := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}

	is.recordMetric("start", result, duration)

	return err
}

func (is *instrumentedStore) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStore) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

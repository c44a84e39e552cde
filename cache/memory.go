package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type MemoryConfig struct {
	MaxEntriesPerPartition int    `json:"max_entries_per_partition"`
	CleanupInterval        string `json:"cleanup_interval"`
}

// MemoryStore keeps partitions as in-process maps. Expired entries are
// evicted lazily on read and periodically by the cleanup routine.
type MemoryStore struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *MemoryConfig
	logger          types.Logger
	partitions      map[string]map[string]*types.ResponseEntry
	hits            uint64
	misses          uint64
	evictions       uint64
	mu              sync.RWMutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.PartitionStore, error) {
	memConfig := &MemoryConfig{
		MaxEntriesPerPartition: 10000,
		CleanupInterval:        "5m",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:             storeCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		partitions:      make(map[string]map[string]*types.ResponseEntry),
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	store.state.Store(MemoryStateStopped)

	return store, nil
}

func (m *MemoryStore) Get(ctx context.Context, partition, key string) (*types.ResponseEntry, bool) {
	now := time.Now()

	m.mu.RLock()
	bucket, exists := m.partitions[partition]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	entry, exists := bucket[key]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	if entry.Expired(now) {
		m.mu.RUnlock()
		m.mu.Lock()
		if bucket, ok := m.partitions[partition]; ok {
			if entry, ok := bucket[key]; ok && entry.Expired(now) {
				delete(bucket, key)
				atomic.AddUint64(&m.evictions, 1)
			}
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	m.mu.RUnlock()

	atomic.AddUint64(&m.hits, 1)
	return entry, true
}

func (m *MemoryStore) Set(ctx context.Context, partition, key string, entry *types.ResponseEntry, ttl time.Duration) error {
	if partition == "" {
		return types.ErrPartitionNameEmpty
	}
	if key == "" {
		m.logger.Error("Attempted to set cache entry with empty key", zap.String("partition", partition))
		return types.ErrPartitionKeyEmpty
	}

	now := time.Now()
	stored := *entry
	stored.Key = key
	stored.StoredAt = now
	if ttl > 0 {
		stored.ExpiresAt = now.Add(ttl)
	} else {
		stored.ExpiresAt = time.Time{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, exists := m.partitions[partition]
	if !exists {
		bucket = make(map[string]*types.ResponseEntry)
		m.partitions[partition] = bucket
	}

	if m.config.MaxEntriesPerPartition > 0 {
		if _, exists := bucket[key]; !exists && len(bucket) >= m.config.MaxEntriesPerPartition {
			m.evictOneUnsafe(bucket)
		}
	}

	bucket[key] = &stored
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, partition, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, exists := m.partitions[partition]; exists {
		delete(bucket, key)
	}
	return nil
}

func (m *MemoryStore) Keys(ctx context.Context, partition string) ([]string, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, exists := m.partitions[partition]
	if !exists {
		return nil, nil
	}

	keys := make([]string, 0, len(bucket))
	for key, entry := range bucket {
		if entry.Expired(now) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *MemoryStore) Drop(ctx context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.partitions, partition)
	return nil
}

func (m *MemoryStore) Partitions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryStore) Size(ctx context.Context, partition string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, exists := m.partitions[partition]
	if !exists {
		return 0, nil
	}

	var total int64
	for _, entry := range bucket {
		total += int64(len(entry.Body))
	}
	return total, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory store is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.config.CleanupInterval != "" {
		go m.startCleanupRoutine()
	}

	m.logger.Info("Memory partition store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory store is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case m.stopCleanup <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-m.cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Cleanup routine stop timeout")
		}

		return nil
	})

	g.Go(func() error {
		m.mu.Lock()
		partitionCount := len(m.partitions)
		m.partitions = make(map[string]map[string]*types.ResponseEntry)
		m.mu.Unlock()

		m.logger.Info("Memory partition store cleared",
			zap.Int("cleared_partitions", partitionCount))
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			m.logger.Warn("Memory store stop timeout, some components may not have stopped gracefully")
		default:
			m.logger.Error("Error during memory store shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory partition store stopped gracefully")
	}

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryStore) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryStore) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryStore) cleanup() {
	now := time.Now()
	expiredCount := 0

	m.mu.Lock()
	for _, bucket := range m.partitions {
		for key, entry := range bucket {
			if entry.Expired(now) {
				delete(bucket, key)
				expiredCount++
			}
		}
	}
	m.mu.Unlock()

	if expiredCount > 0 {
		atomic.AddUint64(&m.evictions, uint64(expiredCount))
		m.logger.Debug("Cleanup completed", zap.Int("expired_entries", expiredCount))
	}
}

func (m *MemoryStore) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 5m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = 5 * time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-m.stopCleanup:
			m.logger.Debug("Cleanup routine stopped by signal")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// evictOneUnsafe removes the oldest entry in the bucket. FIFO is enough:
// entries are re-derivable from upstream and arrive roughly in access order.
func (m *MemoryStore) evictOneUnsafe(bucket map[string]*types.ResponseEntry) {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range bucket {
		if oldestKey == "" || entry.StoredAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.StoredAt
		}
	}

	if oldestKey != "" {
		delete(bucket, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type CloverConfig struct {
	Path string `json:"path"`
}

// CloverStore persists partitions as document collections, one collection
// per partition, one document per entry. Unlike the memory and redis
// backends it survives restarts, which is what the offline-fallback
// partition needs.
type CloverStore struct {
	db      *clover.DB
	logger  types.Logger
	config  *CloverConfig
	mu      sync.Mutex
	started int32
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.PartitionStore, error) {
	cloverConfig := &CloverConfig{
		Path: "data/partitions",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, cloverConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover store config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover store")
	}

	return &CloverStore{
		db:     db,
		logger: logger,
		config: cloverConfig,
	}, nil
}

func (c *CloverStore) Get(ctx context.Context, partition, key string) (*types.ResponseEntry, bool) {
	if partition == "" || key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil || !exists {
		return nil, false
	}

	doc, err := c.db.Query(partition).Where(clover.Field("key").Eq(key)).FindFirst()
	if err != nil || doc == nil {
		return nil, false
	}

	raw, ok := doc.Get("entry").(string)
	if !ok {
		return nil, false
	}

	var entry types.ResponseEntry
	if err := utils.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Error("failed to unmarshal clover cache entry",
			zap.String("partition", partition),
			zap.String("key", key),
			zap.Error(err))
		_ = c.db.Query(partition).Where(clover.Field("key").Eq(key)).Delete()
		return nil, false
	}

	if entry.Expired(time.Now()) {
		_ = c.db.Query(partition).Where(clover.Field("key").Eq(key)).Delete()
		return nil, false
	}

	return &entry, true
}

func (c *CloverStore) Set(ctx context.Context, partition, key string, entry *types.ResponseEntry, ttl time.Duration) error {
	if partition == "" {
		return types.ErrPartitionNameEmpty
	}
	if key == "" {
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

	data, err := utils.Marshal(&stored)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil {
		return types.WrapError(err, "failed to check partition collection")
	}
	if !exists {
		if err := c.db.CreateCollection(partition); err != nil {
			return types.WrapError(err, "failed to create partition collection")
		}
	}

	// Overwrite-by-delete keeps one document per key; last write wins.
	_ = c.db.Query(partition).Where(clover.Field("key").Eq(key)).Delete()

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("entry", string(data))
	doc.Set("expires_at", stored.ExpiresAt.UnixMilli())
	doc.Set("size", len(data))

	if err := c.db.Insert(partition, doc); err != nil {
		return types.WrapError(err, "failed to insert cache entry")
	}

	return nil
}

func (c *CloverStore) Delete(ctx context.Context, partition, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil || !exists {
		return nil
	}

	err = c.db.Query(partition).Where(clover.Field("key").Eq(key)).Delete()
	if err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}
	return nil
}

func (c *CloverStore) Keys(ctx context.Context, partition string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil || !exists {
		return nil, nil
	}

	docs, err := c.db.Query(partition).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to list partition keys")
	}

	now := time.Now().UnixMilli()
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		expiresAt, _ := doc.Get("expires_at").(int64)
		if expiresAt > 0 && now > expiresAt {
			continue
		}
		if key, ok := doc.Get("key").(string); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (c *CloverStore) Drop(ctx context.Context, partition string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil || !exists {
		return nil
	}

	if err := c.db.DropCollection(partition); err != nil {
		return types.WrapError(err, "failed to drop partition collection")
	}
	return nil
}

func (c *CloverStore) Partitions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.db.ListCollections()
	if err != nil {
		return nil, types.WrapError(err, "failed to list partitions")
	}
	return names, nil
}

func (c *CloverStore) Size(ctx context.Context, partition string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.db.HasCollection(partition)
	if err != nil || !exists {
		return 0, nil
	}

	docs, err := c.db.Query(partition).FindAll()
	if err != nil {
		return 0, types.WrapError(err, "failed to measure partition")
	}

	var total int64
	for _, doc := range docs {
		switch n := doc.Get("size").(type) {
		case int64:
			total += n
		case int:
			total += int64(n)
		case float64:
			total += int64(n)
		}
	}
	return total, nil
}

func (c *CloverStore) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	c.logger.Info("Clover partition store started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover store")
	}

	c.logger.Info("Clover partition store stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return atomic.LoadInt32(&c.started) == 1
}

package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisStore persists partitions as namespaced redis keys
// (<prefix>:<partition>:<key>). Expiry rides on redis TTLs plus the stored
// entry's own timestamp, so a replica lagging on expiry still never serves a
// logically expired response.
type RedisStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.PartitionStore, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "offline-gateway",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	store := &RedisStore{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	store.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	if err := store.client.Ping(ctx).Err(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return store, nil
}

func (r *RedisStore) Get(ctx context.Context, partition, key string) (*types.ResponseEntry, bool) {
	if partition == "" || key == "" {
		return nil, false
	}

	fullKey := r.buildKey(partition, key)

	result, err := r.client.Get(ctx, fullKey).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("failed to get cache entry",
				zap.String("partition", partition),
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	var entry types.ResponseEntry
	if err := utils.Unmarshal([]byte(result), &entry); err != nil {
		r.logger.Error("failed to unmarshal cache entry",
			zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		r.client.Del(ctx, fullKey)
		return nil, false
	}

	return &entry, true
}

func (r *RedisStore) Set(ctx context.Context, partition, key string, entry *types.ResponseEntry, ttl time.Duration) error {
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

	// ttl <= 0 stores without redis expiry; Drop and version GC are the
	// only paths that remove those entries.
	err = r.client.Set(ctx, r.buildKey(partition, key), data, maxDuration(ttl, 0)).Err()
	if err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, partition, key string) error {
	err := r.client.Del(ctx, r.buildKey(partition, key)).Err()
	if err != nil && !types.IsError(err, redis.Nil) {
		return types.WrapError(err, "failed to delete cache entry")
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context, partition string) ([]string, error) {
	prefix := r.buildKey(partition, "")

	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, types.WrapError(err, "failed to scan partition keys")
	}

	return keys, nil
}

func (r *RedisStore) Drop(ctx context.Context, partition string) error {
	prefix := r.buildKey(partition, "")

	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Error("failed to delete key during partition drop",
				zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return types.WrapError(err, "failed to scan partition for drop")
	}

	return nil
}

func (r *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	prefix := r.config.KeyPrefix + ":"

	seen := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), prefix)
		if idx := strings.Index(rest, ":"); idx > 0 {
			seen[rest[:idx]] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, types.WrapError(err, "failed to scan partitions")
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names, nil
}

func (r *RedisStore) Size(ctx context.Context, partition string) (int64, error) {
	prefix := r.buildKey(partition, "")

	var total int64
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n, err := r.client.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, types.WrapError(err, "failed to scan partition for size")
	}

	return total, nil
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	r.logger.Info("Redis partition store started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.String("key_prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis partition store stopped gracefully")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) buildKey(partition, key string) string {
	return r.config.KeyPrefix + ":" + partition + ":" + key
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

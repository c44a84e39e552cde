package localcache

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
	"github.com/nutrify-app/offline-gateway/utils"
)

const keyNamespace = "nutrify_cache_"

// Store keeps small application payloads in a sqlite database so they
// survive restarts and are readable without a network round trip.
// Set failures are logged and swallowed, a write that cannot land must
// never break the caller's request path. Expiry is enforced lazily on
// every read.
type Store struct {
	db        *sql.DB
	logger    types.Logger
	config    *types.LocalCacheConfig
	partition types.PartitionStore
	prefix    string
	started   int32
}

func NewStore(ctx context.Context, logger types.Logger, config *types.LocalCacheConfig, partition types.PartitionStore, prefix string) (types.LocalCache, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrStoreIsDisabled
	}

	path := config.Path
	if path == "" {
		path = "data/localcache.db"
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, types.Errorf(types.ErrLocalCacheOpenFailed, "%v", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			expiry INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, types.Errorf(types.ErrLocalCacheOpenFailed, "failed to create entries table: %v", err)
	}

	_, err = db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_entries_expiry ON entries(expiry)")
	if err != nil {
		logger.Warn("failed to create expiry index", zap.Error(err))
	}

	return &Store{
		db:        db,
		logger:    logger,
		config:    config,
		partition: partition,
		prefix:    prefix,
	}, nil
}

func (s *Store) Set(key string, data interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrLocalCacheKeyEmpty
	}

	payload, err := utils.Marshal(data)
	if err != nil {
		s.logger.Warn("local cache set skipped, payload not serializable",
			zap.String("key", key),
			zap.Error(err))
		return nil
	}

	compressed := 0
	if s.config.CompressThreshold > 0 && len(payload) >= s.config.CompressThreshold {
		encoded, err := compress(payload)
		if err != nil {
			s.logger.Warn("local cache compression failed, storing raw",
				zap.String("key", key),
				zap.Error(err))
		} else if len(encoded) < len(payload) {
			payload = encoded
			compressed = 1
		}
	}

	if ttl <= 0 {
		ttl = types.TTLNavigation
	}

	now := time.Now().UnixMilli()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO entries (key, data, compressed, timestamp, expiry) VALUES (?, ?, ?, ?, ?)",
		key, payload, compressed, now, now+ttl.Milliseconds(),
	)
	if err != nil {
		s.logger.Warn("local cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}

	return nil
}

func (s *Store) Get(key string, target interface{}) (bool, error) {
	if key == "" {
		return false, types.ErrLocalCacheKeyEmpty
	}

	var data []byte
	var compressed int
	var expiry int64

	row := s.db.QueryRow("SELECT data, compressed, expiry FROM entries WHERE key = ?", key)
	err := row.Scan(&data, &compressed, &expiry)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, types.WrapError(err, "local cache read failed")
	}

	if time.Now().UnixMilli() > expiry {
		if _, err := s.db.Exec("DELETE FROM entries WHERE key = ?", key); err != nil {
			s.logger.Warn("failed to delete expired local cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
		return false, nil
	}

	if compressed == 1 {
		data, err = decompress(data)
		if err != nil {
			_, _ = s.db.Exec("DELETE FROM entries WHERE key = ?", key)
			return false, types.WrapError(err, "local cache entry corrupt")
		}
	}

	if err := utils.Unmarshal(data, target); err != nil {
		return false, types.WrapError(err, "local cache entry not deserializable")
	}

	return true, nil
}

func (s *Store) Clear(keys ...string) error {
	if len(keys) == 0 {
		_, err := s.db.Exec("DELETE FROM entries WHERE key LIKE ?", keyNamespace+"%")
		if err != nil {
			return types.WrapError(err, "local cache clear failed")
		}
		return nil
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		placeholders[i] = "?"
		args[i] = key
	}

	_, err := s.db.Exec("DELETE FROM entries WHERE key IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return types.WrapError(err, "local cache clear failed")
	}
	return nil
}

func (s *Store) ClearExpired() (int, error) {
	result, err := s.db.Exec(
		"DELETE FROM entries WHERE key LIKE ? AND expiry < ?",
		keyNamespace+"%", time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, types.WrapError(err, "local cache sweep failed")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *Store) Size() (int64, string, error) {
	var total sql.NullInt64
	row := s.db.QueryRow("SELECT SUM(LENGTH(data)) FROM entries WHERE key LIKE ?", keyNamespace+"%")
	if err := row.Scan(&total); err != nil {
		return 0, "", types.WrapError(err, "local cache size query failed")
	}

	return total.Int64, utils.HumanSize(total.Int64), nil
}

// ClearPartitions drops every response partition belonging to this
// deployment prefix. Partitions owned by other prefixes are left alone.
func (s *Store) ClearPartitions(ctx context.Context) error {
	if s.partition == nil {
		return nil
	}

	names, err := s.partition.Partitions(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if !strings.HasPrefix(name, s.prefix) {
			continue
		}
		if err := s.partition.Drop(ctx, name); err != nil {
			s.logger.Warn("failed to drop partition",
				zap.String("partition", name),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Store) PartitionSize(ctx context.Context) (int64, string, error) {
	if s.partition == nil {
		return 0, utils.HumanSize(0), nil
	}

	names, err := s.partition.Partitions(ctx)
	if err != nil {
		return 0, "", err
	}

	var total int64
	for _, name := range names {
		if !strings.HasPrefix(name, s.prefix) {
			continue
		}
		size, err := s.partition.Size(ctx, name)
		if err != nil {
			s.logger.Warn("failed to measure partition",
				zap.String("partition", name),
				zap.Error(err))
			continue
		}
		total += size
	}

	return total, utils.HumanSize(total), nil
}

func (s *Store) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	s.logger.Info("Local cache started", zap.String("path", s.config.Path))
	return nil
}

func (s *Store) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close local cache")
	}

	s.logger.Info("Local cache stopped gracefully")
	return nil
}

func (s *Store) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(reader)
}

package types

import (
	"context"
	"time"
)

// TTL categories for the persistent local cache. Callers that need a
// different window pass an explicit TTL to Set.
const (
	TTLRecommendations = 24 * time.Hour
	TTLPreferences     = 7 * 24 * time.Hour
	TTLNavigation      = time.Hour
)

// Well-known local cache keys. Clear with no arguments and ClearExpired
// operate only on this namespace, never on the whole backing store.
const (
	LocalKeyRandomItems = "nutrify_cache_random_items"
	LocalKeyPreferences = "nutrify_cache_user_preferences"
	LocalKeyNavigation  = "nutrify_cache_navigation_data"
)

// LocalCache is a persistent key/value cache with per-entry expiry, used for
// data the caller wants available instantly without a network round trip.
// Every read path enforces the expiry check: a logically expired entry is
// never observable.
type LocalCache interface {
	LifecycleManager
	Set(key string, data interface{}, ttl time.Duration) error
	Get(key string, target interface{}) (bool, error)
	Clear(keys ...string) error
	ClearExpired() (int, error)
	Size() (int64, string, error)
	ClearPartitions(ctx context.Context) error
	PartitionSize(ctx context.Context) (int64, string, error)
}

// LocalEntry is the serialized shape of one persistent cache record.
type LocalEntry struct {
	Key       string `json:"key"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Expiry    int64  `json:"expiry"`
}

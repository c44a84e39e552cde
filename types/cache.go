package types

import (
	"context"
	"time"
)

// PartitionStore is a set of named, independently lifecycled response buckets.
// Partition names carry the deployment version suffix so that activation can
// garbage-collect buckets left behind by previous versions.
type PartitionStore interface {
	LifecycleManager
	Get(ctx context.Context, partition, key string) (*ResponseEntry, bool)
	Set(ctx context.Context, partition, key string, entry *ResponseEntry, ttl time.Duration) error
	Delete(ctx context.Context, partition, key string) error
	Keys(ctx context.Context, partition string) ([]string, error)
	Drop(ctx context.Context, partition string) error
	Partitions(ctx context.Context) ([]string, error)
	Size(ctx context.Context, partition string) (int64, error)
}

type PartitionStoreCreator func(config interface{}) (PartitionStore, error)

// ResponseEntry is a stored HTTP response. Entries are idempotent
// re-derivations of the upstream resource; concurrent writers for the same
// key are last-write-wins.
type ResponseEntry struct {
	Key         string            `json:"key"`
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
	StoredAt    time.Time         `json:"stored_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry. A zero ExpiresAt
// means the entry never expires.
func (e *ResponseEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// PartitionSet names the three buckets a gateway version owns.
type PartitionSet struct {
	Static   string
	API      string
	Fallback string
}

// Names returns the partition names in a fixed order.
func (p PartitionSet) Names() []string {
	return []string{p.Static, p.API, p.Fallback}
}

// Contains reports whether name belongs to the set.
func (p PartitionSet) Contains(name string) bool {
	return name == p.Static || name == p.API || name == p.Fallback
}

// NewPartitionSet derives the versioned partition names for an app prefix,
// e.g. ("nutrify", "v1") -> nutrify-static-v1 / nutrify-api-v1 / nutrify-fallback-v1.
func NewPartitionSet(prefix, version string) PartitionSet {
	return PartitionSet{
		Static:   prefix + "-static-" + version,
		API:      prefix + "-api-" + version,
		Fallback: prefix + "-fallback-" + version,
	}
}

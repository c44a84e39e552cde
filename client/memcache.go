package client

import (
	"sync"
	"time"
)

// DefaultMemoryTTL is how long a successful GET payload stays reusable
// without another network round trip.
const DefaultMemoryTTL = 5 * time.Minute

type memoryEntry struct {
	body      []byte
	status    int
	expiresAt time.Time
}

// responseCache is a small in-process cache of recent GET responses,
// keyed by "METHOD#url". It only ever holds successful payloads and
// drops entries lazily on read.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	return &responseCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func cacheKey(method, url string) string {
	return method + "#" + url
}

func (rc *responseCache) Get(key string) ([]byte, int, bool) {
	rc.mu.RLock()
	entry, exists := rc.entries[key]
	rc.mu.RUnlock()

	if !exists {
		return nil, 0, false
	}

	if time.Now().After(entry.expiresAt) {
		rc.mu.Lock()
		if current, still := rc.entries[key]; still && time.Now().After(current.expiresAt) {
			delete(rc.entries, key)
		}
		rc.mu.Unlock()
		return nil, 0, false
	}

	body := make([]byte, len(entry.body))
	copy(body, entry.body)
	return body, entry.status, true
}

func (rc *responseCache) Set(key string, body []byte, status int) {
	stored := make([]byte, len(body))
	copy(stored, body)

	rc.mu.Lock()
	rc.entries[key] = memoryEntry{
		body:      stored,
		status:    status,
		expiresAt: time.Now().Add(rc.ttl),
	}
	rc.mu.Unlock()
}

func (rc *responseCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

func (rc *responseCache) Clear() {
	rc.mu.Lock()
	rc.entries = make(map[string]memoryEntry)
	rc.mu.Unlock()
}

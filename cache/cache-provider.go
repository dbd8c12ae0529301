package cache

import (
	"errors"
	"time"
)

// ErrItemTooLarge is returned by Insert when the payload exceeds the per-item
// ceiling or the capacity of the whole cache.
var ErrItemTooLarge = errors.New("cache item too large")

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent complete raw HTTP
// responses keyed by the request target they were fetched for.
// The total size of stored payloads is bounded; when an insertion pushes it
// over the capacity, the least recently used entries are evicted until it fits.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Lookup returns the cached response for the given key, if it exists.
	// A successful lookup counts as an access for eviction purposes.
	// The returned slice must not be modified by the caller.
	Lookup(key string) ([]byte, bool, error)
	// Insert stores the payload under the given key, replacing any existing
	// entry in place. It returns ErrItemTooLarge when the payload can never
	// be stored, in which case existing entries are left untouched.
	Insert(key string, payload []byte) error
	// Purge removes the entry for the given key and reports whether it existed.
	Purge(key string) (bool, error)
	// Clear removes all entries.
	Clear() error
	// Entries lists the stored entries, most recently used first.
	Entries() ([]EntryInfo, error)
	// Stats returns a point-in-time view of size and counters.
	Stats() Stats
	Close() error
}

// EntryInfo describes a stored entry without its payload.
type EntryInfo struct {
	Key        string    `json:"key"`
	Size       int       `json:"size"`
	LastAccess time.Time `json:"lastAccess"`
}

type Stats struct {
	Entries      int   `json:"entries"`
	Bytes        int64 `json:"bytes"`
	Capacity     int64 `json:"capacity"`
	ItemLimit    int64 `json:"itemLimit"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
	EvictedBytes int64 `json:"evictedBytes"`
	Rejected     int64 `json:"rejected"`
}

// normalizeLimits makes a non-positive item limit default to the capacity,
// and clamps the item limit to the capacity.
func normalizeLimits(capacity, itemLimit int64) (int64, int64) {
	if capacity < 0 {
		capacity = 0
	}
	if itemLimit <= 0 || itemLimit > capacity {
		itemLimit = capacity
	}
	return capacity, itemLimit
}

package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

type memCacheEntry struct {
	key      string
	hash     uint64
	payload  []byte
	accessed time.Time
}

// MemCache is a byte-bounded in-memory cache.
// Entries are indexed by the xxh3 hash of their key and kept in an access
// ordered list, front being the most recently used.
type MemCache struct {
	mutex     sync.Mutex
	capacity  int64
	itemLimit int64
	size      int64
	index     map[uint64]*list.Element
	order     *list.List
	counters  counters
}

// NewMemCache creates an empty cache holding at most capacity bytes,
// with no single entry larger than itemLimit bytes.
func NewMemCache(capacity, itemLimit int64) *MemCache {
	capacity, itemLimit = normalizeLimits(capacity, itemLimit)
	return &MemCache{
		capacity:  capacity,
		itemLimit: itemLimit,
		index:     make(map[uint64]*list.Element),
		order:     list.New(),
	}
}

func (m *MemCache) Lookup(key string) ([]byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	el, ok := m.index[xxh3.HashString(key)]
	if !ok || el.Value.(*memCacheEntry).key != key {
		m.counters.misses.Add(1)
		return nil, false, nil
	}
	entry := el.Value.(*memCacheEntry)
	entry.accessed = time.Now()
	m.order.MoveToFront(el)
	m.counters.hits.Add(1)
	return entry.payload, true, nil
}

func (m *MemCache) Insert(key string, payload []byte) error {
	size := int64(len(payload))
	if size > m.itemLimit {
		m.counters.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrItemTooLarge, size, m.itemLimit)
	}
	// copy outside of the lock, callers may reuse their buffer
	stored := make([]byte, len(payload))
	copy(stored, payload)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	hash := xxh3.HashString(key)
	if el, ok := m.index[hash]; ok {
		entry := el.Value.(*memCacheEntry)
		if entry.key == key {
			m.size += size - int64(len(entry.payload))
			entry.payload = stored
			entry.accessed = time.Now()
			m.order.MoveToFront(el)
			m.evictUntilWithinCapacity()
			return nil
		}
		// hash collision: the new key displaces the resident one
		m.remove(el)
	}

	m.index[hash] = m.order.PushFront(&memCacheEntry{
		key:      key,
		hash:     hash,
		payload:  stored,
		accessed: time.Now(),
	})
	m.size += size
	m.evictUntilWithinCapacity()
	return nil
}

// evictUntilWithinCapacity drops least recently used entries.
// Must be called with the mutex held.
func (m *MemCache) evictUntilWithinCapacity() {
	for m.size > m.capacity {
		el := m.order.Back()
		if el == nil {
			return
		}
		size := len(el.Value.(*memCacheEntry).payload)
		m.remove(el)
		m.counters.evicted(size)
	}
}

func (m *MemCache) remove(el *list.Element) {
	entry := m.order.Remove(el).(*memCacheEntry)
	delete(m.index, entry.hash)
	m.size -= int64(len(entry.payload))
}

func (m *MemCache) Purge(key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	el, ok := m.index[xxh3.HashString(key)]
	if !ok || el.Value.(*memCacheEntry).key != key {
		return false, nil
	}
	m.remove(el)
	return true, nil
}

func (m *MemCache) Clear() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.index = make(map[uint64]*list.Element)
	m.order.Init()
	m.size = 0
	return nil
}

func (m *MemCache) Entries() ([]EntryInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries := make([]EntryInfo, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*memCacheEntry)
		entries = append(entries, EntryInfo{
			Key:        entry.key,
			Size:       len(entry.payload),
			LastAccess: entry.accessed,
		})
	}
	return entries, nil
}

func (m *MemCache) Stats() Stats {
	m.mutex.Lock()
	s := Stats{
		Entries:   m.order.Len(),
		Bytes:     m.size,
		Capacity:  m.capacity,
		ItemLimit: m.itemLimit,
	}
	m.mutex.Unlock()
	m.counters.fill(&s)
	return s
}

func (m *MemCache) Close() error {
	return m.Clear()
}

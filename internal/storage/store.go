// Package storage implements the concurrent in-memory key-value table
// shared by every server role: the table-of-record behind the Replication
// Engine's primaries and secondaries and the Directory's home table. The
// Cache keeps its cache lines in its own map, not here. See doc.go for the
// full package documentation.
package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store.
var ErrKeyNotFound = errors.New("key not found")

// Store is the minimal key-value contract the rest of the system depends
// on. ConcurrentMap is the only implementation; shard.Table holds a
// *ConcurrentMap directly rather than this interface.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) (old []byte, existed bool)
	Delete(key string) (old []byte, existed bool)
	List() []string
	Stats() StoreStats
}

// StoreStats is a point-in-time snapshot of table size, as returned by
// ConcurrentMap.Stats.
type StoreStats struct {
	Keys  int
	Bytes int
}

// defaultBuckets is the bucket count used when none is configured. It is
// deliberately not a power of two so that a pathological key distribution
// that happens to be a multiple of a power-of-two stride doesn't pile up
// in one bucket.
const defaultBuckets = 131

// entry is one (key, value) pair held in sorted-bucket order.
type entry struct {
	value []byte
	key   string
}

// bucket is an ordered slice of entries guarded by its own lock. Keeping
// entries sorted lets Get/Put/Delete binary-search instead of scanning,
// which is the "ordered structure (sorted list or balanced tree)" the
// concurrent map's design calls for.
type bucket struct {
	mu      sync.RWMutex
	entries []entry
}

func (b *bucket) find(key string) (int, bool) {
	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].key >= key })
	if i < len(b.entries) && b.entries[i].key == key {
		return i, true
	}
	return i, false
}

func (b *bucket) get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i, ok := b.find(key); ok {
		v := make([]byte, len(b.entries[i].value))
		copy(v, b.entries[i].value)
		return v, true
	}
	return nil, false
}

func (b *bucket) put(key string, value []byte) (old []byte, existed bool) {
	stored := make([]byte, len(value))
	copy(stored, value)

	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(key)
	if ok {
		old = b.entries[i].value
		b.entries[i].value = stored
		return old, true
	}
	b.entries = append(b.entries, entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = entry{key: key, value: stored}
	return nil, false
}

func (b *bucket) delete(key string) (old []byte, existed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.find(key)
	if !ok {
		return nil, false
	}
	old = b.entries[i].value
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return old, true
}

// ConcurrentMap is a fixed-bucket, per-bucket-locked key-value table.
//
// Readers and writers on different buckets run fully in parallel; within
// one bucket, multiple readers run in parallel and writers exclude. A
// top-level RWMutex is held in read mode for every operation so that a
// future resize (not implemented) could take it in write mode without
// changing any caller.
type ConcurrentMap struct {
	top     sync.RWMutex
	buckets []*bucket
}

// NewConcurrentMap creates a table with the given bucket count. A
// nonpositive count falls back to defaultBuckets.
func NewConcurrentMap(numBuckets int) *ConcurrentMap {
	if numBuckets <= 0 {
		numBuckets = defaultBuckets
	}
	buckets := make([]*bucket, numBuckets)
	for i := range buckets {
		buckets[i] = &bucket{}
	}
	return &ConcurrentMap{buckets: buckets}
}

func (m *ConcurrentMap) bucketFor(key string) *bucket {
	h := fnv32a(key)
	return m.buckets[int(h)%len(m.buckets)]
}

// Get retrieves a value by key.
func (m *ConcurrentMap) Get(key string) ([]byte, error) {
	m.top.RLock()
	defer m.top.RUnlock()
	if v, ok := m.bucketFor(key).get(key); ok {
		return v, nil
	}
	return nil, ErrKeyNotFound
}

// Put stores value under key, returning the previous value if any.
func (m *ConcurrentMap) Put(key string, value []byte) (old []byte, existed bool) {
	m.top.RLock()
	defer m.top.RUnlock()
	return m.bucketFor(key).put(key, value)
}

// Delete removes key, returning the previous value if any. Idempotent.
func (m *ConcurrentMap) Delete(key string) (old []byte, existed bool) {
	m.top.RLock()
	defer m.top.RUnlock()
	return m.bucketFor(key).delete(key)
}

// List returns a snapshot of all keys, in no particular order.
func (m *ConcurrentMap) List() []string {
	m.top.RLock()
	defer m.top.RUnlock()
	var keys []string
	for _, b := range m.buckets {
		b.mu.RLock()
		for _, e := range b.entries {
			keys = append(keys, e.key)
		}
		b.mu.RUnlock()
	}
	if keys == nil {
		keys = []string{}
	}
	return keys
}

// Stats reports the current key count and total value bytes.
func (m *ConcurrentMap) Stats() StoreStats {
	m.top.RLock()
	defer m.top.RUnlock()
	var stats StoreStats
	for _, b := range m.buckets {
		b.mu.RLock()
		stats.Keys += len(b.entries)
		for _, e := range b.entries {
			stats.Bytes += len(e.value)
		}
		b.mu.RUnlock()
	}
	return stats
}

// fnv32a hashes a key for bucket placement. This is an internal
// implementation detail of the table (picking a bucket index), not the
// cluster-visible sharding hash in internal/shardrouter, so it is not
// held to the "must be the same 64-bit hash everywhere" requirement that
// governs shard routing.
func fnv32a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// Package shard owns the per-server table-of-record and its operation
// statistics, and knows how to split that table into the primary/secondary
// view a Snapshot response exposes. See doc.go for full documentation.
package shard

import (
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardkv/internal/shardrouter"
	"github.com/dreamware/shardkv/internal/storage"
	"github.com/dreamware/shardkv/internal/wire"
)

// OperationStats tracks cumulative operation counts for a server's table,
// updated atomically so reads never block writers.
type OperationStats struct {
	Gets    uint64
	Puts    uint64
	Deletes uint64
}

// Table is the single key-value table a server hosts. Unlike a
// partition-per-shard design, one Table holds every key the server is
// responsible for as either a shard primary or a shard secondary; the
// split between the two is reconstructed on demand from the current
// wire.ShardInfo, not tracked per-entry, since a server's primary/
// secondary role for a shard can change between controller pushes.
type Table struct {
	Store *storage.ConcurrentMap
	stats OperationStats
}

// NewTable creates an empty table with numBuckets buckets (0 = default).
func NewTable(numBuckets int) *Table {
	return &Table{Store: storage.NewConcurrentMap(numBuckets)}
}

// Get retrieves a value, tracking the operation regardless of outcome.
func (t *Table) Get(key string) ([]byte, error) {
	atomic.AddUint64(&t.stats.Gets, 1)
	return t.Store.Get(key)
}

// Put stores a value, returning the previous value if any.
func (t *Table) Put(key string, value []byte) (old []byte, existed bool) {
	atomic.AddUint64(&t.stats.Puts, 1)
	return t.Store.Put(key, value)
}

// Delete removes a key, idempotently.
func (t *Table) Delete(key string) (old []byte, existed bool) {
	atomic.AddUint64(&t.stats.Deletes, 1)
	return t.Store.Delete(key)
}

// Stats returns the operation counters. Each counter is read atomically,
// but the three reads are not taken as one consistent snapshot.
func (t *Table) Stats() OperationStats {
	return OperationStats{
		Gets:    atomic.LoadUint64(&t.stats.Gets),
		Puts:    atomic.LoadUint64(&t.stats.Puts),
		Deletes: atomic.LoadUint64(&t.stats.Deletes),
	}
}

// Snapshot splits the table's current keys into the primary and secondary
// views a diagnostic Snapshot response carries, by asking router which
// role self plays for each key's shard under the current ShardInfo.
func (t *Table) Snapshot(self wire.Pid, router *shardrouter.Router) wire.Snapshot {
	snap := wire.Snapshot{
		PrimaryShards:   make(map[string]string),
		SecondaryShards: make(map[string]string),
	}
	keys := t.Store.List()
	slices.Sort(keys)
	for _, key := range keys {
		value, err := t.Store.Get(key)
		if err != nil {
			continue
		}
		switch router.RoleFor(key, self) {
		case shardrouter.RolePrimary:
			snap.PrimaryShards[key] = string(value)
		case shardrouter.RoleSecondary:
			snap.SecondaryShards[key] = string(value)
		}
	}
	return snap
}

// Package shard owns a server's single key-value table and the
// primary/secondary view a diagnostic Snapshot exposes, built on top of
// internal/storage's bucketed concurrent map. See table.go for the
// implementation.
//
// A server hosts exactly one Table regardless of how many shards the
// current wire.ShardInfo assigns it, and regardless of whether it plays
// primary or secondary for any given one of them — that split is
// reconstructed on demand via internal/shardrouter.Router.RoleFor, not
// tracked per key, since role assignment changes with every controller
// heartbeat rather than requiring a live key migration.
//
// # See Also
//
//   - internal/storage: the bucketed concurrent map Table wraps
//   - internal/shardrouter: shard hashing and primary/secondary lookup
//   - internal/replication, internal/directory, internal/reqcache: the
//     two coordination protocols built on top of Table
package shard

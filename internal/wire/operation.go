// Package wire defines the tagged-union message type exchanged between
// controller, server, and client processes, and the fixed addressing scheme
// used to reach them.
//
// # Overview
//
// Every process in the cluster is identified by a small integer Pid. The
// endpoint for Pid p is always 127.0.0.1:(8000+p) — there is no separate
// discovery or registration protocol; CLI arguments tell every process who
// its peers are. A single Operation type carries every request and
// response the protocol needs, discriminated by Kind and serialized as a
// JSON object per datagram.
//
// # Wire shape
//
// Operation is a flattened tagged union: exactly the fields relevant to
// Kind are meaningful, the rest are zero values. This mirrors the
// serialization shape of a Rust enum with struct variants without needing
// Go generics or a custom interface hierarchy, and keeps the encoder/decoder
// a single json.Marshal/Unmarshal call.
package wire

import "fmt"

// Pid identifies a process endpoint. The network address for a Pid is
// always BasePort+Pid on loopback; see Addr.
type Pid uint32

// ShardID identifies one of the N shards the keyspace is partitioned into.
type ShardID uint32

// BasePort is added to a Pid to obtain its UDP port.
const BasePort = 8000

// MaxDatagramBytes bounds a single serialized Operation frame.
const MaxDatagramBytes = 1_000_000

// Addr returns the loopback UDP address for pid, e.g. "127.0.0.1:8005".
func Addr(pid Pid) string {
	return fmt.Sprintf("127.0.0.1:%d", BasePort+uint32(pid))
}

// Perm is a cache line's coherence permission.
type Perm string

const (
	PermShared    Perm = "shared"
	PermExclusive Perm = "exclusive"
)

// InvType distinguishes the two invalidation strengths the directory can
// issue: full invalidation (ToInv) or downgrade-to-shared (ToShared).
type InvType string

const (
	InvToInv    InvType = "to_inv"
	InvToShared InvType = "to_shared"
)

// Kind discriminates the Operation variants carried on the wire.
type Kind string

const (
	KindGet       Kind = "get"
	KindPut       Kind = "put"
	KindDelete    Kind = "delete"
	KindGetRes    Kind = "get_res"
	KindPutRes    Kind = "put_res"
	KindDeleteRes Kind = "delete_res"

	KindGetShardInfo    Kind = "get_shard_info"
	KindGetShardInfoRes Kind = "get_shard_info_res"
	KindPutShardInfo    Kind = "put_shard_info"
	KindPutShardInfoRes Kind = "put_shard_info_res"

	KindReplicate    Kind = "replicate"
	KindReplicateRes Kind = "replicate_res"

	KindShmemGet       Kind = "shmem_get"
	KindShmemPut       Kind = "shmem_put"
	KindShmemDelete    Kind = "shmem_delete"
	KindShmemGetRes    Kind = "shmem_get_res"
	KindShmemPutRes    Kind = "shmem_put_res"
	KindShmemDeleteRes Kind = "shmem_delete_res"
	KindShmemInv       Kind = "shmem_inv"
	KindShmemInvRes    Kind = "shmem_inv_res"

	KindSnapshot    Kind = "snapshot"
	KindSnapshotRes Kind = "snapshot_res"
)

// ShardLoc is the placement of one shard: its primary and its secondaries.
type ShardLoc struct {
	Primary     Pid   `json:"primary"`
	Secondaries []Pid `json:"secondaries,omitempty"`
}

// ShardInfo is the full shard placement table, as published by the
// controller and cached by every server and client.
type ShardInfo struct {
	Locations map[ShardID]ShardLoc `json:"locations"`
}

// NumShards reports how many shards this ShardInfo covers.
func (si ShardInfo) NumShards() int {
	return len(si.Locations)
}

// Snapshot is the diagnostic dump of a server's table, split by the role
// the server plays for each key's shard.
type Snapshot struct {
	PrimaryShards   map[string]string `json:"primary_shards"`
	SecondaryShards map[string]string `json:"secondary_shards"`
}

// Operation is the single wire message type. Only the fields relevant to
// Kind are populated; see the field comments for which Kind uses which.
type Operation struct {
	// Value carries Put's new value, GetRes's value (nil means absent),
	// Replicate's Option<value> (nil means delete), and ShmemPut's new value.
	Value *string `json:"value,omitempty"`

	// OldValue carries the previous value returned by PutRes/DeleteRes/
	// ReplicateRes/ShmemPutRes/ShmemDeleteRes. Nil means "was absent".
	OldValue *string `json:"old_value,omitempty"`

	// NewValue echoes the committed value on ShmemPutRes, and carries the
	// home's current value on ShmemGetRes, so the requestor can populate
	// its cache without a second round trip.
	NewValue *string `json:"new_value,omitempty"`

	// InvValue is the cache's current value returned on ShmemInvRes.
	// Nil means the cache line held no value (a delete tombstone).
	InvValue *string `json:"inv_value,omitempty"`

	ShardInfo *ShardInfo `json:"shard_info,omitempty"`
	Snapshot  *Snapshot  `json:"snapshot,omitempty"`

	Key Key `json:"key,omitempty"`

	Kind Kind `json:"kind"`

	InvType InvType `json:"inv_type,omitempty"`

	ClientPid Pid `json:"client_pid,omitempty"`

	Psn uint64 `json:"psn"`
}

// Key is an opaque byte-string key, represented as a string on the wire
// (the data model allows arbitrary bytes; Go strings hold them verbatim).
type Key = string

// --- constructors, one per variant, mirroring the wire table in full ---

func Get(k Key, psn uint64) Operation {
	return Operation{Kind: KindGet, Key: k, Psn: psn}
}

func Put(k Key, v string, psn uint64) Operation {
	return Operation{Kind: KindPut, Key: k, Value: &v, Psn: psn}
}

func Delete(k Key, psn uint64) Operation {
	return Operation{Kind: KindDelete, Key: k, Psn: psn}
}

func GetRes(v *string, psn uint64) Operation {
	return Operation{Kind: KindGetRes, Value: v, Psn: psn}
}

func PutRes(old *string, psn uint64) Operation {
	return Operation{Kind: KindPutRes, OldValue: old, Psn: psn}
}

func DeleteRes(old *string, psn uint64) Operation {
	return Operation{Kind: KindDeleteRes, OldValue: old, Psn: psn}
}

func GetShardInfo() Operation {
	return Operation{Kind: KindGetShardInfo}
}

func GetShardInfoRes(si ShardInfo) Operation {
	return Operation{Kind: KindGetShardInfoRes, ShardInfo: &si}
}

func PutShardInfo(si ShardInfo) Operation {
	return Operation{Kind: KindPutShardInfo, ShardInfo: &si}
}

func PutShardInfoRes() Operation {
	return Operation{Kind: KindPutShardInfoRes}
}

func Replicate(k Key, v *string) Operation {
	return Operation{Kind: KindReplicate, Key: k, Value: v}
}

func ReplicateRes(k Key, old *string) Operation {
	return Operation{Kind: KindReplicateRes, Key: k, OldValue: old}
}

func ShmemGet(clientPid Pid, k Key, psn uint64) Operation {
	return Operation{Kind: KindShmemGet, ClientPid: clientPid, Key: k, Psn: psn}
}

func ShmemPut(clientPid Pid, k Key, v string, psn uint64) Operation {
	return Operation{Kind: KindShmemPut, ClientPid: clientPid, Key: k, Value: &v, Psn: psn}
}

func ShmemDelete(clientPid Pid, k Key, psn uint64) Operation {
	return Operation{Kind: KindShmemDelete, ClientPid: clientPid, Key: k, Psn: psn}
}

func ShmemGetRes(clientPid Pid, k Key, v *string, psn uint64) Operation {
	return Operation{Kind: KindShmemGetRes, ClientPid: clientPid, Key: k, NewValue: v, Psn: psn}
}

func ShmemPutRes(clientPid Pid, k Key, old, new *string, psn uint64) Operation {
	return Operation{Kind: KindShmemPutRes, ClientPid: clientPid, Key: k, OldValue: old, NewValue: new, Psn: psn}
}

func ShmemDeleteRes(clientPid Pid, k Key, old *string, psn uint64) Operation {
	return Operation{Kind: KindShmemDeleteRes, ClientPid: clientPid, Key: k, OldValue: old, Psn: psn}
}

// ShmemInv is home-initiated: downgrade or invalidate a remote cache line.
// Key is required here (beyond the abstract wire table) for the same
// correlation reason documented on ShmemInvRes.
func ShmemInv(k Key, typ InvType) Operation {
	return Operation{Kind: KindShmemInv, Key: k, InvType: typ}
}

// ShmemInvRes replies to ShmemInv with the invalidated cache's current
// value (write-back) and carries Key so the home can route the reply to
// the correct pending invalidation without relying on at-most-one-
// outstanding-per-peer bookkeeping.
func ShmemInvRes(k Key, v *string) Operation {
	return Operation{Kind: KindShmemInvRes, Key: k, InvValue: v}
}

func SnapshotReq() Operation {
	return Operation{Kind: KindSnapshot}
}

func SnapshotRes(snap Snapshot) Operation {
	return Operation{Kind: KindSnapshotRes, Snapshot: &snap}
}

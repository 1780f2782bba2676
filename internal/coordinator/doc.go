// Package coordinator implements the controller process (Component M):
// the single process that computes shard placement and keeps every
// server's view of it current.
//
// # Overview
//
// The controller is the control plane for one shardkv cluster. At
// startup it is handed the full, fixed set of server and client PIDs for
// the run (there is no dynamic registration protocol — the full server
// and client set is fixed at launch via the CLI) and computes a
// round-robin ShardInfo
// from the server list: shard i's primary is servers[i], and its
// secondaries are every other server.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│              Controller              │
//	├──────────────────────────────────────┤
//	│ shardrouter.Router   ← current ShardInfo
//	│ HealthMonitor        ← heartbeat ack history
//	│ ackRouter            ← demuxes PutShardInfoRes
//	└───────┬───────────┬───────────┬───────┘
//	        │           │           │
//	 recvClientLoop recvServerLoop serverPusher
//	(GetShardInfo,  (GetShardInfo,  (PutShardInfo,
//	 ctl_pid_clients) PutShardInfoRes, every round,
//	                  ctl_pid_servers) ctl_pid_servers)
//
// The controller binds two PIDs: ctl_pid_clients for
// client GetShardInfo traffic and ctl_pid_servers for the heartbeat
// round trip, so a burst of client polling can never delay ack
// collection. All three loops run concurrently under one
// errgroup.Group (internal/coordinator/controller.go); serverPusher
// fans PutShardInfo out to every server on a ticker, collecting acks
// within a bounded per-round timeout via ackRouter.
//
// # Heartbeat semantics
//
// A server that misses its acknowledgement is logged via HealthMonitor
// but the controller performs no view change in response — that is
// deliberately out of scope for the core protocol; a client or server
// that finds its ShardInfo stale re-fetches
// it on its own timeout (GetShardInfo), which is how the system recovers
// from a missed or delayed heartbeat round in practice.
//
// # See Also
//
//   - internal/shardrouter: shard hashing and round-robin assignment
//   - internal/wire: the Operation types exchanged with servers/clients
//   - cmd/controller: the controller process entry point
package coordinator

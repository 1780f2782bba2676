// Command server runs one shardkv storage server: it holds a bucketed
// slice of the keyspace, answers client Get/Put/Delete, and coordinates
// with its peers under whichever of the two protocols is configured —
// primary-backup replication, or directory-based MSI cache coherence.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                   server                      │
//	├──────────────────────────────────────────────┤
//	│  poller      - reads the UDP socket, demuxes  │
//	│                frames onto workerQ/dirQ        │
//	│  worker      - client ops + cache replies;     │
//	│                runs reqcache.Cache or          │
//	│                replication.Engine              │
//	│  directory   - DSM home-side requests          │
//	│                (caching mode only)              │
//	│  shardinfo   - periodic GetShardInfo refresh    │
//	└──────────────────────────────────────────────┘
//
// Three long-lived goroutines (poller, worker, directory) plus a fourth
// that keeps this server's ShardInfo view current — at least three
// concurrent tasks running at all times. When SHARDKV_CACHE is false the
// directory goroutine never starts and the worker runs the replication
// engine directly instead of the cache.
//
// Configuration is positional (`server <self_pid> <controller_pid>
// <peer_pids...>`) plus the SHARDKV_* environment variables documented in
// internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/config"
	"github.com/dreamware/shardkv/internal/directory"
	"github.com/dreamware/shardkv/internal/obs"
	"github.com/dreamware/shardkv/internal/reqcache"
	"github.com/dreamware/shardkv/internal/replication"
	"github.com/dreamware/shardkv/internal/shard"
	"github.com/dreamware/shardkv/internal/shardrouter"
	"github.com/dreamware/shardkv/internal/transport"
	"github.com/dreamware/shardkv/internal/wire"
)

func main() {
	if err := config.LoadIfConfigured(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: server <self_pid> <controller_pid> <peer_pids...>")
		os.Exit(2)
	}
	self := mustPid(os.Args[1])
	controllerPid := mustPid(os.Args[2])
	var peers []wire.Pid
	for _, a := range os.Args[3:] {
		peers = append(peers, mustPid(a))
	}

	log := transport.MustLogger("server", self, config.Getenv(config.EnvLogLevel, "info"))
	defer log.Sync()

	t, err := transport.New(self, log)
	if err != nil {
		log.Fatal("bind transport", zap.Error(err))
	}
	defer t.Close()

	obs.Serve(config.Getenv(config.EnvMetricsAddr, ""))
	metrics := obs.NewServerMetrics(nil)

	numBuckets := config.GetenvInt(config.EnvBuckets, 131)
	table := shard.NewTable(numBuckets)
	router := shardrouter.New(wire.ShardInfo{Locations: map[wire.ShardID]wire.ShardLoc{}})

	cacheMode := config.GetenvBool(config.EnvCache, true)
	recvTimeout := time.Duration(config.GetenvInt(config.EnvRecvTimeoutMS, 1000)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetchShardInfo(ctx, t, controllerPid, router, log)

	workerQ := make(chan queued, 256)
	var dir *directory.Directory
	var cache *reqcache.Cache
	var engine *replication.Engine

	if cacheMode {
		dir = directory.New(table, t, log.Named("directory"), 256, metrics)
		cache = reqcache.New(self, router, t, log.Named("reqcache"), metrics)
		go dir.Run(ctx.Done())
	} else {
		engine = replication.New(self, table, router, t, log.Named("replication"), metrics)
	}

	go worker(ctx, workerQ, cache, engine)
	go shardInfoRefresh(ctx, t, controllerPid, router, log)

	log.Info("server started", zap.Uint32("self_pid", uint32(self)), zap.Bool("cache_mode", cacheMode), zap.Int("peers", len(peers)))
	poll(ctx, t, self, router, table, dir, workerQ, recvTimeout, metrics, log)
	log.Info("server stopped")
}

func mustPid(s string) wire.Pid {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", s, err)
		os.Exit(2)
	}
	return wire.Pid(n)
}

// queued is one frame routed onto the worker's channel.
type queued struct {
	from wire.Pid
	op   wire.Operation
}

// poll is the network poller: the single goroutine that reads the socket
// and demultiplexes frames. It never blocks on
// anything but the socket read and the (buffered, non-blocking in
// practice) channel sends.
func poll(ctx context.Context, t *transport.Transport, self wire.Pid, router *shardrouter.Router, table *shard.Table, dir *directory.Directory, workerQ chan<- queued, recvTimeout time.Duration, metrics *obs.ServerMetrics, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := t.Recv(recvTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			log.Warn("recv error", zap.Error(err))
			continue
		}
		from, ok := wire.PidFromAddr(env.FromAddr)
		if !ok {
			continue
		}

		switch env.Op.Kind {
		case wire.KindPutShardInfo:
			if env.Op.ShardInfo != nil {
				router.Set(*env.Op.ShardInfo)
			}
			_ = t.Send(from, wire.PutShardInfoRes())
		case wire.KindGetShardInfoRes:
			if env.Op.ShardInfo != nil {
				router.Set(*env.Op.ShardInfo)
			}
		case wire.KindSnapshot:
			_ = t.Send(from, wire.SnapshotRes(table.Snapshot(self, router)))
		case wire.KindShmemGet, wire.KindShmemPut, wire.KindShmemDelete, wire.KindShmemInvRes:
			if dir != nil {
				dir.Feed(from, env.Op)
			}
		case wire.KindGet, wire.KindPut, wire.KindDelete:
			metrics.Op(string(env.Op.Kind))
			workerQ <- queued{from: from, op: env.Op}
		default:
			workerQ <- queued{from: from, op: env.Op}
		}
	}
}

// worker runs the requestor/worker task: client ops and cache-coherence
// replies in caching mode, or the replication engine directly otherwise.
// Every mutation it makes to Cache/pending-ops or Engine's in-flight table
// happens on this single goroutine.
func worker(ctx context.Context, q <-chan queued, cache *reqcache.Cache, engine *replication.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q:
			if cache != nil {
				cache.Dispatch(item.from, item.op)
			} else {
				engine.Dispatch(item.from, item.op)
			}
		}
	}
}

// fetchShardInfo blocks at startup until the controller answers
// GetShardInfo, retrying on timeout — a server can't serve correctly
// without knowing its own shard assignment.
func fetchShardInfo(ctx context.Context, t *transport.Transport, controllerPid wire.Pid, router *shardrouter.Router, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := t.Send(controllerPid, wire.GetShardInfo()); err != nil {
			log.Warn("shard info request failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}
		env, err := t.Recv(1 * time.Second)
		if err != nil {
			continue
		}
		if env.Op.Kind == wire.KindGetShardInfoRes && env.Op.ShardInfo != nil {
			router.Set(*env.Op.ShardInfo)
			log.Info("shard info received", zap.Int("num_shards", env.Op.ShardInfo.NumShards()))
			return
		}
	}
}

// shardInfoRefresh periodically re-requests ShardInfo so a server that
// missed a heartbeat round still converges; PutShardInfo on the poller
// handles the common case, this is the belt-and-suspenders path.
func shardInfoRefresh(ctx context.Context, t *transport.Transport, controllerPid wire.Pid, router *shardrouter.Router, log *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = t.Send(controllerPid, wire.GetShardInfo())
		}
	}
}

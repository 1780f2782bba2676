// Command controller runs the shardkv control plane (Component M): it
// computes shard placement once from the fixed server list handed to it
// on the command line, answers client ShardInfo lookups, and heartbeats
// every server so a missed PutShardInfoRes round is at least visible in
// the logs.
//
// Usage:
//
//	controller <ctl_pid_clients> <ctl_pid_servers> <n_clients> <n_servers> <client_pids...> <server_pids...>
//
// ctl_pid_clients and ctl_pid_servers are two distinct PIDs bound by this
// one process — the client-facing and server-facing sockets are kept
// separate so a flood of client ShardInfo polls can never delay a
// heartbeat round.
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
	"github.com/dreamware/shardkv/internal/coordinator"
	"github.com/dreamware/shardkv/internal/obs"
	"github.com/dreamware/shardkv/internal/transport"
	"github.com/dreamware/shardkv/internal/wire"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultRoundTimeout      = 2 * time.Second
)

func main() {
	if err := config.LoadIfConfigured(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if len(os.Args) < 5 {
		usage()
	}
	ctlClientsPid := mustPid(os.Args[1])
	ctlServersPid := mustPid(os.Args[2])
	nClients := mustInt(os.Args[3])
	nServers := mustInt(os.Args[4])

	rest := os.Args[5:]
	if len(rest) != nClients+nServers {
		usage()
	}
	var clients, servers []wire.Pid
	for _, a := range rest[:nClients] {
		clients = append(clients, mustPid(a))
	}
	for _, a := range rest[nClients:] {
		servers = append(servers, mustPid(a))
	}

	log := transport.MustLogger("controller", ctlServersPid, config.Getenv(config.EnvLogLevel, "info"))
	defer log.Sync()

	clientT, err := transport.New(ctlClientsPid, log)
	if err != nil {
		log.Fatal("bind client transport", zap.Error(err))
	}
	defer clientT.Close()

	serverT, err := transport.New(ctlServersPid, log)
	if err != nil {
		log.Fatal("bind server transport", zap.Error(err))
	}
	defer serverT.Close()

	run(clientT, serverT, clients, servers, log)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: controller <ctl_pid_clients> <ctl_pid_servers> <n_clients> <n_servers> <client_pids...> <server_pids...>")
	os.Exit(2)
}

func mustPid(s string) wire.Pid {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", s, err)
		os.Exit(2)
	}
	return wire.Pid(n)
}

func mustInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid integer %q: %v\n", s, err)
		os.Exit(2)
	}
	return n
}

func run(clientT, serverT *transport.Transport, clients, servers []wire.Pid, log *zap.Logger) {
	heartbeat := config.GetenvDuration(config.EnvHeartbeatInterval, defaultHeartbeatInterval)
	roundTimeout := defaultRoundTimeout
	if roundTimeout >= heartbeat {
		roundTimeout = heartbeat / 2
	}

	ctl := coordinator.New(clientT, serverT, servers, clients, heartbeat, roundTimeout, log)

	obs.Serve(config.Getenv(config.EnvMetricsAddr, ""))
	metrics := obs.NewControllerMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reportHealth(ctx, ctl, metrics, heartbeat)

	log.Info("controller started",
		zap.Int("servers", len(servers)),
		zap.Int("clients", len(clients)),
		zap.Duration("heartbeat_interval", heartbeat),
	)

	err := ctl.Run(ctx)
	if err != nil && err != context.Canceled {
		log.Warn("controller stopped with error", zap.Error(err))
	}
	log.Info("controller stopped")
}

// reportHealth periodically mirrors the controller's HealthMonitor
// snapshot into Prometheus, decoupling metrics export from the heartbeat
// round itself.
func reportHealth(ctx context.Context, ctl *coordinator.Controller, metrics *obs.ControllerMetrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RoundComplete()
			for pid, health := range ctl.Health().Snapshot() {
				metrics.RecordRound(strconv.FormatUint(uint64(pid), 10), health.ConsecutiveMisses == 0)
			}
		}
	}
}

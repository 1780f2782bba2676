// Command client drives a workload file against the cluster (Component
// X): it fetches ShardInfo once from the controller, replays its
// workload file op by op against the correct shard primary, and records
// an in-order CSV trace of every operation.
//
// Usage:
//
//	client <self_pid> <controller_pid> <input_dir> <result_dir> <server_pids...>
//
// Workload file: <input_dir>/<self_pid>.txt, one op per line (`get <k>`,
// `put <k> <v>`, `delete <k>`); malformed lines are skipped with a log.
// Result file: <result_dir>/<self_pid>.txt, CSV rows
// `operation,key,observed_value,new_value,begin_ns,end_ns`.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/config"
	"github.com/dreamware/shardkv/internal/shardrouter"
	"github.com/dreamware/shardkv/internal/transport"
	"github.com/dreamware/shardkv/internal/wire"
)

type op struct {
	kind wire.Kind
	key  string
	val  string
}

func main() {
	if err := config.LoadIfConfigured(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if len(os.Args) < 5 {
		fmt.Fprintln(os.Stderr, "usage: client <self_pid> <controller_pid> <input_dir> <result_dir> <server_pids...>")
		os.Exit(2)
	}
	self := mustPid(os.Args[1])
	controllerPid := mustPid(os.Args[2])
	inputDir := os.Args[3]
	resultDir := os.Args[4]

	log := transport.MustLogger("client", self, config.Getenv(config.EnvLogLevel, "info"))
	defer log.Sync()

	t, err := transport.New(self, log)
	if err != nil {
		log.Fatal("bind transport", zap.Error(err))
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shardInfoTimeout := time.Duration(config.GetenvInt(config.EnvClientShardInfoTimeout, 10000)) * time.Millisecond
	recvTimeout := time.Duration(config.GetenvInt(config.EnvRecvTimeoutMS, 1000)) * time.Millisecond

	info, err := fetchShardInfo(ctx, t, controllerPid, shardInfoTimeout)
	if err != nil {
		log.Fatal("fetch shard info", zap.Error(err))
	}
	router := shardrouter.New(info)

	ops, err := loadWorkload(filepath.Join(inputDir, fmt.Sprintf("%d.txt", self)), log)
	if err != nil {
		log.Fatal("load workload", zap.Error(err))
	}

	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		log.Fatal("create result dir", zap.Error(err))
	}
	out, err := os.Create(filepath.Join(resultDir, fmt.Sprintf("%d.txt", self)))
	if err != nil {
		log.Fatal("create result file", zap.Error(err))
	}
	defer out.Close()
	w := csv.NewWriter(out)
	defer w.Flush()

	var psn uint64
	for _, o := range ops {
		select {
		case <-ctx.Done():
			return
		default:
		}
		psn++
		record := run(ctx, t, router, controllerPid, o, psn, recvTimeout, shardInfoTimeout, log)
		if err := w.Write(record); err != nil {
			log.Warn("write trace row", zap.Error(err))
		}
		w.Flush()
	}
	log.Info("client finished", zap.Int("ops", len(ops)))
}

func mustPid(s string) wire.Pid {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", s, err)
		os.Exit(2)
	}
	return wire.Pid(n)
}

// loadWorkload parses one op per line: "get <k>", "put <k> <v>", or
// "delete <k>". Malformed lines are skipped with a log.
func loadWorkload(path string, log *zap.Logger) ([]op, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ops []op
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "get":
			if len(fields) != 2 {
				log.Warn("malformed workload line", zap.Int("line", lineNo))
				continue
			}
			ops = append(ops, op{kind: wire.KindGet, key: fields[1]})
		case "put":
			if len(fields) < 3 {
				log.Warn("malformed workload line", zap.Int("line", lineNo))
				continue
			}
			ops = append(ops, op{kind: wire.KindPut, key: fields[1], val: strings.Join(fields[2:], " ")})
		case "delete":
			if len(fields) != 2 {
				log.Warn("malformed workload line", zap.Int("line", lineNo))
				continue
			}
			ops = append(ops, op{kind: wire.KindDelete, key: fields[1]})
		default:
			log.Warn("malformed workload line", zap.Int("line", lineNo))
		}
	}
	return ops, sc.Err()
}

func fetchShardInfo(ctx context.Context, t *transport.Transport, controllerPid wire.Pid, timeout time.Duration) (wire.ShardInfo, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := t.Send(controllerPid, wire.GetShardInfo()); err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		env, err := t.Recv(500 * time.Millisecond)
		if err != nil {
			continue
		}
		if env.Op.Kind == wire.KindGetShardInfoRes && env.Op.ShardInfo != nil {
			return *env.Op.ShardInfo, nil
		}
	}
	return wire.ShardInfo{}, fmt.Errorf("timed out waiting for shard info after %s", timeout)
}

// run sends one op to its shard's primary, retrying after a ShardInfo
// re-fetch on timeout (the op's psn never changes, so a duplicate
// delivery is idempotent for the server).
func run(ctx context.Context, t *transport.Transport, router *shardrouter.Router, controllerPid wire.Pid, o op, psn uint64, recvTimeout, shardInfoTimeout time.Duration, log *zap.Logger) []string {
	begin := time.Now()
	wireOp := toWireOp(o, psn)

	for {
		select {
		case <-ctx.Done():
			return traceRow(o, nil, nil, begin, time.Now())
		default:
		}

		primary, ok := router.PrimaryFor(o.key)
		if !ok {
			log.Warn("no primary for key, re-fetching shard info", zap.String("key", o.key))
			if info, err := fetchShardInfo(ctx, t, controllerPid, shardInfoTimeout); err == nil {
				router.Set(info)
			}
			continue
		}

		if err := t.Send(primary, wireOp); err != nil {
			log.Warn("send failed", zap.Error(err))
			continue
		}
		env, err := t.Recv(recvTimeout)
		if err != nil {
			log.Debug("op timed out, re-fetching shard info and retrying", zap.String("key", o.key), zap.Uint64("psn", psn))
			if info, err := fetchShardInfo(ctx, t, controllerPid, shardInfoTimeout); err == nil {
				router.Set(info)
			}
			continue
		}

		end := time.Now()
		switch env.Op.Kind {
		case wire.KindGetRes:
			return traceRow(o, env.Op.Value, nil, begin, end)
		case wire.KindPutRes:
			return traceRow(o, env.Op.OldValue, strPtr(o.val), begin, end)
		case wire.KindDeleteRes:
			return traceRow(o, env.Op.OldValue, nil, begin, end)
		default:
			log.Warn("unexpected response kind", zap.String("kind", string(env.Op.Kind)))
			continue
		}
	}
}

func toWireOp(o op, psn uint64) wire.Operation {
	switch o.kind {
	case wire.KindPut:
		return wire.Put(o.key, o.val, psn)
	case wire.KindDelete:
		return wire.Delete(o.key, psn)
	default:
		return wire.Get(o.key, psn)
	}
}

func strPtr(s string) *string { return &s }

func traceRow(o op, observed, newVal *string, begin, end time.Time) []string {
	name := strings.ToLower(string(o.kind))
	return []string{
		name,
		o.key,
		derefOrEmpty(observed),
		derefOrEmpty(newVal),
		strconv.FormatInt(begin.UnixNano(), 10),
		strconv.FormatInt(end.UnixNano(), 10),
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

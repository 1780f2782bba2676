// Package transport implements the UDP datagram facade every process uses
// to exchange wire.Operation messages, grounded in the reference
// implementation's network module: one JSON object per datagram, addressed
// by Pid at 127.0.0.1:(8000+pid), best-effort and unordered.
//
// # Concurrency
//
// A Transport is safe for concurrent Send calls and concurrent Send/Recv,
// but Recv itself is meant to be called from a single poller goroutine per
// the three-task server model — calling Recv concurrently from multiple
// goroutines would race on which goroutine observes which datagram.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/shardkv/internal/wire"
)

// ErrTimeout is returned by Recv when no datagram arrives within the
// requested timeout. It is not a failure: callers should treat it as
// "nothing to do this tick".
var ErrTimeout = errors.New("transport: recv timeout")

// Envelope pairs a decoded Operation with the UDP source address it
// arrived from. Transport does not decode a sender Pid itself; callers
// recover it from FromAddr with wire.PidFromAddr to address replies.
type Envelope struct {
	Op       wire.Operation
	FromAddr string
}

// Transport is the UDP facade bound to one process's own Pid.
type Transport struct {
	conn *net.UDPConn
	log  *zap.Logger
	self wire.Pid
}

// New binds a UDP socket on the loopback address for selfPid and returns a
// Transport ready for Send/Recv. The caller owns the returned Transport's
// lifetime and must call Close when done.
func New(selfPid wire.Pid, log *zap.Logger) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", wire.Addr(selfPid))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve self addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{conn: conn, self: selfPid, log: log.With(zap.Uint32("self_pid", uint32(selfPid)))}, nil
}

// Close releases the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Send best-effort delivers op to dst. A socket write failure is logged at
// debug level and returned; marshal and oversize-payload errors are
// returned without logging. The protocol layer's retry-on-timeout contract
// is what recovers from loss, so most callers ignore the returned error.
func (t *Transport) Send(dst wire.Pid, op wire.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", op.Kind, err)
	}
	if len(data) > wire.MaxDatagramBytes {
		return fmt.Errorf("transport: payload %d bytes exceeds max %d", len(data), wire.MaxDatagramBytes)
	}
	addr, err := net.ResolveUDPAddr("udp", wire.Addr(dst))
	if err != nil {
		return fmt.Errorf("transport: resolve dst addr: %w", err)
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		t.log.Debug("send failed", zap.Uint32("dst_pid", uint32(dst)), zap.String("kind", string(op.Kind)), zap.Error(err))
		return err
	}
	return nil
}

// Recv blocks for up to timeout waiting for a single datagram. It returns
// ErrTimeout, not an error, if nothing arrives in time — this matches the
// reference implementation's recv(), which treats a read timeout as "no
// message" rather than a fault.
func (t *Transport) Recv(timeout time.Duration) (Envelope, error) {
	buf := make([]byte, wire.MaxDatagramBytes)
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Envelope{}, fmt.Errorf("transport: set deadline: %w", err)
	}
	n, from, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Envelope{}, ErrTimeout
		}
		return Envelope{}, fmt.Errorf("transport: read: %w", err)
	}
	var op wire.Operation
	if err := json.Unmarshal(buf[:n], &op); err != nil {
		t.log.Warn("dropping malformed datagram", zap.String("from", from.String()), zap.Error(err))
		return Envelope{}, fmt.Errorf("transport: unmarshal: %w", err)
	}
	return Envelope{Op: op, FromAddr: from.String()}, nil
}

// MustLogger is a small convenience used by the cmd entrypoints: it builds
// a zap logger honoring SHARDKV_LOG_LEVEL and tags every entry with role
// and pid.
func MustLogger(role string, pid wire.Pid, level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		logger = zap.NewNop()
	}
	return logger.With(zap.String("role", role), zap.Uint32("pid", uint32(pid)))
}

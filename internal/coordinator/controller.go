package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardkv/internal/shardrouter"
	"github.com/dreamware/shardkv/internal/transport"
	"github.com/dreamware/shardkv/internal/wire"
)

// ackRouter demultiplexes PutShardInfoRes arrivals to whichever pusher
// goroutine is currently waiting on a given server's acknowledgement.
type ackRouter struct {
	mu   sync.Mutex
	subs map[wire.Pid][]chan struct{}
}

func newAckRouter() *ackRouter {
	return &ackRouter{subs: make(map[wire.Pid][]chan struct{})}
}

func (a *ackRouter) register(pid wire.Pid) chan struct{} {
	ch := make(chan struct{}, 1)
	a.mu.Lock()
	a.subs[pid] = append(a.subs[pid], ch)
	a.mu.Unlock()
	return ch
}

func (a *ackRouter) unregister(pid wire.Pid, ch chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.subs[pid]
	for i, c := range subs {
		if c == ch {
			a.subs[pid] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (a *ackRouter) notify(pid wire.Pid) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs[pid] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Controller runs the controller process (Component M): it computes
// ShardInfo once from the configured server list, answers client
// GetShardInfo lookups, and periodically heartbeats every server with
// PutShardInfo, collecting acknowledgements within a bounded round.
//
// Requests are answered on the receive-loop goroutines while the periodic
// heartbeat runs on its own goroutine (see Run); each heartbeat round's
// outcome is fed to the HealthMonitor in health_monitor.go.
type Controller struct {
	// clientTransport is bound to ctl_pid_clients and answers
	// GetShardInfo; serverTransport is bound to ctl_pid_servers and runs
	// the PutShardInfo/PutShardInfoRes heartbeat. The controller is given
	// two distinct PIDs for exactly this split.
	clientTransport *transport.Transport
	serverTransport *transport.Transport
	router          *shardrouter.Router
	health          *HealthMonitor
	acks            *ackRouter
	log             *zap.Logger
	servers         []wire.Pid
	clients         []wire.Pid

	heartbeatInterval time.Duration
	roundTimeout      time.Duration
}

// New creates a Controller that owns clientT/serverT, assigns shards
// round-robin across servers, and will heartbeat every interval with the
// given per-round ack timeout.
func New(clientT, serverT *transport.Transport, servers, clients []wire.Pid, interval, roundTimeout time.Duration, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	info := shardrouter.AssignRoundRobin(servers)
	return &Controller{
		clientTransport:   clientT,
		serverTransport:   serverT,
		router:            shardrouter.New(info),
		health:            NewHealthMonitor(3),
		acks:              newAckRouter(),
		log:               log,
		servers:           append([]wire.Pid(nil), servers...),
		clients:           append([]wire.Pid(nil), clients...),
		heartbeatInterval: interval,
		roundTimeout:      roundTimeout,
	}
}

// Health exposes the controller's heartbeat health table for diagnostics.
func (c *Controller) Health() *HealthMonitor { return c.health }

// ShardInfo exposes the controller's current view, mainly for tests.
func (c *Controller) ShardInfo() wire.ShardInfo { return c.router.Info() }

// Run starts the client and server receive loops and the heartbeat pusher
// and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.recvClientLoop(ctx) })
	g.Go(func() error { return c.recvServerLoop(ctx) })
	g.Go(func() error { return c.serverPusher(ctx) })
	return g.Wait()
}

// recvClientLoop answers GetShardInfo lookups arriving on ctl_pid_clients.
func (c *Controller) recvClientLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := c.clientTransport.Recv(500 * time.Millisecond)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			c.log.Warn("controller: client recv error", zap.Error(err))
			continue
		}

		from, ok := wire.PidFromAddr(env.FromAddr)
		if !ok {
			continue
		}
		if env.Op.Kind == wire.KindGetShardInfo {
			_ = c.clientTransport.Send(from, wire.GetShardInfoRes(c.router.Info()))
		}
	}
}

// recvServerLoop handles traffic arriving on ctl_pid_servers: it answers
// GetShardInfo lookups directly (a server re-fetches over the same socket
// it heartbeats on) and routes PutShardInfoRes acks to whatever pusher
// round is waiting on them.
func (c *Controller) recvServerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := c.serverTransport.Recv(500 * time.Millisecond)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			c.log.Warn("controller: server recv error", zap.Error(err))
			continue
		}

		from, ok := wire.PidFromAddr(env.FromAddr)
		if !ok {
			continue
		}

		switch env.Op.Kind {
		case wire.KindGetShardInfo:
			_ = c.serverTransport.Send(from, wire.GetShardInfoRes(c.router.Info()))
		case wire.KindPutShardInfoRes:
			c.acks.notify(from)
		}
	}
}

// serverPusher pushes PutShardInfo to every server every heartbeatInterval
// and collects PutShardInfoRes within roundTimeout, fanning out and
// collecting concurrently via errgroup.
func (c *Controller) serverPusher(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	c.pusherRound(ctx)
	for {
		select {
		case <-ticker.C:
			c.pusherRound(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) pusherRound(ctx context.Context) {
	info := c.router.Info()
	roundCtx, cancel := context.WithTimeout(ctx, c.roundTimeout)
	defer cancel()

	var mu sync.Mutex
	acked := make(map[wire.Pid]bool, len(c.servers))

	g, gctx := errgroup.WithContext(roundCtx)
	for _, pid := range c.servers {
		pid := pid
		g.Go(func() error {
			ch := c.acks.register(pid)
			defer c.acks.unregister(pid, ch)

			if err := c.serverTransport.Send(pid, wire.PutShardInfo(info)); err != nil {
				c.log.Warn("controller: heartbeat send failed", zap.Uint32("pid", uint32(pid)), zap.Error(err))
				return nil
			}
			select {
			case <-ch:
				mu.Lock()
				acked[pid] = true
				mu.Unlock()
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()

	c.health.RecordRound(c.servers, acked)
}

// Package reqcache implements the requestor side of directory-based MSI
// cache coherence (Component C): a server acting on behalf of its local
// clients holds a permission-tagged copy of each key it has recently
// touched, serving repeat accesses locally and falling back to the home
// (the shard's primary) on a miss.
//
// Grounded in the reference server's handle_get/handle_put/handle_delete
// dispatch and its pending_ops queue; the re-miss-while-draining fix is
// new here — see the drain doc comment below.
package reqcache

import (
	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/obs"
	"github.com/dreamware/shardkv/internal/shardrouter"
	"github.com/dreamware/shardkv/internal/wire"
)

// Sender delivers an Operation to a peer (the home, or a client).
type Sender interface {
	Send(dst wire.Pid, op wire.Operation) error
}

// line is one cache entry: a permission plus the last known value (nil
// means the key is known deleted — a tombstone, distinct from "unknown").
type line struct {
	value *string
	perm  wire.Perm
}

// pendingOp is a client request queued behind an outstanding miss.
type pendingOp struct {
	from wire.Pid
	op   wire.Operation
}

// Cache is the per-server requestor-side coherence client. One instance
// owns every key this server's clients have touched; it runs on the
// server's worker goroutine, so its map accesses need no internal lock:
// the cache and its pending-ops queue are owned by the worker thread,
// with no external locking.
type Cache struct {
	router  *shardrouter.Router
	send    Sender
	log     *zap.Logger
	entries map[string]line
	pending map[string][]pendingOp
	// inflight records, per key with an outstanding Shmem* round trip,
	// which client and psn to reply to once the home responds.
	inflight map[string]pendingOp
	self     wire.Pid
	metrics  *obs.ServerMetrics
}

// New creates a Cache that routes home lookups through router and self's
// identity (used so ShmemGet/Put/Delete name the correct requestor).
// metrics may be nil, in which case cache hit/miss and invalidation
// counts are not recorded.
func New(self wire.Pid, router *shardrouter.Router, send Sender, log *zap.Logger, metrics *obs.ServerMetrics) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		self:     self,
		router:   router,
		send:     send,
		log:      log,
		entries:  make(map[string]line),
		pending:  make(map[string][]pendingOp),
		inflight: make(map[string]pendingOp),
		metrics:  metrics,
	}
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHit()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
}

// Dispatch handles one inbound Operation: a client Get/Put/Delete, a home
// reply (ShmemGetRes/PutRes/DeleteRes), or an invalidation (ShmemInv).
func (c *Cache) Dispatch(from wire.Pid, op wire.Operation) {
	switch op.Kind {
	case wire.KindGet:
		c.handleGet(from, op, false)
	case wire.KindPut, wire.KindDelete:
		c.handleWrite(from, op, false)
	case wire.KindShmemGetRes:
		c.handleShmemGetRes(op)
	case wire.KindShmemPutRes:
		c.handleShmemPutRes(op)
	case wire.KindShmemDeleteRes:
		c.handleShmemDeleteRes(op)
	case wire.KindShmemInv:
		c.handleShmemInv(from, op)
	default:
		c.log.Warn("reqcache: unexpected kind", zap.String("kind", string(op.Kind)))
	}
}

func (c *Cache) homeFor(key string) (wire.Pid, bool) {
	return c.router.PrimaryFor(key)
}

func (c *Cache) enqueue(key string, from wire.Pid, op wire.Operation) {
	c.pending[key] = append(c.pending[key], pendingOp{from: from, op: op})
}

// handleGet implements §4.6's Get: local hit on any permission, else a
// ShmemGet miss. bypassPending is true only when replaying a drained
// queue entry, in which case an outstanding miss for this key no longer
// blocks it (the miss that would have blocked it was this entry's own
// queue slot).
func (c *Cache) handleGet(from wire.Pid, op wire.Operation, bypassPending bool) {
	if !bypassPending {
		if _, busy := c.pending[op.Key]; busy {
			c.enqueue(op.Key, from, op)
			return
		}
	}
	if l, ok := c.entries[op.Key]; ok {
		c.recordHit()
		_ = c.send.Send(from, wire.GetRes(l.value, op.Psn))
		return
	}
	c.recordMiss()
	home, ok := c.homeFor(op.Key)
	if !ok {
		c.log.Warn("reqcache: no shard info, dropping Get", zap.String("key", op.Key))
		return
	}
	c.pending[op.Key] = nil
	_ = c.send.Send(home, wire.ShmemGet(c.self, op.Key, op.Psn))
	c.markInflight(op.Key, from, op.Psn)
}

// markInflight records which client/psn to reply to once the home
// responds to the ShmemGet/Put/Delete this miss just sent.
func (c *Cache) markInflight(key string, from wire.Pid, psn uint64) {
	c.inflight[key] = pendingOp{from: from, op: wire.Operation{Psn: psn}}
}

// takeInflightClient retrieves and clears the client/psn recorded by
// markInflight for key, logging a reply that has no outstanding miss.
func (c *Cache) takeInflightClient(key string) (pendingOp, bool) {
	p, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	} else {
		c.log.Warn("reqcache: home reply with no outstanding miss, dropping", zap.String("key", key))
	}
	return p, ok
}

// handleWrite implements §4.6's Put/Delete: Exclusive local hit writes
// through immediately; anything else misses to the home via ShmemPut/
// ShmemDelete.
func (c *Cache) handleWrite(from wire.Pid, op wire.Operation, bypassPending bool) {
	if !bypassPending {
		if _, busy := c.pending[op.Key]; busy {
			c.enqueue(op.Key, from, op)
			return
		}
	}
	if l, ok := c.entries[op.Key]; ok && l.perm == wire.PermExclusive {
		c.recordHit()
		old := l.value
		c.entries[op.Key] = line{perm: wire.PermExclusive, value: writeValue(op)}
		c.reply(from, op, old)
		return
	}
	c.recordMiss()

	home, ok := c.homeFor(op.Key)
	if !ok {
		c.log.Warn("reqcache: no shard info, dropping write", zap.String("key", op.Key))
		return
	}
	c.pending[op.Key] = nil
	c.markInflight(op.Key, from, op.Psn)
	if op.Kind == wire.KindPut {
		_ = c.send.Send(home, wire.ShmemPut(c.self, op.Key, *op.Value, op.Psn))
	} else {
		_ = c.send.Send(home, wire.ShmemDelete(c.self, op.Key, op.Psn))
	}
}

func (c *Cache) reply(to wire.Pid, op wire.Operation, old *string) {
	if op.Kind == wire.KindPut {
		_ = c.send.Send(to, wire.PutRes(old, op.Psn))
	} else {
		_ = c.send.Send(to, wire.DeleteRes(old, op.Psn))
	}
}

func writeValue(op wire.Operation) *string {
	if op.Kind == wire.KindPut {
		return op.Value
	}
	return nil
}

func (c *Cache) handleShmemGetRes(op wire.Operation) {
	client, ok := c.takeInflightClient(op.Key)
	if !ok {
		return
	}
	_ = c.send.Send(client.from, wire.GetRes(op.NewValue, client.op.Psn))
	if existing, ok := c.entries[op.Key]; !ok || existing.perm != wire.PermExclusive {
		c.entries[op.Key] = line{perm: wire.PermShared, value: op.NewValue}
	}
	c.drain(op.Key)
}

func (c *Cache) handleShmemPutRes(op wire.Operation) {
	client, ok := c.takeInflightClient(op.Key)
	if !ok {
		return
	}
	_ = c.send.Send(client.from, wire.PutRes(op.OldValue, client.op.Psn))
	c.entries[op.Key] = line{perm: wire.PermExclusive, value: op.NewValue}
	c.drain(op.Key)
}

func (c *Cache) handleShmemDeleteRes(op wire.Operation) {
	client, ok := c.takeInflightClient(op.Key)
	if !ok {
		return
	}
	_ = c.send.Send(client.from, wire.DeleteRes(op.OldValue, client.op.Psn))
	c.entries[op.Key] = line{perm: wire.PermExclusive, value: nil}
	c.drain(op.Key)
}

// drain replays the pending queue for key head-first with
// bypassPending=true. If the head itself misses, handleGet/
// handleWrite will have re-created pending[key]; in that case the
// remaining, not-yet-processed tail of this queue is appended behind the
// freshly created one rather than discarded, and
// draining stops here to resume when that new miss resolves.
func (c *Cache) drain(key string) {
	queue, ok := c.pending[key]
	if !ok {
		return
	}
	delete(c.pending, key)
	for i, p := range queue {
		if p.op.Kind == wire.KindGet {
			c.handleGet(p.from, p.op, true)
		} else {
			c.handleWrite(p.from, p.op, true)
		}
		if _, busyAgain := c.pending[key]; busyAgain {
			rest := queue[i+1:]
			c.pending[key] = append(c.pending[key], rest...)
			return
		}
	}
}

func (c *Cache) handleShmemInv(from wire.Pid, op wire.Operation) {
	l, ok := c.entries[op.Key]
	var value *string
	if ok {
		value = l.value
	}
	_ = c.send.Send(from, wire.ShmemInvRes(op.Key, value))

	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.Invalidate(string(op.InvType))
	}
	switch op.InvType {
	case wire.InvToInv:
		delete(c.entries, op.Key)
	case wire.InvToShared:
		l.perm = wire.PermShared
		c.entries[op.Key] = l
	}
}

// Package directory implements the home side of directory-based MSI cache
// coherence (Component D): for each key it owns (being that shard's
// primary), it tracks which requestors currently hold Shared or Exclusive
// permission and invalidates them before admitting a conflicting access.
//
// Grounded in the reference server's handle_shmem_put/handle_shmem_get and
// their use of a single blocking directory loop per home; re-expressed here
// as one goroutine (see Run) that processes one DSM request fully —
// including any synchronous ShmemInv/ShmemInvRes round trips it triggers —
// before starting the next: the directory processes no further
// operations for any key while invalidating.
package directory

import (
	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/obs"
	"github.com/dreamware/shardkv/internal/shard"
	"github.com/dreamware/shardkv/internal/wire"
)

// Sender delivers an Operation to a peer.
type Sender interface {
	Send(dst wire.Pid, op wire.Operation) error
}

// holder is one entry in dir[k]: a requestor holding Shared or Exclusive
// permission on a key.
type holder struct {
	pid  wire.Pid
	perm wire.Perm
}

// Msg is one inbound message routed to the directory: either a DSM request
// (ShmemGet/Put/Delete) from a requestor, or a ShmemInvRes reply from a
// peer the directory is currently invalidating.
type Msg struct {
	From wire.Pid
	Op   wire.Operation
}

// Directory is the home-side coherence authority for the keys this server
// hosts as shard primary. It owns the table directly (there is no
// separate replication engine in caching mode) and dir, the Shared/
// Exclusive holder set per key.
//
// Directory is single-goroutine: Run is its only consumer-side entry
// point, and dispatch must only ever be called from that goroutine. The
// inbox channel is also where ShmemInvRes replies arrive, since awaiting
// one is just another blocking receive on the same channel — that is what
// gives the directory its "serializes everything, even across keys"
// behavior.
type Directory struct {
	table *shard.Table
	send  Sender
	log   *zap.Logger
	dir   map[string][]holder
	inbox chan Msg
	// backlog holds messages read off inbox while awaiting a specific
	// ShmemInvRes that turned out not to match; they are replayed, in
	// order, before the next raw channel read.
	backlog []Msg
	metrics *obs.ServerMetrics
}

// New creates a Directory backed by table, sending invalidations and
// replies through send. inboxSize bounds how many in-flight messages the
// poller can hand off before blocking (0 = reasonable default). metrics
// may be nil, in which case invalidation fan-out is not recorded.
func New(table *shard.Table, send Sender, log *zap.Logger, inboxSize int, metrics *obs.ServerMetrics) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &Directory{
		table:   table,
		send:    send,
		log:     log,
		dir:     make(map[string][]holder),
		inbox:   make(chan Msg, inboxSize),
		metrics: metrics,
	}
}

func (d *Directory) recordInvalidate(typ wire.InvType) {
	if d.metrics != nil {
		d.metrics.Invalidate(string(typ))
	}
}

// Feed hands a message to the directory's inbox. Called from the server's
// network poller/demux goroutine, never from Run's own goroutine.
func (d *Directory) Feed(from wire.Pid, op wire.Operation) {
	d.inbox <- Msg{From: from, Op: op}
}

// Run processes messages from the inbox until done is closed. It must run
// on exactly one goroutine.
func (d *Directory) Run(done <-chan struct{}) {
	for {
		msg, ok := d.next(done)
		if !ok {
			return
		}
		d.dispatch(msg.From, msg.Op)
	}
}

func (d *Directory) next(done <-chan struct{}) (Msg, bool) {
	if len(d.backlog) > 0 {
		msg := d.backlog[0]
		d.backlog = d.backlog[1:]
		return msg, true
	}
	select {
	case msg := <-d.inbox:
		return msg, true
	case <-done:
		return Msg{}, false
	}
}

func (d *Directory) dispatch(from wire.Pid, op wire.Operation) {
	switch op.Kind {
	case wire.KindShmemGet:
		d.handleShmemGet(from, op)
	case wire.KindShmemPut:
		d.handleShmemPutOrDelete(from, op)
	case wire.KindShmemDelete:
		d.handleShmemPutOrDelete(from, op)
	case wire.KindShmemInvRes:
		d.log.Debug("stray ShmemInvRes, no invalidation outstanding",
			zap.String("key", op.Key), zap.Uint32("from", uint32(from)))
	default:
		d.log.Warn("directory: unexpected kind", zap.String("kind", string(op.Kind)))
	}
}

// awaitInvRes blocks until a ShmemInvRes for key arrives from want,
// stashing any other message it reads in the meantime onto the backlog so
// it is processed, in order, once this wait completes.
func (d *Directory) awaitInvRes(key string, want wire.Pid) *string {
	for {
		msg := <-d.inbox
		if msg.Op.Kind == wire.KindShmemInvRes && msg.Op.Key == key && msg.From == want {
			return msg.Op.InvValue
		}
		d.backlog = append(d.backlog, msg)
	}
}

// writeBack applies an invalidation's returned value to the local table:
// a nil value deletes the key, matching the cache's tombstone semantics.
func (d *Directory) writeBack(key string, value *string) {
	if value == nil {
		d.table.Delete(key)
		return
	}
	d.table.Put(key, []byte(*value))
}

// handleShmemGet is the ShmemGet handler: downgrade
// any Exclusive holder to Shared (with synchronous write-back), then admit
// the requestor as a new Shared holder.
func (d *Directory) handleShmemGet(from wire.Pid, op wire.Operation) {
	key := op.Key
	entries := d.dir[key]

	for i, h := range entries {
		if h.pid == from || h.perm != wire.PermExclusive {
			continue
		}
		_ = d.send.Send(h.pid, wire.ShmemInv(key, wire.InvToShared))
		d.recordInvalidate(wire.InvToShared)
		value := d.awaitInvRes(key, h.pid)
		d.writeBack(key, value)
		entries[i].perm = wire.PermShared
	}

	d.dir[key] = append(withoutHolder(entries, from), holder{pid: from, perm: wire.PermShared})

	value, err := d.table.Get(key)
	var v *string
	if err == nil {
		s := string(value)
		v = &s
	}
	_ = d.send.Send(from, wire.ShmemGetRes(op.ClientPid, key, v, op.Psn))
}

// handleShmemPutOrDelete is the ShmemPut handler
// (and, with op.Value == nil, ShmemDelete): invalidate every other holder,
// apply the new value, reply, and install the requestor as the sole
// Exclusive holder.
//
// The holder set (excluding the requestor) is always either a single
// Exclusive peer or zero or more Shared peers, never both — so this only
// ever takes one of those two shapes, never a mixed fan-out.
func (d *Directory) handleShmemPutOrDelete(from wire.Pid, op wire.Operation) {
	key := op.Key
	entries := d.dir[key]

	var oldValue *string
	haveWriteBack := false
	var sharedHolders []wire.Pid

	for _, h := range entries {
		if h.pid == from {
			continue
		}
		_ = d.send.Send(h.pid, wire.ShmemInv(key, wire.InvToInv))
		d.recordInvalidate(wire.InvToInv)
		if h.perm == wire.PermExclusive {
			value := d.awaitInvRes(key, h.pid)
			d.writeBack(key, value)
			oldValue = value
			haveWriteBack = true
		} else {
			sharedHolders = append(sharedHolders, h.pid)
		}
	}
	for _, pid := range sharedHolders {
		value := d.awaitInvRes(key, pid)
		d.writeBack(key, value)
		oldValue = value
		haveWriteBack = true
	}

	var old []byte
	var existed bool
	if op.Value != nil {
		old, existed = d.table.Put(key, []byte(*op.Value))
	} else {
		old, existed = d.table.Delete(key)
	}
	if !haveWriteBack {
		oldValue = bytesPtr(old, existed)
	}

	d.dir[key] = []holder{{pid: from, perm: wire.PermExclusive}}

	if op.Kind == wire.KindShmemPut {
		_ = d.send.Send(from, wire.ShmemPutRes(op.ClientPid, key, oldValue, op.Value, op.Psn))
	} else {
		_ = d.send.Send(from, wire.ShmemDeleteRes(op.ClientPid, key, oldValue, op.Psn))
	}
}

// withoutHolder returns entries with every holder for pid removed.
func withoutHolder(entries []holder, pid wire.Pid) []holder {
	out := make([]holder, 0, len(entries))
	for _, h := range entries {
		if h.pid != pid {
			out = append(out, h)
		}
	}
	return out
}

func bytesPtr(b []byte, existed bool) *string {
	if !existed {
		return nil
	}
	s := string(b)
	return &s
}

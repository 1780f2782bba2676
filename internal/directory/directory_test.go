package directory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/shard"
	"github.com/dreamware/shardkv/internal/wire"
)

// fakeSender records every Send call and, for ShmemInv messages, feeds a
// canned ShmemInvRes back into the directory — standing in for the peer
// cache that would answer an invalidation in production.
type fakeSender struct {
	mu        sync.Mutex
	sent      []sent
	dir       *Directory
	invValues map[wire.Pid]*string // value each peer reports back on invalidation
}

type sent struct {
	dst wire.Pid
	op  wire.Operation
}

func (f *fakeSender) Send(dst wire.Pid, op wire.Operation) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{dst: dst, op: op})
	f.mu.Unlock()

	if op.Kind == wire.KindShmemInv {
		v := f.invValues[dst]
		go f.dir.Feed(dst, wire.ShmemInvRes(op.Key, v))
	}
	return nil
}

func (f *fakeSender) to(dst wire.Pid) []wire.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ops []wire.Operation
	for _, s := range f.sent {
		if s.dst == dst {
			ops = append(ops, s.op)
		}
	}
	return ops
}

const (
	requestorA = wire.Pid(10)
	requestorB = wire.Pid(11)
	clientPid  = wire.Pid(100)
)

func newTestDirectory() (*Directory, *shard.Table, *fakeSender, func()) {
	table := shard.NewTable(4)
	send := &fakeSender{invValues: make(map[wire.Pid]*string)}
	dir := New(table, send, zap.NewNop(), 8, nil)
	send.dir = dir

	done := make(chan struct{})
	go dir.Run(done)
	stop := func() { close(done) }
	return dir, table, send, stop
}

// waitFor polls until cond returns true or the timeout elapses, since the
// directory runs on its own goroutine and replies land asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestDirectoryShmemGetOnEmptyKeyAdmitsShared(t *testing.T) {
	dir, _, send, stop := newTestDirectory()
	defer stop()

	dir.Feed(requestorA, wire.ShmemGet(clientPid, "k", 1))

	waitFor(t, func() bool { return len(send.to(requestorA)) == 1 })
	replies := send.to(requestorA)
	assert.Equal(t, wire.KindShmemGetRes, replies[0].Kind)
	assert.Nil(t, replies[0].NewValue)
}

func TestDirectoryShmemPutThenGetSeesValue(t *testing.T) {
	dir, _, send, stop := newTestDirectory()
	defer stop()

	dir.Feed(requestorA, wire.ShmemPut(clientPid, "k", "v1", 1))
	waitFor(t, func() bool { return len(send.to(requestorA)) == 1 })

	putReply := send.to(requestorA)[0]
	assert.Equal(t, wire.KindShmemPutRes, putReply.Kind)
	assert.Nil(t, putReply.OldValue)
	require.NotNil(t, putReply.NewValue)
	assert.Equal(t, "v1", *putReply.NewValue)

	dir.Feed(requestorB, wire.ShmemGet(clientPid, "k", 2))
	waitFor(t, func() bool { return len(send.to(requestorB)) == 1 })

	getReply := send.to(requestorB)[0]
	assert.Equal(t, wire.KindShmemGetRes, getReply.Kind)
	require.NotNil(t, getReply.NewValue)
	assert.Equal(t, "v1", *getReply.NewValue)
}

func TestDirectoryShmemPutInvalidatesPriorExclusiveHolder(t *testing.T) {
	dir, table, send, stop := newTestDirectory()
	defer stop()

	// requestorA becomes the sole Exclusive holder
	dir.Feed(requestorA, wire.ShmemPut(clientPid, "k", "v1", 1))
	waitFor(t, func() bool { return len(send.to(requestorA)) == 1 })

	// requestorA's cache has since mutated the line to "v2" locally;
	// on invalidation it reports that back for write-back.
	v2 := "v2"
	send.invValues[requestorA] = &v2

	dir.Feed(requestorB, wire.ShmemPut(clientPid, "k", "v3", 2))
	waitFor(t, func() bool { return len(send.to(requestorB)) == 1 })

	// requestorA must have been sent an invalidation
	invMsgs := send.to(requestorA)
	require.Len(t, invMsgs, 2) // ShmemPutRes from round 1, then ShmemInv
	assert.Equal(t, wire.KindShmemInv, invMsgs[1].Kind)
	assert.Equal(t, wire.InvToInv, invMsgs[1].InvType)

	// the write-back value (v2) became the "old" value for B's put
	reply := send.to(requestorB)[0]
	require.NotNil(t, reply.OldValue)
	assert.Equal(t, "v2", *reply.OldValue)

	v, err := table.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(v))
}

func TestDirectoryShmemDeleteClearsTable(t *testing.T) {
	dir, table, send, stop := newTestDirectory()
	defer stop()

	dir.Feed(requestorA, wire.ShmemPut(clientPid, "k", "v1", 1))
	waitFor(t, func() bool { return len(send.to(requestorA)) == 1 })

	dir.Feed(requestorA, wire.ShmemDelete(clientPid, "k", 2))
	waitFor(t, func() bool { return len(send.to(requestorA)) == 2 })

	reply := send.to(requestorA)[1]
	assert.Equal(t, wire.KindShmemDeleteRes, reply.Kind)
	require.NotNil(t, reply.OldValue)
	assert.Equal(t, "v1", *reply.OldValue)

	_, err := table.Get("k")
	assert.Error(t, err)
}

func TestDirectoryStrayInvResIsIgnored(t *testing.T) {
	dir, _, send, stop := newTestDirectory()
	defer stop()

	dir.Feed(requestorA, wire.ShmemInvRes("k", nil))
	// should not crash or produce an outbound message
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, send.to(requestorA))
}

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardkv/internal/transport"
	"github.com/dreamware/shardkv/internal/wire"
)

func TestAckRouterNotifiesRegisteredSubscriber(t *testing.T) {
	r := newAckRouter()
	ch := r.register(wire.Pid(1))

	r.notify(wire.Pid(1))
	select {
	case <-ch:
	default:
		t.Fatal("expected notification on registered channel")
	}
}

func TestAckRouterUnregisterStopsDelivery(t *testing.T) {
	r := newAckRouter()
	ch := r.register(wire.Pid(1))
	r.unregister(wire.Pid(1), ch)

	r.notify(wire.Pid(1)) // no subscribers left, must not panic or block
}

func TestAckRouterNotifyWithNoSubscriberIsNoop(t *testing.T) {
	r := newAckRouter()
	r.notify(wire.Pid(42)) // nothing registered; must not panic
}

const (
	ctlClientsPid = wire.Pid(19001)
	ctlServersPid = wire.Pid(19002)
	serverPidA    = wire.Pid(19011)
	serverPidB    = wire.Pid(19012)
	clientPidA    = wire.Pid(19021)
)

func newTestController(t *testing.T) (*Controller, *transport.Transport, *transport.Transport) {
	t.Helper()
	clientT, err := transport.New(ctlClientsPid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientT.Close() })

	serverT, err := transport.New(ctlServersPid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverT.Close() })

	ctl := New(clientT, serverT, []wire.Pid{serverPidA, serverPidB}, []wire.Pid{clientPidA},
		50*time.Millisecond, 30*time.Millisecond, nil)
	return ctl, clientT, serverT
}

func TestControllerShardInfoAssignsRoundRobin(t *testing.T) {
	ctl, _, _ := newTestController(t)
	info := ctl.ShardInfo()
	assert.Equal(t, 2, info.NumShards())
}

func TestControllerAnswersClientGetShardInfo(t *testing.T) {
	ctl, clientT, _ := newTestController(t)
	_ = clientT

	caller, err := transport.New(clientPidA, nil)
	require.NoError(t, err)
	defer caller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.recvClientLoop(ctx)

	require.NoError(t, caller.Send(ctlClientsPid, wire.GetShardInfo()))
	env, err := caller.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.KindGetShardInfoRes, env.Op.Kind)
	require.NotNil(t, env.Op.ShardInfo)
	assert.Equal(t, 2, env.Op.ShardInfo.NumShards())
}

func TestControllerHeartbeatRoundCollectsAcksAndUpdatesHealth(t *testing.T) {
	ctl, _, serverT := newTestController(t)
	_ = serverT

	fakeA, err := transport.New(serverPidA, nil)
	require.NoError(t, err)
	defer fakeA.Close()
	// serverPidB never responds: after this single round it must not be
	// reported healthy (it stays "unknown" until maxMisses rounds pass).

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.recvServerLoop(ctx)

	go func() {
		env, err := fakeA.Recv(2 * time.Second)
		if err != nil {
			return
		}
		if env.Op.Kind == wire.KindPutShardInfo {
			_ = fakeA.Send(ctlServersPid, wire.PutShardInfoRes())
		}
	}()

	ctl.pusherRound(ctx)

	snap := ctl.Health().Snapshot()
	require.Contains(t, snap, serverPidA)
	assert.Equal(t, "healthy", snap[serverPidA].Status)
	require.Contains(t, snap, serverPidB)
	assert.NotEqual(t, "healthy", snap[serverPidB].Status)
}

package transport

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardkv/internal/wire"
)

const (
	pidA = wire.Pid(19101)
	pidB = wire.Pid(19102)
)

func TestSendRecvRoundTrips(t *testing.T) {
	a, err := New(pidA, nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := New(pidB, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(pidB, wire.Get("k", 1)))

	env, err := b.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.KindGet, env.Op.Kind)
	assert.Equal(t, "k", env.Op.Key)
	assert.True(t, strings.HasSuffix(env.FromAddr, "27101"))
}

func TestRecvTimesOutWhenNothingArrives(t *testing.T) {
	a, err := New(pidA, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Recv(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRecvDropsMalformedDatagram(t *testing.T) {
	a, err := New(pidA, nil)
	require.NoError(t, err)
	defer a.Close()

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(wire.BasePort) + int(pidA)})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)

	_, err = a.Recv(time.Second)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestSendRejectsOversizePayload(t *testing.T) {
	a, err := New(pidA, nil)
	require.NoError(t, err)
	defer a.Close()

	huge := strings.Repeat("x", wire.MaxDatagramBytes+1)
	err = a.Send(pidB, wire.Put("k", huge, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

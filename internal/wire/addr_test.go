package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrFormatsLoopbackPort(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8005", Addr(Pid(5)))
	assert.Equal(t, "127.0.0.1:8000", Addr(Pid(0)))
}

func TestPidFromAddrInvertsAddr(t *testing.T) {
	for _, p := range []Pid{0, 1, 42, 9999} {
		pid, ok := PidFromAddr(Addr(p))
		assert.True(t, ok)
		assert.Equal(t, p, pid)
	}
}

func TestPidFromAddrRejectsMalformed(t *testing.T) {
	_, ok := PidFromAddr("not-an-address")
	assert.False(t, ok)

	_, ok = PidFromAddr("127.0.0.1:80") // below BasePort
	assert.False(t, ok)
}

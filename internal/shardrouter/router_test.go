package shardrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/shardkv/internal/wire"
)

func TestShardIDIsDeterministicAndBounded(t *testing.T) {
	a := ShardID("alpha", 10)
	b := ShardID("alpha", 10)
	assert.Equal(t, a, b)
	assert.Less(t, uint64(a), uint64(10))
}

func TestShardIDZeroShardsReturnsZero(t *testing.T) {
	assert.Equal(t, wire.ShardID(0), ShardID("anything", 0))
}

func TestAssignRoundRobinEveryServerIsPrimaryOnceAndSecondaryElsewhere(t *testing.T) {
	servers := []wire.Pid{1, 2, 3}
	info := AssignRoundRobin(servers)
	assert.Equal(t, 3, info.NumShards())

	for i, s := range servers {
		loc := info.Locations[wire.ShardID(i)]
		assert.Equal(t, s, loc.Primary)
		assert.Len(t, loc.Secondaries, len(servers)-1)
		for _, sec := range loc.Secondaries {
			assert.NotEqual(t, s, sec)
		}
	}
}

func TestRouterSetReplacesInfoWholesale(t *testing.T) {
	r := New(wire.ShardInfo{})
	_, ok := r.PrimaryFor("k")
	assert.False(t, ok)

	r.Set(wire.ShardInfo{Locations: map[wire.ShardID]wire.ShardLoc{
		ShardID("k", 1): {Primary: 9, Secondaries: []wire.Pid{8}},
	}})

	primary, ok := r.PrimaryFor("k")
	assert.True(t, ok)
	assert.Equal(t, wire.Pid(9), primary)
	assert.Equal(t, []wire.Pid{8}, r.SecondariesFor("k"))
}

func TestRouterRoleFor(t *testing.T) {
	self := wire.Pid(1)
	other := wire.Pid(2)
	outsider := wire.Pid(3)

	r := New(wire.ShardInfo{Locations: map[wire.ShardID]wire.ShardLoc{
		ShardID("k", 1): {Primary: self, Secondaries: []wire.Pid{other}},
	}})

	assert.Equal(t, RolePrimary, r.RoleFor("k", self))
	assert.Equal(t, RoleSecondary, r.RoleFor("k", other))
	assert.Equal(t, RoleNone, r.RoleFor("k", outsider))
}

func TestRouterRoleForEmptyInfoIsNone(t *testing.T) {
	r := New(wire.ShardInfo{})
	assert.Equal(t, RoleNone, r.RoleFor("k", wire.Pid(1)))
}

func TestRouterInfoReturnsIndependentCopy(t *testing.T) {
	r := New(wire.ShardInfo{Locations: map[wire.ShardID]wire.ShardLoc{
		0: {Primary: 1, Secondaries: []wire.Pid{2, 3}},
	}})

	info := r.Info()
	info.Locations[0] = wire.ShardLoc{Primary: 99}

	// mutating the returned copy must not affect the router's own state
	primary, ok := r.PrimaryFor("anything-hashing-to-shard-0")
	assert.True(t, ok)
	assert.NotEqual(t, wire.Pid(99), primary)
}

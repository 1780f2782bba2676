package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/shardkv/internal/wire"
)

func TestMustPidParsesValidInput(t *testing.T) {
	assert.Equal(t, wire.Pid(7), mustPid("7"))
}

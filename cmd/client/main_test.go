package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/shardkv/internal/wire"
)

func TestLoadWorkloadParsesValidLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.txt")
	content := "get alpha\nput beta gamma value\ndelete alpha\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ops, err := loadWorkload(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, wire.KindGet, ops[0].kind)
	assert.Equal(t, "alpha", ops[0].key)

	assert.Equal(t, wire.KindPut, ops[1].kind)
	assert.Equal(t, "beta", ops[1].key)
	assert.Equal(t, "gamma value", ops[1].val)

	assert.Equal(t, wire.KindDelete, ops[2].kind)
	assert.Equal(t, "alpha", ops[2].key)
}

func TestLoadWorkloadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.txt")
	content := "get\nput onlyonekey\nbogus line here\nget good\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ops, err := loadWorkload(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "good", ops[0].key)
}

func TestLoadWorkloadMissingFileErrors(t *testing.T) {
	_, err := loadWorkload("/no/such/file.txt", zap.NewNop())
	assert.Error(t, err)
}

func TestToWireOp(t *testing.T) {
	get := toWireOp(op{kind: wire.KindGet, key: "k"}, 5)
	assert.Equal(t, wire.KindGet, get.Kind)
	assert.Equal(t, uint64(5), get.Psn)

	put := toWireOp(op{kind: wire.KindPut, key: "k", val: "v"}, 6)
	assert.Equal(t, wire.KindPut, put.Kind)
	require.NotNil(t, put.Value)
	assert.Equal(t, "v", *put.Value)

	del := toWireOp(op{kind: wire.KindDelete, key: "k"}, 7)
	assert.Equal(t, wire.KindDelete, del.Kind)
}

func TestTraceRowFormatsColumns(t *testing.T) {
	begin := time.Unix(0, 1000)
	end := time.Unix(0, 2000)
	v := "observed"
	row := traceRow(op{kind: wire.KindGet, key: "k"}, &v, nil, begin, end)

	assert.Equal(t, []string{"get", "k", "observed", "", "1000", "2000"}, row)
}

func TestDerefOrEmpty(t *testing.T) {
	assert.Equal(t, "", derefOrEmpty(nil))
	s := "x"
	assert.Equal(t, "x", derefOrEmpty(&s))
}

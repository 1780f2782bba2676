package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetenvFallsBackWhenUnset(t *testing.T) {
	t.Setenv("SHARDKV_TEST_STR", "")
	assert.Equal(t, "fallback", Getenv("SHARDKV_TEST_STR", "fallback"))

	t.Setenv("SHARDKV_TEST_STR", "set")
	assert.Equal(t, "set", Getenv("SHARDKV_TEST_STR", "fallback"))
}

func TestGetenvDurationParsesOrFallsBack(t *testing.T) {
	t.Setenv("SHARDKV_TEST_DUR", "")
	assert.Equal(t, 5*time.Second, GetenvDuration("SHARDKV_TEST_DUR", 5*time.Second))

	t.Setenv("SHARDKV_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, GetenvDuration("SHARDKV_TEST_DUR", 5*time.Second))

	t.Setenv("SHARDKV_TEST_DUR", "not-a-duration")
	assert.Equal(t, 5*time.Second, GetenvDuration("SHARDKV_TEST_DUR", 5*time.Second))
}

func TestGetenvIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("SHARDKV_TEST_INT", "")
	assert.Equal(t, 42, GetenvInt("SHARDKV_TEST_INT", 42))

	t.Setenv("SHARDKV_TEST_INT", "7")
	assert.Equal(t, 7, GetenvInt("SHARDKV_TEST_INT", 42))

	t.Setenv("SHARDKV_TEST_INT", "nope")
	assert.Equal(t, 42, GetenvInt("SHARDKV_TEST_INT", 42))
}

func TestGetenvBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("SHARDKV_TEST_BOOL", "")
	assert.True(t, GetenvBool("SHARDKV_TEST_BOOL", true))

	t.Setenv("SHARDKV_TEST_BOOL", "false")
	assert.False(t, GetenvBool("SHARDKV_TEST_BOOL", true))

	t.Setenv("SHARDKV_TEST_BOOL", "not-a-bool")
	assert.True(t, GetenvBool("SHARDKV_TEST_BOOL", true))
}

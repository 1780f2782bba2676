// Package config collects the environment-variable conventions shared by
// all three shardkv processes (server, controller, client): one set of
// getenv helpers instead of each process duplicating its own.
package config

import (
	"os"
	"strconv"
	"time"
)

// Getenv returns the environment variable k, or def if unset or empty.
func Getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// GetenvDuration parses k as a time.Duration, falling back to def on any
// parse error or if k is unset.
func GetenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetenvInt parses k as an int, falling back to def on any parse error or
// if k is unset.
func GetenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetenvBool parses k as a bool with strconv.ParseBool (accepting forms
// such as "true"/"TRUE"/"1"/"false"/"FALSE"/"0"), falling back to def
// otherwise.
func GetenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Process names the SHARDKV_* environment variables every process reads.
const (
	EnvCache                   = "SHARDKV_CACHE"
	EnvBuckets                 = "SHARDKV_BUCKETS"
	EnvRecvTimeoutMS           = "SHARDKV_RECV_TIMEOUT_MS"
	EnvHeartbeatInterval       = "SHARDKV_HEARTBEAT_INTERVAL"
	EnvClientShardInfoTimeout  = "SHARDKV_CLIENT_SHARDINFO_TIMEOUT_MS"
	EnvLogLevel                = "SHARDKV_LOG_LEVEL"
	EnvMetricsAddr             = "SHARDKV_METRICS_ADDR"
	EnvConfigFile              = "SHARDKV_CONFIG_FILE"
)

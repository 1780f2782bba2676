package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML document SHARDKV_CONFIG_FILE points at,
// overriding any of the SHARDKV_* environment variables it sets. Every
// field is a pointer so an absent key in the file leaves the
// corresponding environment/default value untouched.
type File struct {
	Cache                  *bool          `yaml:"cache"`
	Buckets                *int           `yaml:"buckets"`
	RecvTimeoutMS          *int           `yaml:"recv_timeout_ms"`
	HeartbeatInterval      *time.Duration `yaml:"heartbeat_interval"`
	ClientShardInfoTimeout *int           `yaml:"client_shardinfo_timeout_ms"`
	LogLevel               *string        `yaml:"log_level"`
	MetricsAddr            *string        `yaml:"metrics_addr"`
}

// LoadFile parses path as YAML into a File. A missing SHARDKV_CONFIG_FILE
// is not an error at the call site — callers should only invoke this when
// the env var is set.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Apply overlays any fields f sets onto the environment, so that the
// ordinary Getenv* call sites downstream see the file's
// values without callers needing two separate code paths. Call this once
// at process startup, before reading any SHARDKV_* variable.
func (f File) Apply() {
	if f.Cache != nil {
		os.Setenv(EnvCache, boolStr(*f.Cache))
	}
	if f.Buckets != nil {
		os.Setenv(EnvBuckets, strconv.Itoa(*f.Buckets))
	}
	if f.RecvTimeoutMS != nil {
		os.Setenv(EnvRecvTimeoutMS, strconv.Itoa(*f.RecvTimeoutMS))
	}
	if f.HeartbeatInterval != nil {
		os.Setenv(EnvHeartbeatInterval, f.HeartbeatInterval.String())
	}
	if f.ClientShardInfoTimeout != nil {
		os.Setenv(EnvClientShardInfoTimeout, strconv.Itoa(*f.ClientShardInfoTimeout))
	}
	if f.LogLevel != nil {
		os.Setenv(EnvLogLevel, *f.LogLevel)
	}
	if f.MetricsAddr != nil {
		os.Setenv(EnvMetricsAddr, *f.MetricsAddr)
	}
}

// LoadIfConfigured applies SHARDKV_CONFIG_FILE's overrides to the
// environment if the variable is set. Every cmd entry point calls this
// first, before reading any other SHARDKV_* variable.
func LoadIfConfigured() error {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		return nil
	}
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	f.Apply()
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Package config loads stowage settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Backend names accepted in STOWAGE_BACKEND. An empty name selects one
// from the environment.
const (
	BackendAuto      = ""
	BackendMemory    = "memory"
	BackendNull      = "null"
	BackendBolt      = "bolt"
	BackendLocalFS   = "localfs"
	BackendValkey    = "valkey"
	BackendRedis     = "redis"
	BackendDatastore = "datastore"
)

var backends = []string{
	BackendAuto, BackendMemory, BackendNull, BackendBolt,
	BackendLocalFS, BackendValkey, BackendRedis, BackendDatastore,
}

// Config is the environment configuration.
type Config struct {
	Backend      string        `mapstructure:"STOWAGE_BACKEND"`
	Dir          string        `mapstructure:"STOWAGE_DIR"`
	CacheID      string        `mapstructure:"STOWAGE_CACHE_ID"`
	Compression  string        `mapstructure:"STOWAGE_COMPRESSION"`
	ValkeyAddr   string        `mapstructure:"STOWAGE_VALKEY_ADDR"`
	RedisURL     string        `mapstructure:"STOWAGE_REDIS_URL"`
	DatastoreDB  string        `mapstructure:"STOWAGE_DATASTORE_DB"`
	LogLevel     string        `mapstructure:"STOWAGE_LOG_LEVEL"`
	Debounce     time.Duration `mapstructure:"STOWAGE_DEBOUNCE"`
	FlushTimeout time.Duration `mapstructure:"STOWAGE_FLUSH_TIMEOUT"`
}

// Load reads a .env file from the working directory, if present, then the
// process environment. Variables already set take precedence over .env.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := gotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("STOWAGE_BACKEND", BackendAuto)
	v.SetDefault("STOWAGE_DIR", "")
	v.SetDefault("STOWAGE_CACHE_ID", "stowage")
	v.SetDefault("STOWAGE_COMPRESSION", "")
	v.SetDefault("STOWAGE_VALKEY_ADDR", "localhost:6379")
	v.SetDefault("STOWAGE_REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("STOWAGE_DATASTORE_DB", "")
	v.SetDefault("STOWAGE_LOG_LEVEL", "info")
	v.SetDefault("STOWAGE_DEBOUNCE", "200ms")
	v.SetDefault("STOWAGE_FLUSH_TIMEOUT", "5s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.DatastoreDB == "" {
		cfg.DatastoreDB = cfg.CacheID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(backends, c.Backend) {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.CacheID == "" {
		errs = append(errs, errors.New("STOWAGE_CACHE_ID cannot be empty"))
	}
	switch c.Compression {
	case "", "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %v", c.Debounce))
	}
	if c.FlushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flush timeout must be positive, got %v", c.FlushTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

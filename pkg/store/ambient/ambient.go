// Package ambient picks the persistent backend for the current environment.
// It builds whatever the configuration names and, when no backend is named,
// detects Cloud Run via the K_SERVICE environment variable and tries
// Datastore, otherwise local files. Any backend that cannot be opened is
// replaced by an in-memory store, so resolution always succeeds.
package ambient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codeGROOVE-dev/stowage"
	"github.com/codeGROOVE-dev/stowage/pkg/config"
	"github.com/codeGROOVE-dev/stowage/pkg/store/bolt"
	"github.com/codeGROOVE-dev/stowage/pkg/store/datastore"
	"github.com/codeGROOVE-dev/stowage/pkg/store/localfs"
	"github.com/codeGROOVE-dev/stowage/pkg/store/memory"
	"github.com/codeGROOVE-dev/stowage/pkg/store/null"
	"github.com/codeGROOVE-dev/stowage/pkg/store/redis"
	"github.com/codeGROOVE-dev/stowage/pkg/store/valkey"
)

// Backend is a resolved backend and the kind that was chosen.
type Backend struct {
	// Store is the opened backend; pass it to stowage.WithBackend.
	Store stowage.Backend
	// Kind is one of the config.Backend* names, never BackendAuto.
	Kind string
	// Fallback is set when the configured backend could not be opened.
	Fallback bool
}

// Close releases the backend's resources, if it holds any.
func (b *Backend) Close() error {
	if c, ok := b.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Resolve opens the backend cfg selects. It always returns a usable backend.
func Resolve(ctx context.Context, cfg *config.Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	kind := cfg.Backend
	if kind == config.BackendAuto {
		kind = detect()
	}

	b, err := open(ctx, kind, cfg)
	if err != nil {
		log.InfoContext(ctx, "backend unavailable, using memory", "backend", kind, "error", err)
		return &Backend{Store: memory.New(), Kind: config.BackendMemory, Fallback: true}
	}
	log.DebugContext(ctx, "resolved backend", "backend", kind)
	return &Backend{Store: b, Kind: kind}
}

func detect() string {
	if os.Getenv("K_SERVICE") != "" {
		return config.BackendDatastore
	}
	return config.BackendLocalFS
}

func open(ctx context.Context, kind string, cfg *config.Config) (stowage.Backend, error) {
	switch kind {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendNull:
		return null.New(), nil
	case config.BackendBolt:
		dir, err := baseDir(cfg)
		if err != nil {
			return nil, err
		}
		return bolt.Open(filepath.Join(dir, cfg.CacheID+".db"), bolt.Options{})
	case config.BackendLocalFS:
		return localfs.New(cfg.CacheID, cfg.Dir, localfs.Compression(cfg.Compression))
	case config.BackendValkey:
		return valkey.New(ctx, cfg.CacheID, cfg.ValkeyAddr)
	case config.BackendRedis:
		return redis.New(ctx, cfg.CacheID, cfg.RedisURL)
	case config.BackendDatastore:
		return datastore.New(ctx, cfg.DatastoreDB)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func baseDir(cfg *config.Config) (string, error) {
	if cfg.Dir != "" {
		return cfg.Dir, nil
	}
	d, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("get user cache dir: %w", err)
	}
	return d, nil
}

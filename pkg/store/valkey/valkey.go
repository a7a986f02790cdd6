// Package valkey provides Valkey persistence for stowage.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/valkey-io/valkey-go"
)

const maxKeyLength = 512

// Store keeps each key as a plain Valkey string under a prefix.
type Store struct {
	client valkey.Client
	prefix string
}

// New connects to addr and verifies the connection.
// The cacheID is used as a key prefix to namespace entries.
// addr should be in the format "host:port" (e.g., "localhost:6379").
func New(ctx context.Context, cacheID, addr string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping failed: %w", err)
	}

	return &Store{
		client: client,
		prefix: cacheID + ":",
	}, nil
}

func validateKey(key string) error {
	if len(key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(key), maxKeyLength)
	}
	return nil
}

// Location returns the Valkey key for a given key.
func (s *Store) Location(key string) string {
	return s.prefix + key
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.Location(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("valkey get: %w", err)
	}
	return data, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	cmd := s.client.B().Set().Key(s.Location(key)).Value(value).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(s.Location(key)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey delete: %w", err)
	}
	return nil
}

// scan returns every Valkey key under the prefix.
func (s *Store) scan(ctx context.Context) ([]string, error) {
	var out []string
	pat := s.prefix + "*"
	var cursor uint64

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		cmd := s.client.B().Scan().Cursor(cursor).Match(pat).Count(100).Build()
		scan, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return out, fmt.Errorf("scan keys: %w", err)
		}
		out = append(out, scan.Elements...)

		cursor = scan.Cursor
		if cursor == 0 {
			break
		}
	}
	// SCAN may return a key more than once.
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Len returns the number of keys under the prefix.
func (s *Store) Len(ctx context.Context) (int, error) {
	ks, err := s.scan(ctx)
	return len(ks), err
}

// KeyAt returns the i-th key in sorted order.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(ctx context.Context, i int) (string, bool, error) {
	ks, err := s.scan(ctx)
	if err != nil {
		return "", false, err
	}
	if i < 0 || i >= len(ks) {
		return "", false, nil
	}
	return strings.TrimPrefix(ks[i], s.prefix), true, nil
}

// Keys returns every key in sorted order from a single SCAN pass.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ks, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	for i, k := range ks {
		ks[i] = strings.TrimPrefix(k, s.prefix)
	}
	return ks, nil
}

// Flush removes all entries with this store's prefix.
// Returns the number of entries removed and any error.
func (s *Store) Flush(ctx context.Context) (int, error) {
	ks, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for chunk := range slices.Chunk(ks, 100) {
		c, err := s.client.Do(ctx, s.client.B().Del().Key(chunk...).Build()).AsInt64()
		if err != nil {
			return n, fmt.Errorf("delete keys: %w", err)
		}
		n += int(c)
	}
	return n, nil
}

// Close releases Valkey client resources.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

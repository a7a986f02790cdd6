// Package redis provides Redis persistence for stowage. All entries of a
// store live in one hash, so enumeration never scans the keyspace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// Store keeps entries as fields of a single Redis hash.
type Store struct {
	client *redis.Client
	hash   string
}

// New connects to redisURL (e.g. redis://localhost:6379/0) and verifies the
// connection. Entries are kept in the hash named by cacheID.
func New(ctx context.Context, cacheID, redisURL string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("redis ping failed: %w", err), client.Close())
	}

	return &Store{client: client, hash: cacheID}, nil
}

// Location returns the hash and field holding key.
func (s *Store) Location(key string) string {
	return s.hash + "[" + key + "]"
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Len returns the number of fields in the hash.
func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.hash).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

// KeyAt returns the i-th field in sorted order.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(ctx context.Context, i int) (string, bool, error) {
	ks, err := s.client.HKeys(ctx, s.hash).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis hkeys: %w", err)
	}
	if i < 0 || i >= len(ks) {
		return "", false, nil
	}
	slices.Sort(ks)
	return ks[i], true, nil
}

// Keys returns every field in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ks, err := s.client.HKeys(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	slices.Sort(ks)
	return ks, nil
}

// Flush drops the whole hash. Returns the number of entries removed.
func (s *Store) Flush(ctx context.Context) (int, error) {
	n, err := s.Len(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.client.Del(ctx, s.hash).Err(); err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Close releases Redis client resources.
func (s *Store) Close() error {
	return s.client.Close()
}

// Package bolt provides a bbolt-backed store for stowage.
// All entries live in one bucket; KeyAt follows the bucket's byte-sorted
// key order.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const defaultBucket = "stowage"

// Options configures a Store.
type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// Store is a persistent store in a single bbolt file.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Open initializes or opens a Store at the given path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	bucket := []byte(defaultBucket)
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("create bucket: %w", err), db.Close())
	}
	return &Store{db: db, bucket: bucket}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var out string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		out = string(v)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get: %w", err)
	}
	return out, found, nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key, value string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), []byte(value))
	}); err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Len returns the number of keys in the bucket.
func (s *Store) Len(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bolt count: %w", err)
	}
	return n, nil
}

// KeyAt returns the i-th key in byte order.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(_ context.Context, i int) (string, bool, error) {
	if i < 0 {
		return "", false, nil
	}
	var out string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		k, _ := c.First()
		for ; k != nil && i > 0; i-- {
			k, _ = c.Next()
		}
		if k != nil {
			out, found = string(k), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt cursor: %w", err)
	}
	return out, found, nil
}

// Keys returns every key in byte order from one read transaction.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt keys: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Package datastore provides Google Cloud Datastore persistence for stowage.
package datastore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	ds "github.com/codeGROOVE-dev/ds9/pkg/datastore"
)

const (
	datastoreKind      = "StowageEntry"
	maxDatastoreKeyLen = 1500
)

// Store keeps each key as one entity of a single kind.
type Store struct {
	client *ds.Client
	kind   string
}

// entity is the stored form of one entry. Values are base64-encoded so
// arbitrary text survives Datastore's string handling. The key is the
// entity key name.
type entity struct {
	UpdatedAt time.Time `datastore:"updated_at"`
	Value     string    `datastore:"value,noindex"`
}

// New connects to the named Datastore database.
// An empty project ID is auto-detected from the environment.
func New(ctx context.Context, database string) (*Store, error) {
	client, err := ds.NewClientWithDatabase(ctx, "", database)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w", err)
	}

	slog.Debug("initialized datastore persistence", "database", database, "kind", datastoreKind)

	return &Store{
		client: client,
		kind:   datastoreKind,
	}, nil
}

func validateKey(key string) error {
	if len(key) > maxDatastoreKeyLen {
		return fmt.Errorf("key too long: %d bytes (max %d for datastore)", len(key), maxDatastoreKeyLen)
	}
	if key == "" {
		return errors.New("key cannot be empty")
	}
	return nil
}

// Location returns the Datastore key path for key, as "kind/key".
func (s *Store) Location(key string) string {
	return s.kind + "/" + key
}

func (s *Store) makeKey(key string) *ds.Key {
	return ds.NameKey(s.kind, key, nil)
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var e entity
	if err := s.client.Get(ctx, s.makeKey(key), &e); err != nil {
		if errors.Is(err, ds.ErrNoSuchEntity) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("datastore get: %w", err)
	}

	b, err := base64.StdEncoding.DecodeString(e.Value)
	if err != nil {
		return "", false, fmt.Errorf("decode base64: %w", err)
	}
	return string(b), true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	e := entity{
		Value:     base64.StdEncoding.EncodeToString([]byte(value)),
		UpdatedAt: time.Now(),
	}
	if _, err := s.client.Put(ctx, s.makeKey(key), &e); err != nil {
		return fmt.Errorf("datastore put: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, s.makeKey(key)); err != nil {
		return fmt.Errorf("datastore delete: %w", err)
	}
	return nil
}

// names returns every entity key name of the store's kind, sorted.
func (s *Store) names(ctx context.Context) ([]string, error) {
	iter := s.client.Run(ctx, ds.NewQuery(s.kind).Order("-updated_at"))

	var out []string
	for {
		var e entity
		k, err := iter.Next(&e)
		if errors.Is(err, ds.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query next: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		out = append(out, k.Name)
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the number of stored entities.
func (s *Store) Len(ctx context.Context) (int, error) {
	ns, err := s.names(ctx)
	return len(ns), err
}

// KeyAt returns the i-th key in sorted order.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(ctx context.Context, i int) (string, bool, error) {
	ns, err := s.names(ctx)
	if err != nil {
		return "", false, err
	}
	if i < 0 || i >= len(ns) {
		return "", false, nil
	}
	return ns[i], true, nil
}

// Keys returns every key in sorted order from one query.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.names(ctx)
}

// Flush removes every entity of the store's kind.
// Returns the number of entities removed.
func (s *Store) Flush(ctx context.Context) (int, error) {
	keys, err := s.client.GetAll(ctx, ds.NewQuery(s.kind).KeysOnly(), nil)
	if err != nil {
		return 0, fmt.Errorf("query entries: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	slog.Info("flushed datastore entries", "count", len(keys), "kind", s.kind)
	return len(keys), nil
}

// Close releases Datastore client resources.
func (s *Store) Close() error {
	return s.client.Close()
}

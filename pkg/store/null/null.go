// Package null provides a no-op store for stowage.
// All gets return not found, all sets are discarded.
// Useful when the caching behavior of stowage is wanted without persistence.
package null

import "context"

// Store implements a no-op store. It is deliberately not enumerable, so
// garbage collection skips it.
type Store struct{}

// New creates a new null store.
func New() *Store {
	return &Store{}
}

// Get always returns not found.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (*Store) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

// Set discards the value and returns nil.
func (*Store) Set(_ context.Context, _, _ string) error {
	return nil
}

// Delete is a no-op and returns nil.
func (*Store) Delete(_ context.Context, _ string) error {
	return nil
}

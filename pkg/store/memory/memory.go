// Package memory provides the in-memory fallback store for stowage.
// Entries keep their insertion order, so KeyAt enumerates oldest first;
// overwriting a key keeps its original position.
package memory

import (
	"context"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store is an insertion-ordered in-memory store. It is safe for concurrent use.
type Store struct {
	items *orderedmap.OrderedMap[string, string]
	mu    sync.RWMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{items: orderedmap.New[string, string]()}
}

// Get returns the value stored under key.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Backend contract
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items.Get(key)
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(key, value)
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(key)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Len(), nil
}

// KeyAt returns the i-th key in insertion order.
//
//nolint:gocritic // unnamedResult: mirrors the stowage.Enumerable contract
func (s *Store) KeyAt(_ context.Context, i int) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 {
		return "", false, nil
	}
	pair := s.items.Oldest()
	for ; pair != nil && i > 0; i-- {
		pair = pair.Next()
	}
	if pair == nil {
		return "", false, nil
	}
	return pair.Key, true, nil
}

// Keys returns every key in insertion order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, s.items.Len())
	for pair := s.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out, nil
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = orderedmap.New[string, string]()
}

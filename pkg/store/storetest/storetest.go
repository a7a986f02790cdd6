// Package storetest provides conformance tests for stowage backends.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"testing"
)

// Store is the stowage backend contract.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Enumerable is a Store that lists keys by position.
type Enumerable interface {
	Store
	Len(ctx context.Context) (int, error)
	KeyAt(ctx context.Context, i int) (string, bool, error)
}

// Lister is an Enumerable that lists every key in one call.
type Lister interface {
	Enumerable
	Keys(ctx context.Context) ([]string, error)
}

// Factory creates a fresh, empty Store for one subtest.
type Factory func(t *testing.T) Store

// Run runs the conformance suite against stores built by factory.
// Enumeration tests run only when the store implements Enumerable, and
// the Keys test only when it implements Lister.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	tests := []struct {
		name string
		test func(t *testing.T, s Store)
	}{
		{"SetGet", testSetGet},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"Delete", testDelete},
		{"DeleteMissing", testDeleteMissing},
		{"EmptyValue", testEmptyValue},
		{"DottedKeys", testDottedKeys},
		{"Enumerate", testEnumerate},
		{"EnumerateOutOfRange", testEnumerateOutOfRange},
		{"Keys", testKeys},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, factory(t))
		})
	}
}

func mustSet(t *testing.T, s Store, key, value string) {
	t.Helper()
	if err := s.Set(context.Background(), key, value); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func mustGet(t *testing.T, s Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v, ok
}

func testSetGet(t *testing.T, s Store) {
	mustSet(t, s, "greeting", `"hello"`)
	v, ok := mustGet(t, s, "greeting")
	if !ok {
		t.Fatal("greeting not found")
	}
	if v != `"hello"` {
		t.Errorf("Get(greeting) = %q; want %q", v, `"hello"`)
	}
}

func testGetMissing(t *testing.T, s Store) {
	if v, ok := mustGet(t, s, "missing"); ok {
		t.Errorf("Get(missing) = %q, true; want not found", v)
	}
}

func testOverwrite(t *testing.T, s Store) {
	mustSet(t, s, "k", "1")
	mustSet(t, s, "k", "2")
	if v, _ := mustGet(t, s, "k"); v != "2" {
		t.Errorf("Get(k) = %q; want %q", v, "2")
	}
}

func testDelete(t *testing.T, s Store) {
	mustSet(t, s, "k", "1")
	if err := s.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := mustGet(t, s, "k"); ok {
		t.Error("k still present after Delete")
	}
}

func testDeleteMissing(t *testing.T, s Store) {
	if err := s.Delete(context.Background(), "never-set"); err != nil {
		t.Errorf("Delete(never-set) = %v; want nil", err)
	}
}

func testEmptyValue(t *testing.T, s Store) {
	mustSet(t, s, "empty", "")
	v, ok := mustGet(t, s, "empty")
	if !ok {
		t.Fatal("empty value reported as missing")
	}
	if v != "" {
		t.Errorf("Get(empty) = %q; want empty string", v)
	}
}

func testDottedKeys(t *testing.T, s Store) {
	mustSet(t, s, "ns.key", "1")
	mustSet(t, s, "EXPIRES.ns.key", "1700000000000")
	if v, _ := mustGet(t, s, "ns.key"); v != "1" {
		t.Errorf("Get(ns.key) = %q; want 1", v)
	}
	if v, _ := mustGet(t, s, "EXPIRES.ns.key"); v != "1700000000000" {
		t.Errorf("Get(EXPIRES.ns.key) = %q; want 1700000000000", v)
	}
}

func testEnumerate(t *testing.T, s Store) {
	e, ok := s.(Enumerable)
	if !ok {
		t.Skip("store is not enumerable")
	}
	ctx := context.Background()
	want := []string{"a", "b", "c"}
	for i, k := range want {
		mustSet(t, s, k, fmt.Sprint(i))
	}

	n, err := e.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Len = %d; want %d", n, len(want))
	}

	var got []string
	for i := range n {
		k, ok, err := e.KeyAt(ctx, i)
		if err != nil {
			t.Fatalf("KeyAt(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("KeyAt(%d) not found", i)
		}
		got = append(got, k)
	}
	slices.Sort(got)
	if !slices.Equal(got, want) {
		t.Errorf("keys = %v; want %v", got, want)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, err := e.Len(ctx); err != nil || n != 2 {
		t.Errorf("Len after delete = %d, %v; want 2, nil", n, err)
	}
}

func testEnumerateOutOfRange(t *testing.T, s Store) {
	e, ok := s.(Enumerable)
	if !ok {
		t.Skip("store is not enumerable")
	}
	mustSet(t, s, "only", "1")
	if k, ok, err := e.KeyAt(context.Background(), 5); err != nil || ok {
		t.Errorf("KeyAt(5) = %q, %v, %v; want not found", k, ok, err)
	}
}

func testKeys(t *testing.T, s Store) {
	l, ok := s.(Lister)
	if !ok {
		t.Skip("store does not list keys")
	}
	ctx := context.Background()
	if ks, err := l.Keys(ctx); err != nil || len(ks) != 0 {
		t.Fatalf("Keys on empty store = %v, %v; want none", ks, err)
	}
	for i, k := range []string{"x", "EXPIRES.x", "y"} {
		mustSet(t, s, k, fmt.Sprint(i))
	}

	got, err := l.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	n, err := l.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	var walked []string
	for i := range n {
		k, ok, err := l.KeyAt(ctx, i)
		if err != nil || !ok {
			t.Fatalf("KeyAt(%d) = %q, %v, %v", i, k, ok, err)
		}
		walked = append(walked, k)
	}
	if !slices.Equal(got, walked) {
		t.Errorf("Keys = %v; want position order %v", got, walked)
	}
}

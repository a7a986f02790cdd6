package datastore

import (
	"context"
	"strings"
	"testing"

	ds "github.com/codeGROOVE-dev/ds9/pkg/datastore"
	"github.com/codeGROOVE-dev/stowage/pkg/store/storetest"
)

// newMockStore creates a store backed by the ds9 mock client.
func newMockStore(t *testing.T) *Store {
	t.Helper()
	client, cleanup := ds.NewMockClient(t)
	t.Cleanup(cleanup)
	return &Store{
		client: client,
		kind:   datastoreKind,
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newMockStore(t)
	})
}

func TestBinarySafeValue(t *testing.T) {
	s := newMockStore(t)
	ctx := context.Background()

	v := "line\x00\xff\nnext"
	if err := s.Set(ctx, "raw", v); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "raw")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != v {
		t.Errorf("Get(raw) = %q, %v; want %q, true", got, ok, v)
	}
}

func TestSetInvalidKey(t *testing.T) {
	s := newMockStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "", "1"); err == nil {
		t.Error("Set with empty key should fail")
	}
	if err := s.Set(ctx, strings.Repeat("k", maxDatastoreKeyLen+1), "1"); err == nil {
		t.Error("Set with oversized key should fail")
	}
}

func TestLocation(t *testing.T) {
	s := newMockStore(t)
	if got := s.Location("theme"); got != "StowageEntry/theme" {
		t.Errorf("Location = %q; want StowageEntry/theme", got)
	}
}

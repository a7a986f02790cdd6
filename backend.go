package stowage

import "context"

// Backend is the key-value persistence target behind a Registry.
// Values are the serialized text form of whatever a Value holds.
// Implementations must be safe for concurrent use and comparable
// (pointer types), since the Registry keys records by backend identity.
type Backend interface {
	// Get returns the stored text and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores text under key, replacing any previous entry.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Enumerable is a Backend that can list its keys by position.
// Only enumerable backends are swept by the garbage collector; positions
// are only required to be stable while no writes happen.
type Enumerable interface {
	Backend
	// Len returns the number of stored keys.
	Len(ctx context.Context) (int, error)
	// KeyAt returns the key at position i, or false when i is out of range.
	KeyAt(ctx context.Context, i int) (string, bool, error)
}

// KeyLister is implemented by enumerable backends that can list every key
// in one pass. Keys prefers it to walking positions one KeyAt at a time.
type KeyLister interface {
	// Keys returns every stored key in position order.
	Keys(ctx context.Context) ([]string, error)
}

// Keys snapshots every key of an enumerable backend in position order.
func Keys(ctx context.Context, b Enumerable) ([]string, error) {
	if l, ok := b.(KeyLister); ok {
		return l.Keys(ctx)
	}
	n, err := b.Len(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := range n {
		k, ok, err := b.KeyAt(ctx, i)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

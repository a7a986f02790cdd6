package stowage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Value is a typed handle onto one key of a backend. It does not own any
// state: every Value for the same backend and key reads and writes the
// same registry slot.
type Value[V any] struct {
	reg      *Registry
	backend  Backend
	def      V
	key      string
	ttl      time.Duration
	debounce time.Duration
}

// NewValue returns a handle onto key. The backend is registered on first
// use and the stored value is loaded at most once per slot. A stored value
// or marker that cannot be parsed is reported and treated as absent.
func NewValue[V any](ctx context.Context, r *Registry, key string, opts ...ValueOption) *Value[V] {
	cfg := valueConfig{backend: r.opts.Backend}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backend == nil {
		cfg.backend = r.opts.Backend
	}
	if cfg.debounce <= 0 {
		cfg.debounce = r.opts.Debounce
	}

	v := &Value[V]{
		reg:      r,
		backend:  cfg.backend,
		key:      CompositeKey(cfg.namespace, key),
		ttl:      cfg.ttl,
		debounce: cfg.debounce,
	}
	if cfg.hasDef {
		if d, ok := cfg.def.(V); ok {
			v.def = d
		} else {
			r.log.Warn("default ignored: type mismatch", "key", v.key,
				"default", fmt.Sprintf("%T", cfg.def), "want", fmt.Sprintf("%T", v.def))
		}
	}

	r.with(ctx, v.backend, v.key, func(*record, *slot) {})
	return v
}

// Namespaced returns a constructor for values under namespace name.
func Namespaced[V any](r *Registry, name string) func(ctx context.Context, key string, opts ...ValueOption) *Value[V] {
	return func(ctx context.Context, key string, opts ...ValueOption) *Value[V] {
		opts = append(slices.Clip(opts), WithNamespace(name))
		return NewValue[V](ctx, r, key, opts...)
	}
}

// Key returns the composite key the value is stored under.
func (v *Value[V]) Key() string {
	return v.key
}

// Get returns the cached value, or the default when nothing is stored.
// An expired value is cleared from the cache and the backend first.
func (v *Value[V]) Get(ctx context.Context) V {
	var raw []byte
	v.reg.with(ctx, v.backend, v.key, func(rec *record, s *slot) {
		if v.reg.expired(s) {
			if err := v.reg.clearSlot(ctx, rec, v.key, s); err != nil {
				v.reg.report(ctx, "clear", v.key, err)
			}
		}
		if s.state == present {
			raw = s.raw
		}
	})
	if raw == nil {
		return v.def
	}

	var out V
	if err := json.Unmarshal(raw, &out); err != nil {
		v.reg.report(ctx, "value", v.key, fmt.Errorf("%w: %s as %T: %w", ErrMalformedValue, v.key, out, err))
		return v.def
	}
	return out
}

// IsDefault reports whether Get would return the default value.
func (v *Value[V]) IsDefault(ctx context.Context) bool {
	isDefault := true
	v.reg.with(ctx, v.backend, v.key, func(rec *record, s *slot) {
		if v.reg.expired(s) {
			if err := v.reg.clearSlot(ctx, rec, v.key, s); err != nil {
				v.reg.report(ctx, "clear", v.key, err)
			}
		}
		isDefault = s.state != present
	})
	return isDefault
}

// Set stores val in the shared slot and schedules a debounced flush.
// A value with a TTL sets the slot's expiry; a value without one leaves
// any expiry set by an earlier writer in place. Set fails only when val
// cannot be serialized, in which case the slot is left untouched.
func (v *Value[V]) Set(ctx context.Context, val V) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerialization, v.key, err)
	}

	var id int
	v.reg.with(ctx, v.backend, v.key, func(rec *record, s *slot) {
		id = rec.id
		s.state = present
		s.raw = raw
		if v.ttl > 0 {
			s.expiry = v.reg.now().Add(v.ttl)
		}
	})

	v.reg.tasks.schedule(taskKey{id: id, key: v.key}, v.debounce, v.Flush)
	return nil
}

// Flush writes the current slot state to the backend: the value, then its
// expiry marker (or the marker's removal). It does nothing when the slot
// holds no value. Repeated calls without an intervening Set are idempotent.
func (v *Value[V]) Flush(ctx context.Context) error {
	var err error
	v.reg.with(ctx, v.backend, v.key, func(rec *record, s *slot) {
		err = v.reg.flushSlot(ctx, rec, v.key, s)
	})
	return err
}

// Clear empties the slot and removes the entry and its marker from the
// backend immediately.
func (v *Value[V]) Clear(ctx context.Context) error {
	var err error
	v.reg.with(ctx, v.backend, v.key, func(rec *record, s *slot) {
		err = v.reg.clearSlot(ctx, rec, v.key, s)
	})
	return err
}

// Expired reports whether the slot's expiry has passed. It changes nothing.
func (v *Value[V]) Expired(ctx context.Context) bool {
	var expired bool
	v.reg.with(ctx, v.backend, v.key, func(_ *record, s *slot) {
		expired = v.reg.expired(s)
	})
	return expired
}

func validJSON(s string) bool {
	return json.Valid([]byte(s))
}

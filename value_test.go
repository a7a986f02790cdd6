package stowage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"testing"
	"time"
)

func TestValue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[string](ctx, f.r, "theme", WithDefault("light"))
	if got := v.Get(ctx); got != "light" {
		t.Errorf("Get = %q; want default light", got)
	}
	if !v.IsDefault(ctx) {
		t.Error("IsDefault = false before any write")
	}

	if err := v.Set(ctx, "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// A second handle shares the slot.
	w := NewValue[string](ctx, f.r, "theme")
	if got := w.Get(ctx); got != "dark" {
		t.Errorf("second handle Get = %q; want dark", got)
	}
	if got := stored(t, f.mem, "theme"); got != "<missing>" {
		t.Errorf("persisted before flush: %q", got)
	}

	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := stored(t, f.mem, "theme"); got != `"dark"` {
		t.Errorf("persisted = %q; want %q", got, `"dark"`)
	}

	// A new registry over the same backend reloads it.
	r2 := New(WithBackend(f.mem), WithLogger(quiet))
	if got := NewValue[string](ctx, r2, "theme").Get(ctx); got != "dark" {
		t.Errorf("reloaded Get = %q; want dark", got)
	}
}

func TestValue_StructRoundTrip(t *testing.T) {
	type prefs struct {
		Tags  []string `json:"tags"`
		Width int      `json:"width"`
	}
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[prefs](ctx, f.r, "prefs")
	want := prefs{Tags: []string{"a", "b"}, Width: 80}
	if err := v.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r2 := New(WithBackend(f.mem), WithLogger(quiet))
	got := NewValue[prefs](ctx, r2, "prefs").Get(ctx)
	if got.Width != 80 || len(got.Tags) != 2 || got.Tags[1] != "b" {
		t.Errorf("reloaded Get = %+v; want %+v", got, want)
	}
}

func TestValue_FlushIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[int](ctx, f.r, "n", WithTTL(time.Minute))
	if err := v.Set(ctx, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	first := dump(t, f.mem)
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if second := dump(t, f.mem); !maps.Equal(first, second) {
		t.Errorf("backend changed across flushes: %v then %v", first, second)
	}
	if len(first) != 2 {
		t.Errorf("backend = %v; want entry and marker", first)
	}
}

func TestValue_FlushWithoutValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[int](ctx, f.r, "n", WithDefault(3))
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n, _ := f.mem.Len(ctx); n != 0 {
		t.Errorf("Len = %d after flushing an empty slot; want 0", n)
	}
}

func TestValue_FlushRemovesMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "k", "1")
	mustSet(t, f.mem, MarkerKey("k"), "null")

	v := NewValue[int](ctx, f.r, "k")
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := stored(t, f.mem, MarkerKey("k")); got != "<missing>" {
		t.Errorf("marker = %q after flushing a value without expiry; want removed", got)
	}
}

func TestValue_Clear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[string](ctx, f.r, "k", WithDefault("d"), WithTTL(time.Hour))
	if err := v.Set(ctx, "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := v.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := v.Get(ctx); got != "d" {
		t.Errorf("Get after Clear = %q; want d", got)
	}
	if !v.IsDefault(ctx) {
		t.Error("IsDefault = false after Clear")
	}
	if v.Expired(ctx) {
		t.Error("Expired = true after Clear")
	}
	if n, _ := f.mem.Len(ctx); n != 0 {
		t.Errorf("backend = %v after Clear; want empty", dump(t, f.mem))
	}
}

func TestValue_FalsyValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	n := NewValue[int](ctx, f.r, "int", WithDefault(100))
	b := NewValue[bool](ctx, f.r, "bool", WithDefault(true))
	s := NewValue[string](ctx, f.r, "string", WithDefault("x"))
	a := NewValue[any](ctx, f.r, "any", WithDefault[any](100))

	for _, err := range []error{n.Set(ctx, 0), b.Set(ctx, false), s.Set(ctx, ""), a.Set(ctx, false)} {
		if err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	check := func(label string, n *Value[int], b *Value[bool], s *Value[string], a *Value[any]) {
		t.Helper()
		if got := n.Get(ctx); got != 0 {
			t.Errorf("%s: int Get = %d; want 0", label, got)
		}
		if got := b.Get(ctx); got {
			t.Errorf("%s: bool Get = true; want false", label)
		}
		if got := s.Get(ctx); got != "" {
			t.Errorf("%s: string Get = %q; want empty", label, got)
		}
		if got := a.Get(ctx); got != false {
			t.Errorf("%s: any Get = %v; want false", label, got)
		}
		if n.IsDefault(ctx) || b.IsDefault(ctx) || s.IsDefault(ctx) || a.IsDefault(ctx) {
			t.Errorf("%s: IsDefault = true for a stored falsy value", label)
		}
	}
	check("cached", n, b, s, a)

	if err := f.r.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	r2 := New(WithBackend(f.mem), WithLogger(quiet))
	check("reloaded",
		NewValue[int](ctx, r2, "int", WithDefault(100)),
		NewValue[bool](ctx, r2, "bool", WithDefault(true)),
		NewValue[string](ctx, r2, "string", WithDefault("x")),
		NewValue[any](ctx, r2, "any", WithDefault[any](100)))
}

func TestValue_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	start := f.clock.Now()

	v := NewValue[int](ctx, f.r, "k", WithTTL(300*time.Millisecond), WithDefault(-1))
	if err := v.Set(ctx, 30); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := fmt.Sprint(start.Add(300 * time.Millisecond).UnixMilli())
	if got := stored(t, f.mem, MarkerKey("k")); got != want {
		t.Errorf("marker = %q; want %q", got, want)
	}

	f.clock.Advance(200 * time.Millisecond)
	if v.Expired(ctx) {
		t.Error("Expired = true before TTL")
	}
	if got := v.Get(ctx); got != 30 {
		t.Errorf("Get before TTL = %d; want 30", got)
	}

	f.clock.Advance(200 * time.Millisecond)
	if !v.Expired(ctx) {
		t.Error("Expired = false after TTL")
	}
	// Expired does not clear anything.
	if got := stored(t, f.mem, "k"); got != "30" {
		t.Errorf("entry = %q after Expired; want untouched", got)
	}
	if got := v.Get(ctx); got != -1 {
		t.Errorf("Get after TTL = %d; want default", got)
	}
	if n, _ := f.mem.Len(ctx); n != 0 {
		t.Errorf("backend = %v after expired Get; want empty", dump(t, f.mem))
	}
}

func TestValue_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[int](ctx, f.r, "k", WithTTL(time.Second), WithDefault(-1))
	if err := v.Set(ctx, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.clock.Advance(time.Second)
	if got := v.Get(ctx); got != -1 {
		t.Errorf("Get at expiry instant = %d; want default", got)
	}
}

func TestValue_MixedTTLLastWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := NewValue[int](ctx, f.r, "k", WithTTL(300*time.Millisecond))
	if err := a.Set(ctx, 30); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b := NewValue[int](ctx, f.r, "k", WithDefault(200))
	if got := b.Get(ctx); got != 30 {
		t.Errorf("b.Get = %d; want 30 from shared slot", got)
	}
	// A write without a TTL keeps a's expiry.
	if err := b.Set(ctx, 40); err != nil {
		t.Fatalf("Set: %v", err)
	}

	f.clock.Advance(400 * time.Millisecond)
	if got := b.Get(ctx); got != 200 {
		t.Errorf("b.Get after a's TTL = %d; want default 200", got)
	}
}

func TestValue_LaterTTLWriterGoverns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	short := NewValue[int](ctx, f.r, "k", WithTTL(100*time.Millisecond))
	long := NewValue[int](ctx, f.r, "k", WithTTL(time.Hour))
	if err := short.Set(ctx, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := long.Set(ctx, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.clock.Advance(time.Second)
	if got := short.Get(ctx); got != 2 {
		t.Errorf("Get = %d; want 2 under the later expiry", got)
	}
}

func TestValue_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := Namespaced[string](f.r, "a")(ctx, "k")
	b := Namespaced[string](f.r, "b")(ctx, "k")
	plain := NewValue[string](ctx, f.r, "k", WithDefault("plain"))

	if a.Key() != "a.k" || b.Key() != "b.k" || plain.Key() != "k" {
		t.Errorf("keys = %q, %q, %q; want a.k, b.k, k", a.Key(), b.Key(), plain.Key())
	}
	if err := a.Set(ctx, "A"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, "B"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if a.Get(ctx) != "A" || b.Get(ctx) != "B" || plain.Get(ctx) != "plain" {
		t.Errorf("Get = %q, %q, %q; want A, B, plain", a.Get(ctx), b.Get(ctx), plain.Get(ctx))
	}

	if err := f.r.FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	want := map[string]string{"a.k": `"A"`, "b.k": `"B"`}
	if got := dump(t, f.mem); !maps.Equal(got, want) {
		t.Errorf("backend = %v; want %v", got, want)
	}
}

func TestValue_NamespacedKeepsCallerOptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opts := make([]ValueOption, 1, 4)
	opts[0] = WithDefault("d")
	ns := Namespaced[string](f.r, "x")
	_ = ns(ctx, "one", opts...)
	v := NewValue[string](ctx, f.r, "two", opts...)
	if v.Key() != "two" {
		t.Errorf("Key = %q; Namespaced leaked its namespace into the caller's options", v.Key())
	}
}

func TestValue_SetUnserializable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[any](ctx, f.r, "k", WithDefault[any]("d"))
	if err := v.Set(ctx, "ok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := v.Set(ctx, make(chan int))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("Set(chan) = %v; want ErrSerialization", err)
	}
	if got := v.Get(ctx); got != "ok" {
		t.Errorf("Get after failed Set = %v; want ok", got)
	}
}

func TestValue_MalformedPersistedValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "bad", "{not json")

	v := NewValue[int](ctx, f.r, "bad", WithDefault(7))
	if got := v.Get(ctx); got != 7 {
		t.Errorf("Get = %d; want default", got)
	}
	if !v.IsDefault(ctx) {
		t.Error("IsDefault = false for an unparseable entry")
	}
	if !f.logs.Contains("invalid persisted value") {
		t.Error("malformed value was not reported")
	}
	if got := stored(t, f.mem, "bad"); got != "{not json" {
		t.Errorf("entry = %q; want left in place", got)
	}
}

func TestValue_WrongTypePersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "k", `"text"`)

	v := NewValue[int](ctx, f.r, "k", WithDefault(7))
	if got := v.Get(ctx); got != 7 {
		t.Errorf("Get = %d; want default", got)
	}
	if !f.logs.Contains("invalid persisted value") {
		t.Error("type mismatch was not reported")
	}
}

func TestValue_MalformedMarkerOnLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "k", "1")
	mustSet(t, f.mem, MarkerKey("k"), "soon")

	v := NewValue[int](ctx, f.r, "k", WithDefault(7))
	if got := v.Get(ctx); got != 7 {
		t.Errorf("Get = %d; want default", got)
	}
	if !f.logs.Contains("invalid persisted value") {
		t.Error("malformed marker was not reported")
	}
}

func TestValue_OutOfRangeMarkerOnLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "k", "42")
	mustSet(t, f.mem, MarkerKey("k"), "1e20")

	v := NewValue[int](ctx, f.r, "k", WithDefault(7))
	if got := v.Get(ctx); got != 7 {
		t.Errorf("Get = %d; want default", got)
	}
	if !f.logs.Contains("invalid persisted value") {
		t.Error("out-of-range marker was not reported")
	}
	if got := stored(t, f.mem, "k"); got != "42" {
		t.Errorf("persisted = %q; want entry kept", got)
	}
}

func TestValue_PersistedNullIsPresent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mustSet(t, f.mem, "k", "null")

	v := NewValue[*int](ctx, f.r, "k")
	if v.IsDefault(ctx) {
		t.Error("IsDefault = true for a stored null")
	}
	if got := v.Get(ctx); got != nil {
		t.Errorf("Get = %v; want nil", got)
	}
}

func TestValue_DefaultTypeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v := NewValue[int](ctx, f.r, "k", WithDefault("seven"))
	if got := v.Get(ctx); got != 0 {
		t.Errorf("Get = %d; want zero value", got)
	}
	if !f.logs.Contains("default ignored") {
		t.Error("mismatched default was not reported")
	}
}

func TestValue_LoadFailure(t *testing.T) {
	ctx := context.Background()
	fs := newFailStore()
	mustSet(t, fs, "k", "1")
	fs.failGet.Store(true)
	f := newFixture(t, WithBackend(fs))

	v := NewValue[int](ctx, f.r, "k", WithDefault(9))
	if got := v.Get(ctx); got != 9 {
		t.Errorf("Get = %d; want default after a failed load", got)
	}
	if !f.logs.Contains("backend access failed") {
		t.Error("load failure was not reported")
	}
}

func TestValue_FlushError(t *testing.T) {
	ctx := context.Background()
	fs := newFailStore()
	f := newFixture(t, WithBackend(fs))

	v := NewValue[int](ctx, f.r, "k")
	if err := v.Set(ctx, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fs.failSet.Store(true)
	if err := v.Flush(ctx); !errors.Is(err, errBoom) {
		t.Errorf("Flush = %v; want backend error", err)
	}
	// The value stays cached for a later retry.
	if got := v.Get(ctx); got != 1 {
		t.Errorf("Get = %d; want 1", got)
	}
}

func TestValue_WithStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := newCountingStore()

	v := NewValue[int](ctx, f.r, "k", WithStore(other))
	if err := v.Set(ctx, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := stored(t, other, "k"); got != "1" {
		t.Errorf("other store = %q; want 1", got)
	}
	if n, _ := f.mem.Len(ctx); n != 0 {
		t.Errorf("default store has %d entries; want 0", n)
	}
	// Same key on the default backend is a different slot.
	if got := NewValue[int](ctx, f.r, "k", WithDefault(5)).Get(ctx); got != 5 {
		t.Errorf("default-backend Get = %d; want 5", got)
	}
}

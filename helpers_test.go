package stowage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/stowage/pkg/store/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var errBoom = errors.New("boom")

// clock is a settable time source.
type clock struct {
	t  time.Time
	mu sync.Mutex
}

func newClock() *clock {
	return &clock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// logBuffer collects log output from concurrent writers.
type logBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(b.buf.String(), s)
}

type fixture struct {
	r     *Registry
	mem   *memory.Store
	clock *clock
	logs  *logBuffer
}

// newFixture returns a registry over a fresh memory store with a fake
// clock and a debounce window long enough that timers never fire.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{mem: memory.New(), clock: newClock(), logs: &logBuffer{}}
	base := []Option{
		WithBackend(f.mem),
		WithClock(f.clock.Now),
		WithDebounce(time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	}
	f.r = New(append(base, opts...)...)
	t.Cleanup(f.r.tasks.stopAll)
	return f
}

func mustSet(t *testing.T, b Backend, key, value string) {
	t.Helper()
	if err := b.Set(context.Background(), key, value); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

// stored returns the persisted text of key, or "<missing>".
func stored(t *testing.T, b Backend, key string) string {
	t.Helper()
	v, ok, err := b.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	if !ok {
		return "<missing>"
	}
	return v
}

// dump returns the full contents of an enumerable backend.
func dump(t *testing.T, b Enumerable) map[string]string {
	t.Helper()
	ctx := context.Background()
	ks, err := Keys(ctx, b)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	out := make(map[string]string, len(ks))
	for _, k := range ks {
		out[k] = stored(t, b, k)
	}
	return out
}

// countingStore counts writes.
type countingStore struct {
	*memory.Store
	sets atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New()}
}

func (s *countingStore) Set(ctx context.Context, key, value string) error {
	s.sets.Add(1)
	return s.Store.Set(ctx, key, value)
}

// failStore fails selected operations.
type failStore struct {
	*memory.Store
	failGet atomic.Bool
	failSet atomic.Bool
	failLen atomic.Bool
}

func newFailStore() *failStore {
	return &failStore{Store: memory.New()}
}

//nolint:gocritic // unnamedResult: mirrors the Backend contract
func (s *failStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGet.Load() {
		return "", false, errBoom
	}
	return s.Store.Get(ctx, key)
}

func (s *failStore) Set(ctx context.Context, key, value string) error {
	if s.failSet.Load() {
		return errBoom
	}
	return s.Store.Set(ctx, key, value)
}

func (s *failStore) Len(ctx context.Context) (int, error) {
	if s.failLen.Load() {
		return 0, errBoom
	}
	return s.Store.Len(ctx)
}

func (s *failStore) Keys(ctx context.Context) ([]string, error) {
	if s.failLen.Load() {
		return nil, errBoom
	}
	return s.Store.Keys(ctx)
}

// hookStore runs onGet once, on the first read of key.
type hookStore struct {
	*memory.Store
	onGet func()
	key   string
	once  sync.Once
}

//nolint:gocritic // unnamedResult: mirrors the Backend contract
func (s *hookStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == s.key && s.onGet != nil {
		s.once.Do(s.onGet)
	}
	return s.Store.Get(ctx, key)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

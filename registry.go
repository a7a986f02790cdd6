// Package stowage provides typed, cached handles onto values persisted in a
// pluggable key-value backend, with per-key expiry, coalesced write-back and
// garbage collection of expired entries.
//
// A Registry owns the in-memory view of every backend it has seen. Values
// created from the same Registry for the same backend and key share one
// slot, so a write through any of them is immediately visible to all.
// Writes reach the backend after a debounce window, or at once through
// Flush, FlushAll or Close.
//
//	r := stowage.New(stowage.WithBackend(store))
//	theme := stowage.NewValue[string](ctx, r, "theme", stowage.WithDefault("light"))
//	theme.Get(ctx) // "light"
//	if err := theme.Set(ctx, "dark"); err != nil { ... }
package stowage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/stowage/pkg/store/memory"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
)

type slotState uint8

const (
	unloaded slotState = iota
	cleared
	present
)

// slot is the shared cache cell for one key. Present values are kept in
// serialized form so every Value type decodes the same bytes.
type slot struct {
	expiry time.Time
	raw    []byte
	state  slotState
}

// record is a registered backend and its slots.
//
//nolint:govet // fieldalignment: mutex kept next to the map it guards
type record struct {
	backend Backend
	mu      sync.Mutex
	slots   map[string]*slot
	id      int
	retired bool // set by ClearAll; guarded by mu
}

// Registry tracks backends and their cached slots. It replaces any global
// state: create one per application (or per test) and pass it to NewValue.
// All methods are safe for concurrent use.
type Registry struct {
	records *xsync.Map[Backend, *record] // replaced by ClearAll; guarded by mu
	tasks   *scheduler
	in      *instruments
	log     *slog.Logger
	now     func() time.Time
	opts    *Options
	byID    []*record
	mu      sync.Mutex
}

// New creates a Registry.
func New(options ...Option) *Registry {
	opts := &Options{
		Debounce:     defaultDebounce,
		FlushTimeout: defaultFlushTimeout,
	}
	for _, opt := range options {
		opt(opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}
	if opts.Backend == nil {
		opts.Backend = memory.New()
	}

	r := &Registry{
		records: xsync.NewMap[Backend, *record](),
		log:     opts.Logger,
		now:     opts.Clock,
		opts:    opts,
	}
	r.in = newInstruments(opts.MeterProvider, opts.Logger)
	r.tasks = newScheduler(opts.FlushTimeout, func(k taskKey, err error) {
		r.in.diagnostic(context.Background(), "flush")
		r.log.Warn("debounced flush failed", "backend", k.id, "key", k.key, "error", err)
	})
	return r
}

// DefaultBackend returns the backend used by values that do not name one.
func (r *Registry) DefaultBackend() Backend {
	return r.opts.Backend
}

// Register returns the id of b, registering it first if needed.
// A first registration sweeps b for entries that expired while nobody
// was watching.
func (r *Registry) Register(ctx context.Context, b Backend) int {
	return r.record(ctx, b).id
}

// Backend returns the backend registered under id.
func (r *Registry) Backend(id int) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.byID) {
		return nil, false
	}
	return r.byID[id].backend, true
}

func (r *Registry) record(ctx context.Context, b Backend) *record {
	rec, _, _, _ := r.register(ctx, b) //nolint:dogsled // sweep errors are logged by register
	return rec
}

// register returns b's record. fresh reports whether this call created it,
// in which case n and err are the result of its initial sweep.
func (r *Registry) register(ctx context.Context, b Backend) (rec *record, fresh bool, n int, err error) {
	for {
		tbl := r.table()
		stale := false
		rec, loaded := tbl.LoadOrCompute(b, func() (*record, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.records != tbl {
				stale = true
				return nil, true
			}
			rec := &record{
				backend: b,
				id:      len(r.byID),
				slots:   make(map[string]*slot),
			}
			r.byID = append(r.byID, rec)
			return rec, false
		})
		if stale {
			continue
		}
		if loaded {
			return rec, false, 0, nil
		}
		r.log.Debug("registered backend", "backend", rec.id, "type", fmt.Sprintf("%T", b))
		if n, err = r.sweep(ctx, rec); err != nil {
			r.in.diagnostic(ctx, "gc")
			r.log.Warn("initial gc failed", "backend", rec.id, "error", err)
		}
		return rec, true, n, err
	}
}

func (r *Registry) table() *xsync.Map[Backend, *record] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

func (r *Registry) snapshot() []*record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*record(nil), r.byID...)
}

// with runs fn on the slot for key in b's record, holding the record lock.
// The slot is lazily loaded from the backend if this is its first use.
func (r *Registry) with(ctx context.Context, b Backend, key string, fn func(rec *record, s *slot)) {
	rec := r.record(ctx, b)
	rec.mu.Lock()
	for rec.retired {
		rec.mu.Unlock()
		rec = r.record(ctx, b)
		rec.mu.Lock()
	}
	defer rec.mu.Unlock()

	s, ok := rec.slots[key]
	if !ok {
		s = &slot{}
		rec.slots[key] = s
	}
	if s.state == unloaded {
		r.load(ctx, rec, key, s)
	}
	fn(rec, s)
}

// load fills s from the backend. Any failure leaves the slot cleared.
func (r *Registry) load(ctx context.Context, rec *record, key string, s *slot) {
	*s = slot{state: cleared}

	raw, ok, err := rec.backend.Get(ctx, key)
	if err != nil {
		r.report(ctx, "load", key, fmt.Errorf("read %s: %w", key, err))
		return
	}
	r.in.loads.Add(ctx, 1)
	if !ok {
		return
	}
	if !validJSON(raw) {
		r.report(ctx, "value", key, fmt.Errorf("%w: %s", ErrMalformedValue, key))
		return
	}

	var expiry time.Time
	m, ok, err := rec.backend.Get(ctx, MarkerKey(key))
	if err != nil {
		r.report(ctx, "load", key, fmt.Errorf("read %s: %w", MarkerKey(key), err))
		return
	}
	if ok {
		if expiry, err = decodeExpiry(m); err != nil {
			r.report(ctx, "value", key, fmt.Errorf("%w: %s: %w", ErrMalformedValue, MarkerKey(key), err))
			return
		}
	}

	s.state = present
	s.raw = []byte(raw)
	s.expiry = expiry
}

func (r *Registry) report(ctx context.Context, kind, key string, err error) {
	r.in.diagnostic(ctx, kind)
	switch {
	case errors.Is(err, ErrMalformedValue):
		r.log.WarnContext(ctx, "invalid persisted value", "key", key, "error", err)
	case errors.Is(err, ErrMalformedExpiry):
		r.log.WarnContext(ctx, "invalid expiry marker", "key", key, "error", err)
	default:
		r.log.WarnContext(ctx, "backend access failed", "key", key, "error", err)
	}
}

func (r *Registry) expired(s *slot) bool {
	return !s.expiry.IsZero() && !s.expiry.After(r.now())
}

// flushSlot writes a present slot and its marker. Other states write nothing.
func (r *Registry) flushSlot(ctx context.Context, rec *record, key string, s *slot) error {
	if s.state != present {
		return nil
	}
	if err := rec.backend.Set(ctx, key, string(s.raw)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	mk := MarkerKey(key)
	if s.expiry.IsZero() {
		if err := rec.backend.Delete(ctx, mk); err != nil {
			return fmt.Errorf("remove %s: %w", mk, err)
		}
	} else if err := rec.backend.Set(ctx, mk, encodeExpiry(s.expiry)); err != nil {
		return fmt.Errorf("write %s: %w", mk, err)
	}
	r.in.flushes.Add(ctx, 1)
	return nil
}

// clearSlot empties s and removes its entry and marker from the backend.
func (*Registry) clearSlot(ctx context.Context, rec *record, key string, s *slot) error {
	*s = slot{state: cleared}
	var errs []error
	if err := rec.backend.Delete(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
	}
	if err := rec.backend.Delete(ctx, MarkerKey(key)); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", MarkerKey(key), err))
	}
	return errors.Join(errs...)
}

// FlushAll writes every cached slot of every registered backend.
func (r *Registry) FlushAll(ctx context.Context) error {
	var errs []error
	for _, rec := range r.snapshot() {
		rec.mu.Lock()
		for key, s := range rec.slots {
			if err := r.flushSlot(ctx, rec, key, s); err != nil {
				errs = append(errs, err)
			}
		}
		rec.mu.Unlock()
	}
	return errors.Join(errs...)
}

// ClearAll cancels pending writes, removes every entry and marker the
// registry knows about from its backends, and forgets all backends.
// Values created earlier keep working: they re-register on next use.
// Ids handed out before ClearAll are no longer valid.
func (r *Registry) ClearAll(ctx context.Context) error {
	r.tasks.stopAll()

	r.mu.Lock()
	recs := r.byID
	r.byID = nil
	r.records = xsync.NewMap[Backend, *record]()
	r.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		rec.mu.Lock()
		for key, s := range rec.slots {
			if err := r.clearSlot(ctx, rec, key, s); err != nil {
				errs = append(errs, err)
			}
		}
		rec.slots = make(map[string]*slot)
		rec.retired = true
		rec.mu.Unlock()
	}
	return errors.Join(errs...)
}

// GC sweeps every registered backend and returns how many expired
// entries were removed. An expired marker left behind by an entry that no
// longer exists is removed too and counts as one.
func (r *Registry) GC(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, rec := range r.snapshot() {
		n, err := r.sweep(ctx, rec)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Collect registers b if needed and sweeps it, returning how many expired
// entries were removed, including any removed by the registration sweep.
func (r *Registry) Collect(ctx context.Context, b Backend) (int, error) {
	rec, fresh, n, err := r.register(ctx, b)
	if fresh {
		return n, err
	}
	return r.sweep(ctx, rec)
}

// Close writes every value that still has a debounced flush pending and
// stops the timers. The registry stays usable afterwards.
func (r *Registry) Close(ctx context.Context) error {
	if err := r.tasks.drain(ctx); err != nil {
		return fmt.Errorf("flush pending: %w", err)
	}
	return nil
}

package stowage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sweep removes every expired entry of rec's backend and returns how many
// were removed. An expired marker whose entry is already gone counts as one
// removal. Backends that cannot enumerate their keys are skipped. Entries
// without a marker never expire, and entries whose marker cannot be parsed
// are reported and kept.
func (r *Registry) sweep(ctx context.Context, rec *record) (int, error) {
	enum, ok := rec.backend.(Enumerable)
	if !ok {
		r.log.Debug("backend not enumerable, skipping gc", "backend", rec.id)
		return 0, nil
	}

	ks, err := Keys(ctx, enum)
	if err != nil {
		return 0, fmt.Errorf("enumerate backend %d: %w", rec.id, err)
	}

	now := r.now()
	entries, orphans := 0, 0
	var errs []error
	for _, k := range ks {
		select {
		case <-ctx.Done():
			r.recordPurge(ctx, rec, entries, orphans, len(ks))
			return entries + orphans, errors.Join(append(errs, ctx.Err())...)
		default:
		}

		e, o, err := r.collect(ctx, rec, k, now)
		entries += e
		orphans += o
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.recordPurge(ctx, rec, entries, orphans, len(ks))
	return entries + orphans, errors.Join(errs...)
}

func (r *Registry) recordPurge(ctx context.Context, rec *record, entries, orphans, scanned int) {
	if entries+orphans == 0 {
		return
	}
	if entries > 0 {
		r.in.purged.Add(ctx, int64(entries), metric.WithAttributes(attribute.String("kind", "entry")))
	}
	if orphans > 0 {
		r.in.purged.Add(ctx, int64(orphans), metric.WithAttributes(attribute.String("kind", "marker")))
	}
	r.log.Info("gc complete", "backend", rec.id, "purged", entries, "orphans", orphans, "scanned", scanned)
}

// collect examines one key of the snapshot, holding rec.mu so a concurrent
// flush cannot land between reading the marker and deleting the entry.
// It returns the number of entries and orphaned markers removed.
func (r *Registry) collect(ctx context.Context, rec *record, key string, now time.Time) (entries, orphans int, err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	mk := MarkerKey(key)
	m, ok, err := rec.backend.Get(ctx, mk)
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", mk, err)
	}
	if !ok {
		if entry, isMarker := markedKey(key); isMarker {
			n, err := r.collectOrphan(ctx, rec, entry, key, now)
			return 0, n, err
		}
		return 0, 0, nil
	}

	expiry, err := decodeExpiry(m)
	if err != nil {
		r.report(ctx, "expiry", key, fmt.Errorf("%w: %s: %w", ErrMalformedExpiry, mk, err))
		return 0, 0, nil
	}
	if expiry.IsZero() || expiry.After(now) {
		return 0, 0, nil
	}

	if err := rec.backend.Delete(ctx, key); err != nil {
		return 0, 0, fmt.Errorf("remove %s: %w", key, err)
	}
	if err := rec.backend.Delete(ctx, mk); err != nil {
		return 0, 0, fmt.Errorf("remove %s: %w", mk, err)
	}
	if s, ok := rec.slots[key]; ok && (s.state != present || r.expired(s)) {
		*s = slot{state: cleared}
	}
	return 1, 0, nil
}

// collectOrphan removes an expired marker whose entry no longer exists.
// Callers hold rec.mu.
func (r *Registry) collectOrphan(ctx context.Context, rec *record, entry, mk string, now time.Time) (int, error) {
	if _, ok, err := rec.backend.Get(ctx, entry); err != nil || ok {
		return 0, err
	}
	m, ok, err := rec.backend.Get(ctx, mk)
	if err != nil || !ok {
		return 0, err
	}
	expiry, err := decodeExpiry(m)
	if err != nil {
		r.report(ctx, "expiry", entry, fmt.Errorf("%w: %s: %w", ErrMalformedExpiry, mk, err))
		return 0, nil
	}
	if expiry.IsZero() || expiry.After(now) {
		return 0, nil
	}
	if err := rec.backend.Delete(ctx, mk); err != nil {
		return 0, fmt.Errorf("remove %s: %w", mk, err)
	}
	return 1, nil
}

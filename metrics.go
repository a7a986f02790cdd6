package stowage

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/codeGROOVE-dev/stowage"

// instruments are the registry counters. A counter that fails to register
// is replaced by a no-op so callers never check for nil.
type instruments struct {
	loads       metric.Int64Counter
	flushes     metric.Int64Counter
	purged      metric.Int64Counter
	diagnostics metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, log *slog.Logger) *instruments {
	m := mp.Meter(meterName)
	in := &instruments{}
	var err error

	if in.loads, err = m.Int64Counter("stowage.loads",
		metric.WithDescription("Slots lazily loaded from a backend")); err != nil {
		log.Warn("create counter", "name", "stowage.loads", "error", err)
		in.loads = noop.Int64Counter{}
	}
	if in.flushes, err = m.Int64Counter("stowage.flushes",
		metric.WithDescription("Slot values written to a backend")); err != nil {
		log.Warn("create counter", "name", "stowage.flushes", "error", err)
		in.flushes = noop.Int64Counter{}
	}
	if in.purged, err = m.Int64Counter("stowage.gc.purged",
		metric.WithDescription("Expired entries (kind=entry) and orphaned expiry markers (kind=marker) removed by garbage collection")); err != nil {
		log.Warn("create counter", "name", "stowage.gc.purged", "error", err)
		in.purged = noop.Int64Counter{}
	}
	if in.diagnostics, err = m.Int64Counter("stowage.diagnostics",
		metric.WithDescription("Recoverable errors reported instead of returned")); err != nil {
		log.Warn("create counter", "name", "stowage.diagnostics", "error", err)
		in.diagnostics = noop.Int64Counter{}
	}
	return in
}

func (in *instruments) diagnostic(ctx context.Context, kind string) {
	in.diagnostics.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

package stowage

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultDebounce     = 200 * time.Millisecond
	defaultFlushTimeout = 5 * time.Second
)

// Options configures a Registry.
type Options struct {
	Backend       Backend
	Logger        *slog.Logger
	MeterProvider metric.MeterProvider
	Clock         func() time.Time
	Debounce      time.Duration
	FlushTimeout  time.Duration
}

// Option is a functional option for configuring a Registry.
type Option func(*Options)

// WithBackend sets the backend used by values that do not name one.
// Pass ambient.Resolve(...).Store to get the environment's persistent
// store. Without this option each Registry falls back to its own
// in-memory store.
func WithBackend(b Backend) Option {
	return func(o *Options) {
		o.Backend = b
	}
}

// WithLogger sets the logger that receives diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for registry counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Clock = now
	}
}

// WithDebounce sets the default write coalescing window (200ms if unset).
func WithDebounce(d time.Duration) Option {
	return func(o *Options) {
		o.Debounce = d
	}
}

// WithFlushTimeout bounds each timer-driven flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.FlushTimeout = d
	}
}

// valueConfig holds per-Value settings.
type valueConfig struct {
	backend   Backend
	def       any
	namespace string
	ttl       time.Duration
	debounce  time.Duration
	hasDef    bool
}

// ValueOption configures a Value.
type ValueOption func(*valueConfig)

// WithStore binds the value to b instead of the registry default.
func WithStore(b Backend) ValueOption {
	return func(c *valueConfig) {
		c.backend = b
	}
}

// WithDefault sets the value returned while nothing is stored.
// A default whose type does not match the Value's type parameter is ignored.
func WithDefault[V any](v V) ValueOption {
	return func(c *valueConfig) {
		c.def = v
		c.hasDef = true
	}
}

// WithTTL makes every Set through this value expire after d.
// A zero or negative d means writes do not touch the expiry.
func WithTTL(d time.Duration) ValueOption {
	return func(c *valueConfig) {
		c.ttl = d
	}
}

// WithNamespace prefixes the key with ns and a dot.
func WithNamespace(ns string) ValueOption {
	return func(c *valueConfig) {
		c.namespace = ns
	}
}

// WithDebounceInterval overrides the registry's coalescing window for this value.
func WithDebounceInterval(d time.Duration) ValueOption {
	return func(c *valueConfig) {
		c.debounce = d
	}
}

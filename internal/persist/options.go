package persist

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/pstore/internal/store"
)

// DefaultRowCacheSize is the number of decoded rows the engine keeps.
const DefaultRowCacheSize = 4096

type options struct {
	logger       *slog.Logger
	observer     Observer
	rowCacheSize int
	storeOpts    store.Options
	registerer   prometheus.Registerer
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for commit, abort and hook failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver installs a Database-wide change observer. It may also
// implement LoadObserver and RollbackObserver.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithRowCacheSize bounds the decoded row cache. Values below 1 use
// DefaultRowCacheSize.
func WithRowCacheSize(n int) Option {
	return func(o *options) {
		o.rowCacheSize = n
	}
}

// WithStoreOptions sets the SQLite options of the backing store.
func WithStoreOptions(so store.Options) Option {
	return func(o *options) {
		o.storeOpts = so
	}
}

// WithRegisterer registers the store's metrics with r on Open.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

func buildOptions(opts []Option) options {
	o := options{
		rowCacheSize: DefaultRowCacheSize,
		storeOpts:    store.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.rowCacheSize < 1 {
		o.rowCacheSize = DefaultRowCacheSize
	}
	return o
}

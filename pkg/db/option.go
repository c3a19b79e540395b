package db

import (
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"wbtree/internal/blockio"
	"wbtree/internal/config"
)

type Option interface {
	apply(*options)
}

type OptionFunc func(*options)

func (f OptionFunc) apply(o *options) {
	f(o)
}

type options struct {
	pageSize uint64
	logger   *zap.Logger
	io       blockio.ByteIO
	meter    metric.Meter
	direct   bool
}

func defaultOptions() *options {
	return &options{
		pageSize: config.DefaultPageSize,
		logger:   zap.NewNop(),
		io:       blockio.SystemIO{},
	}
}

// WithPageSize sets the page size of a new data directory. Open takes the
// page size from the control file and ignores it.
func WithPageSize(size uint64) Option {
	return OptionFunc(func(o *options) {
		o.pageSize = size
	})
}

func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithByteIO replaces the operating system as the storage backend.
func WithByteIO(io blockio.ByteIO) Option {
	return OptionFunc(func(o *options) {
		o.io = io
	})
}

// WithMeter records block I/O metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return OptionFunc(func(o *options) {
		o.meter = meter
	})
}

// WithDirectIO writes WAL segments with direct I/O.
func WithDirectIO() Option {
	return OptionFunc(func(o *options) {
		o.direct = true
	})
}

// WithConfig applies the settings of a loaded configuration file.
func WithConfig(cfg *config.Config) Option {
	return OptionFunc(func(o *options) {
		o.pageSize = cfg.PageSize
		o.direct = cfg.DirectIO
	})
}

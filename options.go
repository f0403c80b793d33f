package vistream

import (
	"log/slog"

	"github.com/hupe1980/vistream/internal/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	limits           resource.Config
	table            string
}

// Option configures Build and BuildFromConfig.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vistream.BasicMetricsCollector{}
//	h, _ := vistream.Build(ctx, base, layers, configs, vistream.WithMetricsCollector(metrics))
//	// ... traverse h ...
//	stats := metrics.GetStats()
//	fmt.Printf("Rows: %d, Avg transform: %dns\n", stats.RowCount, stats.TransformAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vistream.NewJSONLogger(slog.LevelInfo)
//	h, _ := vistream.Build(ctx, base, layers, configs, vistream.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryLimit bounds the buffer memory the base iterator may account.
// Reads that would exceed the limit fail with ErrStorage.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.limits.MemoryLimitBytes = bytes
	}
}

// WithIOLimit throttles storage reads to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.limits.IOLimitBytesPerSec = bytesPerSec
	}
}

// withTable tags every log record with the table path.
func withTable(path string) Option {
	return func(o *options) { o.table = path }
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.table != "" {
		o.logger = o.logger.WithTable(o.table)
	}
	return o
}

// controller returns nil when no limit is configured.
func (o options) controller() *resource.Controller {
	if o.limits == (resource.Config{}) {
		return nil
	}
	return resource.NewController(o.limits)
}

package pipeline

import (
	"log/slog"

	"github.com/MrWong99/wakeword/internal/observe"
)

type options struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	sink    Sink
	runID   string
}

// Option configures a [Pipeline], [Segmenter] or [Spotter].
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSink sets where a [Pipeline] publishes events. Defaults to a [LogSink].
// Segmenter and Spotter take their sink as an argument and ignore this.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithRunID sets the run identifier stamped on events. A [Pipeline]
// generates one when unset.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

func applyOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.sink == nil {
		o.sink = LogSink{Logger: o.logger}
	}
	return o
}

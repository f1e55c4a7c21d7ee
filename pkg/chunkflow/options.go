package chunkflow

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
)

// runConfig holds configuration for one traversal or stage run.
type runConfig struct {
	logger            *slog.Logger
	metrics           observability.MetricsRecorder
	spans             observability.SpanManager
	concurrency       int
	runID             string
	skipMissing       bool
	stopWhenUnchanged bool
	scratch           *array.Dataset
	retry             retry.Policy
}

// defaultRunConfig returns the default configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		retry:   retry.Default,
	}
}

func buildRunConfig(opts []Option) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}
	return cfg
}

// chunkOptions passes logging and metrics through to chunkio.
func (c *runConfig) chunkOptions() []chunkio.Option {
	return []chunkio.Option{chunkio.WithLogger(c.logger), chunkio.WithMetrics(c.metrics)}
}

// Option configures a traversal or stage run.
type Option func(*runConfig)

// WithLogger sets the logger. It is enriched with run_id and stage.
// A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Default: observability.NoopMetrics.
//
// Example:
//
//	hist, err := chunkflow.ComputeHistogram[uint16](ctx, ds, 65534, 1, 65535,
//	    chunkflow.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for traversals and stages using
// the global tracer provider.
func WithTracing(enabled bool) Option {
	return func(c *runConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithConcurrency bounds how many chunks (or units, for RunStage) are
// processed at once. n <= 0 means GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(c *runConfig) {
		c.concurrency = n
	}
}

// WithRunID sets the run identifier used in logs and spans.
// If not set, a UUID is generated.
func WithRunID(id string) Option {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithSkipMissing makes reductions treat missing chunks as empty instead
// of aborting. Skipped chunks are logged.
func WithSkipMissing() Option {
	return func(c *runConfig) {
		c.skipMissing = true
	}
}

// WithStopWhenUnchanged ends an overlap filter early once an iteration
// changes no voxel. By default all iterations run.
func WithStopWhenUnchanged() Option {
	return func(c *runConfig) {
		c.stopWhenUnchanged = true
	}
}

// WithScratch sets the dataset that holds intermediate overlap filter
// iterations. It must match the output dataset's shape and be writable.
// If not set, RunOverlap creates one next to the output.
func WithScratch(ds *array.Dataset) Option {
	return func(c *runConfig) {
		c.scratch = ds
	}
}

// WithRetryPolicy sets the chunk write retry policy.
// Default: retry.Default.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *runConfig) {
		c.retry = p
	}
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
)

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrInvalidConfig marks settings that fail validation.
var ErrInvalidConfig = errors.New("invalid config")

// PipelineConfig holds the engine settings of one pipeline run.
type PipelineConfig struct {
	ChunkConcurrency  int
	UnitConcurrency   int
	WriteRetries      int
	WriteRetryDelay   time.Duration
	CheckpointBackend string
	CheckpointPath    string
	HistogramBins     int
	HistogramMin      float64
	HistogramMax      float64
	Halo              int
	Force             bool
	LogLevel          string
}

// DefaultPipelineConfig returns the settings used for missing keys: two
// write retries one second apart, file markers under ".checkpoints", and
// a 16-bit histogram with one bin per intensity.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WriteRetries:      2,
		WriteRetryDelay:   time.Second,
		CheckpointBackend: BackendFile,
		CheckpointPath:    ".checkpoints",
		HistogramBins:     65534,
		HistogramMin:      1,
		HistogramMax:      65535,
		Halo:              1,
		LogLevel:          "info",
	}
}

// LoadPipeline reads PipelineConfig keys from c over the defaults and
// validates the result.
func LoadPipeline(c Config) (PipelineConfig, error) {
	d := DefaultPipelineConfig()
	pc := PipelineConfig{
		ChunkConcurrency:  c.Int("chunk_concurrency", d.ChunkConcurrency),
		UnitConcurrency:   c.Int("unit_concurrency", d.UnitConcurrency),
		WriteRetries:      c.Int("write_retries", d.WriteRetries),
		WriteRetryDelay:   c.Duration("write_retry_delay", d.WriteRetryDelay),
		CheckpointBackend: c.String("checkpoint_backend", d.CheckpointBackend),
		CheckpointPath:    c.String("checkpoint_path", d.CheckpointPath),
		HistogramBins:     c.Int("histogram_bins", d.HistogramBins),
		HistogramMin:      c.Float("histogram_min", d.HistogramMin),
		HistogramMax:      c.Float("histogram_max", d.HistogramMax),
		Halo:              c.Int("halo", d.Halo),
		Force:             c.Bool("force", d.Force),
		LogLevel:          c.String("log_level", d.LogLevel),
	}
	if err := pc.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return pc, nil
}

// Validate checks ranges and enumerations.
func (pc PipelineConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}
	check(pc.ChunkConcurrency >= 0, "chunk_concurrency must be >= 0, got %d", pc.ChunkConcurrency)
	check(pc.UnitConcurrency >= 0, "unit_concurrency must be >= 0, got %d", pc.UnitConcurrency)
	check(pc.WriteRetries >= 0, "write_retries must be >= 0, got %d", pc.WriteRetries)
	check(pc.WriteRetryDelay >= 0, "write_retry_delay must be >= 0, got %s", pc.WriteRetryDelay)
	check(pc.HistogramBins >= 1, "histogram_bins must be >= 1, got %d", pc.HistogramBins)
	check(pc.HistogramMax > pc.HistogramMin, "histogram range [%g, %g] is empty", pc.HistogramMin, pc.HistogramMax)
	check(pc.Halo >= 0, "halo must be >= 0, got %d", pc.Halo)

	switch pc.CheckpointBackend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		check(pc.CheckpointPath != "", "checkpoint_path is required for the %s backend", pc.CheckpointBackend)
	default:
		check(false, "unknown checkpoint_backend %q", pc.CheckpointBackend)
	}
	if _, err := observability.ParseLevel(pc.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// RetryPolicy returns the chunk write policy: WriteRetries retries with a
// constant WriteRetryDelay between attempts.
func (pc PipelineConfig) RetryPolicy() retry.Policy {
	return retry.NewPolicy(
		retry.WithMaxRetries(pc.WriteRetries),
		retry.WithConstantDelay(pc.WriteRetryDelay),
	)
}

// OpenCheckpointStore opens the configured marker backend. The caller
// closes it.
func (pc PipelineConfig) OpenCheckpointStore() (checkpoint.Store, error) {
	switch pc.CheckpointBackend {
	case BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	case BackendFile:
		return checkpoint.NewFileStore(pc.CheckpointPath)
	case BackendSQLite:
		return checkpoint.NewSQLiteStore(pc.CheckpointPath)
	}
	return nil, fmt.Errorf("%w: unknown checkpoint_backend %q", ErrInvalidConfig, pc.CheckpointBackend)
}

// Checkpointer opens the marker backend and wraps it, applying Force.
func (pc PipelineConfig) Checkpointer(logger *slog.Logger) (*checkpoint.Checkpointer, error) {
	s, err := pc.OpenCheckpointStore()
	if err != nil {
		return nil, err
	}
	return checkpoint.New(s, checkpoint.WithForce(pc.Force), checkpoint.WithLogger(logger)), nil
}

// Logger returns a text or JSON logger writing to w at LogLevel.
func (pc PipelineConfig) Logger(w io.Writer, json bool) *slog.Logger {
	level, err := observability.ParseLevel(pc.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return observability.NewLogger(w, level, json)
}

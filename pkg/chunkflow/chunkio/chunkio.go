// Package chunkio reads and writes dataset chunks defensively.
//
// Reads classify failures as missing or corrupt chunks. Writes encode once,
// store, read the body back and validate it, retrying under a
// retry.Policy until the chunk validates or the policy gives up.
package chunkio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/observability"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
)

type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures chunk IO calls.
type Option func(*options)

// WithLogger sets the logger used for retry and validation messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records write attempts.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{metrics: observability.NoopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observability.NoopMetrics{}
	}
	return o
}

// ReadChunk loads one chunk. It returns *ChunkMissingError when the chunk
// has no body and *ChunkCorruptError when the body does not decode or
// holds NaN or infinite values.
func ReadChunk[T array.Element](ctx context.Context, ds *array.Dataset, idx grid.Index) (*array.Block[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := ds.Chunk(idx)
	if err != nil {
		return nil, err
	}

	body, err := ds.ReadRaw(idx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ChunkMissingError{Dataset: ds.String(), Index: idx.Clone(), Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s of %s: %w", idx, ds, err)
	}

	b, err := array.DecodeChunk[T](ds, c, body)
	if err != nil {
		return nil, &ChunkCorruptError{Dataset: ds.String(), Index: idx.Clone(), Reason: "decode failed", Err: err}
	}
	if n := b.NonFinite(); n > 0 {
		return nil, &ChunkCorruptError{
			Dataset: ds.String(),
			Index:   idx.Clone(),
			Reason:  fmt.Sprintf("%d NaN or infinite values", n),
			Err:     array.ErrCorrupt,
		}
	}
	return b, nil
}

// ReadRegion assembles a block covering region from every chunk it
// overlaps. The first chunk failure aborts the read.
func ReadRegion[T array.Element](ctx context.Context, ds *array.Dataset, region grid.Region) (*array.Block[T], error) {
	out := array.NewBlock[T](region)
	for _, c := range ds.Grid().Overlapping(region) {
		b, err := ReadChunk[T](ctx, ds, c.Index)
		if err != nil {
			return nil, err
		}
		out.CopyFrom(b)
	}
	return out, nil
}

// WriteChunk stores the part of b inside chunk idx and validates it by
// reading it back. Attempts never exceed policy.Attempts(); when they are
// used up the result is a *ChunkWriteError carrying the attempt count. A
// chunk holding NaN or Inf fails on the first attempt with a cause that
// IsCorrupt recognizes.
func WriteChunk[T array.Element](ctx context.Context, ds *array.Dataset, idx grid.Index, b *array.Block[T], policy retry.Policy, opts ...Option) error {
	o := buildOptions(opts)
	c, err := ds.Chunk(idx)
	if err != nil {
		return err
	}
	body, err := array.EncodeChunk(ds, c, b)
	if err != nil {
		return fmt.Errorf("encode chunk %s of %s: %w", idx, ds, err)
	}

	attempts := policy.Attempts()
	res := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (struct{}, error) {
		err := writeAndValidate[T](ds, c, body)
		if err != nil && attempt < attempts && retry.IsRetryable(err) {
			observability.LogRetry(o.logger, idx.String(), attempt, err)
		}
		return struct{}{}, err
	})
	o.metrics.RecordWriteAttempts(ctx, ds.Path(), res.Attempts)

	if res.Err != nil {
		return &ChunkWriteError{Dataset: ds.String(), Index: idx.Clone(), Attempts: res.Attempts, Err: res.Err}
	}
	return nil
}

func writeAndValidate[T array.Element](ds *array.Dataset, c grid.Chunk, body []byte) error {
	if err := ds.WriteRaw(c.Index, body); err != nil {
		if errors.Is(err, array.ErrReadOnly) {
			return retry.Permanent(err, "write")
		}
		return retry.Transient(err, "write")
	}
	if err := Validate(ds, c, body); err != nil {
		return retry.Transient(err, "validate")
	}
	// A rewrite stores the same values, so non-finite data never recovers.
	if err := validateFinite[T](ds, c, body); err != nil {
		return retry.Permanent(err, "validate")
	}
	return nil
}

func validateFinite[T array.Element](ds *array.Dataset, c grid.Chunk, body []byte) error {
	b, err := array.DecodeChunk[T](ds, c, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if n := b.NonFinite(); n > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, &ChunkCorruptError{
			Dataset: ds.String(),
			Index:   c.Index.Clone(),
			Reason:  fmt.Sprintf("%d NaN or infinite values", n),
			Err:     array.ErrCorrupt,
		})
	}
	return nil
}

// Validate reads chunk c back and checks that it holds exactly want and
// passes the structural decode.
func Validate(ds *array.Dataset, c grid.Chunk, want []byte) error {
	got, err := ds.ReadRaw(c.Index)
	if err != nil {
		return fmt.Errorf("%w: read back: %v", ErrValidation, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: read back %d bytes differing from the %d written", ErrValidation, len(got), len(want))
	}
	if _, _, err := ds.DecodeRaw(c, got); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// timed runs fn and reports its duration to the recorder under op.
func timed(ctx context.Context, m observability.MetricsRecorder, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordChunk(ctx, op, time.Since(start), err)
	return err
}

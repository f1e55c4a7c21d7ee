package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/pool"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
)

// ErrNoTransform is returned when a transform artifact does not exist.
var ErrNoTransform = errors.New("transform not found")

// ArtifactSink persists stage artifacts. Save methods return only after
// the artifact is durably written.
type ArtifactSink interface {
	SaveTransform(ctx context.Context, name string, t Transform) error
	LoadTransform(ctx context.Context, name string) (Transform, error)
	SaveVolume(ctx context.Context, name string, v *Volume, meta array.Meta) error
}

// DatasetSink stores artifacts as chunked datasets:
//
//	<root>/transform/<name>/affine   1-D float64, attribute has_field
//	<root>/transform/<name>/field    float32 displacement field
//	<root>/registered/<name>         resampled volume
//
// Every chunk goes through chunkio.WriteChunk, so it is validated and
// retried per the sink's policy.
type DatasetSink struct {
	store       store.Store
	root        string
	format      array.Format
	compression array.Compression
	fieldChunk  int
	policy      retry.Policy
	concurrency int
}

var _ ArtifactSink = (*DatasetSink)(nil)

// SinkOption configures a DatasetSink.
type SinkOption func(*DatasetSink)

// WithFormat sets the dataset layout. Default: N5.
func WithFormat(f array.Format) SinkOption {
	return func(s *DatasetSink) { s.format = f }
}

// WithCompression sets the chunk codec. Default: gzip.
func WithCompression(c array.Compression) SinkOption {
	return func(s *DatasetSink) { s.compression = c }
}

// WithRetryPolicy sets the chunk write policy. Default: retry.Default.
func WithRetryPolicy(p retry.Policy) SinkOption {
	return func(s *DatasetSink) { s.policy = p }
}

// WithConcurrency bounds parallel chunk writes. Default: GOMAXPROCS.
func WithConcurrency(n int) SinkOption {
	return func(s *DatasetSink) { s.concurrency = n }
}

// NewDatasetSink returns a sink writing under root in s.
func NewDatasetSink(s store.Store, root string, opts ...SinkOption) *DatasetSink {
	sink := &DatasetSink{
		store:       s,
		root:        root,
		format:      array.FormatN5,
		compression: array.Compression{Type: array.CompressionGzip},
		fieldChunk:  64,
		policy:      retry.Default,
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink
}

// TransformPath returns the dataset group holding a transform.
func (s *DatasetSink) TransformPath(name string) string {
	return store.Join(s.root, "transform", name)
}

// VolumePath returns the dataset holding a resampled volume.
func (s *DatasetSink) VolumePath(name string) string {
	return store.Join(s.root, "registered", name)
}

// SaveTransform writes the field first and the affine dataset last, so a
// readable affine dataset implies a complete transform.
func (s *DatasetSink) SaveTransform(ctx context.Context, name string, t Transform) error {
	base := s.TransformPath(name)
	if t.Field != nil {
		meta := array.Meta{
			Shape:       t.Field.Shape,
			ChunkShape:  s.chunkShape(t.Field.Shape),
			Dtype:       array.Float32,
			Compression: s.compression,
		}
		if err := s.writeVolume(ctx, store.Join(base, "field"), t.Field, meta); err != nil {
			return fmt.Errorf("save transform %s: %w", name, err)
		}
	}

	// An empty affine still needs one stored value.
	data := t.Affine
	if len(data) == 0 {
		data = []float64{0}
	}
	meta := array.Meta{
		Shape:       []int{len(data)},
		ChunkShape:  []int{len(data)},
		Dtype:       array.Float64,
		Compression: array.Compression{Type: array.CompressionRaw},
		Attributes:  map[string]any{"has_field": t.Field != nil, "affine_len": len(t.Affine)},
	}
	ds, err := array.Create(s.store, store.Join(base, "affine"), s.format, meta)
	if err != nil {
		return fmt.Errorf("save transform %s: %w", name, err)
	}
	block := &array.Block[float64]{Shape: []int{len(data)}, Origin: []int{0}, Data: data}
	if err := chunkio.WriteChunk(ctx, ds, grid.Index{0}, block, s.policy); err != nil {
		return fmt.Errorf("save transform %s: %w", name, err)
	}
	return nil
}

// LoadTransform reads a transform saved by SaveTransform.
func (s *DatasetSink) LoadTransform(ctx context.Context, name string) (Transform, error) {
	base := s.TransformPath(name)
	ds, err := array.Open(s.store, store.Join(base, "affine"), array.ReadOnly)
	if errors.Is(err, array.ErrNoMetadata) {
		return Transform{}, fmt.Errorf("%w: %s", ErrNoTransform, name)
	}
	if err != nil {
		return Transform{}, err
	}

	var t Transform
	if n := intAttr(ds.Attr("affine_len")); n > 0 {
		b, err := chunkio.ReadChunk[float64](ctx, ds, grid.Index{0})
		if err != nil {
			return Transform{}, fmt.Errorf("load transform %s: %w", name, err)
		}
		t.Affine = b.Data[:n]
	}
	if hasField, _ := ds.Attr("has_field").(bool); hasField {
		field, err := array.Open(s.store, store.Join(base, "field"), array.ReadOnly)
		if err != nil {
			return Transform{}, fmt.Errorf("load transform %s: %w", name, err)
		}
		t.Field, err = chunkio.ReadRegion[float32](ctx, field, fullRegion(field.Shape()))
		if err != nil {
			return Transform{}, fmt.Errorf("load transform %s: %w", name, err)
		}
	}
	return t, nil
}

// SaveVolume writes v as a dataset described by meta. meta.Shape is
// replaced with v's shape.
func (s *DatasetSink) SaveVolume(ctx context.Context, name string, v *Volume, meta array.Meta) error {
	meta.Shape = v.Shape
	if len(meta.ChunkShape) != len(v.Shape) {
		meta.ChunkShape = s.chunkShape(v.Shape)
	}
	if err := s.writeVolume(ctx, s.VolumePath(name), v, meta); err != nil {
		return fmt.Errorf("save volume %s: %w", name, err)
	}
	return nil
}

// writeVolume creates the dataset and writes every chunk of v. The
// artifact always starts at the origin, whatever v's origin.
func (s *DatasetSink) writeVolume(ctx context.Context, path string, v *Volume, meta array.Meta) error {
	v = &Volume{Shape: v.Shape, Origin: make([]int, len(v.Shape)), Data: v.Data}
	ds, err := array.Create(s.store, path, s.format, meta)
	if err != nil {
		return err
	}
	results := pool.Map(ctx, ds.Grid().Chunks(), s.concurrency, func(ctx context.Context, c grid.Chunk) (struct{}, error) {
		return struct{}{}, chunkio.WriteChunk(ctx, ds, c.Index, v, s.policy)
	})
	return pool.Join(results)
}

func (s *DatasetSink) chunkShape(shape []int) []int {
	out := make([]int, len(shape))
	for i, n := range shape {
		out[i] = max(min(n, s.fieldChunk), 1)
	}
	return out
}

func fullRegion(shape []int) grid.Region {
	r := make(grid.Region, len(shape))
	for i, n := range shape {
		r[i] = grid.Range{Start: 0, End: n}
	}
	return r
}

// intAttr reads an integer attribute that may have round-tripped
// through JSON as a float.
func intAttr(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

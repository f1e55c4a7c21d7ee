// Package array provides chunked N-dimensional dataset handles on top of a
// raw key/value store, in either the N5 or the zarr v2 layout.
//
// A Dataset is immutable once opened and safe for concurrent use. Chunk
// writes go straight to the store; coordinating writers of the same chunk
// is the caller's job.
package array

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
)

// Dataset is a handle on one chunked array stored under Path.
type Dataset struct {
	store  store.Store
	path   string
	meta   Meta
	layout layout
	grid   grid.Grid
	mode   Mode
}

// Create writes metadata for a new dataset (replacing any existing
// metadata at path) and returns a writable handle. N5 data is always
// big-endian, so the dtype byte order is adjusted for FormatN5.
func Create(s store.Store, path string, format Format, meta Meta) (*Dataset, error) {
	lay, err := layoutFor(format)
	if err != nil {
		return nil, err
	}
	meta = meta.clone()
	if format == FormatN5 {
		meta.Dtype = meta.Dtype.WithByteOrder(BOBigEndian)
		meta.Separator = ""
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	data, err := lay.encodeMeta(meta)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.Put(store.Join(path, lay.metaKey()), data); err != nil {
		return nil, fmt.Errorf("create %s: write metadata: %w", path, err)
	}
	if key := lay.attrsKey(); key != "" && len(meta.Attributes) > 0 {
		attrs, err := json.MarshalIndent(meta.Attributes, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if err := s.Put(store.Join(path, key), attrs); err != nil {
			return nil, fmt.Errorf("create %s: write attributes: %w", path, err)
		}
	}

	return newDataset(s, path, meta, lay, ReadWrite)
}

// CreateLike creates a dataset at path with the same format and metadata
// as like.
func CreateLike(s store.Store, path string, like *Dataset) (*Dataset, error) {
	return Create(s, path, like.Format(), like.meta)
}

// Open reads the metadata at path, detecting the layout from which
// metadata key is present (N5 first).
func Open(s store.Store, path string, mode Mode) (*Dataset, error) {
	for _, f := range []Format{FormatN5, FormatZarr} {
		lay, _ := layoutFor(f)
		data, err := s.Get(store.Join(path, lay.metaKey()))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		meta, err := lay.decodeMeta(data)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if key := lay.attrsKey(); key != "" {
			attrs, err := s.Get(store.Join(path, key))
			switch {
			case err == nil:
				if err := json.Unmarshal(attrs, &meta.Attributes); err != nil {
					return nil, fmt.Errorf("open %s: parse %s: %w", path, key, err)
				}
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
		}
		return newDataset(s, path, meta, lay, mode)
	}
	return nil, fmt.Errorf("open %s: %w", path, ErrNoMetadata)
}

func newDataset(s store.Store, path string, meta Meta, lay layout, mode Mode) (*Dataset, error) {
	g, err := grid.New(meta.Shape, meta.ChunkShape)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		store:  s,
		path:   store.Join(path),
		meta:   meta,
		layout: lay,
		grid:   g,
		mode:   mode,
	}, nil
}

func (d *Dataset) Path() string        { return d.path }
func (d *Dataset) Store() store.Store  { return d.store }
func (d *Dataset) Format() Format      { return d.layout.format() }
func (d *Dataset) Dtype() Dtype        { return d.meta.Dtype }
func (d *Dataset) Grid() grid.Grid     { return d.grid }
func (d *Dataset) Writable() bool      { return d.mode == ReadWrite }
func (d *Dataset) Shape() []int        { return append([]int(nil), d.meta.Shape...) }
func (d *Dataset) ChunkShape() []int   { return append([]int(nil), d.meta.ChunkShape...) }
func (d *Dataset) FillValue() float64  { return d.meta.FillValue }
func (d *Dataset) Meta() Meta          { return d.meta.clone() }
func (d *Dataset) String() string      { return fmt.Sprintf("%s:%s", d.Format(), d.path) }
func (d *Dataset) Attr(key string) any { return d.meta.Attributes[key] }

// Chunk resolves an index against the dataset grid.
func (d *Dataset) Chunk(idx grid.Index) (grid.Chunk, error) {
	c, ok := d.grid.ChunkAt(idx)
	if !ok {
		return grid.Chunk{}, fmt.Errorf("chunk %s outside grid %v: %w", idx, d.grid.Counts, grid.ErrInvalidShape)
	}
	return c, nil
}

// ChunkKey returns the store key of a chunk.
func (d *Dataset) ChunkKey(idx grid.Index) string {
	return store.Join(d.path, d.layout.chunkKey(d.meta, idx))
}

// ReadRaw returns the stored body of a chunk. Missing chunks yield an
// error wrapping store.ErrNotFound.
func (d *Dataset) ReadRaw(idx grid.Index) ([]byte, error) {
	if _, err := d.Chunk(idx); err != nil {
		return nil, err
	}
	return d.store.Get(d.ChunkKey(idx))
}

// WriteRaw stores an already encoded chunk body.
func (d *Dataset) WriteRaw(idx grid.Index, body []byte) error {
	if !d.Writable() {
		return fmt.Errorf("write chunk %s of %s: %w", idx, d, ErrReadOnly)
	}
	if _, err := d.Chunk(idx); err != nil {
		return err
	}
	return d.store.Put(d.ChunkKey(idx), body)
}

// DeleteChunk removes a chunk body; reading it afterwards reports it
// missing.
func (d *Dataset) DeleteChunk(idx grid.Index) error {
	if !d.Writable() {
		return fmt.Errorf("delete chunk %s of %s: %w", idx, d, ErrReadOnly)
	}
	return d.store.Delete(d.ChunkKey(idx))
}

// DecodeRaw performs the structural decode of a chunk body: header checks
// and full decompression. It returns the element bytes and the shape they
// cover, without interpreting values.
func (d *Dataset) DecodeRaw(c grid.Chunk, body []byte) ([]byte, []int, error) {
	payload, shape, err := d.layout.decodeChunk(d.meta, body)
	if err != nil {
		return nil, nil, err
	}
	want := d.layout.storedShape(d.meta, c)
	if !slices.Equal(shape, want) {
		return nil, nil, fmt.Errorf("%w: chunk %s holds shape %v, want %v", ErrCorrupt, c.Index, shape, want)
	}
	if n := grid.Volume(shape) * d.meta.Dtype.ByteSize; len(payload) != n {
		return nil, nil, fmt.Errorf("%w: chunk %s payload is %d bytes, want %d", ErrCorrupt, c.Index, len(payload), n)
	}
	return payload, shape, nil
}

// Spacing returns the physical voxel size per axis in array axis order,
// from the "pixelResolution" attribute scaled by "downsamplingFactors".
// Axes without information default to 1.
func (d *Dataset) Spacing() []float64 {
	rank := len(d.meta.Shape)
	out := make([]float64, rank)
	for i := range out {
		out[i] = 1
	}

	res := floatsAttr(d.meta.Attributes["pixelResolution"])
	factors := floatsAttr(d.meta.Attributes["downsamplingFactors"])
	apply := func(vals []float64) {
		if len(vals) != rank {
			return
		}
		// N5 attributes list axes fastest first.
		if d.Format() == FormatN5 {
			slices.Reverse(vals)
		}
		for i, v := range vals {
			out[i] *= v
		}
	}
	apply(res)
	apply(factors)
	return out
}

// floatsAttr accepts either a plain number list or an object with a
// "dimensions" list.
func floatsAttr(v any) []float64 {
	if obj, ok := v.(map[string]any); ok {
		v = obj["dimensions"]
	}
	if fs, ok := v.([]float64); ok {
		return append([]float64(nil), fs...)
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, e := range list {
		f, ok := e.(float64)
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// DecodeChunk decodes a chunk body into a block covering exactly the
// chunk's region. Zarr padding is cropped.
func DecodeChunk[T Element](d *Dataset, c grid.Chunk, body []byte) (*Block[T], error) {
	payload, shape, err := d.DecodeRaw(c, body)
	if err != nil {
		return nil, err
	}
	values, err := decodeValues[T](d.meta.Dtype, payload, grid.Volume(shape))
	if err != nil {
		return nil, err
	}
	b := &Block[T]{Shape: shape, Origin: c.Region.Start(), Data: values}
	if slices.Equal(shape, c.Size()) {
		return b, nil
	}
	return b.Sub(c.Region)
}

// EncodeChunk encodes the part of b inside the chunk's region. b must
// cover the whole chunk.
func EncodeChunk[T Element](d *Dataset, c grid.Chunk, b *Block[T]) ([]byte, error) {
	src := b
	if !slices.Equal(b.Shape, c.Size()) || !slices.Equal(b.Origin, c.Region.Start()) {
		sub, err := b.Sub(c.Region)
		if err != nil {
			return nil, fmt.Errorf("encode chunk %s: %w", c.Index, err)
		}
		src = sub
	}

	shape := d.layout.storedShape(d.meta, c)
	if !slices.Equal(shape, src.Shape) {
		region := make(grid.Region, len(shape))
		for i, s := range shape {
			region[i] = grid.Range{Start: c.Region[i].Start, End: c.Region[i].Start + s}
		}
		padded := NewBlock[T](region)
		padded.Fill(T(d.meta.FillValue))
		padded.CopyFrom(src)
		src = padded
	}

	payload, err := encodeValues(d.meta.Dtype, src.Data)
	if err != nil {
		return nil, err
	}
	return d.layout.encodeChunk(d.meta, payload, shape)
}

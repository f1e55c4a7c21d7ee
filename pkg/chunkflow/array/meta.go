package array

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
)

// Format selects the on-store layout of a dataset.
type Format string

const (
	FormatN5   Format = "n5"
	FormatZarr Format = "zarr"
)

// ParseFormat accepts "n5" or "zarr".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatN5, FormatZarr:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown dataset format %q", s)
}

// Mode controls whether chunk writes are allowed.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Dataset errors.
var (
	// ErrCorrupt marks chunk bodies that cannot be decoded.
	ErrCorrupt = errors.New("corrupt chunk")

	// ErrReadOnly is returned when writing through a read-only handle.
	ErrReadOnly = errors.New("dataset is read-only")

	// ErrNoMetadata is returned by Open when neither layout's metadata key
	// exists under the dataset path.
	ErrNoMetadata = errors.New("no dataset metadata")
)

// Meta is the layout-independent description of a dataset. All shapes use
// array axis order (first axis slowest), regardless of how the layout
// stores them.
type Meta struct {
	Shape       []int
	ChunkShape  []int
	Dtype       Dtype
	Compression Compression

	// FillValue pads zarr boundary chunks. N5 stores boundary chunks
	// cropped and ignores it.
	FillValue float64

	// Separator is the zarr dimension separator, "." (default) or "/".
	Separator string

	// Attributes are free-form user attributes (N5 extra keys in
	// attributes.json, zarr .zattrs).
	Attributes map[string]any
}

// Validate checks shape, chunk shape and dtype.
func (m Meta) Validate() error {
	if _, err := grid.New(m.Shape, m.ChunkShape); err != nil {
		return err
	}
	if err := m.Dtype.Validate(); err != nil {
		return err
	}
	switch m.Compression.Type {
	case "", CompressionRaw, CompressionGzip, CompressionZstd:
	default:
		return fmt.Errorf("unsupported compression %q", m.Compression.Type)
	}
	switch m.Separator {
	case "", ".", "/":
	default:
		return fmt.Errorf("unsupported dimension separator %q", m.Separator)
	}
	return nil
}

func (m Meta) clone() Meta {
	out := m
	out.Shape = append([]int(nil), m.Shape...)
	out.ChunkShape = append([]int(nil), m.ChunkShape...)
	if m.Attributes != nil {
		out.Attributes = make(map[string]any, len(m.Attributes))
		for k, v := range m.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// layout maps a dataset onto store keys and chunk bodies.
type layout interface {
	format() Format
	metaKey() string

	// attrsKey is where user attributes live when they are kept apart
	// from the array metadata; "" when they are stored inline.
	attrsKey() string
	encodeMeta(m Meta) ([]byte, error)
	decodeMeta(data []byte) (Meta, error)
	chunkKey(m Meta, idx grid.Index) string

	// storedShape is the shape a chunk body holds for the given chunk.
	storedShape(m Meta, c grid.Chunk) []int
	encodeChunk(m Meta, payload []byte, shape []int) ([]byte, error)

	// decodeChunk returns the raw element bytes and the shape they cover.
	decodeChunk(m Meta, body []byte) ([]byte, []int, error)
}

func layoutFor(f Format) (layout, error) {
	switch f {
	case FormatN5:
		return n5Layout{}, nil
	case FormatZarr:
		return zarrLayout{}, nil
	}
	return nil, fmt.Errorf("unknown dataset format %q", f)
}

func reversed(s []int) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

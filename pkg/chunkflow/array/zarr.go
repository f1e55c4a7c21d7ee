package array

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
)

const (
	zarrArrayKey = ".zarray"
	zarrAttrsKey = ".zattrs"

	zarrFormatVersion = 2
)

// Special fill values.
const (
	FillValueNaN              = "NaN"
	FillValueInfinity         = "Infinity"
	FillValueNegativeInfinity = "-Infinity"
)

// zarrArrayMeta is the ".zarray" document of a zarr v2 array.
type zarrArrayMeta struct {
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// Every chunk has this shape; boundary chunks are padded with the fill
	// value.
	Chunks []int `json:"chunks"`
	Dtype  Dtype `json:"dtype"`
	// Primary compression codec, or null for none.
	Compressor *zarrCompressor `json:"compressor"`
	FillValue  any             `json:"fill_value"`
	// "C" (row-major) is the only order supported.
	Order   string `json:"order"`
	Filters []any  `json:"filters"`
	// Either "." or "/"; "." when unset.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

type zarrCompressor struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// zarrLayout stores chunks as "i.j.k" (or "i/j/k") below the dataset path.
type zarrLayout struct{}

func (zarrLayout) format() Format   { return FormatZarr }
func (zarrLayout) metaKey() string  { return zarrArrayKey }
func (zarrLayout) attrsKey() string { return zarrAttrsKey }

func (zarrLayout) encodeMeta(m Meta) ([]byte, error) {
	doc := zarrArrayMeta{
		ZarrFormat:         zarrFormatVersion,
		Shape:              m.Shape,
		Chunks:             m.ChunkShape,
		Dtype:              m.Dtype,
		FillValue:          encodeFillValue(m.FillValue),
		Order:              "C",
		DimensionSeparator: m.Separator,
	}
	if !m.Compression.isRaw() {
		doc.Compressor = &zarrCompressor{ID: m.Compression.Type, Level: m.Compression.Level}
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (zarrLayout) decodeMeta(data []byte) (Meta, error) {
	var doc zarrArrayMeta
	if err := json.Unmarshal(data, &doc); err != nil {
		return Meta{}, fmt.Errorf("parse %s: %w", zarrArrayKey, err)
	}
	if doc.ZarrFormat != zarrFormatVersion {
		return Meta{}, fmt.Errorf("unsupported zarr_format %d", doc.ZarrFormat)
	}
	if doc.Order != "" && doc.Order != "C" {
		return Meta{}, fmt.Errorf("unsupported zarr order %q", doc.Order)
	}
	if len(doc.Filters) > 0 {
		return Meta{}, fmt.Errorf("zarr filters are not supported")
	}
	fill, err := decodeFillValue(doc.FillValue)
	if err != nil {
		return Meta{}, err
	}

	m := Meta{
		Shape:      doc.Shape,
		ChunkShape: doc.Chunks,
		Dtype:      doc.Dtype,
		FillValue:  fill,
		Separator:  doc.DimensionSeparator,
	}
	if doc.Compressor != nil {
		m.Compression = Compression{Type: doc.Compressor.ID, Level: doc.Compressor.Level}
	}
	return m, m.Validate()
}

func (zarrLayout) chunkKey(m Meta, idx grid.Index) string {
	sep := m.Separator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

// storedShape is always the full chunk shape.
func (zarrLayout) storedShape(m Meta, _ grid.Chunk) []int {
	return append([]int(nil), m.ChunkShape...)
}

func (zarrLayout) encodeChunk(m Meta, payload []byte, _ []int) ([]byte, error) {
	return m.Compression.compress(payload)
}

func (zarrLayout) decodeChunk(m Meta, body []byte) ([]byte, []int, error) {
	payload, err := m.Compression.decompress(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return payload, append([]int(nil), m.ChunkShape...), nil
}

func encodeFillValue(v float64) any {
	switch {
	case math.IsNaN(v):
		return FillValueNaN
	case math.IsInf(v, 1):
		return FillValueInfinity
	case math.IsInf(v, -1):
		return FillValueNegativeInfinity
	}
	return v
}

func decodeFillValue(v any) (float64, error) {
	switch fv := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return fv, nil
	case bool:
		if fv {
			return 1, nil
		}
		return 0, nil
	case string:
		switch fv {
		case FillValueNaN:
			return math.NaN(), nil
		case FillValueInfinity:
			return math.Inf(1), nil
		case FillValueNegativeInfinity:
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill_value %v", v)
}

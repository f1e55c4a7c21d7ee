package array

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
)

const (
	n5AttributesKey = "attributes.json"

	// n5ModeDefault is the only block mode supported; mode 1 (varlength)
	// and mode 2 (object) blocks are rejected as corrupt.
	n5ModeDefault = 0
)

// n5Attributes is the attributes.json document. Dimensions and block sizes
// are stored fastest axis first.
type n5Attributes struct {
	Dimensions  []int         `json:"dimensions"`
	BlockSize   []int         `json:"blockSize"`
	DataType    string        `json:"dataType"`
	Compression n5Compression `json:"compression"`
}

type n5Compression struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

var n5ReservedKeys = map[string]struct{}{
	"dimensions":  {},
	"blockSize":   {},
	"dataType":    {},
	"compression": {},
}

// n5Layout stores chunks as "<i_n-1>/.../<i_0>" below the dataset path,
// each with a big-endian header: mode, rank, then the chunk's dimensions.
type n5Layout struct{}

func (n5Layout) format() Format   { return FormatN5 }
func (n5Layout) metaKey() string  { return n5AttributesKey }
func (n5Layout) attrsKey() string { return "" }

func (n5Layout) encodeMeta(m Meta) ([]byte, error) {
	doc := map[string]any{}
	for k, v := range m.Attributes {
		if _, reserved := n5ReservedKeys[k]; !reserved {
			doc[k] = v
		}
	}
	ctype := m.Compression.Type
	if ctype == "" {
		ctype = CompressionRaw
	}
	doc["dimensions"] = reversed(m.Shape)
	doc["blockSize"] = reversed(m.ChunkShape)
	doc["dataType"] = m.Dtype.N5Name()
	doc["compression"] = n5Compression{Type: ctype, Level: m.Compression.Level}
	return json.MarshalIndent(doc, "", "  ")
}

func (n5Layout) decodeMeta(data []byte) (Meta, error) {
	var attrs n5Attributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return Meta{}, fmt.Errorf("parse %s: %w", n5AttributesKey, err)
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return Meta{}, fmt.Errorf("parse %s: %w", n5AttributesKey, err)
	}

	dt, err := ParseN5Dtype(attrs.DataType)
	if err != nil {
		return Meta{}, err
	}
	m := Meta{
		Shape:       reversed(attrs.Dimensions),
		ChunkShape:  reversed(attrs.BlockSize),
		Dtype:       dt,
		Compression: Compression{Type: attrs.Compression.Type, Level: attrs.Compression.Level},
	}
	for k, v := range all {
		if _, reserved := n5ReservedKeys[k]; reserved {
			continue
		}
		if m.Attributes == nil {
			m.Attributes = map[string]any{}
		}
		m.Attributes[k] = v
	}
	return m, m.Validate()
}

func (n5Layout) chunkKey(_ Meta, idx grid.Index) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[len(idx)-1-i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "/")
}

// storedShape is the cropped chunk size; N5 does not pad.
func (n5Layout) storedShape(_ Meta, c grid.Chunk) []int {
	return c.Size()
}

func (n5Layout) encodeChunk(m Meta, payload []byte, shape []int) ([]byte, error) {
	body, err := m.Compression.compress(payload)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 4+4*len(shape))
	binary.BigEndian.PutUint16(header[0:], n5ModeDefault)
	binary.BigEndian.PutUint16(header[2:], uint16(len(shape)))
	for i, v := range reversed(shape) {
		binary.BigEndian.PutUint32(header[4+4*i:], uint32(v))
	}
	return append(header, body...), nil
}

func (n5Layout) decodeChunk(m Meta, body []byte) ([]byte, []int, error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("%w: header truncated (%d bytes)", ErrCorrupt, len(body))
	}
	mode := binary.BigEndian.Uint16(body[0:])
	if mode != n5ModeDefault {
		return nil, nil, fmt.Errorf("%w: unsupported block mode %d", ErrCorrupt, mode)
	}
	rank := int(binary.BigEndian.Uint16(body[2:]))
	if rank != len(m.Shape) {
		return nil, nil, fmt.Errorf("%w: header rank %d, dataset rank %d", ErrCorrupt, rank, len(m.Shape))
	}
	end := 4 + 4*rank
	if len(body) < end {
		return nil, nil, fmt.Errorf("%w: header truncated (%d bytes)", ErrCorrupt, len(body))
	}
	xyz := make([]int, rank)
	for i := range xyz {
		xyz[i] = int(binary.BigEndian.Uint32(body[4+4*i:]))
	}
	shape := reversed(xyz)
	for i, v := range shape {
		if v <= 0 || v > m.ChunkShape[i] {
			return nil, nil, fmt.Errorf("%w: header shape %v exceeds block size %v", ErrCorrupt, shape, m.ChunkShape)
		}
	}

	payload, err := m.Compression.decompress(body[end:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return payload, shape, nil
}

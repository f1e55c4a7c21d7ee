package array

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/qri-io/dataset/compression"
)

// Compression names understood by the chunk codecs.
const (
	CompressionRaw  = "raw"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Compression configures the codec applied to chunk bodies.
type Compression struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

func (c Compression) isRaw() bool {
	return c.Type == "" || c.Type == CompressionRaw
}

// compress encodes a chunk body.
func (c Compression) compress(payload []byte) ([]byte, error) {
	if c.isRaw() {
		return payload, nil
	}
	var buf bytes.Buffer
	w, err := compression.Compressor(c.Type, &buf)
	if err != nil {
		return nil, fmt.Errorf("%s compressor: %w", c.Type, err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s compress: %w", c.Type, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s flush: %w", c.Type, err)
	}
	return buf.Bytes(), nil
}

// decompress decodes a whole chunk body.
func (c Compression) decompress(body []byte) ([]byte, error) {
	if c.isRaw() {
		return body, nil
	}
	r, err := compression.Decompressor(c.Type, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s decompressor: %w", c.Type, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.Type, err)
	}
	return out, nil
}

// decodeValues converts a raw payload into n values of type T.
func decodeValues[T Element](dt Dtype, raw []byte, n int) ([]T, error) {
	if len(raw) != n*dt.ByteSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, want %d (%d x %s)",
			ErrCorrupt, len(raw), n*dt.ByteSize, n, dt)
	}
	order := dt.Order()
	out := make([]T, n)

	switch dt.BasicType {
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			for i := range out {
				out[i] = T(raw[i])
			}
		case 2:
			for i := range out {
				out[i] = T(order.Uint16(raw[2*i:]))
			}
		case 4:
			for i := range out {
				out[i] = T(order.Uint32(raw[4*i:]))
			}
		case 8:
			for i := range out {
				out[i] = T(order.Uint64(raw[8*i:]))
			}
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			for i := range out {
				out[i] = T(int8(raw[i]))
			}
		case 2:
			for i := range out {
				out[i] = T(int16(order.Uint16(raw[2*i:])))
			}
		case 4:
			for i := range out {
				out[i] = T(int32(order.Uint32(raw[4*i:])))
			}
		case 8:
			for i := range out {
				out[i] = T(int64(order.Uint64(raw[8*i:])))
			}
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			for i := range out {
				out[i] = T(math.Float32frombits(order.Uint32(raw[4*i:])))
			}
		case 8:
			for i := range out {
				out[i] = T(math.Float64frombits(order.Uint64(raw[8*i:])))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dt)
	}
	return out, nil
}

// encodeValues converts values into the dtype's byte representation.
func encodeValues[T Element](dt Dtype, values []T) ([]byte, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	order := dt.Order()
	out := make([]byte, len(values)*dt.ByteSize)

	switch dt.BasicType {
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			for i, v := range values {
				out[i] = uint8(v)
			}
		case 2:
			for i, v := range values {
				order.PutUint16(out[2*i:], uint16(v))
			}
		case 4:
			for i, v := range values {
				order.PutUint32(out[4*i:], uint32(v))
			}
		case 8:
			for i, v := range values {
				order.PutUint64(out[8*i:], uint64(v))
			}
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			for i, v := range values {
				out[i] = uint8(int8(v))
			}
		case 2:
			for i, v := range values {
				order.PutUint16(out[2*i:], uint16(int16(v)))
			}
		case 4:
			for i, v := range values {
				order.PutUint32(out[4*i:], uint32(int32(v)))
			}
		case 8:
			for i, v := range values {
				order.PutUint64(out[8*i:], uint64(int64(v)))
			}
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			for i, v := range values {
				order.PutUint32(out[4*i:], math.Float32bits(float32(v)))
			}
		case 8:
			for i, v := range values {
				order.PutUint64(out[8*i:], math.Float64bits(float64(v)))
			}
		}
	}
	return out, nil
}

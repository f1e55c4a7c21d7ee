package array_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readChunk and writeChunk skip the read-back validation of package
// chunkio, which depends on this one.
func readChunk[T array.Element](ds *array.Dataset, idx grid.Index) (*array.Block[T], error) {
	c, err := ds.Chunk(idx)
	if err != nil {
		return nil, err
	}
	body, err := ds.ReadRaw(idx)
	if err != nil {
		return nil, err
	}
	return array.DecodeChunk[T](ds, c, body)
}

func writeChunk[T array.Element](ds *array.Dataset, idx grid.Index, b *array.Block[T]) error {
	c, err := ds.Chunk(idx)
	if err != nil {
		return err
	}
	body, err := array.EncodeChunk(ds, c, b)
	if err != nil {
		return err
	}
	return ds.WriteRaw(idx, body)
}

func rampBlock(c grid.Chunk) *array.Block[uint16] {
	b := array.NewBlock[uint16](c.Region)
	for i := range b.Data {
		b.Data[i] = uint16(i % 4096)
	}
	return b
}

func TestDataset_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		format      array.Format
		compression string
		separator   string
	}{
		{"n5 raw", array.FormatN5, array.CompressionRaw, ""},
		{"n5 gzip", array.FormatN5, array.CompressionGzip, ""},
		{"n5 zstd", array.FormatN5, array.CompressionZstd, ""},
		{"zarr raw", array.FormatZarr, array.CompressionRaw, "."},
		{"zarr gzip nested", array.FormatZarr, array.CompressionGzip, "/"},
		{"zarr zstd", array.FormatZarr, array.CompressionZstd, "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			ds, err := array.Create(s, "vol/s0", tt.format, array.Meta{
				Shape:       []int{25, 13, 10},
				ChunkShape:  []int{10, 10, 10},
				Dtype:       array.Uint16,
				Compression: array.Compression{Type: tt.compression},
				Separator:   tt.separator,
			})
			require.NoError(t, err)

			// Interior and boundary chunks.
			for _, idx := range []grid.Index{{0, 0, 0}, {2, 1, 0}} {
				c, err := ds.Chunk(idx)
				require.NoError(t, err)
				want := rampBlock(c)
				require.NoError(t, writeChunk(ds, idx, want))

				reopened, err := array.Open(s, "vol/s0", array.ReadOnly)
				require.NoError(t, err)
				assert.Equal(t, tt.format, reopened.Format())

				got, err := readChunk[uint16](reopened, idx)
				require.NoError(t, err)
				assert.True(t, want.Equal(got), "chunk %s differs after round trip", idx)
			}
		})
	}
}

func TestDataset_N5ChunkHeader(t *testing.T) {
	s := store.NewMemoryStore()
	ds, err := array.Create(s, "img", array.FormatN5, array.Meta{
		Shape:      []int{250, 130, 100},
		ChunkShape: []int{100, 100, 100},
		Dtype:      array.Uint16,
	})
	require.NoError(t, err)
	assert.Equal(t, array.BOBigEndian, ds.Dtype().ByteOrder)

	idx := grid.Index{2, 1, 0}
	c, err := ds.Chunk(idx)
	require.NoError(t, err)
	require.NoError(t, writeChunk(ds, idx, rampBlock(c)))

	// Reversed index path below the dataset.
	assert.Equal(t, "img/0/1/2", ds.ChunkKey(idx))

	body, err := s.Get("img/0/1/2")
	require.NoError(t, err)
	require.Len(t, body, 16+50*30*100*2)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(body[0:]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(body[2:]))
	assert.Equal(t, uint32(100), binary.BigEndian.Uint32(body[4:]))
	assert.Equal(t, uint32(30), binary.BigEndian.Uint32(body[8:]))
	assert.Equal(t, uint32(50), binary.BigEndian.Uint32(body[12:]))
	// First value is big-endian 0, second is 1.
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(body[18:]))
}

func TestDataset_ZarrPadsBoundaryChunks(t *testing.T) {
	s := store.NewMemoryStore()
	ds, err := array.Create(s, "z", array.FormatZarr, array.Meta{
		Shape:      []int{5, 3},
		ChunkShape: []int{4, 4},
		Dtype:      array.Uint8,
		FillValue:  9,
	})
	require.NoError(t, err)

	idx := grid.Index{1, 0}
	c, err := ds.Chunk(idx)
	require.NoError(t, err)
	b := array.NewBlock[uint8](c.Region)
	b.Fill(1)
	require.NoError(t, writeChunk(ds, idx, b))

	assert.Equal(t, "z/1.0", ds.ChunkKey(idx))
	body, err := s.Get("z/1.0")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}, body)

	got, err := readChunk[uint8](ds, idx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, got.Shape)
	assert.Equal(t, []uint8{1, 1, 1}, got.Data)
}

func TestDataset_Errors(t *testing.T) {
	s := store.NewMemoryStore()
	ds, err := array.Create(s, "v", array.FormatN5, array.Meta{
		Shape:       []int{4, 4},
		ChunkShape:  []int{2, 2},
		Dtype:       array.Float32,
		Compression: array.Compression{Type: array.CompressionGzip},
	})
	require.NoError(t, err)

	t.Run("missing chunk", func(t *testing.T) {
		_, err := readChunk[float32](ds, grid.Index{1, 1})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("index outside grid", func(t *testing.T) {
		_, err := readChunk[float32](ds, grid.Index{2, 0})
		assert.ErrorIs(t, err, grid.ErrInvalidShape)
	})

	t.Run("truncated body", func(t *testing.T) {
		require.NoError(t, s.Put(ds.ChunkKey(grid.Index{0, 1}), []byte{0, 0}))
		_, err := readChunk[float32](ds, grid.Index{0, 1})
		assert.ErrorIs(t, err, array.ErrCorrupt)
	})

	t.Run("garbage compressed body", func(t *testing.T) {
		body := []byte{0, 0, 0, 2, 0, 0, 0, 2, 0, 0, 0, 2, 'n', 'o', 't', 'g', 'z'}
		require.NoError(t, s.Put(ds.ChunkKey(grid.Index{1, 0}), body))
		_, err := readChunk[float32](ds, grid.Index{1, 0})
		assert.ErrorIs(t, err, array.ErrCorrupt)
	})

	t.Run("read-only handle", func(t *testing.T) {
		ro, err := array.Open(s, "v", array.ReadOnly)
		require.NoError(t, err)
		c, err := ro.Chunk(grid.Index{0, 0})
		require.NoError(t, err)
		err = writeChunk(ro, grid.Index{0, 0}, array.NewBlock[float32](c.Region))
		assert.ErrorIs(t, err, array.ErrReadOnly)
	})

	t.Run("no metadata", func(t *testing.T) {
		_, err := array.Open(s, "nothing/here", array.ReadOnly)
		assert.ErrorIs(t, err, array.ErrNoMetadata)
	})
}

func TestDataset_NaNSurvivesRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ds, err := array.Create(s, "f", array.FormatZarr, array.Meta{
		Shape:      []int{2, 2},
		ChunkShape: []int{2, 2},
		Dtype:      array.Float64,
	})
	require.NoError(t, err)

	c, err := ds.Chunk(grid.Index{0, 0})
	require.NoError(t, err)
	b := array.NewBlock[float64](c.Region)
	b.Data[3] = math.NaN()
	require.NoError(t, writeChunk(ds, c.Index, b))

	got, err := readChunk[float64](ds, c.Index)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NonFinite())
}

func TestDataset_SpacingFromN5Attributes(t *testing.T) {
	local, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = array.Create(local, "c0/s1", array.FormatN5, array.Meta{
		Shape:      []int{8, 8, 8},
		ChunkShape: []int{4, 4, 4},
		Dtype:      array.Uint16,
		Attributes: map[string]any{
			"pixelResolution":     map[string]any{"dimensions": []float64{0.23, 0.23, 0.42}, "unit": "um"},
			"downsamplingFactors": []float64{2, 2, 1},
		},
	})
	require.NoError(t, err)

	ds, err := array.Open(local, "c0/s1", array.ReadOnly)
	require.NoError(t, err)
	spacing := ds.Spacing()
	require.Len(t, spacing, 3)
	assert.InDelta(t, 0.42, spacing[0], 1e-9)
	assert.InDelta(t, 0.46, spacing[1], 1e-9)
	assert.InDelta(t, 0.46, spacing[2], 1e-9)
}

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/config"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/grid"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/retry"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	root    string
	markers string
	labels  *array.Dataset
}

// newCLI lays out an 8x8x8 uint16 label image with 4x4x4 chunks: label 1
// fills [1,2] on every axis and label 2 is the single voxel (6,6,6).
func newCLI(t *testing.T) *cli {
	t.Helper()
	root := t.TempDir()
	s, err := store.NewLocalStore(root)
	require.NoError(t, err)
	ds, err := array.Create(s, "labels", array.FormatN5, array.Meta{
		Shape:       []int{8, 8, 8},
		ChunkShape:  []int{4, 4, 4},
		Dtype:       array.Uint16,
		Compression: array.Compression{Type: array.CompressionGzip, Level: -1},
	})
	require.NoError(t, err)
	for _, c := range ds.Grid().Chunks() {
		b := array.NewBlock[uint16](c.Region)
		for z := 1; z <= 2; z++ {
			for y := 1; y <= 2; y++ {
				for x := 1; x <= 2; x++ {
					if c.Region.Contains([]int{z, y, x}) {
						b.Set([]int{z, y, x}, 1)
					}
				}
			}
		}
		if c.Region.Contains([]int{6, 6, 6}) {
			b.Set([]int{6, 6, 6}, 2)
		}
		require.NoError(t, chunkio.WriteChunk(context.Background(), ds, c.Index, b, retry.NoRetry))
	}
	return &cli{root: root, markers: filepath.Join(root, ".markers"), labels: ds}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--root", c.root, "--checkpoints", c.markers, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "validate", "labels")
	require.NoError(t, err)
	assert.Contains(t, out, "labels: 8/8 chunks valid")

	require.NoError(t, c.labels.DeleteChunk(grid.Index{1, 0, 1}))
	out, err = c.run(t, "validate", "labels")
	assert.ErrorIs(t, err, errInvalidChunks)
	assert.Contains(t, out, "missing 1.0.1")
}

func TestBBox(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "bbox", "labels")
	require.NoError(t, err)
	assert.Equal(t, "label,min_0,max_0,min_1,max_1,min_2,max_2\n"+
		"1,1,2,1,2,1,2\n"+
		"2,6,6,6,6,6,6\n", out)

	path := filepath.Join(t.TempDir(), "centers.csv")
	_, err = c.run(t, "bbox", "labels", "--centers", "-o", path)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "label,z,y,x\n1,1.5,1.5,1.5\n2,6,6,6\n", string(got))
}

func TestHistogram(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "histogram", "labels")
	require.NoError(t, err)
	assert.Contains(t, out, "voxels\t9\n")
	assert.Contains(t, out, "median\t1\n")
}

func TestThreshold_ResumesAndForces(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "threshold", "labels", "mask", "--value", "2")
	require.NoError(t, err)
	assert.Empty(t, out)

	mask, err := array.Open(c.labels.Store(), "mask", array.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, array.Uint8, mask.Dtype())
	b, err := chunkio.ReadChunk[uint8](context.Background(), mask, grid.Index{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, uint8(255), b.At([]int{6, 6, 6}))
	assert.Equal(t, uint8(0), b.At([]int{5, 5, 5}))

	out, err = c.run(t, "threshold", "labels", "mask", "--value", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "already done")

	// A different threshold is a different unit.
	out, err = c.run(t, "threshold", "labels", "mask", "--value", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "already done")

	out, err = c.run(t, "--force", "threshold", "labels", "mask", "--value", "1")
	require.NoError(t, err)
	assert.NotContains(t, out, "already done")

	out, err = c.run(t, "markers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "threshold\tin=labels,out=mask~")

	_, err = c.run(t, "markers", "clear", "threshold")
	require.NoError(t, err)
	out, err = c.run(t, "markers", "list", "threshold")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestThreshold_AutoKeyTracksHistogramSettings(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "threshold", "labels", "mask")
	require.NoError(t, err)
	assert.NotContains(t, out, "already done")

	out, err = c.run(t, "threshold", "labels", "mask")
	require.NoError(t, err)
	assert.Contains(t, out, "already done")

	cfg := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("histogram_bins: 100\n"), 0o644))
	out, err = c.run(t, "--config", cfg, "threshold", "labels", "mask")
	require.NoError(t, err)
	assert.NotContains(t, out, "already done")

	out, err = c.run(t, "markers", "list", "threshold")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "threshold\tin=labels,out=mask~"))
}

func TestFilter(t *testing.T) {
	c := newCLI(t)
	out, err := c.run(t, "filter", "labels", "grown", "--filter", "grow")
	require.NoError(t, err)
	// Face growth adds 4 voxels per face of the 2x2x2 cube and 6 around
	// the single voxel.
	assert.Contains(t, out, "iteration 1: 30 voxels changed")

	_, err = c.run(t, "filter", "labels", "other", "--filter", "blur")
	assert.Error(t, err)
}

func TestSpots(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	spots := filepath.Join(dir, "R1.csv")
	require.NoError(t, os.WriteFile(spots, []byte("z,y,x\n1,1,1\n2,2,2\n6,6,6\n0,0,0\nnan,1,1\n"), 0o644))
	scaled := filepath.Join(dir, "R2.csv")
	require.NoError(t, os.WriteFile(scaled, []byte("x,y,z\n3,3,2\n"), 0o644))

	pct := filepath.Join(dir, "pct.csv")
	out, err := c.run(t, "spots", "labels", spots, scaled, "--voxel-size", "2,2,2", "--percentages", pct)
	require.NoError(t, err)
	// Scaled by 2 only the first R1 spot still lands in a label. R2's
	// spot becomes (4,6,6), which is background.
	assert.Equal(t, "label,R1,R2\n1,1,0\n", out)

	out, err = c.run(t, "spots", "labels", spots)
	require.NoError(t, err)
	assert.Equal(t, "label,R1\n1,2\n2,1\n", out)

	got, err := os.ReadFile(pct)
	require.NoError(t, err)
	assert.Equal(t, "name,percentage\nR1,20\nR2,0\n", string(got))

	_, err = c.run(t, "spots", "labels", spots, "--voxel-size", "1,1")
	assert.Error(t, err)
}

// writeVolume stores a 4x4x4 single-chunk dataset of dtype dt with the
// voxel (1,1,1) set to v.
func writeVolume[T array.Element](t *testing.T, c *cli, path string, dt array.Dtype, v T) {
	t.Helper()
	ds, err := array.Create(c.labels.Store(), path, array.FormatZarr, array.Meta{
		Shape:      []int{4, 4, 4},
		ChunkShape: []int{4, 4, 4},
		Dtype:      dt,
	})
	require.NoError(t, err)
	chunk, err := ds.Chunk(grid.Index{0, 0, 0})
	require.NoError(t, err)
	b := array.NewBlock[T](chunk.Region)
	b.Set([]int{1, 1, 1}, v)
	require.NoError(t, chunkio.WriteChunk(context.Background(), ds, chunk.Index, b, retry.NoRetry))
}

func TestCommands_ElementKinds(t *testing.T) {
	c := newCLI(t)
	writeVolume[int16](t, c, "i16", array.Int16, 3)
	writeVolume[int8](t, c, "i8", array.Int8, 3)
	writeVolume[uint64](t, c, "u64", array.Uint64, 3)
	writeVolume[float64](t, c, "f64", array.Float64, 3)

	for _, path := range []string{"i16", "i8", "u64"} {
		out, err := c.run(t, "bbox", path)
		require.NoError(t, err, path)
		assert.Contains(t, out, "3,1,1,1,1,1,1\n", path)
	}

	for _, path := range []string{"u64", "f64", "i16"} {
		out, err := c.run(t, "histogram", path)
		require.NoError(t, err, path)
		assert.Contains(t, out, "voxels\t1\n", path)
	}

	for _, path := range []string{"f64", "i16"} {
		out, err := c.run(t, "filter", path, path+"_grown", "--filter", "grow")
		require.NoError(t, err, path)
		assert.Contains(t, out, "iteration 1: 6 voxels changed", path)
	}

	_, err := c.run(t, "bbox", "f64")
	assert.ErrorContains(t, err, "not supported")
}

func TestConfigFile(t *testing.T) {
	c := newCLI(t)
	cfg := filepath.Join(t.TempDir(), "pipeline.yaml")
	db := filepath.Join(t.TempDir(), "markers.db")
	require.NoError(t, os.WriteFile(cfg, []byte("checkpoint_backend: sqlite\nchunk_concurrency: 2\n"), 0o644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", cfg, "--root", c.root, "--checkpoints", db, "threshold", "labels", "mask", "--value", "1"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	_, err := os.Stat(db)
	assert.NoError(t, err)

	_, err = c.run(t, "--log-level", "loud", "validate", "labels")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

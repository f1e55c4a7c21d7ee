package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":     "stitch",
		"workers":  8,
		"ratio":    0.5,
		"whole":    float64(3),
		"fraction": 2.5,
		"force":    true,
		"delay":    "250ms",
		"seconds":  2,
		"nested":   map[string]any{"halo": 2},
	})

	assert.Equal(t, "stitch", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("workers", "x"))
	assert.Equal(t, 8, cfg.Int("workers", 1))
	assert.Equal(t, 3, cfg.Int("whole", 1))
	assert.Equal(t, 1, cfg.Int("fraction", 1), "fractional floats keep the default")
	assert.Equal(t, 8.0, cfg.Float("workers", 0))
	assert.Equal(t, 0.5, cfg.Float("ratio", 0))
	assert.True(t, cfg.Bool("force", false))
	assert.False(t, cfg.Bool("name", false))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("delay", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("seconds", 0))
	assert.Equal(t, time.Minute, cfg.Duration("missing", time.Minute))
	assert.Equal(t, 2, cfg.Sub("nested").Int("halo", 0))
	assert.False(t, cfg.Sub("name").Has("halo"))
	assert.True(t, cfg.Has("ratio"))

	assert.NotNil(t, config.New(nil).Raw())
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("halo: 3\nwrite_retry_delay: 2s\n"), 0o644))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Int("halo", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("write_retry_delay", 0))

	jsonPath := filepath.Join(dir, "pipeline.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"halo": 4, "force": true}`), 0o644))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Int("halo", 0))
	assert.True(t, cfg.Bool("force", false))

	_, err = config.FromFile(filepath.Join(dir, "pipeline.toml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "exists.toml")
	require.NoError(t, os.WriteFile(tomlPath, nil, 0o644))
	_, err = config.FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported")

	_, err = config.FromYAML([]byte("halo: [1"))
	assert.Error(t, err)
}

func TestFromFile_ExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHUNKFLOW_SCRATCH", dir)

	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint_path: ${CHUNKFLOW_SCRATCH}/markers\n"), 0o644))
	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir+"/markers", cfg.String("checkpoint_path", ""))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	cfg, err = config.FromFile(empty)
	require.NoError(t, err)
	pc, err := config.LoadPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPipelineConfig(), pc)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = config.FromFile(bad)
	assert.ErrorContains(t, err, bad)
}

func TestLoadPipeline_Defaults(t *testing.T) {
	pc, err := config.LoadPipeline(config.New(nil))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPipelineConfig(), pc)

	policy := pc.RetryPolicy()
	assert.Equal(t, 3, policy.Attempts())
	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, time.Second, policy.Delay(2))
}

func TestLoadPipeline_Overrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
chunk_concurrency: 16
unit_concurrency: 2
write_retries: 5
write_retry_delay: 10ms
checkpoint_backend: sqlite
checkpoint_path: markers.db
histogram_bins: 256
histogram_min: 0
histogram_max: 256
halo: 2
force: true
log_level: debug
`))
	require.NoError(t, err)

	pc, err := config.LoadPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.PipelineConfig{
		ChunkConcurrency:  16,
		UnitConcurrency:   2,
		WriteRetries:      5,
		WriteRetryDelay:   10 * time.Millisecond,
		CheckpointBackend: config.BackendSQLite,
		CheckpointPath:    "markers.db",
		HistogramBins:     256,
		HistogramMin:      0,
		HistogramMax:      256,
		Halo:              2,
		Force:             true,
		LogLevel:          "debug",
	}, pc)
}

func TestLoadPipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"negative retries", map[string]any{"write_retries": -1}},
		{"no bins", map[string]any{"histogram_bins": 0}},
		{"empty range", map[string]any{"histogram_min": 10, "histogram_max": 10}},
		{"negative halo", map[string]any{"halo": -2}},
		{"unknown backend", map[string]any{"checkpoint_backend": "redis"}},
		{"file without path", map[string]any{"checkpoint_path": ""}},
		{"bad level", map[string]any{"log_level": "verbose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadPipeline(config.New(tt.data))
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestOpenCheckpointStore(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			pc := config.DefaultPipelineConfig()
			pc.CheckpointBackend = backend
			pc.CheckpointPath = filepath.Join(dir, backend)
			pc.Force = true

			cp, err := pc.Checkpointer(nil)
			require.NoError(t, err)
			defer cp.Store().Close()
			assert.True(t, cp.Forced())

			u := checkpoint.NewUnit("channel", "488")
			require.NoError(t, cp.MarkDone("apply", u))
			ok, err := cp.Store().Exists("apply", u.Key())
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestPipelineLogger(t *testing.T) {
	pc := config.DefaultPipelineConfig()
	pc.LogLevel = "warn"
	var buf bytes.Buffer
	logger := pc.Logger(&buf, true)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

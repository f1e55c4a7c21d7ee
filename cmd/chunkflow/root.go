package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/config"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/store"
	"github.com/spf13/cobra"
)

// app carries the settings shared by every subcommand. Flags fill the
// first block; setup fills the rest.
type app struct {
	configPath  string
	root        string
	checkpoints string
	logLevel    string
	jsonLogs    bool
	force       bool

	pc     config.PipelineConfig
	logger *slog.Logger
	store  *store.LocalStore
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "chunkflow",
		Short:        "Chunked volume processing with resumable stages",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "pipeline config file (.yaml, .yml or .json)")
	f.StringVar(&a.root, "root", ".", "directory holding the datasets")
	f.StringVar(&a.checkpoints, "checkpoints", "", "override checkpoint_path")
	f.StringVar(&a.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	f.BoolVar(&a.jsonLogs, "json-logs", false, "log as JSON")
	f.BoolVar(&a.force, "force", false, "redo units even when their marker exists")

	root.AddCommand(
		newValidateCmd(a),
		newHistogramCmd(a),
		newThresholdCmd(a),
		newFilterCmd(a),
		newBBoxCmd(a),
		newSpotsCmd(a),
		newMarkersCmd(a),
	)
	return root
}

// setup loads the config file over the defaults, applies flag overrides
// and opens the dataset root.
func (a *app) setup(cmd *cobra.Command) error {
	c := config.New(nil)
	if a.configPath != "" {
		var err error
		if c, err = config.FromFile(a.configPath); err != nil {
			return err
		}
	}
	pc, err := config.LoadPipeline(c)
	if err != nil {
		return err
	}
	if a.checkpoints != "" {
		pc.CheckpointPath = a.checkpoints
	}
	if a.logLevel != "" {
		pc.LogLevel = a.logLevel
	}
	if a.force {
		pc.Force = true
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	a.pc = pc
	a.logger = pc.Logger(cmd.ErrOrStderr(), a.jsonLogs)

	a.store, err = store.NewLocalStore(a.root)
	return err
}

// runOptions are the engine options every traversal uses.
func (a *app) runOptions(extra ...chunkflow.Option) []chunkflow.Option {
	opts := []chunkflow.Option{
		chunkflow.WithLogger(a.logger),
		chunkflow.WithConcurrency(a.pc.ChunkConcurrency),
		chunkflow.WithRetryPolicy(a.pc.RetryPolicy()),
	}
	return append(opts, extra...)
}

func (a *app) open(path string, mode array.Mode) (*array.Dataset, error) {
	ds, err := array.Open(a.store, path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return ds, nil
}

// runOnce runs fn as the single unit of stage, skipping it when its
// marker already exists. It reports whether fn ran.
func (a *app) runOnce(ctx context.Context, stage string, unit checkpoint.Unit, fn func(ctx context.Context) error) (bool, error) {
	cp, err := a.pc.Checkpointer(a.logger)
	if err != nil {
		return false, err
	}
	defer cp.Store().Close()

	report, err := chunkflow.RunStage(ctx, cp, chunkflow.Stage{
		Name: stage,
		Run: func(ctx context.Context, _ checkpoint.Unit) error {
			return fn(ctx)
		},
	}, []checkpoint.Unit{unit}, chunkflow.WithLogger(a.logger), chunkflow.WithConcurrency(a.pc.UnitConcurrency))
	if err != nil {
		return false, err
	}
	if err := report.Err(); err != nil {
		return false, err
	}
	return report.Completed == 1, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/checkpoint"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/chunkio"
	"github.com/spf13/cobra"
)

// Stage names of the marker-tracked commands.
const (
	stageThreshold = "threshold"
	stageFilter    = "filter"
)

var errInvalidChunks = errors.New("dataset has missing or invalid chunks")

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate DATASET...",
		Short: "Check that every chunk exists and decodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bad := 0
			for _, path := range args {
				ds, err := a.open(path, array.ReadOnly)
				if err != nil {
					return err
				}
				report, err := chunkio.ValidateStore(cmd.Context(), ds, a.pc.ChunkConcurrency, chunkio.WithLogger(a.logger))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d/%d chunks valid\n", path, report.Valid, report.Total)
				for _, idx := range report.Missing {
					fmt.Fprintf(out, "  missing %s\n", idx)
				}
				for _, c := range report.Invalid {
					fmt.Fprintf(out, "  invalid %s: %s\n", c.Index, c.Reason)
				}
				bad += report.Bad()
			}
			if bad > 0 {
				return fmt.Errorf("%w: %d bad chunks", errInvalidChunks, bad)
			}
			return nil
		},
	}
}

func newHistogramCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "histogram DATASET",
		Short: "Print the median and triangle threshold of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.open(args[0], array.ReadOnly)
			if err != nil {
				return err
			}
			h, err := histogramOf(cmd.Context(), ds, a.pc.HistogramBins, a.pc.HistogramMin, a.pc.HistogramMax, a.runOptions()...)
			if err != nil {
				return err
			}
			median, err := chunkflow.MedianFromHistogram(h)
			if err != nil {
				return err
			}
			threshold, err := chunkflow.TriangleThresholdValue(h)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voxels\t%d\n", h.Total())
			fmt.Fprintf(out, "median\t%g\n", median)
			fmt.Fprintf(out, "triangle\t%g\n", threshold)
			return nil
		},
	}
	return cmd
}

func newThresholdCmd(a *app) *cobra.Command {
	var value float64
	cmd := &cobra.Command{
		Use:   "threshold IN OUT",
		Short: "Write a uint8 mask of voxels at or above a threshold",
		Long: "Write a uint8 mask (255 on, 0 off) with the layout of IN. Without\n" +
			"--value the triangle threshold of IN's histogram is used.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, err := a.open(args[0], array.ReadOnly)
			if err != nil {
				return err
			}
			auto := !cmd.Flags().Changed("value")

			unit := checkpoint.NewUnit("in", args[0], "out", args[1])
			if auto {
				unit = unit.WithParam("histogram", map[string]any{
					"bins": a.pc.HistogramBins,
					"min":  a.pc.HistogramMin,
					"max":  a.pc.HistogramMax,
				})
			} else {
				unit = unit.WithParam("value", value)
			}
			ran, err := a.runOnce(ctx, stageThreshold, unit, func(ctx context.Context) error {
				threshold := value
				if auto {
					h, err := histogramOf(ctx, in, a.pc.HistogramBins, a.pc.HistogramMin, a.pc.HistogramMax, a.runOptions()...)
					if err != nil {
						return err
					}
					if threshold, err = chunkflow.TriangleThresholdValue(h); err != nil {
						return err
					}
				}
				meta := in.Meta()
				meta.Dtype = array.Uint8
				meta.FillValue = 0
				out, err := array.Create(a.store, args[1], in.Format(), meta)
				if err != nil {
					return err
				}
				a.logger.Info("writing threshold mask", "in", in.String(), "out", out.String(), "threshold", threshold)
				return thresholdMask(ctx, in, out, threshold, a.runOptions()...)
			})
			return reportRun(cmd, unit, ran, err)
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "threshold intensity (default: triangle threshold)")
	return cmd
}

func newFilterCmd(a *app) *cobra.Command {
	var (
		filter     string
		iterations int
		halo       int
		scratch    string
		stopEarly  bool
	)
	cmd := &cobra.Command{
		Use:   "filter IN OUT",
		Short: "Run a neighbourhood filter over every chunk with a halo",
		Long: "Apply a block filter to IN chunk by chunk, reading each chunk with a halo,\n" +
			"and write OUT with IN's layout. Filters: " + strings.Join(chunkflow.FilterNames(), ", ") + ".",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("halo") {
				halo = a.pc.Halo
			}
			in, err := a.open(args[0], array.ReadOnly)
			if err != nil {
				return err
			}

			unit := checkpoint.NewUnit("in", args[0], "out", args[1]).
				WithParam("filter", map[string]any{"name": filter, "iterations": iterations, "halo": halo})
			ran, err := a.runOnce(ctx, stageFilter, unit, func(ctx context.Context) error {
				out, err := array.CreateLike(a.store, args[1], in)
				if err != nil {
					return err
				}
				var extra []chunkflow.Option
				if stopEarly {
					extra = append(extra, chunkflow.WithStopWhenUnchanged())
				}
				if scratch != "" {
					s, err := array.CreateLike(a.store, scratch, in)
					if err != nil {
						return err
					}
					extra = append(extra, chunkflow.WithScratch(s))
				}
				report, err := runOverlap(ctx, in, out, halo, filter, iterations, a.runOptions(extra...)...)
				if err != nil {
					return err
				}
				for i, n := range report.Changed {
					fmt.Fprintf(cmd.OutOrStdout(), "iteration %d: %d voxels changed\n", i+1, n)
				}
				return nil
			})
			return reportRun(cmd, unit, ran, err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter, "filter", "grow", "filter name")
	f.IntVar(&iterations, "iterations", 1, "number of passes")
	f.IntVar(&halo, "halo", 1, "halo width in voxels (default: config halo)")
	f.StringVar(&scratch, "scratch", "", "scratch dataset for intermediate passes (default: OUT_scratch)")
	f.BoolVar(&stopEarly, "stop-when-unchanged", false, "stop after a pass that changes nothing")
	return cmd
}

func reportRun(cmd *cobra.Command, unit checkpoint.Unit, ran bool, err error) error {
	if err != nil {
		return err
	}
	if !ran {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: already done (use --force to redo)\n", unit)
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/randalmurphal/chunkflow/pkg/chunkflow/array"
	"github.com/randalmurphal/chunkflow/pkg/chunkflow/records"
	"github.com/spf13/cobra"
)

func newBBoxCmd(a *app) *cobra.Command {
	var (
		background int64
		centers    bool
		output     string
	)
	cmd := &cobra.Command{
		Use:   "bbox LABELS",
		Short: "Write the bounding box (or center of mass) of every label as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := a.open(args[0], array.ReadOnly)
			if err != nil {
				return err
			}
			boxes, err := labelBoxes(ctx, ds, background, a.runOptions()...)
			if err != nil {
				return err
			}
			a.logger.Info("label boxes computed", "dataset", ds.String(), "labels", len(boxes))

			return withOutput(cmd, output, func(w io.Writer) error {
				if !centers {
					return records.WriteBoxes(w, boxes)
				}
				c, err := centersOfMass(ctx, ds, boxes, a.runOptions()...)
				if err != nil {
					return err
				}
				return records.WriteCenters(w, c)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&background, "background", 0, "label value to ignore")
	f.BoolVar(&centers, "centers", false, "write centers of mass instead of boxes")
	f.StringVarP(&output, "output", "o", "", "CSV file to write (default: stdout)")
	return cmd
}

func newSpotsCmd(a *app) *cobra.Command {
	var (
		voxelSize   []float64
		countsPath  string
		percentPath string
	)
	cmd := &cobra.Command{
		Use:   "spots LABELS SPOTS.csv...",
		Short: "Count the spots of each table falling in each label",
		Long: "Look up the label under every spot (z, y, x columns) and write a count\n" +
			"table with one row per label and one column per spot table. Spot\n" +
			"coordinates are multiplied by --voxel-size (z, y, x) and rounded.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(voxelSize) != 3 {
				return fmt.Errorf("--voxel-size needs 3 values (z,y,x), got %d", len(voxelSize))
			}
			scale := [3]float64{voxelSize[0], voxelSize[1], voxelSize[2]}

			ds, err := a.open(args[0], array.ReadOnly)
			if err != nil {
				return err
			}
			var as []records.Assignment
			for _, path := range args[1:] {
				spots, err := records.ReadSpotsFile(path)
				if err != nil {
					return err
				}
				asg, err := assignSpots(ctx, ds, records.SpotSetName(path), spots, scale, a.pc.ChunkConcurrency)
				if err != nil {
					return err
				}
				a.logger.Info("spots assigned",
					"table", asg.Name,
					"total", asg.Total,
					"assigned", asg.Assigned,
					"nan", asg.NaN,
					"outside", asg.Outside,
				)
				as = append(as, asg)
			}

			err = withOutput(cmd, countsPath, func(w io.Writer) error {
				return records.WriteCounts(w, records.AssignmentLabels(as), as)
			})
			if err != nil || percentPath == "" {
				return err
			}
			return withOutput(cmd, percentPath, func(w io.Writer) error {
				return records.WritePercentages(w, as)
			})
		},
	}
	f := cmd.Flags()
	f.Float64SliceVar(&voxelSize, "voxel-size", []float64{1, 1, 1}, "scale applied to spot coordinates (z,y,x)")
	f.StringVarP(&countsPath, "output", "o", "", "count table file (default: stdout)")
	f.StringVar(&percentPath, "percentages", "", "also write the assigned percentage per table to this file")
	return cmd
}

// withOutput runs fn against path, or stdout when path is empty.
func withOutput(cmd *cobra.Command, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

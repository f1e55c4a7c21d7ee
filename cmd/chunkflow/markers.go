package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMarkersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Inspect or clear completion markers",
	}
	cmd.AddCommand(newMarkersListCmd(a), newMarkersClearCmd(a))
	return cmd
}

func newMarkersListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [STAGE...]",
		Short: "List markers, optionally only for the given stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.pc.OpenCheckpointStore()
			if err != nil {
				return err
			}
			defer s.Close()

			stages := args
			if len(stages) == 0 {
				if stages, err = s.Stages(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, stage := range stages {
				markers, err := s.List(stage)
				if err != nil {
					return err
				}
				for _, m := range markers {
					fmt.Fprintf(out, "%s\t%s\t%s\n", m.Stage, m.UnitKey, m.CreatedAt.UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newMarkersClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear STAGE [UNIT_KEY...]",
		Short: "Remove the markers of a stage, or only of the given units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.pc.OpenCheckpointStore()
			if err != nil {
				return err
			}
			defer s.Close()

			stage, keys := args[0], args[1:]
			if len(keys) == 0 {
				if err := s.ClearStage(stage); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared stage %s\n", stage)
				return nil
			}
			for _, key := range keys {
				if err := s.Clear(stage, key); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d markers of %s\n", len(keys), stage)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/doppelganger/internal/media"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var maxSegments int

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "List the segments a run over dir would process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			limit := cfg.Pipeline.MaxSegments
			if cmd.Flags().Changed("max-segments") {
				limit = maxSegments
			}

			seq, err := newIndexer(cfg.Pipeline, limit).Segments(args[0])
			if err != nil {
				return err
			}
			records, err := media.Collect(seq)
			if len(records) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderSegmentIndex(records))
			}
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No segments found.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSegments, "max-segments", 0, "List only the first N segments (0 = all)")
	return cmd
}

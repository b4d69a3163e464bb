package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		output        string
		maxSegments   int
		concurrency   int
		failurePolicy string
		noSummary     bool
	)

	cmd := &cobra.Command{
		Use:   "run <dir>",
		Short: "Extract a procedure from the segment directories under dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := defaultRunOptions(cfg.Pipeline)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("max-segments") {
				if maxSegments < 0 {
					return fmt.Errorf("--max-segments must not be negative, got %d", maxSegments)
				}
				opts.MaxSegments = maxSegments
			}
			if flags.Changed("concurrency") {
				if concurrency < 1 {
					return fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
				}
				opts.Concurrency = concurrency
			}
			if flags.Changed("failure-policy") {
				if opts.FailurePolicy, err = pipeline.ParseFailurePolicy(failurePolicy); err != nil {
					return err
				}
			}
			opts.Observer = logProgress

			errOut := cmd.ErrOrStderr()
			if !noSummary {
				printStartupSummary(errOut, cfg)
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			a, err := newApp(cmd.Context(), cfg, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			td, report, err := a.extract(cmd.Context(), cfg, args[0], opts)
			if !noSummary && report != nil && len(report.Segments) > 0 {
				fmt.Fprintln(errOut, renderRunSummary(report))
			}
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, td)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the procedure to this file instead of stdout")
	cmd.Flags().IntVar(&maxSegments, "max-segments", 0, "Process only the first N segments (0 = all)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of segments processed in parallel")
	cmd.Flags().StringVar(&failurePolicy, "failure-policy", string(pipeline.PolicyAbort), "What a failing segment does to the run: abort or skip")
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "Do not print the startup and run summaries")

	return cmd
}

// logProgress reports each finished segment.
func logProgress(ev pipeline.Event) {
	if ev.Segment == nil {
		slog.Debug("run state", "run_id", ev.RunID, "state", ev.State)
		return
	}
	s := ev.Segment
	slog.Info("segment processed",
		"segment", s.Record.ID,
		"frames", len(s.Frames),
		"status", segmentStatus(*s),
		"elapsed", s.Elapsed,
	)
}

// writeDocument renders td to path, or to stdout when path is empty or "-".
func writeDocument(stdout io.Writer, path string, td *document.ToolDescription) error {
	rendered := td.Render()
	if path == "" || path == "-" {
		_, err := io.WriteString(stdout, rendered)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write procedure: %w", err)
	}
	slog.Info("procedure written", "path", path, "run_id", td.RunID, "steps", len(td.Steps))
	return nil
}

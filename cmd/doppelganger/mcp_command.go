package main

import (
	"context"
	"errors"
	"log/slog"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/mcpserver"
	"github.com/MrWong99/doppelganger/internal/media"
	"github.com/MrWong99/doppelganger/internal/pipeline"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve extract_procedure and related tools over MCP on stdio",
		Long: `Serve the extraction pipeline as Model Context Protocol tools on
stdin/stdout. The config file is watched and reloaded on SIGHUP; log level,
pipeline and retry changes apply to the next tool call.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			current := func() *config.Config { return cfg }
			if ctx.configFileExists() {
				w, err := config.NewWatcher(ctx.configPath, ctx.applyReload, config.WithReloadSignal(syscall.SIGHUP))
				if err != nil {
					return err
				}
				defer w.Stop()
				current = w.Current
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			a, err := newApp(cmd.Context(), cfg, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			srvOpts := []mcpserver.Option{mcpserver.WithVersion(version)}
			if a.library != nil {
				srvOpts = append(srvOpts, mcpserver.WithSearcher(a.library))
			}
			srv, err := mcpserver.New(extractTool(a, current), indexTool(current), srvOpts...)
			if err != nil {
				return err
			}

			printStartupSummary(cmd.ErrOrStderr(), cfg)
			if err := srv.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// applyReload applies the hot-reloadable parts of a changed config file.
func (c *commandContext) applyReload(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		c.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

func extractTool(a *app, current func() *config.Config) mcpserver.ExtractFunc {
	return func(ctx context.Context, dir string, maxSegments int) (*document.ToolDescription, *pipeline.RunReport, error) {
		cfg := current()
		opts, err := defaultRunOptions(cfg.Pipeline)
		if err != nil {
			return nil, nil, err
		}
		if maxSegments > 0 {
			opts.MaxSegments = maxSegments
		}
		return a.extract(ctx, cfg, dir, opts)
	}
}

func indexTool(current func() *config.Config) mcpserver.IndexFunc {
	return func(dir string, maxSegments int) ([]document.SegmentRecord, error) {
		cfg := current()
		limit := cfg.Pipeline.MaxSegments
		if maxSegments > 0 {
			limit = maxSegments
		}
		seq, err := newIndexer(cfg.Pipeline, limit).Segments(dir)
		if err != nil {
			return nil, err
		}
		return media.Collect(seq)
	}
}

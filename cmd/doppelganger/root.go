package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "doppelganger",
		Short:         "Extract reusable procedures from recorded software tutorials",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx.explicitConfig = cmd.Flags().Changed("config")
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ctx.level.Set(slogLevel(cfg.Server.LogLevel))
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), ctx.level, cfg.Server.LogFormat))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config.yaml", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newIndexCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newLibraryCommand(ctx))
	rootCmd.AddCommand(newMCPCommand(ctx))

	return rootCmd
}

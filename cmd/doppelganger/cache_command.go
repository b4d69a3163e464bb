package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/config"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the model response cache",
	}
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached model response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Cache.Backend != config.CacheBackendSQLite {
				fmt.Fprintf(out, "Cache backend %q keeps nothing between runs; nothing to clear.\n", cfg.Cache.Backend)
				return nil
			}

			store, err := cache.OpenSQLite(cmd.Context(), cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared cache %s\n", store.Path())
			return nil
		},
	}
}

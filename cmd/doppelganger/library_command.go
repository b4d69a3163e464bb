package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/library"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libCmd := &cobra.Command{
		Use:   "library",
		Short: "Query previously extracted procedures",
	}
	libCmd.AddCommand(newLibrarySearchCommand(ctx))
	libCmd.AddCommand(newLibraryShowCommand(ctx))
	return libCmd
}

func newLibrarySearchCommand(ctx *commandContext) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored procedures similar to a task description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary(cmd)
			if err != nil {
				return err
			}
			defer lib.Close()

			matches, err := lib.Search(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "No procedures found.")
				return nil
			}

			rows := make([][]string, 0, len(matches))
			for _, m := range matches {
				rows = append(rows, []string{
					m.Procedure.ID,
					fmt.Sprintf("%.3f", m.Distance),
					m.Procedure.SourceDir,
					truncate(m.Procedure.Summary, 60),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Distance", "Source", "Summary"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", library.DefaultTopK, "Maximum number of procedures to return")
	return cmd
}

func newLibraryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the document of a stored procedure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary(cmd)
			if err != nil {
				return err
			}
			defer lib.Close()

			p, err := lib.Get(cmd.Context(), args[0])
			if errors.Is(err, library.ErrNotFound) {
				return fmt.Errorf("no stored procedure with run id %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), p.Document)
			return nil
		},
	}
}

// openLibrary connects to the configured library with only the embeddings
// provider instantiated.
func (c *commandContext) openLibrary(cmd *cobra.Command) (*library.Library, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Library.PostgresDSN == "" {
		return nil, errors.New("the procedure library is disabled; set library.postgres_dsn")
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider: %w", err)
	}
	return openLibrary(cmd.Context(), cfg.Library, emb)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

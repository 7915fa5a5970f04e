package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blocksign/api/internal/draft"
	"blocksign/api/internal/pdf"
	"blocksign/api/internal/search"
	"blocksign/api/internal/store"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(cmd.Context(), opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(cmd.Context(), db, opts.cfg.MigrationsDir)
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the newest applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(cmd.Context(), opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			name, err := store.RollbackLast(cmd.Context(), db, opts.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if name == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			opts.logger.Info("migration rolled back", zap.String("name", name))
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(cmd.Context(), opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			migrations, applied, err := store.MigrationStatus(cmd.Context(), db, opts.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			for i, m := range migrations {
				state := "pending"
				if applied[i] {
					state = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", state, m.Name())
			}
			return nil
		},
	})
	return cmd
}

// newRenderCommand lays out a text file as a contract PDF, the same way POST /api/pdf does.
func newRenderCommand(opts *rootOptions) *cobra.Command {
	var title, output string
	cmd := &cobra.Command{
		Use:   "render <text-file|->",
		Short: "Render contract text to PDF and print its SHA-256",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			renderer, err := pdf.NewRenderer(opts.cfg.PDFFontFile)
			if err != nil {
				return err
			}
			data, err := renderer.Render(text, title)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			sum := sha256.Sum256(data)
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hex.EncodeToString(sum[:]), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVarP(&output, "output", "o", "contract.pdf", "output file")
	return cmd
}

// newNormalizeCommand runs raw model output through the contract normalizer.
func newNormalizeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <raw-file|->",
		Short: "Normalize raw model output into {contract, summary, riskAnalysis}",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			encoder.SetEscapeHTML(false)
			return encoder.Encode(draft.Normalize(raw))
		},
	}
}

func newReindexCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every draft to Meilisearch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not configured")
			}
			db, err := store.Open(cmd.Context(), opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(opts.cfg.MeiliURL, opts.cfg.MeiliMasterKey, opts.logger.Named("meili"))
			defer meili.Close()
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch at %s is not reachable", opts.cfg.MeiliURL)
			}
			pgfts := search.NewPgFTS(db)
			count, err := search.NewService(meili, pgfts, pgfts, opts.logger.Named("search")).ReindexAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d drafts\n", count)
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(raw), nil
}

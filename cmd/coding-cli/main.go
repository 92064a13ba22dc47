package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/clinicalcoder/pkg/coding"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/database"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/lookup"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coding-cli",
		Short: "Offline clinical concept extraction and cache tooling",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logger.InitWithLevel("debug")
				logger.Log.SetOutput(os.Stderr)
			} else {
				logger.Silence()
			}
		},
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log to stderr at debug level")

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(seedCacheCmd())
	rootCmd.AddCommand(seedDBCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract billing codes from a clinical note file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			text, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return err
			}

			cfg := config.Load()
			if db, _ := cmd.Flags().GetString("db"); db != "" {
				cfg.CodeCacheBackend = coding.BackendSQLite
				cfg.CodeCachePath = db
			}
			if cfg.CodeSource == coding.SourcePostgres || cfg.DictionarySource == coding.SourcePostgres {
				return fmt.Errorf("extract reads the catalog and on-disk cache only; unset CODE_SOURCE and DICTIONARY_SOURCE")
			}

			ctx := cmd.Context()
			backends := coding.Backends{}
			if cfg.CodeCacheBackend == coding.BackendSQLite {
				sqlDB, err := database.OpenSQLite(ctx, cfg.CodeCachePath, cfg.LookupReadOnly)
				if err != nil {
					return fmt.Errorf("opening code cache: %w", err)
				}
				defer sqlDB.Close()
				backends.SQLite = sqlDB
			}

			orch, err := coding.BuildOrchestrator(ctx, cfg, backends)
			if err != nil {
				return err
			}

			req := models.ExtractRequest{ClinicalText: string(text), NoteID: filepath.Base(path)}
			if cmd.Flags().Changed("keep-negated") {
				v, _ := cmd.Flags().GetBool("keep-negated")
				req.KeepNegated = &v
			}
			if cmd.Flags().Changed("max-results") {
				v, _ := cmd.Flags().GetInt("max-results")
				req.MaxResults = &v
			}
			if cmd.Flags().Changed("threshold") {
				v, _ := cmd.Flags().GetFloat64("threshold")
				req.SimilarityThreshold = &v
			}

			result, err := coding.NewService(orch, nil, nil, 0).Extract(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().String("file", "", "Path to the clinical note")
	cmd.Flags().String("db", "", "On-disk SQLite code cache (overrides CODE_CACHE_BACKEND)")
	cmd.Flags().Bool("keep-negated", false, "Keep negated concepts in the main output, flagged")
	cmd.Flags().Int("max-results", 0, "Maximum grouped rows (0 = unbounded)")
	cmd.Flags().Float64("threshold", 0, "Minimum dictionary similarity in [0,1]")
	return cmd
}

func seedCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-cache",
		Short: "Write catalog codes into an on-disk SQLite code cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("db")
			catalogPath, _ := cmd.Flags().GetString("catalog")
			cfg := config.Load()
			ctx := cmd.Context()

			catalog, err := terminology.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}

			db, err := database.OpenSQLite(ctx, path, false)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer db.Close()

			cache := lookup.NewSQLiteCache(db, false)
			if err := cache.EnsureSchema(ctx); err != nil {
				return err
			}
			written, skipped, err := coding.SeedCache(ctx, cache, catalog, cfg.CodingSystems)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d concepts to %s (%d without codes skipped)\n", written, path, skipped)
			return nil
		},
	}
	cmd.Flags().String("db", "umls_lookup.db", "SQLite file to create or update")
	cmd.Flags().String("catalog", "", "Catalog YAML (default: built-in catalog)")
	return cmd
}

func seedDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-db",
		Short: "Load the catalog into the PostgreSQL dictionary and code tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogPath, _ := cmd.Flags().GetString("catalog")
			cfg := config.Load()
			ctx := cmd.Context()

			catalog, err := terminology.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}

			db, err := database.OpenPostgres(cfg)
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			repo := terminology.NewRepository(db)
			source := lookup.NewPostgresSource(db)
			if err := repo.AutoMigrate(); err != nil {
				return err
			}
			if err := source.AutoMigrate(); err != nil {
				return err
			}
			if err := repo.Save(ctx, catalog); err != nil {
				return fmt.Errorf("saving dictionary: %w", err)
			}
			for _, cui := range catalog.CUIs() {
				if err := source.Replace(ctx, cui, catalog.CodeEntries(cui, nil)); err != nil {
					return fmt.Errorf("saving codes for %s: %w", cui, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d concepts into %s\n", len(catalog.Concepts), cfg.PostgresDB)
			return nil
		},
	}
	cmd.Flags().String("catalog", "", "Catalog YAML (default: built-in catalog)")
	return cmd
}

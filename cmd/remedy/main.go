// remedy is the bug-report lifecycle engine for the image studio: it
// captures defect reports, deduplicates them, and drives automated
// remediation through an external code-fixing agent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pixelforge/remedy/internal/config"
	"github.com/pixelforge/remedy/internal/storage"
)

var (
	// Shared across subcommands, initialized in PersistentPreRunE
	store storage.Storage
	cfg   *config.Config

	dbPath  string
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "Bug report tracker and automated remediation engine",
	Long: `remedy captures defect reports from the image studio frontend,
groups duplicates by error signal, and works eligible reports through an
automated fix pipeline backed by an external coding agent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(rootDir)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}

		store, err = storage.NewStorage(context.Background(), &storage.Config{Path: cfg.DatabasePath})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: .remedy/remedy.db)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root containing .remedy/config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var defaultConfigYAML = `# remedy configuration
database:
  path: .remedy/remedy.db

queue:
  max_depth: 1000

workers:
  count: 2
  max_concurrent_agents: 2
  max_attempts: 3
  backoff_base: 30s
  backoff_cap: 15m

agent:
  command: claude
  timeout: 30m
  spawn_rate: 1

retention:
  event_days: 90
  keep_per_report: 20
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a remedy database and config in the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// PersistentPreRunE already created the database and schema; record
		// when this tracker was set up
		if existing, err := store.GetConfig(ctx, "initialized_at"); err == nil && existing != "" {
			fmt.Printf("Already initialized (at %s)\n", existing)
			return nil
		}
		if err := store.SetConfig(ctx, "initialized_at", time.Now().Format(time.RFC3339)); err != nil {
			return err
		}

		configPath := filepath.Join(rootDir, ".remedy", "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Initialized remedy tracker\n", green("✓"))
		fmt.Printf("  Database: %s\n", cfg.DatabasePath)
		fmt.Printf("  Config:   %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

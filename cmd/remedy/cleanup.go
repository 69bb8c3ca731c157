package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cleanupDays int
	cleanupKeep int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old audit events",
	Long: `Prune audit events older than the retention window. The newest
events of each report and every report's latest status change are always
kept, so report histories stay coherent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, keep := cfg.EventRetentionDays, cfg.EventKeepPerReport
		if cmd.Flags().Changed("days") {
			days = cleanupDays
		}
		if cmd.Flags().Changed("keep") {
			keep = cleanupKeep
		}

		pruned, err := store.PruneEvents(context.Background(), days, keep)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d events older than %d days\n", pruned, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 90, "Retention window in days")
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", 20, "Events always kept per report")
	rootCmd.AddCommand(cleanupCmd)
}

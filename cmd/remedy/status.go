package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracker statistics and active workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== remedy status ==="))

		stats, err := store.GetStatistics(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", yellow("Reports:"))
		fmt.Printf("  new                    %d\n", stats.NewReports)
		fmt.Printf("  triaged                %d\n", stats.TriagedReports)
		fmt.Printf("  in_progress            %d\n", stats.InProgressReports)
		fmt.Printf("  awaiting_verification  %d\n", stats.AwaitingReview)
		fmt.Printf("  resolved               %d\n", stats.ResolvedReports)
		fmt.Printf("  closed                 %d\n", stats.ClosedReports)
		fmt.Printf("  total                  %d\n", stats.TotalReports)
		fmt.Println()

		fmt.Printf("%s %d groups covering %d occurrences\n", yellow("Dedup:"), stats.DedupGroups, stats.TotalOccurrences)
		fmt.Println()

		instances, err := store.GetActiveInstances(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", yellow("Workers:"))
		if len(instances) == 0 {
			fmt.Printf("  %s\n", gray("No active workers"))
		}
		for _, inst := range instances {
			icon := green("●")
			if time.Since(inst.LastHeartbeat) > 2*time.Minute {
				icon = yellow("⚠")
			}
			fmt.Printf("  %s %s on %s (PID %d), heartbeat %v ago\n",
				icon, inst.InstanceID, inst.Hostname, inst.PID,
				time.Since(inst.LastHeartbeat).Round(time.Second))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

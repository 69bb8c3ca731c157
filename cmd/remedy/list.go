package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pixelforge/remedy/internal/types"
)

var (
	listStatus   string
	listSeverity string
	listGroup    string
	listLimit    int
	listOffset   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bug reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		filter := types.ReportFilter{Limit: listLimit, Offset: listOffset}
		if listStatus != "" {
			status := types.Status(listStatus)
			if !status.IsValid() {
				return fmt.Errorf("invalid status: %s", listStatus)
			}
			filter.Status = &status
		}
		if listSeverity != "" {
			severity := types.Severity(listSeverity)
			if !severity.IsValid() {
				return fmt.Errorf("invalid severity: %s", listSeverity)
			}
			filter.Severity = &severity
		}
		if listGroup != "" {
			filter.GroupID = &listGroup
		}

		reports, err := store.ListReports(ctx, filter)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No matching reports"))
			return nil
		}

		for _, r := range reports {
			fmt.Printf("%s  %s  %s  %s  [%s] %s\n",
				r.ID,
				statusColor(r.Status)(fmt.Sprintf("%-21s", r.Status)),
				severityColor(r.Severity)(fmt.Sprintf("%-8s", r.Severity)),
				r.GroupID,
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.Title)
		}
		return nil
	},
}

func statusColor(s types.Status) func(a ...interface{}) string {
	switch s {
	case types.StatusNew:
		return color.New(color.FgRed).SprintFunc()
	case types.StatusTriaged:
		return color.New(color.FgYellow).SprintFunc()
	case types.StatusInProgress:
		return color.New(color.FgCyan).SprintFunc()
	case types.StatusAwaitingVerification:
		return color.New(color.FgMagenta).SprintFunc()
	case types.StatusResolved:
		return color.New(color.FgGreen).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func severityColor(s types.Severity) func(a ...interface{}) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case types.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listSeverity, "severity", "", "Filter by severity")
	listCmd.Flags().StringVar(&listGroup, "group", "", "Filter by dedup group")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum reports to show")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Offset into the result set")
	rootCmd.AddCommand(listCmd)
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pixelforge/remedy/internal/types"
)

var showEvents int

var showCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show a report with its dedup group and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		reportID := args[0]

		report, err := store.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("report %s not found", reportID)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s %s\n\n", cyan(report.ID), report.Title)
		fmt.Printf("  Status:     %s\n", statusColor(report.Status)(report.Status))
		fmt.Printf("  Severity:   %s\n", severityColor(report.Severity)(report.Severity))
		fmt.Printf("  Group:      %s\n", report.GroupID)
		fmt.Printf("  Attempts:   %d\n", report.AttemptCount)
		fmt.Printf("  Created:    %s\n", report.CreatedAt.Format("2006-01-02 15:04:05"))
		if report.Route != "" {
			fmt.Printf("  Route:      %s\n", report.Route)
		}
		if report.CorrelationID != "" {
			fmt.Printf("  Request:    %s\n", report.CorrelationID)
		}
		if report.FixRef != "" {
			fmt.Printf("  Fix:        %s (verification %s)\n", report.FixRef, report.Verification)
		}
		if report.ErrorMessage != "" {
			fmt.Printf("\n  %s\n    %s\n", yellow("Error:"), report.ErrorMessage)
		}
		if report.Description != "" {
			fmt.Printf("\n  %s\n    %s\n", yellow("Description:"), report.Description)
		}
		if report.StackTrace != "" {
			fmt.Printf("\n  %s\n%s\n", yellow("Stack trace:"), indent(report.StackTrace, "    "))
		}

		group, err := store.GetGroup(ctx, report.GroupID)
		if err != nil {
			return err
		}
		if group != nil {
			fmt.Printf("\n  %s %d occurrences, first seen %s\n",
				yellow("Group:"), group.OccurrenceCount, group.FirstSeenAt.Format("2006-01-02 15:04"))
		}

		events, err := store.GetEvents(ctx, reportID, showEvents)
		if err != nil {
			return err
		}
		fmt.Printf("\n  %s\n", yellow("History:"))
		for _, ev := range events {
			when := ev.CreatedAt.Format("01-02 15:04:05")
			switch ev.EventType {
			case types.EventStatusChange:
				oldVal, newVal := "", ""
				if ev.OldValue != nil {
					oldVal = *ev.OldValue
				}
				if ev.NewValue != nil {
					newVal = *ev.NewValue
				}
				fmt.Printf("    %s  %s → %s  %s\n", gray(when), oldVal, newVal, gray(ev.Actor))
			default:
				fmt.Printf("    %s  %s  %s %s\n", gray(when), ev.EventType, gray(ev.Actor), gray(ev.Detail))
			}
		}
		fmt.Println()
		return nil
	},
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func init() {
	showCmd.Flags().IntVar(&showEvents, "events", 0, "Limit history entries (0 = all)")
	rootCmd.AddCommand(showCmd)
}

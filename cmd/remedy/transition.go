package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pixelforge/remedy/internal/lifecycle"
	"github.com/pixelforge/remedy/internal/types"
)

var (
	transitionActor  string
	transitionReason string
)

var transitionCmd = &cobra.Command{
	Use:   "transition <report-id> <status>",
	Short: "Move a report to a new status",
	Long: `Move a report along the lifecycle graph. Valid targets depend on the
current status; illegal edges are rejected. Human transitions share the
same graph as the automated workers, so a report closed here will be left
alone by any worker that later dequeues it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		reportID, target := args[0], types.Status(args[1])

		engine, err := lifecycle.NewEngine(store)
		if err != nil {
			return err
		}

		report, err := engine.Transition(ctx, reportID, target, transitionActor, transitionReason)
		if err != nil {
			if errors.Is(err, lifecycle.ErrInvalidTransition) {
				current, getErr := engine.Get(ctx, reportID)
				if getErr == nil {
					return fmt.Errorf("cannot move %s from %s to %s (valid: %v)",
						reportID, current.Status, target, current.Status.ValidTransitions())
				}
			}
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is now %s\n", green("✓"), report.ID, statusColor(report.Status)(report.Status))
		return nil
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <report-id> <text>",
	Short: "Attach a note to a report's audit trail",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := lifecycle.NewEngine(store)
		if err != nil {
			return err
		}
		if err := engine.AddNote(context.Background(), args[0], transitionActor, args[1]); err != nil {
			return err
		}
		fmt.Printf("Noted on %s\n", args[0])
		return nil
	},
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "human:" + u.Username
	}
	if host, err := os.Hostname(); err == nil {
		return "human:" + host
	}
	return "human"
}

func init() {
	actor := defaultActor()
	transitionCmd.Flags().StringVar(&transitionActor, "actor", actor, "Actor recorded in the audit trail")
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded with the transition")
	noteCmd.Flags().StringVar(&transitionActor, "actor", actor, "Actor recorded in the audit trail")
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(noteCmd)
}

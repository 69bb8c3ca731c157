package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pixelforge/remedy/internal/dedup"
	"github.com/pixelforge/remedy/internal/intake"
	"github.com/pixelforge/remedy/internal/types"
)

var (
	submitTitle         string
	submitDescription   string
	submitError         string
	submitStack         string
	submitRoute         string
	submitEnv           string
	submitSeverity      string
	submitScreenshot    string
	submitCorrelationID string
	submitFromStdin     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a defect report",
	Long: `Submit a defect report to the tracker. Either pass the fields as
flags, or pipe a JSON submission document on stdin with --stdin.

Reports are deduplicated by error signal: repeated submissions of the same
failure join one group and bump its occurrence count. Automation eligibility
is decided at intake; the report is queued when the remediation engine runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		sub := &types.Submission{
			CorrelationID: submitCorrelationID,
			Title:         submitTitle,
			Description:   submitDescription,
			ErrorMessage:  submitError,
			StackTrace:    submitStack,
			Route:         submitRoute,
			Environment:   submitEnv,
			ScreenshotRef: submitScreenshot,
			Severity:      types.Severity(submitSeverity),
		}
		if submitFromStdin {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			if err := json.Unmarshal(data, sub); err != nil {
				return fmt.Errorf("invalid submission JSON: %w", err)
			}
		}

		index, err := dedup.NewIndex(store)
		if err != nil {
			return err
		}
		// No queue here: submissions from the CLI are picked up by the
		// engine's rebuild on start
		svc, err := intake.NewService(store, index, nil)
		if err != nil {
			return err
		}

		receipt, err := svc.Submit(ctx, sub)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Created %s (group %s, severity %s)\n", green("✓"), receipt.ReportID, receipt.GroupID, receipt.Severity)
		if receipt.Duplicate {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("  %s\n", gray("Known failure signal: joined an existing group"))
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "Short summary of the defect")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "Longer description")
	submitCmd.Flags().StringVar(&submitError, "error", "", "Error message from the frontend")
	submitCmd.Flags().StringVar(&submitStack, "stack", "", "Stack trace")
	submitCmd.Flags().StringVar(&submitRoute, "route", "", "Route where the failure occurred")
	submitCmd.Flags().StringVar(&submitEnv, "env", "", "Environment snapshot as JSON")
	submitCmd.Flags().StringVar(&submitSeverity, "severity", "", "Severity: critical, high, medium, low (default: medium)")
	submitCmd.Flags().StringVar(&submitScreenshot, "screenshot", "", "Screenshot reference")
	submitCmd.Flags().StringVar(&submitCorrelationID, "correlation-id", "", "Request correlation ID")
	submitCmd.Flags().BoolVar(&submitFromStdin, "stdin", false, "Read a JSON submission from stdin")
	rootCmd.AddCommand(submitCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tc-validator/backend/internal/app"
	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/report"
	"github.com/tc-validator/backend/internal/storage/models"
)

func runFeedback(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := app.RunOptions{
		MasterStore:   masterStore,
		TestCaseStore: testCaseStore,
		ReportPath:    reportPath,
		Force:         forceRebuild,
	}
	if cmd.Flags().Changed("max-retries") {
		opts.MaxRetries = &maxRetries
	}

	progress := feedback.ObserverFuncs{
		OnAttempt: func(_ context.Context, _ string, attempt int, result *models.ValidationResult) error {
			if !jsonOutput {
				fmt.Fprintln(os.Stderr, attemptLine(attempt, result))
			}
			return nil
		},
	}

	outcome, err := a.Run(cmd.Context(), opts, progress)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	fmt.Print(report.Summary(report.FromResult(outcome.Result), a.Targets()))
	fmt.Println(outcomeLine(outcome))
	if outcome.Warning != "" {
		fmt.Fprintln(os.Stderr, "Warning:", outcome.Warning)
	}
	return nil
}

func attemptLine(attempt int, result *models.ValidationResult) string {
	return fmt.Sprintf("attempt %d: completeness %.2f%%, accuracy %.2f%%, %d missing",
		attempt, result.Completeness, result.Accuracy, len(result.Missing))
}

func outcomeLine(o *feedback.Outcome) string {
	status := "passed"
	if !o.Passed {
		status = "retry budget exhausted"
	}
	return fmt.Sprintf("Run %s %s after %d attempt(s), %d regeneration(s)", o.RunID, status, o.Attempts, o.Retries)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/internal/storage/sqlite"
)

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.SQLite.Enabled {
		return errors.New("run history is disabled (sqlite.enabled is false)")
	}

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		return err
	}

	if historyMetric != "" {
		points, err := store.GetMetrics(cmd.Context(), historyMetric, historyLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(points)
		}
		writeMetrics(os.Stdout, points)
		return nil
	}

	if len(args) == 1 {
		run, err := store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		attempts, err := store.GetAttempts(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"run": run, "attempts": attempts})
		}
		writeAttempts(os.Stdout, run, attempts)
		return nil
	}

	runs, err := store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}
	writeRuns(os.Stdout, runs)
	return nil
}

func writeRuns(w io.Writer, runs []models.ValidationRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tATTEMPTS\tCOMPLETENESS\tACCURACY\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f%%\t%.2f%%\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Attempts, r.Completeness, r.Accuracy, runStatus(r))
	}
	tw.Flush()
}

func writeMetrics(w io.Writer, points []models.SystemMetric) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tMETRIC\tVALUE\tTAGS")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", p.Timestamp.Format("2006-01-02 15:04:05"), p.MetricName, p.MetricValue, p.Tags)
	}
	tw.Flush()
}

func writeAttempts(w io.Writer, run *models.ValidationRun, attempts []models.ValidationAttempt) {
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, runStatus(*run))
	fmt.Fprintf(w, "Master store: %s\nTest-case store: %s\n\n", run.MasterStorePath, run.TestCaseStorePath)
	for _, a := range attempts {
		fmt.Fprintf(w, "Attempt %d: completeness %.2f%%, accuracy %.2f%%, %d covered, %d missing\n",
			a.Attempt, a.Completeness, a.Accuracy, a.Covered, len(a.Missing))
		for _, m := range a.Missing {
			fmt.Fprintf(w, "  - [%s] %s\n", m.Category, m.Requirement)
		}
	}
}

func runStatus(r models.ValidationRun) string {
	switch {
	case r.Error != "":
		return "failed"
	case r.FinishedAt == nil:
		return "running"
	case r.Passed:
		return "passed"
	case r.Exhausted:
		return "exhausted"
	default:
		return "finished"
	}
}

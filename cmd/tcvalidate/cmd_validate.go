package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tc-validator/backend/internal/report"
)

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := reportPath
	if out == "" {
		out = cfg.Paths.ReportFile
	}

	result, err := a.Validate(cmd.Context(), masterStore, testCaseStore, out)
	if err != nil {
		return err
	}

	r := report.FromResult(result)
	if err := printReport(r, a.Targets()); err != nil {
		return err
	}

	if r.Completeness < a.Targets().Completeness {
		return &belowTargetError{completeness: r.Completeness, target: a.Targets().Completeness}
	}
	return nil
}

func printReport(r report.Report, targets report.Targets) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Print(report.Summary(r, targets))
	return nil
}

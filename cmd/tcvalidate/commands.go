package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tc-validator/backend/internal/app"
	"github.com/tc-validator/backend/pkg/config"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

var (
	configPath    string
	masterStore   string
	testCaseStore string
	reportPath    string
	maxRetries    int
	forceRebuild  bool
	historyLimit  int
	historyMetric string
	jsonOutput    bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "tcvalidate",
		Short: "Validate generated test cases against classified requirements",
		Long: `tcvalidate measures how completely a test-case store covers a
requirement store, and can drive the regenerate-and-revalidate loop until the
coverage target is reached or the retry budget is spent.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Run one validation pass and write the report",
		Args:  cobra.NoArgs,
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Bootstrap test cases if needed and run the feedback loop",
		Args:  cobra.NoArgs,
		RunE:  runFeedback, // Defined in cmd_run.go
	}

	historyCmd = &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded feedback runs, or show one run with its attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory, // Defined in cmd_history.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine readable JSON")

	for _, cmd := range []*cobra.Command{validateCmd, runCmd} {
		cmd.Flags().StringVar(&masterStore, "requirements", "", "requirement store (default from config)")
		cmd.Flags().StringVar(&testCaseStore, "testcases", "", "test-case store (default from config)")
		cmd.Flags().StringVar(&reportPath, "report", "", "report output path (default from config)")
	}

	runCmd.Flags().IntVar(&maxRetries, "max-retries", -1, "regeneration budget (default from config)")
	runCmd.Flags().BoolVar(&forceRebuild, "force", false, "rebuild the test-case store before the first pass")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&historyMetric, "metric", "", "list recorded values of a run metric (run_completeness, run_accuracy, run_attempts)")

	rootCmd.AddCommand(validateCmd, runCmd, historyCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadFile(configPath)
	if err != nil {
		return err
	}

	return logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr")
}

func newApp() (*app.App, error) {
	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble validator: %w", err)
	}
	return a, nil
}

// exitCode distinguishes bad input from provider and store failures so
// scripts can react without parsing messages.
func exitCode(err error) int {
	var coverageErr *belowTargetError
	switch {
	case errors.As(err, &coverageErr):
		return 3
	case errors.Is(err, errs.ErrInput):
		return 2
	case errors.Is(err, errs.ErrModelInvocation), errors.Is(err, errs.ErrPersistence):
		return 4
	case errors.Is(err, errs.ErrConflict):
		return 5
	default:
		return 1
	}
}

type belowTargetError struct {
	completeness float64
	target       float64
}

func (e *belowTargetError) Error() string {
	return fmt.Sprintf("completeness %.2f%% is below the %.0f%% target", e.completeness, e.target)
}

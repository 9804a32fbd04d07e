package sqlite

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/storage/models"
)

const (
	MetricRunAttempts     = "run_attempts"
	MetricRunCompleteness = "run_completeness"
	MetricRunAccuracy     = "run_accuracy"
)

// Recorder persists feedback run progress.
type Recorder struct {
	client *Client
}

func NewRecorder(client *Client) *Recorder {
	return &Recorder{client: client}
}

func (r *Recorder) RunStarted(ctx context.Context, info feedback.RunInfo) error {
	return r.client.InsertRun(ctx, &models.ValidationRun{
		ID:                info.RunID,
		MasterStorePath:   info.MasterStore,
		TestCaseStorePath: info.TestCaseStore,
		MaxRetries:        info.MaxRetries,
		StartedAt:         info.StartedAt,
	})
}

func (r *Recorder) AttemptCompleted(ctx context.Context, runID string, attempt int, result *models.ValidationResult) error {
	return r.client.InsertAttempt(ctx, &models.ValidationAttempt{
		RunID:        runID,
		Attempt:      attempt,
		Completeness: result.Completeness,
		Accuracy:     result.Accuracy,
		Covered:      len(result.Covered),
		Missing:      result.Missing,
		CreatedAt:    time.Now(),
	})
}

func (r *Recorder) RunFinished(ctx context.Context, outcome *feedback.Outcome, runErr error) error {
	now := time.Now()
	run := &models.ValidationRun{
		ID:         outcome.RunID,
		Attempts:   outcome.Attempts,
		Passed:     outcome.Passed,
		Exhausted:  outcome.Exhausted,
		FinishedAt: &now,
	}
	if outcome.Result != nil {
		run.Completeness = outcome.Result.Completeness
		run.Accuracy = outcome.Result.Accuracy
		run.TotalRequirements = outcome.Result.Total()
		run.Covered = len(outcome.Result.Covered)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// Context may already be cancelled when the run was aborted.
	ctx = context.WithoutCancel(ctx)
	if err := r.client.FinishRun(ctx, run); err != nil {
		return err
	}
	return r.recordMetrics(ctx, run)
}

// recordMetrics appends the final scores of a run to system_metrics.
func (r *Recorder) recordMetrics(ctx context.Context, run *models.ValidationRun) error {
	tags := map[string]string{
		"run_id": run.ID,
		"passed": strconv.FormatBool(run.Passed),
	}

	var failed []error
	record := func(name string, value float64) {
		if err := r.client.RecordMetric(ctx, name, value, tags); err != nil {
			failed = append(failed, err)
		}
	}

	record(MetricRunAttempts, float64(run.Attempts))
	if run.TotalRequirements > 0 {
		record(MetricRunCompleteness, run.Completeness)
		record(MetricRunAccuracy, run.Accuracy)
	}
	return errors.Join(failed...)
}

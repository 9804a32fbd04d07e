// Package feedback drives the validate, decide, regenerate loop.
//
// A run validates the stores, passes when completeness reaches the pass
// threshold or nothing is missing, and otherwise hands the missing
// requirements to the generator in incremental mode before validating again.
// The number of regenerations is bounded by the retry budget; a run that
// spends it ends with the last result and a warning.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

const (
	DefaultMaxRetries = 2

	// DefaultPassCompleteness ends the loop. Not the 80% reporting target.
	DefaultPassCompleteness = 95.0
)

type State int

const (
	StateValidating State = iota
	StateDeciding
	StateRegenerating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateDeciding:
		return "deciding"
	case StateRegenerating:
		return "regenerating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type Validator interface {
	Validate(ctx context.Context, requirementStore, testCaseStore string) (*models.ValidationResult, error)
}

type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResponse, error)
}

type Outcome struct {
	RunID  string                   `json:"run_id"`
	Result *models.ValidationResult `json:"result"`
	// Attempts counts validation passes, Retries the regenerations between them.
	Attempts  int    `json:"attempts"`
	Retries   int    `json:"retries"`
	Passed    bool   `json:"passed"`
	Exhausted bool   `json:"exhausted"`
	Warning   string `json:"warning,omitempty"`
}

type RunInfo struct {
	RunID         string
	MasterStore   string
	TestCaseStore string
	MaxRetries    int
	StartedAt     time.Time
}

type Config struct {
	PassCompleteness float64
	// HashPath receives the master store hash after each regeneration.
	HashPath string
}

type Controller struct {
	validator Validator
	generator Generator
	cfg       Config
}

func NewController(validator Validator, generator Generator, cfg Config) *Controller {
	if cfg.PassCompleteness <= 0 {
		cfg.PassCompleteness = DefaultPassCompleteness
	}
	return &Controller{validator: validator, generator: generator, cfg: cfg}
}

// Run executes the loop against masterStore and testCaseStore. Passes are
// strictly sequential: each one reads the stores the previous regeneration
// wrote.
func (c *Controller) Run(ctx context.Context, masterStore, testCaseStore string, maxRetries int, observers ...Observer) (*Outcome, error) {
	if maxRetries < 0 {
		return nil, errs.Input("max retries must be non-negative, got %d", maxRetries)
	}

	obs := multiObserver(observers)
	outcome := &Outcome{RunID: uuid.New().String()}
	info := RunInfo{
		RunID:         outcome.RunID,
		MasterStore:   masterStore,
		TestCaseStore: testCaseStore,
		MaxRetries:    maxRetries,
		StartedAt:     time.Now(),
	}
	obs.RunStarted(ctx, info)

	log := logger.GetLogger().With(zap.String("run_id", outcome.RunID))
	log.Info("Feedback run started",
		zap.String("master_store", masterStore),
		zap.String("testcase_store", testCaseStore),
		zap.Int("max_retries", maxRetries),
	)

	err := c.loop(ctx, outcome, masterStore, testCaseStore, maxRetries, obs, log)
	obs.RunFinished(ctx, outcome, err)

	if err != nil {
		metrics.FeedbackRuns.WithLabelValues("error").Inc()
		log.Error("Feedback run failed", zap.Int("attempts", outcome.Attempts), zap.Error(err))
		return nil, err
	}

	metrics.FeedbackAttempts.Observe(float64(outcome.Attempts))
	if outcome.Passed {
		metrics.FeedbackRuns.WithLabelValues("passed").Inc()
	} else {
		metrics.FeedbackRuns.WithLabelValues("exhausted").Inc()
	}

	log.Info("Feedback run finished",
		zap.Int("attempts", outcome.Attempts),
		zap.Bool("passed", outcome.Passed),
		zap.Float64("completeness", outcome.Result.Completeness),
		zap.Float64("accuracy", outcome.Result.Accuracy),
	)

	return outcome, nil
}

func (c *Controller) loop(ctx context.Context, outcome *Outcome, masterStore, testCaseStore string, maxRetries int, obs Observer, log *zap.Logger) error {
	state := StateValidating

	for state != StateDone {
		switch state {
		case StateValidating:
			if err := ctx.Err(); err != nil {
				return err
			}

			result, err := c.validator.Validate(ctx, masterStore, testCaseStore)
			if err != nil {
				return err
			}
			outcome.Result = result
			outcome.Attempts++

			log.Info("Validation attempt completed",
				zap.Int("attempt", outcome.Attempts),
				zap.Float64("completeness", result.Completeness),
				zap.Int("missing", len(result.Missing)),
			)
			obs.AttemptCompleted(ctx, outcome.RunID, outcome.Attempts, result)
			state = StateDeciding

		case StateDeciding:
			result := outcome.Result
			switch {
			case result.Exact.Completeness >= c.cfg.PassCompleteness || len(result.Missing) == 0:
				outcome.Passed = true
				state = StateDone
			case outcome.Retries >= maxRetries:
				outcome.Exhausted = true
				outcome.Warning = fmt.Sprintf("retry budget of %d exhausted with %d requirements still missing (completeness %.2f%%)",
					maxRetries, len(result.Missing), result.Completeness)
				log.Warn("Retry budget exhausted",
					zap.Int("retries", outcome.Retries),
					zap.Int("missing", len(result.Missing)),
				)
				state = StateDone
			default:
				outcome.Retries++
				state = StateRegenerating
			}

		case StateRegenerating:
			missing := outcome.Result.MissingByCategory()
			log.Info("Regenerating test cases for missing requirements",
				zap.Int("retry", outcome.Retries),
				zap.Int("missing", missing.Len()),
				zap.Strings("categories", missing.Categories()),
			)

			_, err := c.generator.Generate(ctx, models.GenerationRequest{
				Mode:              models.IncrementalAppend,
				Requirements:      missing,
				MasterStorePath:   masterStore,
				TestCaseStorePath: testCaseStore,
				HashPath:          c.cfg.HashPath,
			})
			if err != nil {
				return fmt.Errorf("failed to regenerate test cases: %w", err)
			}
			state = StateValidating
		}
	}

	return nil
}

package feedback

import (
	"context"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/logger"
)

// Observer receives run progress. Errors are logged and never stop a run.
type Observer interface {
	RunStarted(ctx context.Context, info RunInfo) error
	AttemptCompleted(ctx context.Context, runID string, attempt int, result *models.ValidationResult) error
	RunFinished(ctx context.Context, outcome *Outcome, runErr error) error
}

type multiObserver []Observer

func (m multiObserver) RunStarted(ctx context.Context, info RunInfo) error {
	for _, o := range m {
		if err := o.RunStarted(ctx, info); err != nil {
			logger.Warn("Observer failed on run start", zap.String("run_id", info.RunID), zap.Error(err))
		}
	}
	return nil
}

func (m multiObserver) AttemptCompleted(ctx context.Context, runID string, attempt int, result *models.ValidationResult) error {
	for _, o := range m {
		if err := o.AttemptCompleted(ctx, runID, attempt, result); err != nil {
			logger.Warn("Observer failed on attempt", zap.String("run_id", runID), zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return nil
}

func (m multiObserver) RunFinished(ctx context.Context, outcome *Outcome, runErr error) error {
	for _, o := range m {
		if err := o.RunFinished(ctx, outcome, runErr); err != nil {
			logger.Warn("Observer failed on run finish", zap.String("run_id", outcome.RunID), zap.Error(err))
		}
	}
	return nil
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	OnStart   func(ctx context.Context, info RunInfo) error
	OnAttempt func(ctx context.Context, runID string, attempt int, result *models.ValidationResult) error
	OnFinish  func(ctx context.Context, outcome *Outcome, runErr error) error
}

func (f ObserverFuncs) RunStarted(ctx context.Context, info RunInfo) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx, info)
}

func (f ObserverFuncs) AttemptCompleted(ctx context.Context, runID string, attempt int, result *models.ValidationResult) error {
	if f.OnAttempt == nil {
		return nil
	}
	return f.OnAttempt(ctx, runID, attempt, result)
}

func (f ObserverFuncs) RunFinished(ctx context.Context, outcome *Outcome, runErr error) error {
	if f.OnFinish == nil {
		return nil
	}
	return f.OnFinish(ctx, outcome, runErr)
}

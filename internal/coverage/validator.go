package coverage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/internal/storage/filestore"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// Validator runs one validation pass against the persisted stores. Both
// stores are re-read on every call.
type Validator struct {
	engine    *Engine
	minLength int
}

func NewValidator(engine *Engine, minRequirementLength int) *Validator {
	return &Validator{engine: engine, minLength: minRequirementLength}
}

func (v *Validator) Validate(ctx context.Context, requirementStore, testCaseStore string) (*models.ValidationResult, error) {
	start := time.Now()

	result, err := v.validate(ctx, requirementStore, testCaseStore)

	status := "success"
	if err != nil {
		status = errs.Kind(err)
	}
	metrics.ValidationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	metrics.ValidationTotal.WithLabelValues(status).Inc()

	if err != nil {
		logger.Error("Validation failed",
			zap.String("requirement_store", requirementStore),
			zap.String("testcase_store", testCaseStore),
			zap.String("kind", status),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.Completeness.Set(result.Completeness)
	metrics.Accuracy.Set(result.Accuracy)

	logger.Info("Validation completed",
		zap.Int("total_requirements", result.Total()),
		zap.Int("covered", len(result.Covered)),
		zap.Int("missing", len(result.Missing)),
		zap.Float64("completeness", result.Completeness),
		zap.Float64("accuracy", result.Accuracy),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

func (v *Validator) validate(ctx context.Context, requirementStore, testCaseStore string) (*models.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requirements, err := filestore.LoadRequirements(requirementStore, v.minLength)
	if err != nil {
		return nil, err
	}
	testCases, err := filestore.LoadTestCases(testCaseStore)
	if err != nil {
		return nil, err
	}

	return v.engine.Evaluate(ctx, requirements, testCases)
}

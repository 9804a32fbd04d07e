package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tc-validator/backend/internal/coverage"
	"github.com/tc-validator/backend/internal/entailment"
	"github.com/tc-validator/backend/internal/similarity"
	"github.com/tc-validator/backend/internal/storage/filestore"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
)

type scriptedValidator struct {
	results []*models.ValidationResult
	err     error
	calls   int
}

func (v *scriptedValidator) Validate(context.Context, string, string) (*models.ValidationResult, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	idx := min(v.calls-1, len(v.results)-1)
	return v.results[idx], nil
}

type recordingGenerator struct {
	requests []models.GenerationRequest
	err      error
}

func (g *recordingGenerator) Generate(_ context.Context, req models.GenerationRequest) (*models.GenerationResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &models.GenerationResponse{Mode: req.Mode}, nil
}

func halfCovered() *models.ValidationResult {
	covered := []models.CoverageEntry{{Requirement: "The system must allow login", Category: "Functional",
		Matches: []models.Match{{TestCase: "Verify login.", EntailmentScore: 0.9, RawScore: 0.9}}}}
	missing := []models.MissingEntry{{Requirement: "Reports must be exported nightly", Category: "Business"}}
	return models.NewValidationResult(covered, missing, coverage.Aggregate(covered, missing))
}

func fullyCovered() *models.ValidationResult {
	covered := []models.CoverageEntry{
		{Requirement: "The system must allow login", Matches: []models.Match{{RawScore: 0.9, EntailmentScore: 0.9}}},
		{Requirement: "Reports must be exported nightly", Matches: []models.Match{{RawScore: 0.7, EntailmentScore: 0.7}}},
	}
	return models.NewValidationResult(covered, nil, coverage.Aggregate(covered, nil))
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	validator := &scriptedValidator{results: []*models.ValidationResult{halfCovered()}}
	generator := &recordingGenerator{}
	c := NewController(validator, generator, Config{HashPath: "hash.txt"})

	out, err := c.Run(context.Background(), "master.json", "tc.txt", 2)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Retries)
	assert.True(t, out.Exhausted)
	assert.False(t, out.Passed)
	assert.NotEmpty(t, out.Warning)
	assert.NotEmpty(t, out.Result.Missing)
	assert.Equal(t, 50.0, out.Result.Completeness)
	assert.NotEmpty(t, out.RunID)

	require.Len(t, generator.requests, 2)
	for _, req := range generator.requests {
		assert.Equal(t, models.IncrementalAppend, req.Mode)
		assert.Equal(t, "master.json", req.MasterStorePath)
		assert.Equal(t, "tc.txt", req.TestCaseStorePath)
		assert.Equal(t, "hash.txt", req.HashPath)
		assert.Equal(t, []string{"Reports must be exported nightly"}, req.Requirements.Get("Business"))
	}
}

func TestRunPassesAfterRegeneration(t *testing.T) {
	validator := &scriptedValidator{results: []*models.ValidationResult{halfCovered(), fullyCovered()}}
	generator := &recordingGenerator{}

	out, err := NewController(validator, generator, Config{}).Run(context.Background(), "m", "t", 2)
	require.NoError(t, err)

	assert.True(t, out.Passed)
	assert.False(t, out.Exhausted)
	assert.Empty(t, out.Warning)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, out.Retries)
	assert.Len(t, generator.requests, 1)
}

func TestRunPassesOnFirstAttempt(t *testing.T) {
	generator := &recordingGenerator{}
	out, err := NewController(&scriptedValidator{results: []*models.ValidationResult{fullyCovered()}}, generator, Config{}).
		Run(context.Background(), "m", "t", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, generator.requests)
}

func TestRunPassThresholdIsNotReportingThreshold(t *testing.T) {
	// 90% is above the 80% reporting target but below the 95% pass mark.
	m := models.Metrics{Total: 10, Covered: 9, Missing: 1, Completeness: 90}
	res := models.NewValidationResult(make([]models.CoverageEntry, 9), []models.MissingEntry{{Requirement: "r", Category: "General"}}, m)

	out, err := NewController(&scriptedValidator{results: []*models.ValidationResult{res}}, &recordingGenerator{}, Config{}).
		Run(context.Background(), "m", "t", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.True(t, out.Exhausted)
}

func TestRunZeroRetries(t *testing.T) {
	generator := &recordingGenerator{}
	out, err := NewController(&scriptedValidator{results: []*models.ValidationResult{halfCovered()}}, generator, Config{}).
		Run(context.Background(), "m", "t", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Exhausted)
	assert.Empty(t, generator.requests)
}

func TestRunErrors(t *testing.T) {
	t.Run("negative budget", func(t *testing.T) {
		_, err := NewController(&scriptedValidator{}, &recordingGenerator{}, Config{}).Run(context.Background(), "m", "t", -1)
		assert.ErrorIs(t, err, errs.ErrInput)
	})

	t.Run("validation failure is not retried", func(t *testing.T) {
		validator := &scriptedValidator{err: errs.Input("no test cases")}
		generator := &recordingGenerator{}
		out, err := NewController(validator, generator, Config{}).Run(context.Background(), "m", "t", 2)
		assert.ErrorIs(t, err, errs.ErrInput)
		assert.Nil(t, out)
		assert.Equal(t, 1, validator.calls)
		assert.Empty(t, generator.requests)
	})

	t.Run("generator failure", func(t *testing.T) {
		boom := errors.New("llm down")
		generator := &recordingGenerator{err: boom}
		_, err := NewController(&scriptedValidator{results: []*models.ValidationResult{halfCovered()}}, generator, Config{}).
			Run(context.Background(), "m", "t", 2)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled before validation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		validator := &scriptedValidator{results: []*models.ValidationResult{halfCovered()}}
		_, err := NewController(validator, &recordingGenerator{}, Config{}).Run(ctx, "m", "t", 2)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, validator.calls)
	})
}

func TestRunNotifiesObservers(t *testing.T) {
	var events []string
	var finishedErr error
	obs := ObserverFuncs{
		OnStart: func(_ context.Context, info RunInfo) error {
			events = append(events, "start")
			assert.Equal(t, 2, info.MaxRetries)
			return errors.New("history unavailable")
		},
		OnAttempt: func(_ context.Context, _ string, attempt int, _ *models.ValidationResult) error {
			events = append(events, "attempt")
			return nil
		},
		OnFinish: func(_ context.Context, _ *Outcome, runErr error) error {
			events = append(events, "finish")
			finishedErr = runErr
			return nil
		},
	}

	out, err := NewController(&scriptedValidator{results: []*models.ValidationResult{halfCovered()}}, &recordingGenerator{}, Config{}).
		Run(context.Background(), "m", "t", 2, obs, ObserverFuncs{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []string{"start", "attempt", "attempt", "attempt", "finish"}, events)
	assert.NoError(t, finishedErr)
}

// keywordScorer and keywordClassifier treat a test case as covering a
// requirement when it mentions the requirement text verbatim.
type keywordScorer struct{}

func (keywordScorer) Matrix(_ context.Context, reqs, tcs []string) (similarity.Matrix, error) {
	m := make(similarity.Matrix, len(reqs))
	for i, r := range reqs {
		m[i] = make([]float64, len(tcs))
		for j, tc := range tcs {
			if strings.Contains(tc, r) {
				m[i][j] = 0.9
			}
		}
	}
	return m, nil
}

type keywordClassifier struct{}

func (keywordClassifier) ClassifyBatch(_ context.Context, pairs []entailment.Pair) ([]entailment.Distribution, error) {
	out := make([]entailment.Distribution, len(pairs))
	for i := range pairs {
		out[i] = entailment.Distribution{Contradiction: 0.05, Neutral: 0.15, Entailment: 0.8}
	}
	return out, nil
}

// partialGenerator covers one missing requirement per call.
type partialGenerator struct{}

func (partialGenerator) Generate(_ context.Context, req models.GenerationRequest) (*models.GenerationResponse, error) {
	category := req.Requirements.Categories()[0]
	text := req.Requirements.Get(category)[0]
	groups := models.TestCaseGroups{models.GroupPositive: {"Verify that " + text}}
	if err := filestore.WriteTestCases(req.TestCaseStorePath, groups, req.Mode); err != nil {
		return nil, err
	}
	return &models.GenerationResponse{Mode: req.Mode, TestCases: groups}, nil
}

func TestRunCompletenessNeverDecreases(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "requirements.json")
	tcs := filepath.Join(dir, "testcases.txt")

	require.NoError(t, os.WriteFile(master, []byte(`{
  "Functional": ["The system must allow login", "The system must display errors"],
  "Business": ["Reports must be exported nightly", "Invoices must be archived yearly"]
}`), 0o644))
	require.NoError(t, filestore.WriteTestCases(tcs, models.TestCaseGroups{
		models.GroupPositive: {"Verify that The system must allow login"},
	}, models.FullRebuild))

	engine := coverage.NewEngine(keywordScorer{}, keywordClassifier{}, coverage.DefaultThresholds())
	validator := coverage.NewValidator(engine, 10)

	var history []float64
	obs := ObserverFuncs{OnAttempt: func(_ context.Context, _ string, _ int, res *models.ValidationResult) error {
		history = append(history, res.Completeness)
		return nil
	}}

	out, err := NewController(validator, partialGenerator{}, Config{}).Run(context.Background(), master, tcs, 5, obs)
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 75, 100}, history)
	assert.True(t, out.Passed)
	assert.Equal(t, 4, out.Attempts)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i], history[i-1])
	}
}

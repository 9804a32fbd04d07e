package coverage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tc-validator/backend/internal/entailment"
	"github.com/tc-validator/backend/internal/similarity"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
)

// tableScorer looks up similarity by (requirement, test case); unknown pairs
// score 0.
type tableScorer struct {
	sim   map[[2]string]float64
	err   error
	calls int
}

func (s *tableScorer) Matrix(_ context.Context, reqs, tcs []string) (similarity.Matrix, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	m := make(similarity.Matrix, len(reqs))
	for i, r := range reqs {
		m[i] = make([]float64, len(tcs))
		for j, tc := range tcs {
			m[i][j] = s.sim[[2]string{r, tc}]
		}
	}
	return m, nil
}

// tableClassifier returns the entailment probability keyed by
// (premise, hypothesis) and records every pair it is asked about.
type tableClassifier struct {
	ent   map[[2]string]float64
	err   error
	seen  []entailment.Pair
	calls int
}

func (c *tableClassifier) ClassifyBatch(_ context.Context, pairs []entailment.Pair) ([]entailment.Distribution, error) {
	c.calls++
	c.seen = append(c.seen, pairs...)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]entailment.Distribution, len(pairs))
	for i, p := range pairs {
		e := c.ent[[2]string{p.Premise, p.Hypothesis}]
		out[i] = entailment.Distribution{Contradiction: (1 - e) / 2, Neutral: (1 - e) / 2, Entailment: e}
	}
	return out, nil
}

const (
	reqLogin  = "The system must allow login"
	reqErrors = "The system must display errors"
	tcLogin   = "Verify login succeeds with valid credentials."
	tcErrors  = "Verify error message shown on invalid login."
)

func loginFixture() (*tableScorer, *tableClassifier) {
	scorer := &tableScorer{sim: map[[2]string]float64{
		{reqLogin, tcLogin}:   0.82,
		{reqLogin, tcErrors}:  0.58,
		{reqErrors, tcLogin}:  0.31,
		{reqErrors, tcErrors}: 0.77,
	}}
	classifier := &tableClassifier{ent: map[[2]string]float64{
		{tcLogin, reqLogin}:   0.91234,
		{tcErrors, reqLogin}:  0.12,
		{tcErrors, reqErrors}: 0.8765,
	}}
	return scorer, classifier
}

func loginInputs() ([]models.Requirement, []models.TestCase) {
	return []models.Requirement{
			{Text: reqLogin, Category: models.CategoryFunctional},
			{Text: reqErrors, Category: models.CategoryFunctional},
		}, []models.TestCase{
			{Text: tcLogin},
			{Text: tcErrors},
		}
}

func TestEvaluateBothCovered(t *testing.T) {
	scorer, classifier := loginFixture()
	engine := NewEngine(scorer, classifier, DefaultThresholds())
	reqs, tcs := loginInputs()

	res, err := engine.Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)

	assert.Equal(t, 100.0, res.Completeness)
	assert.Empty(t, res.Missing)
	require.Len(t, res.Covered, 2)

	login := res.Coverage()[reqLogin]
	assert.Equal(t, models.CategoryFunctional, login.Category)
	require.Len(t, login.Matches, 1)
	assert.Equal(t, tcLogin, login.Matches[0].TestCase)
	assert.Equal(t, 0.912, login.Matches[0].EntailmentScore)

	assert.InDelta(t, 100*(0.91234+0.8765)/2, res.Exact.Accuracy, 1e-9)
	assert.Equal(t, 89.44, res.Accuracy)

	// premise is the test case, hypothesis the requirement
	assert.Contains(t, classifier.seen, entailment.Pair{Premise: tcErrors, Hypothesis: reqLogin})
	assert.Equal(t, 1, classifier.calls)
}

func TestEvaluateEmptyTestCases(t *testing.T) {
	scorer, classifier := loginFixture()
	engine := NewEngine(scorer, classifier, DefaultThresholds())

	res, err := engine.Evaluate(context.Background(), []models.Requirement{{Text: reqLogin, Category: "Functional"}}, nil)
	assert.ErrorIs(t, err, errs.ErrInput)
	assert.Nil(t, res)
	assert.Zero(t, scorer.calls)

	_, err = engine.Evaluate(context.Background(), nil, []models.TestCase{{Text: tcLogin}})
	assert.ErrorIs(t, err, errs.ErrInput)
}

func TestEvaluateNoCandidatesSkipsEntailment(t *testing.T) {
	const lonely = "Reports must be exported nightly"
	scorer, classifier := loginFixture()
	scorer.sim[[2]string{lonely, tcLogin}] = 0.54
	scorer.sim[[2]string{lonely, tcErrors}] = 0.1

	reqs, tcs := loginInputs()
	reqs = append(reqs, models.Requirement{Text: lonely, Category: models.CategoryBusiness})

	res, err := NewEngine(scorer, classifier, DefaultThresholds()).Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)

	assert.Equal(t, []models.MissingEntry{{Requirement: lonely, Category: models.CategoryBusiness}}, res.Missing)
	for _, p := range classifier.seen {
		assert.NotEqual(t, lonely, p.Hypothesis)
	}
	assert.Equal(t, 66.67, res.Completeness)
}

func TestEvaluateNoCandidatesAnywhere(t *testing.T) {
	scorer := &tableScorer{}
	classifier := &tableClassifier{}
	reqs, tcs := loginInputs()

	res, err := NewEngine(scorer, classifier, DefaultThresholds()).Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)

	assert.Zero(t, classifier.calls)
	assert.Equal(t, 0.0, res.Completeness)
	assert.Equal(t, 0.0, res.Accuracy)
	assert.Len(t, res.Missing, 2)
	assert.NotNil(t, res.Covered)
}

func TestEvaluateThresholdsAreInclusive(t *testing.T) {
	th := Thresholds{Semantic: 0.5, NLI: 0.75}
	scorer := &tableScorer{sim: map[[2]string]float64{
		{reqLogin, tcLogin}:   0.5,
		{reqErrors, tcErrors}: 0.4999,
	}}
	classifier := &tableClassifier{ent: map[[2]string]float64{
		{tcLogin, reqLogin}:   0.75,
		{tcErrors, reqErrors}: 0.99,
	}}
	reqs, tcs := loginInputs()

	res, err := NewEngine(scorer, classifier, th).Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)

	assert.Equal(t, []entailment.Pair{{Premise: tcLogin, Hypothesis: reqLogin}}, classifier.seen)
	require.Len(t, res.Covered, 1)
	assert.Equal(t, reqLogin, res.Covered[0].Requirement)
	assert.Equal(t, 0.75, res.Covered[0].Matches[0].EntailmentScore)
	assert.Equal(t, reqErrors, res.Missing[0].Requirement)
}

func TestEvaluateKeepsCandidateOrder(t *testing.T) {
	tcs := []models.TestCase{{Text: "tc-c"}, {Text: "tc-a"}, {Text: "tc-b"}}
	scorer := &tableScorer{sim: map[[2]string]float64{
		{reqLogin, "tc-a"}: 0.9, {reqLogin, "tc-b"}: 0.9, {reqLogin, "tc-c"}: 0.9,
	}}
	classifier := &tableClassifier{ent: map[[2]string]float64{
		{"tc-a", reqLogin}: 0.7, {"tc-b", reqLogin}: 0.99, {"tc-c", reqLogin}: 0.65,
	}}

	res, err := NewEngine(scorer, classifier, DefaultThresholds()).
		Evaluate(context.Background(), []models.Requirement{{Text: reqLogin}}, tcs)
	require.NoError(t, err)

	var order []string
	for _, m := range res.Covered[0].Matches {
		order = append(order, m.TestCase)
	}
	assert.Equal(t, []string{"tc-c", "tc-a", "tc-b"}, order)
}

func TestEvaluatePartitionAndIdempotence(t *testing.T) {
	scorer, classifier := loginFixture()
	reqs, tcs := loginInputs()
	reqs = append(reqs,
		models.Requirement{Text: "Reports must be exported nightly", Category: models.CategoryBusiness},
		models.Requirement{Text: reqLogin, Category: models.CategoryTechnical},
	)
	engine := NewEngine(scorer, classifier, DefaultThresholds())

	first, err := engine.Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)
	second, err := engine.Evaluate(context.Background(), reqs, tcs)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	seen := map[string]int{}
	for _, c := range first.Covered {
		seen[c.Requirement]++
	}
	for _, m := range first.Missing {
		seen[m.Requirement]++
	}
	assert.Len(t, seen, 3)
	for text, n := range seen {
		assert.Equal(t, 1, n, text)
	}
	assert.Equal(t, models.CategoryFunctional, first.Coverage()[reqLogin].Category)
}

func TestEvaluateModelFailureReturnsNoResult(t *testing.T) {
	reqs, tcs := loginInputs()

	scorer, classifier := loginFixture()
	classifier.err = errs.Model("predict", errors.New("timeout"))
	res, err := NewEngine(scorer, classifier, DefaultThresholds()).Evaluate(context.Background(), reqs, tcs)
	assert.ErrorIs(t, err, errs.ErrModelInvocation)
	assert.Nil(t, res)

	scorer, classifier = loginFixture()
	scorer.err = errs.Model("embed", errors.New("refused"))
	_, err = NewEngine(scorer, classifier, DefaultThresholds()).Evaluate(context.Background(), reqs, tcs)
	assert.ErrorIs(t, err, errs.ErrModelInvocation)
	assert.Zero(t, classifier.calls)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		covered []models.CoverageEntry
		missing []models.MissingEntry
		want    models.Metrics
	}{
		{
			name: "empty",
			want: models.Metrics{},
		},
		{
			name:    "all missing",
			missing: []models.MissingEntry{{Requirement: "a"}, {Requirement: "b"}},
			want:    models.Metrics{Total: 2, Missing: 2},
		},
		{
			name: "mixed",
			covered: []models.CoverageEntry{
				{Requirement: "a", Matches: []models.Match{{EntailmentScore: 0.9, RawScore: 0.9}, {EntailmentScore: 0.7, RawScore: 0.7}}},
				{Requirement: "b", Matches: []models.Match{{EntailmentScore: 0.8, RawScore: 0.8}}},
			},
			missing: []models.MissingEntry{{Requirement: "c"}, {Requirement: "d"}},
			want:    models.Metrics{Total: 4, Covered: 2, Missing: 2, Matches: 3, Completeness: 50, Accuracy: 80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.covered, tt.missing)
			assert.Equal(t, tt.want.Total, got.Total)
			assert.Equal(t, tt.want.Covered, got.Covered)
			assert.Equal(t, tt.want.Missing, got.Missing)
			assert.Equal(t, tt.want.Matches, got.Matches)
			assert.InDelta(t, tt.want.Completeness, got.Completeness, 1e-9)
			assert.InDelta(t, tt.want.Accuracy, got.Accuracy, 1e-9)
		})
	}
}

func TestAssessUsesReportingTargets(t *testing.T) {
	res := models.NewValidationResult(nil, nil, models.Metrics{Completeness: 80, Accuracy: 74.999})
	got := DefaultTargets().Assess(res.Exact.Completeness, res.Exact.Accuracy)
	assert.Equal(t, Status{CompletenessMet: true, AccuracyMet: false}, got)

	strict := Targets{Completeness: 90, Accuracy: 70}
	assert.Equal(t, Status{CompletenessMet: false, AccuracyMet: true}, strict.Assess(80, 74.999))
}

func TestValidatorReadsStores(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "requirements.json")
	tcPath := filepath.Join(dir, "testcases.txt")
	require.NoError(t, os.WriteFile(reqPath, []byte(`{"Functional": ["`+reqLogin+`", "`+reqErrors+`", "tiny"]}`), 0o644))
	require.NoError(t, os.WriteFile(tcPath, []byte("Positive:\n"+tcLogin+"\n\nNegative:\n"+tcErrors+"\n"), 0o644))

	scorer, classifier := loginFixture()
	v := NewValidator(NewEngine(scorer, classifier, DefaultThresholds()), 10)

	res, err := v.Validate(context.Background(), reqPath, tcPath)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Completeness)
	assert.Equal(t, 2, res.Total())

	_, err = v.Validate(context.Background(), reqPath, filepath.Join(dir, "absent.txt"))
	assert.ErrorIs(t, err, errs.ErrPersistence)

	require.NoError(t, os.WriteFile(tcPath, nil, 0o644))
	_, err = v.Validate(context.Background(), reqPath, tcPath)
	assert.ErrorIs(t, err, errs.ErrInput)
}

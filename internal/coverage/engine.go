// Package coverage classifies requirements as covered or missing against a
// set of test cases and reduces the classification to completeness and
// accuracy percentages.
//
// Classification runs in two stages. A coarse gate keeps the test cases whose
// embedding similarity to the requirement reaches SemanticThreshold; only
// those candidates are sent to the entailment model, and a candidate becomes
// a Match when its entailment probability reaches NLIThreshold. Both gates
// are inclusive.
package coverage

import (
	"context"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/entailment"
	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/internal/similarity"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

const (
	DefaultSemanticThreshold = 0.55
	DefaultNLIThreshold      = 0.6

	// CompletenessThreshold and AccuracyThreshold are reporting targets.
	// They do not drive the feedback loop.
	CompletenessThreshold = 80.0
	AccuracyThreshold     = 75.0

	scorePlaces = 3
)

type SimilarityScorer interface {
	Matrix(ctx context.Context, requirements, testCases []string) (similarity.Matrix, error)
}

type EntailmentClassifier interface {
	ClassifyBatch(ctx context.Context, pairs []entailment.Pair) ([]entailment.Distribution, error)
}

type Thresholds struct {
	Semantic float64
	NLI      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Semantic: DefaultSemanticThreshold, NLI: DefaultNLIThreshold}
}

type Engine struct {
	scorer     SimilarityScorer
	classifier EntailmentClassifier
	thresholds Thresholds
}

func NewEngine(scorer SimilarityScorer, classifier EntailmentClassifier, thresholds Thresholds) *Engine {
	return &Engine{scorer: scorer, classifier: classifier, thresholds: thresholds}
}

type candidate struct {
	requirement int
	testCase    int
}

// Evaluate classifies every requirement in input order. All coarse-gate
// candidates of the pass go to the classifier in a single batch; a
// requirement without candidates never reaches it. Requirements repeating an
// earlier text are ignored.
func (e *Engine) Evaluate(ctx context.Context, requirements []models.Requirement, testCases []models.TestCase) (*models.ValidationResult, error) {
	requirements = uniqueRequirements(requirements)
	if len(requirements) == 0 {
		return nil, errs.Input("no requirements to validate")
	}
	if len(testCases) == 0 {
		return nil, errs.Input("no test cases to validate against")
	}

	reqTexts := make([]string, len(requirements))
	for i, r := range requirements {
		reqTexts[i] = r.Text
	}
	tcTexts := make([]string, len(testCases))
	for j, tc := range testCases {
		tcTexts[j] = tc.Text
	}

	sim, err := e.scorer.Matrix(ctx, reqTexts, tcTexts)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	var pairs []entailment.Pair
	for i := range requirements {
		for j := range testCases {
			if sim.At(i, j) >= e.thresholds.Semantic {
				candidates = append(candidates, candidate{requirement: i, testCase: j})
				pairs = append(pairs, entailment.Pair{Premise: tcTexts[j], Hypothesis: reqTexts[i]})
			}
		}
	}
	metrics.EntailmentCandidates.Observe(float64(len(pairs)))

	var dists []entailment.Distribution
	if len(pairs) > 0 {
		dists, err = e.classifier.ClassifyBatch(ctx, pairs)
		if err != nil {
			return nil, err
		}
	}

	matches := make([][]models.Match, len(requirements))
	for k, c := range candidates {
		score := dists[k].Entailment
		metrics.EntailmentScore.Observe(score)
		if score >= e.thresholds.NLI {
			matches[c.requirement] = append(matches[c.requirement], models.Match{
				TestCase:        tcTexts[c.testCase],
				EntailmentScore: models.Round(score, scorePlaces),
				RawScore:        score,
			})
		}
	}

	var covered []models.CoverageEntry
	var missing []models.MissingEntry
	for i, r := range requirements {
		if len(matches[i]) > 0 {
			covered = append(covered, models.CoverageEntry{Requirement: r.Text, Category: r.Category, Matches: matches[i]})
			continue
		}
		missing = append(missing, models.MissingEntry{Requirement: r.Text, Category: r.Category})
	}

	metrics.RequirementsClassified.WithLabelValues("covered").Add(float64(len(covered)))
	metrics.RequirementsClassified.WithLabelValues("missing").Add(float64(len(missing)))

	logger.Debug("Coverage evaluated",
		zap.Int("requirements", len(requirements)),
		zap.Int("testcases", len(testCases)),
		zap.Int("candidates", len(pairs)),
		zap.Int("covered", len(covered)),
	)

	return models.NewValidationResult(covered, missing, Aggregate(covered, missing)), nil
}

func uniqueRequirements(requirements []models.Requirement) []models.Requirement {
	seen := make(map[string]struct{}, len(requirements))
	out := make([]models.Requirement, 0, len(requirements))
	for _, r := range requirements {
		if _, dup := seen[r.Text]; dup {
			continue
		}
		seen[r.Text] = struct{}{}
		out = append(out, r)
	}
	return out
}

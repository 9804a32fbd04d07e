// Package entailment estimates whether a test case verifies a requirement
// using an NLI model's three-way logits.
package entailment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// Pair orders the texts the way the model reads them: the test case is the
// premise, the requirement the hypothesis.
type Pair struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

// Predictor returns raw logits in contradiction, neutral, entailment order.
type Predictor interface {
	Predict(ctx context.Context, pairs []Pair) ([][3]float64, error)
}

type Distribution struct {
	Contradiction float64 `json:"contradiction"`
	Neutral       float64 `json:"neutral"`
	Entailment    float64 `json:"entailment"`
}

func Softmax(logits [3]float64) Distribution {
	maxLogit := math.Max(logits[0], math.Max(logits[1], logits[2]))
	var exp [3]float64
	var sum float64
	for i, l := range logits {
		exp[i] = math.Exp(l - maxLogit)
		sum += exp[i]
	}
	return Distribution{
		Contradiction: exp[0] / sum,
		Neutral:       exp[1] / sum,
		Entailment:    exp[2] / sum,
	}
}

type Classifier struct {
	predictor Predictor
	batchSize int
	workers   int
}

func NewClassifier(predictor Predictor, batchSize, workers int) *Classifier {
	if batchSize <= 0 {
		batchSize = 16
	}
	if workers <= 0 {
		workers = 1
	}
	return &Classifier{predictor: predictor, batchSize: batchSize, workers: workers}
}

func (c *Classifier) Classify(ctx context.Context, premise, hypothesis string) (Distribution, error) {
	out, err := c.ClassifyBatch(ctx, []Pair{{Premise: premise, Hypothesis: hypothesis}})
	if err != nil {
		return Distribution{}, err
	}
	return out[0], nil
}

// ClassifyBatch splits pairs into chunks and runs up to workers chunks at a
// time. Each pair is scored independently, so the result matches pair-by-pair
// classification and is returned in input order.
func (c *Classifier) ClassifyBatch(ctx context.Context, pairs []Pair) ([]Distribution, error) {
	for i, p := range pairs {
		if strings.TrimSpace(p.Premise) == "" || strings.TrimSpace(p.Hypothesis) == "" {
			return nil, errs.Input("entailment pair %d has empty text", i)
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make([]Distribution, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for start := 0; start < len(pairs); start += c.batchSize {
		start := start
		end := min(start+c.batchSize, len(pairs))

		g.Go(func() error {
			chunk := pairs[start:end]
			logits, err := c.predictor.Predict(gctx, chunk)
			if err != nil {
				return errs.Model("predict", err)
			}
			if len(logits) != len(chunk) {
				return errs.Model("predict", fmt.Errorf("expected %d logit rows, got %d", len(chunk), len(logits)))
			}
			for k, row := range logits {
				out[start+k] = Softmax(row)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("Entailment batch classified",
		zap.Int("pairs", len(pairs)),
		zap.Int("batch_size", c.batchSize),
	)

	return out, nil
}

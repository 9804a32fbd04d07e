// Package similarity scores every (requirement, test case) pair by the cosine
// similarity of their embeddings.
package similarity

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

// Embedder turns texts into dense vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Matrix holds one row per requirement and one column per test case.
type Matrix [][]float64

func (m Matrix) At(i, j int) float64 {
	return m[i][j]
}

type Scorer struct {
	embedder  Embedder
	batchSize int
}

func NewScorer(embedder Embedder, batchSize int) *Scorer {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Scorer{embedder: embedder, batchSize: batchSize}
}

// Matrix returns the R×T cosine similarity matrix. Vectors are normalized
// here as well, so providers that skip normalization still yield values in
// [-1, 1].
func (s *Scorer) Matrix(ctx context.Context, requirements, testCases []string) (Matrix, error) {
	if len(requirements) == 0 {
		return nil, errs.Input("similarity needs at least one requirement")
	}
	if len(testCases) == 0 {
		return nil, errs.Input("similarity needs at least one test case")
	}

	reqVecs, err := s.embedAll(ctx, requirements)
	if err != nil {
		return nil, err
	}
	tcVecs, err := s.embedAll(ctx, testCases)
	if err != nil {
		return nil, err
	}

	if len(reqVecs[0]) != len(tcVecs[0]) {
		return nil, errs.Model("embed", fmt.Errorf("dimension mismatch: %d vs %d", len(reqVecs[0]), len(tcVecs[0])))
	}

	matrix := make(Matrix, len(reqVecs))
	for i, r := range reqVecs {
		row := make([]float64, len(tcVecs))
		for j, t := range tcVecs {
			row[j] = dot(r, t)
		}
		matrix[i] = row
	}

	logger.Debug("Similarity matrix computed",
		zap.Int("requirements", len(requirements)),
		zap.Int("testcases", len(testCases)),
	)

	return matrix, nil
}

func (s *Scorer) embedAll(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	dim := -1

	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		batch, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, errs.Model("embed", err)
		}
		if len(batch) != end-start {
			return nil, errs.Model("embed", fmt.Errorf("expected %d embeddings, got %d", end-start, len(batch)))
		}

		for _, v := range batch {
			if dim == -1 {
				dim = len(v)
			}
			if len(v) != dim || dim == 0 {
				return nil, errs.Model("embed", fmt.Errorf("inconsistent embedding dimension %d", len(v)))
			}
			vectors = append(vectors, normalize(v))
		}
	}

	return vectors, nil
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return math.Max(-1, math.Min(1, sum))
}

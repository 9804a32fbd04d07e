package similarity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/pkg/logger"
	"github.com/tc-validator/backend/pkg/utils"
)

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from the cache and embeds the rest in
// one call. Cache failures degrade to a miss.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		vec, ok, err := c.cache.GetEmbedding(ctx, utils.EmbeddingKey(c.model, text))
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		if ok {
			out[i] = vec
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		// Let the scorer report the count mismatch.
		return fresh, nil
	}

	for k, vec := range fresh {
		out[missIdx[k]] = vec
		if err := c.cache.SetEmbedding(ctx, utils.EmbeddingKey(c.model, missTexts[k]), vec, c.ttl); err != nil {
			logger.Warn("Embedding cache store failed", zap.Error(err))
		}
	}

	return out, nil
}

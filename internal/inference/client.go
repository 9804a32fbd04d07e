// Package inference talks to the model sidecar that serves sentence
// embeddings and NLI cross-encoder logits over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/entailment"
	"github.com/tc-validator/backend/internal/metrics"
	"github.com/tc-validator/backend/pkg/circuitbreaker"
	"github.com/tc-validator/backend/pkg/logger"
	"github.com/tc-validator/backend/pkg/retry"
)

type Config struct {
	Endpoint       string
	EmbeddingModel string
	NLIModel       string
	Timeout        time.Duration
}

type Client struct {
	endpoint       string
	embeddingModel string
	nliModel       string
	httpClient     *http.Client
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type embedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type predictRequest struct {
	Model string      `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type predictResponse struct {
	Logits [][]float64 `json:"logits"`
}

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("inference", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.BreakerStateChanged,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Inference client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.String("nli_model", cfg.NLIModel),
	)

	return &Client{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		embeddingModel: cfg.EmbeddingModel,
		nliModel:       cfg.NLIModel,
		httpClient:     &http.Client{Timeout: timeout},
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// Embed returns unit-normalized embeddings in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	err := c.post(ctx, "/embed", embedRequest{Model: c.embeddingModel, Texts: texts, Normalize: true}, &resp)
	metrics.ObserveModelCall(c.embeddingModel, "embedding", err)
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("inference returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	logger.Debug("Embeddings computed", zap.Int("count", len(texts)))
	return resp.Embeddings, nil
}

// Predict returns contradiction, neutral, entailment logits per pair.
func (c *Client) Predict(ctx context.Context, pairs []entailment.Pair) ([][3]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	body := predictRequest{Model: c.nliModel, Pairs: make([][2]string, len(pairs))}
	for i, p := range pairs {
		body.Pairs[i] = [2]string{p.Premise, p.Hypothesis}
	}

	var resp predictResponse
	err := c.post(ctx, "/predict", body, &resp)
	metrics.ObserveModelCall(c.nliModel, "entailment", err)
	if err != nil {
		return nil, err
	}

	if len(resp.Logits) != len(pairs) {
		return nil, fmt.Errorf("inference returned %d logit rows for %d pairs", len(resp.Logits), len(pairs))
	}

	out := make([][3]float64, len(resp.Logits))
	for i, row := range resp.Logits {
		if len(row) != 3 {
			return nil, fmt.Errorf("logit row %d has %d values, want 3", i, len(row))
		}
		copy(out[i][:], row)
	}

	logger.Debug("Entailment logits computed", zap.Int("pairs", len(pairs)))
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach inference sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: "/health", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
			if err != nil {
				return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to call %s: %w", path, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Permanent(statusErr)
				}
				return statusErr
			}

			if err := json.Unmarshal(body, out); err != nil {
				return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
			}
			return nil
		})
	})
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

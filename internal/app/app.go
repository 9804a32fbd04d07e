// Package app assembles the validator, generator and feedback controller from
// configuration and exposes the operations shared by the HTTP server and the
// command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/cache/redis"
	"github.com/tc-validator/backend/internal/coverage"
	"github.com/tc-validator/backend/internal/entailment"
	"github.com/tc-validator/backend/internal/feedback"
	"github.com/tc-validator/backend/internal/generator"
	"github.com/tc-validator/backend/internal/inference"
	"github.com/tc-validator/backend/internal/llm"
	"github.com/tc-validator/backend/internal/report"
	"github.com/tc-validator/backend/internal/similarity"
	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/internal/storage/sqlite"
	"github.com/tc-validator/backend/pkg/config"
	"github.com/tc-validator/backend/pkg/errs"
	"github.com/tc-validator/backend/pkg/logger"
)

type App struct {
	cfg        *config.Config
	validator  *coverage.Validator
	generator  *generator.Generator
	controller *feedback.Controller
	inference  *inference.Client
	history    *sqlite.Client
	cache      *redis.Client

	// busy is held for writing by a feedback run and for reading by
	// standalone validations.
	busy sync.RWMutex
}

// RunOptions overrides the configured store paths and retry budget for one
// feedback run. Zero values fall back to configuration.
type RunOptions struct {
	MasterStore   string
	TestCaseStore string
	ReportPath    string
	MaxRetries    *int
	Force         bool
}

func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	a.inference = inference.NewClient(inference.Config{
		Endpoint:       cfg.NLI.Endpoint,
		EmbeddingModel: cfg.Embedding.Model,
		NLIModel:       cfg.NLI.Model,
		Timeout:        time.Duration(cfg.NLI.TimeoutSec) * time.Second,
	})

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.Embedding.Model,
		Temperature:    cfg.Generator.Temperature,
		MaxTokens:      cfg.Generator.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	var embedder similarity.Embedder = a.inference
	if cfg.Embedding.Provider == "openai" {
		embedder = llmClient
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.cache = cache
		ttl := time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour
		embedder = similarity.NewCachedEmbedder(embedder, cache, cfg.Embedding.Model, ttl)
	}

	if cfg.SQLite.Enabled {
		history, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create sqlite client: %w", err)
		}
		if err := history.InitSchema(); err != nil {
			history.Close()
			a.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		a.history = history
	}

	engine := coverage.NewEngine(
		similarity.NewScorer(embedder, cfg.Embedding.BatchSize),
		entailment.NewClassifier(a.inference, cfg.NLI.BatchSize, cfg.NLI.Workers),
		coverage.Thresholds{
			Semantic: cfg.Validator.SemanticThreshold,
			NLI:      cfg.Validator.NLIThreshold,
		},
	)

	a.validator = coverage.NewValidator(engine, cfg.Validator.MinRequirementLength)
	a.generator = generator.New(llmClient)
	a.controller = feedback.NewController(a.validator, a.generator, feedback.Config{
		PassCompleteness: cfg.Feedback.PassCompleteness,
		HashPath:         cfg.Paths.HashFile,
	})

	logger.Info("Validator assembled",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("embedding_cache", a.cache != nil),
		zap.Bool("run_history", a.history != nil),
		zap.Float64("semantic_threshold", cfg.Validator.SemanticThreshold),
		zap.Float64("nli_threshold", cfg.Validator.NLIThreshold),
	)

	return a, nil
}

// History is nil when run history is disabled.
func (a *App) History() *sqlite.Client {
	return a.history
}

func (a *App) Targets() report.Targets {
	return report.Targets{
		Completeness: a.cfg.Validator.CompletenessThreshold,
		Accuracy:     a.cfg.Validator.AccuracyThreshold,
	}
}

// Validate runs one standalone pass. The report is written when reportPath is
// set.
func (a *App) Validate(ctx context.Context, requirementStore, testCaseStore, reportPath string) (*models.ValidationResult, error) {
	if !a.busy.TryRLock() {
		return nil, errs.Conflict("a feedback run is rewriting the stores")
	}
	defer a.busy.RUnlock()

	if requirementStore == "" {
		requirementStore = a.cfg.Paths.RequirementStore
	}
	if testCaseStore == "" {
		testCaseStore = a.cfg.Paths.TestcaseStore
	}

	result, err := a.validator.Validate(ctx, requirementStore, testCaseStore)
	if err != nil {
		return nil, err
	}

	if reportPath != "" {
		if err := report.Write(reportPath, report.FromResult(result)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Run bootstraps the test-case store when needed and then drives the feedback
// loop. The final result is written to the report path. Only one run may be
// in flight at a time.
func (a *App) Run(ctx context.Context, opts RunOptions, observers ...feedback.Observer) (*feedback.Outcome, error) {
	if !a.busy.TryLock() {
		return nil, errs.Conflict("a feedback run is already in progress")
	}
	defer a.busy.Unlock()

	opts = a.resolve(opts)

	if _, err := a.generator.Bootstrap(ctx, opts.MasterStore, opts.TestCaseStore, a.cfg.Paths.HashFile, opts.Force); err != nil {
		return nil, err
	}

	if a.history != nil {
		observers = append(observers, sqlite.NewRecorder(a.history))
	}

	outcome, err := a.controller.Run(ctx, opts.MasterStore, opts.TestCaseStore, *opts.MaxRetries, observers...)
	if err != nil {
		return nil, err
	}

	if opts.ReportPath != "" {
		if err := report.Write(opts.ReportPath, report.FromResult(outcome.Result)); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (a *App) resolve(opts RunOptions) RunOptions {
	if opts.MasterStore == "" {
		opts.MasterStore = a.cfg.Paths.RequirementStore
	}
	if opts.TestCaseStore == "" {
		opts.TestCaseStore = a.cfg.Paths.TestcaseStore
	}
	if opts.ReportPath == "" {
		opts.ReportPath = a.cfg.Paths.ReportFile
	}
	if opts.MaxRetries == nil {
		retries := a.cfg.Feedback.MaxRetries
		opts.MaxRetries = &retries
	}
	opts.Force = opts.Force || a.cfg.Generator.ForceRegenerate
	return opts
}

// Ready checks every dependency the validator needs to answer requests.
func (a *App) Ready(ctx context.Context) error {
	var checks []error
	if err := a.inference.Health(ctx); err != nil {
		checks = append(checks, errs.Model("inference health", err))
	}
	if a.history != nil {
		if err := a.history.Ping(ctx); err != nil {
			checks = append(checks, fmt.Errorf("sqlite: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			checks = append(checks, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(checks...)
}

func (a *App) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warn("Failed to close sqlite client", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}

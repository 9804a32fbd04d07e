package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tc-validator/backend/pkg/errs"
)

type Config struct {
	Server    ServerConfig
	Validator ValidatorConfig
	Feedback  FeedbackConfig
	Generator GeneratorConfig
	Paths     PathsConfig
	Embedding EmbeddingConfig
	NLI       NLIConfig
	LLM       LLMConfig
	Redis     RedisConfig
	SQLite    SQLiteConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
	AllowedOrigins       []string
	// DataRoot bounds every store or report path a request may name.
	DataRoot string
}

type ValidatorConfig struct {
	SemanticThreshold     float64
	NLIThreshold          float64
	CompletenessThreshold float64
	AccuracyThreshold     float64
	MinRequirementLength  int
}

type FeedbackConfig struct {
	MaxRetries       int
	PassCompleteness float64
}

type GeneratorConfig struct {
	ForceRegenerate bool
	Temperature     float32
	MaxTokens       int
}

type PathsConfig struct {
	RequirementStore string
	TestcaseStore    string
	ReportFile       string
	HashFile         string
}

type EmbeddingConfig struct {
	Provider      string
	Model         string
	BatchSize     int
	CacheTTLHours int
}

type NLIConfig struct {
	Endpoint   string
	Model      string
	BatchSize  int
	Workers    int
	TimeoutSec int
}

type LLMConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	TimeoutSec int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads path when given, otherwise searches the default locations.
// Environment variables (TCV_ prefix) override file values.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tc-validator")
	}

	v.SetEnvPrefix("TCV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	vc := c.Validator
	if vc.SemanticThreshold < -1 || vc.SemanticThreshold > 1 {
		return errs.Input("validator.semanticThreshold must be in [-1, 1], got %v", vc.SemanticThreshold)
	}
	if vc.NLIThreshold < 0 || vc.NLIThreshold > 1 {
		return errs.Input("validator.nliThreshold must be in [0, 1], got %v", vc.NLIThreshold)
	}
	if vc.CompletenessThreshold < 0 || vc.CompletenessThreshold > 100 {
		return errs.Input("validator.completenessThreshold must be in [0, 100], got %v", vc.CompletenessThreshold)
	}
	if vc.AccuracyThreshold < 0 || vc.AccuracyThreshold > 100 {
		return errs.Input("validator.accuracyThreshold must be in [0, 100], got %v", vc.AccuracyThreshold)
	}
	if c.Feedback.MaxRetries < 0 {
		return errs.Input("feedback.maxRetries must not be negative, got %d", c.Feedback.MaxRetries)
	}
	if c.Feedback.PassCompleteness <= 0 || c.Feedback.PassCompleteness > 100 {
		return errs.Input("feedback.passCompleteness must be in (0, 100], got %v", c.Feedback.PassCompleteness)
	}
	switch c.Embedding.Provider {
	case "inference", "openai":
	default:
		return errs.Input("embedding.provider must be \"inference\" or \"openai\", got %q", c.Embedding.Provider)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 600)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxRequestsPerMinute", 30)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.dataRoot", "./data")

	v.SetDefault("validator.semanticThreshold", 0.55)
	v.SetDefault("validator.nliThreshold", 0.6)
	v.SetDefault("validator.completenessThreshold", 80.0)
	v.SetDefault("validator.accuracyThreshold", 75.0)
	v.SetDefault("validator.minRequirementLength", 10)

	v.SetDefault("feedback.maxRetries", 2)
	v.SetDefault("feedback.passCompleteness", 95.0)

	v.SetDefault("generator.forceRegenerate", false)
	v.SetDefault("generator.temperature", 0.2)
	v.SetDefault("generator.maxTokens", 1500)

	v.SetDefault("paths.requirementStore", "./data/output/json_data/classified_file.json")
	v.SetDefault("paths.testcaseStore", "./data/output/testcases/testcases.txt")
	v.SetDefault("paths.reportFile", "./data/output/json_data/validation_report.json")
	v.SetDefault("paths.hashFile", "./data/output/testcases/requirement_hash.txt")

	v.SetDefault("embedding.provider", "inference")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L12-v2")
	v.SetDefault("embedding.batchSize", 32)
	v.SetDefault("embedding.cacheTTLHours", 168)

	v.SetDefault("nli.endpoint", "http://localhost:8501")
	v.SetDefault("nli.model", "cross-encoder/nli-deberta-v3-small")
	v.SetDefault("nli.batchSize", 16)
	v.SetDefault("nli.workers", 4)
	v.SetDefault("nli.timeoutSec", 30)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeoutSec", 120)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/validator.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("metrics.enabled", true)
}

// Package config loads tender-cli settings from config.yaml, TENDER_*
// environment variables and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Document   DocumentConfig   `yaml:"document" mapstructure:"document"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Codes      CodesConfig      `yaml:"codes" mapstructure:"codes"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PipelineConfig toggles stages and sets concurrency.
type PipelineConfig struct {
	Documents     bool   `yaml:"documents" mapstructure:"documents"`
	ExtractFields bool   `yaml:"extract_fields" mapstructure:"extract_fields"`
	Codes         bool   `yaml:"codes" mapstructure:"codes"`
	Scoring       bool   `yaml:"scoring" mapstructure:"scoring"`
	ForceRefresh  bool   `yaml:"force_refresh" mapstructure:"force_refresh"`
	Workers       int    `yaml:"workers" mapstructure:"workers"`
	FailureLog    string `yaml:"failure_log" mapstructure:"failure_log"`
}

// RetryConfig is the shared retry policy for every I/O boundary.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Policy converts the settings to a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.Multiplier > 0 {
		cfg.Multiplier = r.Multiplier
	}
	if r.JitterFraction > 0 {
		cfg.JitterFraction = r.JitterFraction
	}
	return cfg
}

// CompletionConfig selects the text-completion service.
type CompletionConfig struct {
	Provider            string `yaml:"provider" mapstructure:"provider"`
	Endpoint            string `yaml:"endpoint" mapstructure:"endpoint"`
	Model               string `yaml:"model" mapstructure:"model"`
	ScoringModel        string `yaml:"scoring_model" mapstructure:"scoring_model"`
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens           int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	BreakerThreshold    int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int    `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// DocumentConfig configures notice document download and text extraction.
type DocumentConfig struct {
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxChars      int      `yaml:"max_chars" mapstructure:"max_chars"`
	MaxBytes      int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	ContentTypes  []string `yaml:"content_types" mapstructure:"content_types"`
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitMs   int      `yaml:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	Extractor     string   `yaml:"extractor" mapstructure:"extractor"`
	PdfToTextPath string   `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string   `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string   `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ExtractConfig points at an optional extraction schema file.
type ExtractConfig struct {
	SchemaPath string `yaml:"schema_path" mapstructure:"schema_path"`
}

// CodesConfig points at the classification reference list.
type CodesConfig struct {
	ReferencePath string `yaml:"reference_path" mapstructure:"reference_path"`
}

// ScoringConfig describes the bidding firm.
type ScoringConfig struct {
	Profile string `yaml:"profile" mapstructure:"profile"`
}

// SourceConfig selects where raw tender rows come from.
type SourceConfig struct {
	Kind        string `yaml:"kind" mapstructure:"kind"`
	Path        string `yaml:"path" mapstructure:"path"`
	URL         string `yaml:"url" mapstructure:"url"`
	StartPage   int    `yaml:"start_page" mapstructure:"start_page"`
	EndPage     int    `yaml:"end_page" mapstructure:"end_page"`
	RateLimitMs int    `yaml:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	Sheet       string `yaml:"sheet" mapstructure:"sheet"`
}

// StoreConfig configures the sink.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Output      string `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the run health checker started by serve.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	SkipRateThreshold   float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("pipeline.documents", true)
	v.SetDefault("pipeline.extract_fields", true)
	v.SetDefault("pipeline.codes", true)
	v.SetDefault("pipeline.scoring", false)
	v.SetDefault("pipeline.force_refresh", false)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 4000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.0)
	v.SetDefault("completion.provider", "ollama")
	v.SetDefault("completion.endpoint", "http://localhost:11434")
	v.SetDefault("completion.model", "llama3.2:3b")
	v.SetDefault("completion.scoring_model", "llama3.1:8b")
	v.SetDefault("completion.timeout_secs", 90)
	v.SetDefault("completion.max_tokens", 1024)
	v.SetDefault("completion.breaker_threshold", 5)
	v.SetDefault("completion.breaker_cooldown_secs", 30)
	v.SetDefault("document.timeout_secs", 30)
	v.SetDefault("document.max_chars", 4000)
	v.SetDefault("document.max_bytes", 20<<20)
	v.SetDefault("document.content_types", []string{"application/pdf"})
	v.SetDefault("document.user_agent", "tender-cli/1.0")
	v.SetDefault("document.extractor", "pdftotext")
	v.SetDefault("document.pdftotext_path", "pdftotext")
	v.SetDefault("document.mistral_model", "mistral-ocr-latest")
	v.SetDefault("codes.reference_path", "cpv_list.json")
	v.SetDefault("scoring.profile", DefaultProfile)
	v.SetDefault("source.kind", "csv")
	v.SetDefault("source.start_page", 1)
	v.SetDefault("source.end_page", 1)
	v.SetDefault("source.rate_limit_ms", 1000)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tenders.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.skip_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultProfile describes the bidding firm when none is configured.
const DefaultProfile = `An Irish SME providing IT services, software development, digital ` +
	`transformation and managed infrastructure to public sector bodies. ` +
	`Typical contract size EUR 50,000 to EUR 2,000,000.`

var (
	validProviders = map[string]bool{"ollama": true, "anthropic": true}
	validDrivers   = map[string]bool{"sqlite": true, "postgres": true, "json": true, "csv": true, "xlsx": true}
	validSources   = map[string]bool{"csv": true, "xlsx": true, "json": true, "http": true}
)

// Validate checks settings that would make the given mode ("run", "serve"
// or "runs") fail part-way. Every failure is a CONFIGURATION_ERROR so a run
// aborts before processing.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be within 1-65535, got %d", c.Server.Port)
	}
	if mode == "runs" && c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		add("store.driver %q does not record runs", c.Store.Driver)
	}

	if c.Pipeline.Workers < 1 {
		add("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoffMs > 0 && c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		add("retry.initial_backoff_ms (%d) exceeds retry.max_backoff_ms (%d)", c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		add("retry.jitter_fraction must be within [0,1], got %v", c.Retry.JitterFraction)
	}
	if !validSources[c.Source.Kind] {
		add("source.kind %q is not one of csv, xlsx, json, http", c.Source.Kind)
	}
	if c.Source.Kind == "http" {
		if !strings.Contains(c.Source.URL, "{page}") {
			add("source.url must contain {page} for http sources")
		}
		if c.Source.EndPage < c.Source.StartPage {
			add("source.end_page (%d) is before source.start_page (%d)", c.Source.EndPage, c.Source.StartPage)
		}
	}
	if !validDrivers[c.Store.Driver] {
		add("store.driver %q is not one of sqlite, postgres, json, csv, xlsx", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		add("store.database_url is required for postgres")
	}
	needsCompletion := (c.Pipeline.Documents && c.Pipeline.ExtractFields) || c.Pipeline.Scoring
	if needsCompletion {
		if !validProviders[c.Completion.Provider] {
			add("completion.provider %q is not one of ollama, anthropic", c.Completion.Provider)
		}
		if c.Completion.Model == "" {
			add("completion.model is required")
		}
		if c.Completion.Provider == "anthropic" && c.Anthropic.Key == "" {
			add("anthropic.key is required for the anthropic provider")
		}
	}
	if c.Pipeline.Codes && c.Codes.ReferencePath == "" {
		add("codes.reference_path is required when code validation is enabled")
	}
	if mode == "serve" && c.Monitoring.Enabled && (c.Monitoring.SkipRateThreshold <= 0 || c.Monitoring.SkipRateThreshold > 1) {
		add("monitoring.skip_rate_threshold must be within (0,1], got %v", c.Monitoring.SkipRateThreshold)
	}
	if c.Document.MaxChars < 0 {
		add("document.max_chars must not be negative")
	}

	if len(problems) > 0 {
		return resilience.Classifiedf(model.ClassConfigurationError,
			"config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ScoringModelOrDefault returns the model used for recommendations, falling back to
// the extraction model.
func (c CompletionConfig) ScoringModelOrDefault() string {
	if c.ScoringModel != "" {
		return c.ScoringModel
	}
	return c.Model
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return resilience.NewClassified(model.ClassConfigurationError, eris.Wrap(err, "config: parse log level"))
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

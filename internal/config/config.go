package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Importer  ImporterConfig  `yaml:"importer" mapstructure:"importer"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig configures the Anthropic provider. Key, when set, acts as a
// lowest-priority platform credential.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures document-to-text conversion.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ExtractConfig configures the extraction gateway.
type ExtractConfig struct {
	TimeoutSecs     int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinContentChars int           `yaml:"min_content_chars" mapstructure:"min_content_chars"`
	RatePerMinute   int           `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	Retry           RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit         CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// Timeout returns the per-call deadline.
func (c ExtractConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryConfig configures retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LedgerConfig configures credit metering.
type LedgerConfig struct {
	ResetPeriodDays int `yaml:"reset_period_days" mapstructure:"reset_period_days"`
}

// ResetPeriod returns the usage reset period.
func (c LedgerConfig) ResetPeriod() time.Duration {
	return time.Duration(c.ResetPeriodDays) * 24 * time.Hour
}

// ImporterConfig configures the batch orchestrator.
type ImporterConfig struct {
	EventBuffer      int    `yaml:"event_buffer" mapstructure:"event_buffer"`
	NotifyWebhookURL string `yaml:"notify_webhook_url" mapstructure:"notify_webhook_url"`
	DefaultLocale    string `yaml:"default_locale" mapstructure:"default_locale"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("PROPIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to "" so AutomaticEnv can populate them.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "property-import.db")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("gemini.key", "")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("importer.notify_webhook_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("extract.timeout_secs", 120)
	v.SetDefault("extract.min_content_chars", 10)
	v.SetDefault("extract.rate_per_minute", 60)
	v.SetDefault("extract.retry.max_attempts", 3)
	v.SetDefault("extract.retry.initial_backoff_ms", 500)
	v.SetDefault("extract.retry.max_backoff_ms", 10000)
	v.SetDefault("extract.circuit.failure_threshold", 5)
	v.SetDefault("extract.circuit.reset_timeout_secs", 30)
	v.SetDefault("ledger.reset_period_days", 30)
	v.SetDefault("importer.event_buffer", 256)
	v.SetDefault("importer.default_locale", "en")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validation modes, one per command family.
const (
	ModeServe  = "serve"
	ModeImport = "import"
	ModeAdmin  = "admin"
)

// Validate checks that the keys required by mode are present and sane. All
// problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case ModeServe, ModeImport, ModeAdmin:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if !slices.Contains([]string{"postgres", "sqlite"}, c.Store.Driver) {
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == ModeServe || mode == ModeImport {
		if c.Extract.TimeoutSecs <= 0 {
			errs = append(errs, "extract.timeout_secs must be > 0")
		}
		if c.Extract.MinContentChars < 1 {
			errs = append(errs, "extract.min_content_chars must be >= 1")
		}
		if c.Extract.RatePerMinute < 0 {
			errs = append(errs, "extract.rate_per_minute must be >= 0")
		}
		if c.Extract.Retry.MaxAttempts < 1 || c.Extract.Retry.MaxAttempts > 10 {
			errs = append(errs, "extract.retry.max_attempts must be between 1 and 10")
		}
		switch c.OCR.Provider {
		case "", "local":
		case "mistral":
			if c.OCR.MistralKey == "" {
				errs = append(errs, "ocr.mistral_api_key is required for the mistral provider")
			}
		default:
			errs = append(errs, fmt.Sprintf("ocr.provider must be local or mistral, got %q", c.OCR.Provider))
		}
		if c.Ledger.ResetPeriodDays < 0 {
			errs = append(errs, "ledger.reset_period_days must be >= 0")
		}
	}

	if mode == ModeServe {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Importer.EventBuffer < 1 {
			errs = append(errs, "importer.event_buffer must be >= 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

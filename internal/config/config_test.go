package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml in a fresh temp dir.
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "property-import.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 120, cfg.Extract.TimeoutSecs)
	assert.Equal(t, 2*time.Minute, cfg.Extract.Timeout())
	assert.Equal(t, 10, cfg.Extract.MinContentChars)
	assert.Equal(t, 3, cfg.Extract.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Extract.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Ledger.ResetPeriodDays)
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.ResetPeriod())
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "en", cfg.Importer.DefaultLocale)
	assert.Equal(t, 256, cfg.Importer.EventBuffer)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/props
log:
  level: debug
  format: console
server:
  port: 9090
extract:
  timeout_secs: 30
  retry:
    max_attempts: 5
importer:
  notify_webhook_url: https://hooks.example.com/imports
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/props", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Extract.TimeoutSecs)
	assert.Equal(t, 5, cfg.Extract.Retry.MaxAttempts)
	assert.Equal(t, "https://hooks.example.com/imports", cfg.Importer.NotifyWebhookURL)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Extract.Retry.InitialBackoffMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("PROPIMPORT_STORE_DRIVER", "postgres")
	t.Setenv("PROPIMPORT_LOG_LEVEL", "warn")
	t.Setenv("PROPIMPORT_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PROPIMPORT_SERVER_PORT", "3000")
	t.Setenv("PROPIMPORT_EXTRACT_TIMEOUT_SECS", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Extract.TimeoutSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Extract.TimeoutSecs = 120
	cfg.Extract.MinContentChars = 10
	cfg.Extract.Retry.MaxAttempts = 3
	cfg.OCR.Provider = "local"
	cfg.Server.Port = 8080
	cfg.Importer.EventBuffer = 16
	return cfg
}

func TestValidate_AllModesPassWithDefaults(t *testing.T) {
	for _, mode := range []string{ModeServe, ModeImport, ModeAdmin} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}
}

func TestValidate_StoreRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate(ModeAdmin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_ExtractSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Extract.TimeoutSecs = 0
	cfg.Extract.MinContentChars = 0
	cfg.Extract.Retry.MaxAttempts = 11

	err := cfg.Validate(ModeImport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract.timeout_secs must be > 0")
	assert.Contains(t, err.Error(), "extract.min_content_chars must be >= 1")
	assert.Contains(t, err.Error(), "extract.retry.max_attempts must be between 1 and 10")

	// Admin commands never call a provider.
	assert.NoError(t, cfg.Validate(ModeAdmin))
}

func TestValidate_OCRProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "mistral"
	err := cfg.Validate(ModeImport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key is required")

	cfg.OCR.MistralKey = "key"
	assert.NoError(t, cfg.Validate(ModeImport))

	cfg.OCR.Provider = "tesseract"
	err = cfg.Validate(ModeImport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ocr.provider must be local or mistral, got "tesseract"`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate(ModeServe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")

	// Port only matters for serve.
	assert.NoError(t, cfg.Validate(ModeImport))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

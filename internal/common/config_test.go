package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colligo.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Jobs.PDFWorkers)
	assert.Equal(t, 2, cfg.Jobs.UnifiedWorkers)
	assert.Equal(t, 64, cfg.Jobs.QueueDepth)
	assert.Equal(t, "168h", cfg.Jobs.TerminalTTL)
	assert.Equal(t, 0.5, cfg.Matching.MinScore)
	assert.Equal(t, "balanced", cfg.Compression.Level)
	assert.Equal(t, "gemini", cfg.LLM.DefaultProvider)
	assert.True(t, cfg.Pipeline.LLMEnrichment)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
environment = "production"

[storage]
backend = "s3"

[storage.s3]
bucket = "corpus-artifacts"
region = "eu-west-1"

[jobs]
pdf_workers = 8
queue_depth = 16

[llm]
mode = "disabled"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "corpus-artifacts", cfg.Storage.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, 8, cfg.Jobs.PDFWorkers)
	assert.Equal(t, 16, cfg.Jobs.QueueDepth)
	assert.Equal(t, "disabled", cfg.LLM.Mode)

	// Untouched sections keep their defaults
	assert.Equal(t, 2, cfg.Jobs.UnifiedWorkers)
	assert.Equal(t, 10, cfg.PDF.MaxImages)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadBackend(t *testing.T) {
	path := writeConfigFile(t, `
[storage]
backend = "ftp"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadConfigRejectsBadCompressionLevel(t *testing.T) {
	path := writeConfigFile(t, `
[compression]
level = "turbo"
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadLLMMode(t *testing.T) {
	path := writeConfigFile(t, `
[llm]
mode = "sometimes"
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("COLLIGO_STORAGE_BACKEND", "badger")
	t.Setenv("COLLIGO_LLM_MODE", "no-credentials")
	t.Setenv("COLLIGO_PDF_WORKERS", "12")
	t.Setenv("GEMINI_API_KEY", "env-gemini-key")
	t.Setenv("ANTHROPIC_API_KEY", "env-claude-key")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "no-credentials", cfg.LLM.Mode)
	assert.Equal(t, 12, cfg.Jobs.PDFWorkers)
	assert.Equal(t, "env-gemini-key", cfg.Gemini.APIKey)
	assert.Equal(t, "env-claude-key", cfg.Claude.APIKey)
}

func TestLoadConfigEnvOverridesIgnoreBadNumbers(t *testing.T) {
	t.Setenv("COLLIGO_PDF_WORKERS", "many")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Jobs.PDFWorkers)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
}

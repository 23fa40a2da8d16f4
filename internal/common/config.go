package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Jobs        JobsConfig        `toml:"jobs"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	PDF         PDFConfig         `toml:"pdf"`
	Matching    MatchingConfig    `toml:"matching"`
	Compression CompressionConfig `toml:"compression"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Claude      ClaudeConfig      `toml:"claude"`
	LLM         LLMConfig         `toml:"llm"`
	Logging     LoggingConfig     `toml:"logging"`
}

// StorageConfig selects the blob store backend and its roots
type StorageConfig struct {
	Backend    string           `toml:"backend" validate:"oneof=local s3 badger"` // "local", "s3" or "badger"
	Local      LocalStoreConfig `toml:"local"`
	S3         S3StoreConfig    `toml:"s3"`
	Badger     BadgerConfig     `toml:"badger"`
	MaxRetries int              `toml:"max_retries"` // Retry attempts for transient storage errors
}

type LocalStoreConfig struct {
	Root string `toml:"root"` // Directory holding all job artefacts
}

type S3StoreConfig struct {
	Endpoint  string `toml:"endpoint"` // Custom endpoint for S3-compatible stores (empty = AWS)
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	PathStyle bool   `toml:"path_style"` // Required by most S3-compatible servers
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// JobsConfig controls orchestrator worker pools, queues and retention
type JobsConfig struct {
	PDFWorkers       int    `toml:"pdf_workers"`       // Concurrent PDF jobs (default 4)
	UnifiedWorkers   int    `toml:"unified_workers"`   // Concurrent unified JSON jobs (default 2)
	OtherWorkers     int    `toml:"other_workers"`     // Concurrent jobs of any other kind (default 4)
	QueueDepth       int    `toml:"queue_depth"`       // Per-kind queue depth before submissions are rejected
	MaxRetries       int    `toml:"max_retries"`       // Retry budget per job (default 3)
	TerminalTTL      string `toml:"terminal_ttl"`      // Retention for completed/failed job ledgers (duration)
	GCSchedule       string `toml:"gc_schedule"`       // Cron schedule for terminal job garbage collection
	MaxInputSize     int64  `toml:"max_input_size"`    // Maximum input blob size in bytes
	StatePrefix      string `toml:"state_prefix"`      // Blob prefix for serialised in-flight jobs
	ShutdownDeadline string `toml:"shutdown_deadline"` // Grace period on Stop before workers are abandoned
}

// PipelineConfig controls the unified JSON pipeline
type PipelineConfig struct {
	EnrichmentConcurrency int  `toml:"enrichment_concurrency"` // In-flight LLM enrichments (default 8)
	LLMEnrichment         bool `toml:"llm_enrichment"`         // Default enrichment toggle for json-unified
	DetectionSample       int  `toml:"detection_sample"`       // Top-level items inspected for structure detection
	LLMRepair             bool `toml:"llm_repair"`             // Allow LLM-assisted JSON repair on bounded fragments
}

// PDFConfig controls the PDF extraction pipeline
type PDFConfig struct {
	MaxImages       int     `toml:"max_images"`       // Default vision-call cap per document (default 10)
	RasterDPI       int     `toml:"raster_dpi"`       // Fixed DPI for page rasterisation
	RasterThreshold float64 `toml:"raster_threshold"` // Auto-raster heuristic score threshold
	SurroundingText int     `toml:"surrounding_text"` // Character cap for per-image surrounding text
	Language        string  `toml:"language" validate:"omitempty,oneof=fr en"`
}

// MatchingConfig controls cross-source link discovery
type MatchingConfig struct {
	MinScore      float64 `toml:"min_score"`      // Minimum match score (default 0.5)
	TitleJaccard  float64 `toml:"title_jaccard"`  // Jaccard floor before title similarity contributes
	ShingleLength int     `toml:"shingle_length"` // Token shingle length for the candidate index
}

type CompressionConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=fast balanced max"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // Default: "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string
	Temperature float32 `toml:"temperature"` // Advisory; ignored by providers that disallow it
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"` // Default: "claude-sonnet-4-20250514"
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMConfig contains provider-independent gateway configuration
type LLMConfig struct {
	DefaultProvider string `toml:"default_provider" validate:"omitempty,oneof=gemini claude"`
	Mode            string `toml:"mode" validate:"omitempty,oneof=full no-credentials disabled"`
	MaxRetries      int    `toml:"max_retries"`    // Transient failure retries (default 3)
	SchemaRetries   int    `toml:"schema_retries"` // Extra attempts after schema violations (default 2)
	MaxConcurrent   int    `toml:"max_concurrent"` // Gateway-wide in-flight call cap (default 8)
	RateLimit       string `toml:"rate_limit"`     // Minimum spacing between calls, duration string
	VisionModel     string `toml:"vision_model"`   // Model used for image description
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// LoadConfig reads the TOML configuration file, applies defaults and
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides reads environment variables once at load time.
// Components receive configuration by value and never touch the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COLLIGO_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("COLLIGO_STORAGE_ROOT"); v != "" {
		cfg.Storage.Local.Root = v
	}
	if v := os.Getenv("COLLIGO_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("COLLIGO_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("COLLIGO_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("COLLIGO_S3_SECRET_KEY"); v != "" {
		cfg.Storage.S3.SecretKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Claude.APIKey = v
	}
	if v := os.Getenv("COLLIGO_LLM_MODE"); v != "" {
		cfg.LLM.Mode = v
	}
	if v := os.Getenv("COLLIGO_PDF_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Jobs.PDFWorkers = n
		}
	}
	if v := os.Getenv("COLLIGO_UNIFIED_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Jobs.UnifiedWorkers = n
		}
	}
	if v := os.Getenv("COLLIGO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ParseDuration parses a duration string with a fallback default
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

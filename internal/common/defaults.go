package common

// DefaultConfig returns the baseline configuration before file and
// environment overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Backend: "local",
			Local: LocalStoreConfig{
				Root: "./data/blobs",
			},
			S3: S3StoreConfig{
				Region: "us-east-1",
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			MaxRetries: 5,
		},
		Jobs: JobsConfig{
			PDFWorkers:       4,
			UnifiedWorkers:   2,
			OtherWorkers:     4,
			QueueDepth:       64,
			MaxRetries:       3,
			TerminalTTL:      "168h",
			GCSchedule:       "@hourly",
			MaxInputSize:     512 * 1024 * 1024,
			StatePrefix:      "jobs/pending",
			ShutdownDeadline: "30s",
		},
		Pipeline: PipelineConfig{
			EnrichmentConcurrency: 8,
			LLMEnrichment:         true,
			DetectionSample:       64,
			LLMRepair:             true,
		},
		PDF: PDFConfig{
			MaxImages:       10,
			RasterDPI:       150,
			RasterThreshold: 0.6,
			SurroundingText: 500,
			Language:        "en",
		},
		Matching: MatchingConfig{
			MinScore:      0.5,
			TitleJaccard:  0.4,
			ShingleLength: 3,
		},
		Compression: CompressionConfig{
			Level: "balanced",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "2m",
			Temperature: 0.3,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Timeout:     "2m",
			Temperature: 0.3,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Mode:            "full",
			MaxRetries:      3,
			SchemaRetries:   2,
			MaxConcurrent:   8,
			RateLimit:       "250ms",
			VisionModel:     "gemini-3-flash-preview",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

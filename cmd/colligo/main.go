package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/jobs"
	"github.com/ternarybob/colligo/internal/ledger"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/compress"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/mapper"
	"github.com/ternarybob/colligo/internal/services/match"
	"github.com/ternarybob/colligo/internal/services/pdf"
	"github.com/ternarybob/colligo/internal/services/reader"
	"github.com/ternarybob/colligo/internal/services/scrub"
	"github.com/ternarybob/colligo/internal/services/unified"
	"github.com/ternarybob/colligo/internal/services/vision"
	"github.com/ternarybob/colligo/internal/storage"
)

var (
	configPath     = flag.String("config", "", "Configuration file path")
	showVersion    = flag.Bool("version", false, "Print version information")
	jobKind        = flag.String("kind", "", "Job kind: pdf, json-unified, json-single, compress, clean, split")
	language       = flag.String("language", "", "Output language: fr or en (overrides config)")
	rasterMode     = flag.String("raster-mode", "", "Page rasterisation: auto, manual or off")
	rasterPages    = flag.String("raster-pages", "", "Comma-separated pages for manual rasterisation")
	maxImages      = flag.Int("max-images", -1, "Vision-call budget per document")
	noEnrichment   = flag.Bool("no-enrich", false, "Disable LLM enrichment")
	minMatchScore  = flag.Float64("min-score", -1, "Minimum cross-source match score")
	itemsPerChunk  = flag.Int("items-per-chunk", 0, "Items per output file for split jobs")
	compressLevel  = flag.String("level", "", "Compression level: fast, balanced or max")
	preserveSource = flag.Bool("preserve-source", false, "Never mutate uploaded input blobs")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Colligo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if *configPath == "" {
		if _, err := os.Stat("colligo.toml"); err == nil {
			*configPath = "colligo.toml"
		}
	}

	config, err := common.LoadConfig(*configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if *jobKind == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: colligo -kind <kind> [options] <input file>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	store, err := storage.NewBlobStore(context.Background(), &config.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer store.Close()

	progressLedger := ledger.NewLedger(store, logger)

	factory := llm.NewProviderFactory(&config.Gemini, &config.Claude, &config.LLM, logger)
	gateway := llm.NewGateway(factory, &config.LLM, logger)
	defer gateway.Close()

	describer := vision.NewDescriber(gateway, &config.LLM, logger)
	extractor := pdf.NewExtractor(store, describer, &config.PDF, logger)

	jsonReader := reader.NewService(gateway, config.Pipeline.LLMRepair, logger)
	detector := mapper.NewDetector(config.Pipeline.DetectionSample, logger)
	mappingEngine := mapper.NewEngine(logger)
	scrubber := scrub.NewScrubber(logger)
	matcher := match.NewEngine(&config.Matching, logger)
	pipeline := unified.NewPipeline(store, jsonReader, detector, mappingEngine, scrubber, gateway, matcher, &config.Pipeline, logger)
	compressor := compress.NewCompressor(store, &config.Compression, logger)

	manager := jobs.NewManager(&config.Jobs, store, progressLedger, extractor, pipeline, compressor, logger)
	if err := manager.Start(context.Background()); err != nil {
		return err
	}
	defer manager.Stop()

	inputs, err := readInputs(flag.Args())
	if err != nil {
		return err
	}

	job, err := manager.Submit(context.Background(), models.JobKind(*jobKind), inputs, buildOptions())
	if err != nil {
		return err
	}
	logger.Info().Str("job_id", job.ID).Str("kind", *jobKind).Msg("Job submitted, waiting for completion")

	return waitForJob(manager, job.ID, logger)
}

// readInputs loads every argument file into a submission input
func readInputs(paths []string) ([]interfaces.SubmitInput, error) {
	var inputs []interfaces.SubmitInput
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", path, err)
		}
		inputs = append(inputs, interfaces.SubmitInput{
			Name: filepath.Base(path),
			Data: data,
		})
	}
	return inputs, nil
}

// buildOptions translates CLI flags into job options
func buildOptions() models.JobOptions {
	opts := models.JobOptions{
		RasterMode:       *rasterMode,
		Language:         *language,
		ItemsPerChunk:    *itemsPerChunk,
		CompressionLevel: *compressLevel,
		PreserveSource:   *preserveSource,
	}
	if *maxImages >= 0 {
		v := *maxImages
		opts.MaxImages = &v
	}
	if *noEnrichment {
		v := false
		opts.LLMEnrichment = &v
	}
	if *minMatchScore >= 0 {
		v := *minMatchScore
		opts.MinMatchScore = &v
	}
	if *rasterPages != "" {
		for _, part := range strings.Split(*rasterPages, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				opts.RasterPages = append(opts.RasterPages, n)
			}
		}
	}
	return opts
}

// waitForJob polls until the job settles, cancelling it on SIGINT/SIGTERM
func waitForJob(manager interfaces.JobManager, jobID string, logger arbor.ILogger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		select {
		case <-sigCh:
			logger.Warn().Str("job_id", jobID).Msg("Interrupt received, cancelling job")
			if err := manager.Cancel(jobID); err != nil {
				return err
			}
		case <-ticker.C:
			job, err := manager.Get(jobID)
			if err != nil {
				return err
			}
			if job.Progress != lastProgress {
				lastProgress = job.Progress
				logger.Info().
					Str("status", string(job.Status)).
					Float64("progress", job.Progress).
					Msg("Job progress")
			}

			switch job.Status {
			case models.JobStatusCompleted:
				for _, key := range job.Result.OutputKeys {
					fmt.Println(key)
				}
				logger.Info().Str("manifest", job.Result.ManifestKey).Msg("Job completed")
				return nil
			case models.JobStatusFailed:
				return fmt.Errorf("job failed: %s", job.LastError)
			case models.JobStatusPaused:
				logger.Info().Str("job_id", jobID).Msg("Job paused")
				return nil
			}
		}
	}
}

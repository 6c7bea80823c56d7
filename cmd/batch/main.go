package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/brandtone/brandtone/internal/batch"
	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/export"
	"github.com/brandtone/brandtone/internal/format"
	"github.com/brandtone/brandtone/internal/llm"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/brandtone/brandtone/internal/store"
	"github.com/brandtone/brandtone/internal/tone"
)

func main() {
	var (
		configPath   = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		scanDir      = flag.Bool("dir", false, "Process every file matching the configured pattern in the batch input directory")
		batchSize    = flag.Int("batch-size", 0, "Batch size for processing (0 uses the configured value)")
		workers      = flag.Int("workers", 0, "Number of worker goroutines (0 uses the configured value)")
		convert      = flag.Bool("convert", false, "Convert records that name a tone before the fix pass")
		skipFix      = flag.Bool("skip-fix", false, "Skip the formatting fix pass")
		skipReport   = flag.Bool("skip-report", false, "Skip writing the summary report")
		validateOnly = flag.Bool("validate-only", false, "Only validate data, don't process")
		dryRun       = flag.Bool("dry-run", false, "Dry run - don't write output or history")
		showStats    = flag.Bool("stats", false, "Show conversion history statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*scanDir && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input copy.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input copy.parquet --workers 8 --convert\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input copy.jsonl --dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir --convert\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting BrandTone dataset pipeline",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Initialize services
	services, err := initializeServices(cfg, *convert, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup(log)

	switch {
	case *showStats:
		if err := showHistoryStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	default:
		opts := batch.Options{
			BatchSize:     pick(*batchSize, cfg.Batch.BatchSize),
			Workers:       pick(*workers, cfg.Batch.Workers),
			FixEnabled:    cfg.Batch.FixEnabled && !*skipFix,
			Convert:       *convert,
			DryRun:        *dryRun,
			ValidateOnly:  *validateOnly,
			OutputDir:     cfg.Batch.OutputDir,
			Model:         cfg.Upstream.Model,
			ProgressEvery: 1000,
		}

		inputs, err := resolveInputs(*inputFile, cfg.Batch)
		if err != nil {
			log.Fatal("Failed to resolve input files", zap.Error(err))
		}

		results := make([]*batch.Result, 0, len(inputs))
		for _, file := range inputs {
			if ctx.Err() != nil {
				break
			}
			result, err := processDataset(ctx, services, opts, file, log)
			if err != nil {
				log.Fatal("Dataset processing failed", zap.Error(err))
			}
			results = append(results, result)
		}

		if !*skipReport && len(results) > 0 {
			writeReport(cfg, results, log)
		}
	}

	log.Info("Dataset pipeline finished")
}

// services holds the initialized pipeline dependencies
type services struct {
	engine    *format.Engine
	converter *tone.Converter
	history   *store.Store
}

func (s *services) cleanup(log *logger.Logger) {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Error("Failed to close history store", zap.Error(err))
		}
	}
}

// initializeServices builds the rule engine, and the converter and history
// store when the run needs them
func initializeServices(cfg *config.Config, convert bool, log *logger.Logger) (*services, error) {
	services := &services{}

	log.Info("Initializing rule engine...")
	engine, err := format.New(cfg.Engine, log.WithComponent("engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	services.engine = engine

	if convert {
		log.Info("Initializing tone converter...")
		client, err := llm.New(cfg.Upstream, log.WithComponent("llm"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upstream client: %w", err)
		}
		registry := tone.NewRegistry(cfg.Tones, log.WithComponent("tones"))
		services.converter = tone.NewConverter(registry, client, log.WithComponent("converter"))
	}

	if cfg.Store.Enabled {
		log.Info("Initializing history store...")
		history, err := store.New(cfg.Store, log.WithComponent("store"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize history store: %w", err)
		}
		services.history = history
	}

	return services, nil
}

// pick prefers the flag value when it is set
func pick(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

// resolveInputs returns the explicit input file, or every file in the
// configured input directory matching the configured pattern
func resolveInputs(inputFile string, cfg config.BatchConfig) ([]string, error) {
	if inputFile != "" {
		return []string{inputFile}, nil
	}

	pattern := filepath.Join(cfg.InputDir, cfg.FilePattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no input files match %s", pattern)
	}
	return matches, nil
}

// processDataset runs the pipeline over the input file
func processDataset(ctx context.Context, services *services, opts batch.Options, inputFile string, log *logger.Logger) (*batch.Result, error) {
	log.Info("Processing dataset",
		zap.String("file", inputFile),
		zap.Bool("validate_only", opts.ValidateOnly),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("convert", opts.Convert))

	// Check if file exists
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("input file does not exist: %s", inputFile)
	}

	pipeline := batch.NewPipeline(services.engine, services.converter, services.history, opts, log.WithComponent("batch"))

	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline processing failed: %w", err)
	}

	rate := 0.0
	if result.Duration > 0 {
		rate = float64(result.TotalRecords) / result.Duration.Seconds()
	}

	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("violations_found", result.ViolationsFound),
		zap.Int64("fixes_applied", result.FixesApplied),
		zap.Int64("converted", result.Converted),
		zap.Int64("stored", result.Stored),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("fix_time", result.FixTime),
		zap.Duration("convert_time", result.ConvertTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Float64("records_per_second", rate))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return result, nil
}

// writeReport saves the run results as a JSON report in the configured
// report directory
func writeReport(cfg *config.Config, results []*batch.Result, log *logger.Logger) {
	writer := export.NewWriter(config.ExportConfig{
		OutputDir:  cfg.Batch.ReportDir,
		Format:     "json",
		FilePrefix: "batch_report",
	}, log.WithComponent("export"))

	path, err := writer.SaveJSON(results)
	if err != nil {
		log.Warn("Failed to write summary report", zap.Error(err))
		return
	}
	log.Info("Summary report written", zap.String("path", path), zap.Int("files", len(results)))
}

// showHistoryStats displays conversion history statistics
func showHistoryStats(ctx context.Context, services *services) error {
	if services.history == nil {
		return fmt.Errorf("history store is not enabled")
	}

	stats, err := services.history.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get history stats: %w", err)
	}

	fmt.Printf("\n=== BrandTone Conversion History ===\n")
	fmt.Printf("Total Conversions:  %d\n", stats.TotalConversions)
	fmt.Printf("Total Violations:   %d\n", stats.TotalViolations)
	fmt.Printf("Total Fixes:        %d\n", stats.TotalFixes)
	fmt.Printf("Avg Violations:     %.2f\n", stats.AvgViolations)
	fmt.Printf("QA Pass Rate:       %.1f%%\n", stats.QAPassRate)

	if len(stats.ByTone) > 0 {
		fmt.Printf("\n=== Conversions By Tone ===\n")
		for tone, count := range stats.ByTone {
			fmt.Printf("%-12s %d\n", tone, count)
		}
	}

	return nil
}

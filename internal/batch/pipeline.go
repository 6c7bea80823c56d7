package batch

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/brandtone/brandtone/internal/format"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/brandtone/brandtone/internal/store"
	"github.com/brandtone/brandtone/internal/tone"
)

const (
	maxTextLength     = 10000
	maxReportedErrors = 20
)

// Pipeline runs the formatting cleanup, and optionally tone conversion,
// over whole copy datasets
type Pipeline struct {
	engine    *format.Engine
	converter *tone.Converter
	history   *store.Store
	options   Options
	logger    *logger.Logger

	mu    sync.RWMutex
	stats *Stats

	output     *json.Encoder
	outputFile *os.File
	runID      int64
	seq        int64
}

// outcome carries the per-record result out of the worker pool
type outcome struct {
	source      string
	text        string
	tone        string
	model       string
	report      *format.FixReport
	converted   bool
	fixTime     time.Duration
	convertTime time.Duration
	err         error
}

// NewPipeline creates a dataset pipeline. The converter and history store
// are optional; a nil converter disables tone conversion and a nil store
// skips persistence.
func NewPipeline(engine *format.Engine, converter *tone.Converter, history *store.Store, options Options, log *logger.Logger) *Pipeline {
	if options.BatchSize < 1 {
		options.BatchSize = 100
	}
	if options.Workers < 1 {
		options.Workers = 1
	}
	if options.ProgressEvery < 1 {
		options.ProgressEvery = 1000
	}

	return &Pipeline{
		engine:    engine,
		converter: converter,
		history:   history,
		options:   options,
		logger:    log,
		stats: &Stats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile runs the pipeline over a dataset file (CSV, Parquet, or JSON
// lines) and returns run totals
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*Result, error) {
	p.logger.Info("Starting dataset pipeline",
		zap.String("file", filePath),
		zap.Int("batch_size", p.options.BatchSize),
		zap.Int("workers", p.options.Workers),
		zap.Bool("dry_run", p.options.DryRun),
		zap.Bool("validate_only", p.options.ValidateOnly))

	start := time.Now()
	result := &Result{
		InputFile: filePath,
		RuleHits:  make(map[string]int64),
	}

	p.resetStats()
	p.runID = start.UnixNano()
	p.seq = 0

	if err := p.openOutput(filePath, result); err != nil {
		return result, err
	}
	defer p.closeOutput()

	fileFormat := DetectFormat(filePath)
	p.logger.Info("Detected dataset format", zap.String("format", string(fileFormat)))

	var err error
	switch fileFormat {
	case FormatCSV:
		err = p.processCSV(ctx, filePath, result)
	case FormatParquet:
		err = p.processParquet(ctx, filePath, result)
	case FormatJSON:
		err = p.processJSON(ctx, filePath, result)
	default:
		err = fmt.Errorf("unsupported dataset format: %s", fileFormat)
	}
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", fileFormat, err)
	}

	result.Duration = time.Since(start)

	p.logger.Info("Dataset pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("violations_found", result.ViolationsFound),
		zap.Int64("fixes_applied", result.FixesApplied),
		zap.Int64("converted", result.Converted),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// openOutput prepares the cleaned dataset file when an output directory is
// configured. Validate-only and dry-run passes never write one.
func (p *Pipeline) openOutput(inputPath string, result *Result) error {
	if p.options.OutputDir == "" || p.options.ValidateOnly || p.options.DryRun {
		return nil
	}

	if err := os.MkdirAll(p.options.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outPath := filepath.Join(p.options.OutputDir, base+"_clean.jsonl")

	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	p.outputFile = file
	p.output = json.NewEncoder(file)
	result.OutputFile = outPath
	return nil
}

func (p *Pipeline) closeOutput() {
	if p.outputFile == nil {
		return
	}
	if err := p.outputFile.Close(); err != nil {
		p.logger.Warn("Failed to close output file", zap.Error(err))
	}
	p.outputFile = nil
	p.output = nil
}

// processCSV reads a text,tone dataset with a header row
func (p *Pipeline) processCSV(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2 // text, tone

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*Record, error) {
		var batch []*Record

		for len(batch) < p.options.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV row", zap.Error(err))
				result.Invalid++
				continue
			}

			record := &Record{
				Text: strings.TrimSpace(row[0]),
				Tone: strings.TrimSpace(row[1]),
			}
			p.trackRead(record, result, &batch)
		}

		return batch, nil
	}, result)
}

func (p *Pipeline) processParquet(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*Record, error) {
		var batch []*Record

		for len(batch) < p.options.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("parquet read: %w", err)
			}
			p.trackRead(&record, result, &batch)
		}

		return batch, nil
	}, result)
}

// processJSON reads one JSON object per line
func (p *Pipeline) processJSON(ctx context.Context, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]*Record, error) {
		var batch []*Record

		for len(batch) < p.options.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("json decode: %w", err)
			}
			p.trackRead(&record, result, &batch)
		}

		return batch, nil
	}, result)
}

// trackRead validates a freshly read record and either queues it or counts
// it out
func (p *Pipeline) trackRead(record *Record, result *Result, batch *[]*Record) {
	valid := p.validateRecord(record)

	p.mu.Lock()
	p.stats.RecordsRead++
	if valid {
		p.stats.RecordsValid++
	} else {
		p.stats.RecordsInvalid++
	}
	p.mu.Unlock()

	if !valid {
		result.Invalid++
		return
	}
	*batch = append(*batch, record)
}

// processBatches drains the reader in batch-size chunks
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*Record, error), result *Result) error {
	var lastReport int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.mu.Unlock()

		result.TotalRecords += int64(len(batch))

		if p.options.ValidateOnly {
			result.ProcessedOK += int64(len(batch))
			continue
		}

		if err := p.processBatch(ctx, batch, result); err != nil {
			p.logger.Error("Batch processing failed", zap.Error(err))
			result.Errors = append(result.Errors, err.Error())
		}

		if result.TotalRecords-lastReport >= int64(p.options.ProgressEvery) {
			p.reportProgress(result)
			lastReport = result.TotalRecords
		}
	}

	return nil
}

// processBatch runs the conversion and fix passes over one batch with a
// worker pool, then persists the survivors
func (p *Pipeline) processBatch(ctx context.Context, batch []*Record, result *Result) error {
	outcomes := make([]outcome, len(batch))
	jobs := make(chan int)

	workers := p.options.Workers
	if workers > len(batch) {
		workers = len(batch)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.processRecord(ctx, batch[i])
			}
		}()
	}

	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var records []*store.Record
	for _, out := range outcomes {
		result.FixTime += out.fixTime
		result.ConvertTime += out.convertTime

		if out.err != nil {
			result.ProcessedFailed++
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, out.err.Error())
			}
			continue
		}

		result.ProcessedOK++
		if out.converted {
			result.Converted++
		}

		violations, fixes := 0, 0
		var rules []string
		if out.report != nil {
			violations = out.report.ViolationsFound
			fixes = countFixes(out.report)
			rules = out.report.RulesTriggered
			result.ViolationsFound += int64(violations)
			result.FixesApplied += int64(fixes)
			for _, rule := range rules {
				result.RuleHits[rule]++
			}
		}

		if p.output != nil {
			if err := p.output.Encode(Record{Text: out.text, Tone: out.tone}); err != nil {
				return fmt.Errorf("failed to write output record: %w", err)
			}
		}

		if p.history != nil && !p.options.DryRun {
			p.seq++
			records = append(records, &store.Record{
				RequestID:       fmt.Sprintf("batch_%d_%d", p.runID, p.seq),
				SourceText:      out.source,
				ResultText:      out.text,
				Tone:            out.tone,
				Model:           out.model,
				ViolationsFound: violations,
				FixesApplied:    fixes,
				RulesTriggered:  pq.StringArray(rules),
			})
		}
	}

	if len(records) > 0 {
		dbStart := time.Now()
		batchResult, err := p.history.BatchInsert(ctx, records)
		if err != nil {
			return fmt.Errorf("history batch insert failed: %w", err)
		}
		result.DatabaseTime += time.Since(dbStart)
		result.Stored += batchResult.Inserted

		p.logger.Debug("Batch persisted",
			zap.Int64("inserted", batchResult.Inserted),
			zap.Int64("failed", batchResult.Failed),
			zap.Duration("duration", time.Since(dbStart)))
	}

	return nil
}

// processRecord converts one record when it names a tone, then applies the
// fix pass to whatever text survives
func (p *Pipeline) processRecord(ctx context.Context, record *Record) outcome {
	out := outcome{
		source: record.Text,
		text:   record.Text,
		tone:   record.Tone,
	}

	if p.options.Convert && p.converter != nil && record.Tone != "" {
		convertStart := time.Now()
		conversion, err := p.converter.Convert(ctx, record.Text, record.Tone)
		out.convertTime = time.Since(convertStart)
		if err != nil {
			out.err = fmt.Errorf("conversion failed: %w", err)
			return out
		}
		out.text = conversion.ConvertedText
		out.model = p.options.Model
		out.converted = true
	}

	if p.options.FixEnabled {
		fixStart := time.Now()
		fixed, report, err := p.engine.FixViolations(out.text)
		out.fixTime = time.Since(fixStart)
		if err != nil {
			out.err = fmt.Errorf("fix pass failed: %w", err)
			return out
		}
		out.text = fixed
		out.report = report
	}

	return out
}

// validateRecord rejects records the pipeline cannot sensibly process
func (p *Pipeline) validateRecord(record *Record) bool {
	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		return false
	}
	if len(record.Text) > maxTextLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		return false
	}
	return true
}

func (p *Pipeline) reportProgress(result *Result) {
	p.mu.RLock()
	elapsed := time.Since(p.stats.StartTime)
	p.mu.RUnlock()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(result.TotalRecords) / elapsed.Seconds()
	}

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &Stats{
		StartTime: time.Now(),
	}
}

// GetStats returns a snapshot of live pipeline statistics
func (p *Pipeline) GetStats() *Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	if elapsed := time.Since(stats.StartTime); elapsed > 0 {
		stats.ProcessingRate = float64(stats.RecordsRead) / elapsed.Seconds()
	}
	return &stats
}

// countFixes totals the fix entries across all rules in a report
func countFixes(report *format.FixReport) int {
	total := 0
	for _, changes := range report.FixesApplied {
		total += len(changes)
	}
	return total
}

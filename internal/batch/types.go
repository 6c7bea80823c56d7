package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is a single row from a copy dataset. The tone column is optional;
// records that name one can be routed through tone conversion.
type Record struct {
	Text string `csv:"text" parquet:"text" json:"text"`
	Tone string `csv:"tone" parquet:"tone" json:"tone"`
}

// Options control a single pipeline run
type Options struct {
	BatchSize     int
	Workers       int
	FixEnabled    bool
	Convert       bool
	DryRun        bool
	ValidateOnly  bool
	OutputDir     string
	Model         string
	ProgressEvery int
}

// Result summarizes a dataset run
type Result struct {
	InputFile       string           `json:"input_file"`
	TotalRecords    int64            `json:"total_records"`
	ProcessedOK     int64            `json:"processed_ok"`
	ProcessedFailed int64            `json:"processed_failed"`
	Invalid         int64            `json:"invalid"`
	ViolationsFound int64            `json:"violations_found"`
	FixesApplied    int64            `json:"fixes_applied"`
	Converted       int64            `json:"converted"`
	Stored          int64            `json:"stored"`
	RuleHits        map[string]int64 `json:"rule_hits,omitempty"`
	Duration        time.Duration    `json:"duration"`
	FixTime         time.Duration    `json:"fix_time"`
	ConvertTime     time.Duration    `json:"convert_time"`
	DatabaseTime    time.Duration    `json:"database_time"`
	OutputFile      string           `json:"output_file,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
}

// Stats tracks live statistics for a running pipeline
type Stats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// Format represents supported dataset file formats
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// DetectFormat detects the dataset format from the file extension
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl":
		return FormatJSON
	default:
		return FormatCSV
	}
}

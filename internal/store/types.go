package store

import (
	"time"

	"github.com/lib/pq"
)

// Record is a persisted conversion with its cleanup counters
type Record struct {
	ID              int64          `db:"id" json:"id"`
	RequestID       string         `db:"request_id" json:"request_id,omitempty"`
	SourceText      string         `db:"source_text" json:"source_text"`
	ResultText      string         `db:"result_text" json:"result_text"`
	Tone            string         `db:"tone" json:"tone"`
	Model           string         `db:"model" json:"model,omitempty"`
	ViolationsFound int            `db:"violations_found" json:"violations_found"`
	FixesApplied    int            `db:"fixes_applied" json:"fixes_applied"`
	RulesTriggered  pq.StringArray `db:"rules_triggered" json:"rules_triggered"`
	ToneAccuracy    *float64       `db:"tone_accuracy" json:"tone_accuracy,omitempty"`
	QAPassed        *bool          `db:"qa_passed" json:"qa_passed,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// Stats summarizes the stored conversion history
type Stats struct {
	TotalConversions int64            `json:"total_conversions"`
	TotalViolations  int64            `json:"total_violations"`
	TotalFixes       int64            `json:"total_fixes"`
	AvgViolations    float64          `json:"avg_violations"`
	QAPassRate       float64          `json:"qa_pass_rate"`
	ByTone           map[string]int64 `json:"by_tone"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"errors,omitempty"`
}

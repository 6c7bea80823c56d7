package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversions (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	source_text TEXT NOT NULL,
	result_text TEXT NOT NULL,
	tone TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	violations_found INTEGER NOT NULL DEFAULT 0,
	fixes_applied INTEGER NOT NULL DEFAULT 0,
	rules_triggered TEXT[] NOT NULL DEFAULT '{}',
	tone_accuracy DOUBLE PRECISION,
	qa_passed BOOLEAN,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversions_tone ON conversions (tone);
`

// Store persists conversion history in PostgreSQL
type Store struct {
	db     *sqlx.DB
	config config.StoreConfig
	logger *logger.Logger
}

// New connects to the database and ensures the schema exists
func New(cfg config.StoreConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)

	store := &Store{
		db:     db,
		config: cfg,
		logger: log,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("Conversion store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_conns", cfg.MaxConns))

	return store, nil
}

// initialize checks the connection and creates the conversions table
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Insert saves a conversion record and fills in its ID and timestamp
func (s *Store) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO conversions (request_id, source_text, result_text, tone, model, violations_found, fixes_applied, rules_triggered, tone_accuracy, qa_passed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		record.RequestID,
		record.SourceText,
		record.ResultText,
		record.Tone,
		record.Model,
		record.ViolationsFound,
		record.FixesApplied,
		pq.Array(record.RulesTriggered),
		record.ToneAccuracy,
		record.QAPassed,
	).Scan(&record.ID, &record.CreatedAt)

	if err != nil {
		s.logger.Error("Failed to save conversion",
			zap.Error(err),
			zap.String("tone", record.Tone))
		return fmt.Errorf("failed to save conversion: %w", err)
	}

	s.logger.Debug("Conversion saved",
		zap.Int64("id", record.ID),
		zap.String("tone", record.Tone))

	return nil
}

// BatchInsert saves multiple conversion records in one statement
func (s *Store) BatchInsert(ctx context.Context, records []*Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*10)

	for i, record := range records {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*10+1, i*10+2, i*10+3, i*10+4, i*10+5, i*10+6, i*10+7, i*10+8, i*10+9, i*10+10))
		valueArgs = append(valueArgs,
			record.RequestID,
			record.SourceText,
			record.ResultText,
			record.Tone,
			record.Model,
			record.ViolationsFound,
			record.FixesApplied,
			pq.Array(record.RulesTriggered),
			record.ToneAccuracy,
			record.QAPassed,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO conversions (request_id, source_text, result_text, tone, model, violations_found, fixes_applied, rules_triggered, tone_accuracy, qa_passed)
		VALUES %s`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(records))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Failed = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// Recent returns the most recent conversions, newest first. A limit of
// zero, or one above the configured cap, falls back to the cap.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > s.config.HistoryLimit {
		limit = s.config.HistoryLimit
	}

	query := `
		SELECT id, request_id, source_text, result_text, tone, model,
			violations_found, fixes_applied, rules_triggered, tone_accuracy, qa_passed, created_at
		FROM conversions
		ORDER BY created_at DESC
		LIMIT $1`

	records := []*Record{}
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to load conversion history: %w", err)
	}

	return records, nil
}

// GetStats returns aggregate statistics over the stored history
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByTone: make(map[string]int64)}

	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(violations_found), 0) as violations,
			COALESCE(SUM(fixes_applied), 0) as fixes,
			COALESCE(AVG(violations_found), 0) as avg_violations,
			CASE
				WHEN COUNT(qa_passed) > 0 THEN COUNT(CASE WHEN qa_passed THEN 1 END)::float / COUNT(qa_passed)::float * 100
				ELSE 0
			END as qa_pass_rate
		FROM conversions`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalConversions,
		&stats.TotalViolations,
		&stats.TotalFixes,
		&stats.AvgViolations,
		&stats.QAPassRate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tone, COUNT(*)
		FROM conversions
		GROUP BY tone
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get tone breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tone string
		var count int64
		if err := rows.Scan(&tone, &count); err != nil {
			s.logger.Error("Failed to scan tone breakdown row", zap.Error(err))
			continue
		}
		stats.ByTone[tone] = count
	}

	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides credentials in connection strings for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

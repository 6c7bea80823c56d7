package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"go.uber.org/zap"
)

// Writer saves conversion results to timestamped files on disk
type Writer struct {
	config config.ExportConfig
	logger *logger.Logger
}

// NewWriter creates a result writer
func NewWriter(cfg config.ExportConfig, log *logger.Logger) *Writer {
	return &Writer{
		config: cfg,
		logger: log,
	}
}

// Save writes content to a new file in the output directory and returns
// its path. An empty format falls back to the configured default. JSON
// exports wrap the content in an object so the file parses on its own.
func (w *Writer) Save(content, format string) (string, error) {
	if format == "" {
		format = w.config.Format
	}

	switch format {
	case "txt", "json":
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}

	if err := os.MkdirAll(w.config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.%s", w.config.FilePrefix, timestamp, format)
	path := filepath.Join(w.config.OutputDir, filename)

	data := []byte(content)
	if format == "json" {
		encoded, err := json.MarshalIndent(map[string]string{"content": content}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode export: %w", err)
		}
		data = encoded
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	w.logger.Info("Result exported",
		zap.String("path", path),
		zap.String("format", format))

	return path, nil
}

// SaveJSON marshals v and writes it to a new JSON file in the output
// directory, for structured reports rather than plain copy.
func (w *Writer) SaveJSON(v interface{}) (string, error) {
	if err := os.MkdirAll(w.config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.json", w.config.FilePrefix, timestamp)
	path := filepath.Join(w.config.OutputDir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	w.logger.Info("Report exported", zap.String("path", path))

	return path, nil
}

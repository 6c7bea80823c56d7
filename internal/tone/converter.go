package tone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandtone/brandtone/internal/logger"
	"go.uber.org/zap"
)

// ErrUnknownTone indicates a conversion request for a tone that is not
// registered.
var ErrUnknownTone = errors.New("unknown tone profile")

// Generator produces text from a prompt. The upstream LLM client
// satisfies this interface.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Conversion is the result of rewriting text into a target tone
type Conversion struct {
	OriginalText    string   `json:"original_text"`
	ConvertedText   string   `json:"converted_text"`
	TargetTone      string   `json:"target_tone"`
	ToneDescription string   `json:"tone_description"`
	Characteristics []string `json:"characteristics_applied"`
}

// Converter rewrites marketing copy into registered brand tones
type Converter struct {
	registry  *Registry
	generator Generator
	logger    *logger.Logger
}

// NewConverter creates a tone converter
func NewConverter(registry *Registry, generator Generator, log *logger.Logger) *Converter {
	return &Converter{
		registry:  registry,
		generator: generator,
		logger:    log,
	}
}

// Registry returns the converter's tone registry
func (c *Converter) Registry() *Registry {
	return c.registry
}

// Convert rewrites text to match the target tone
func (c *Converter) Convert(ctx context.Context, text, targetTone string) (*Conversion, error) {
	profile, ok := c.registry.Get(targetTone)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTone, targetTone)
	}

	start := time.Now()
	prompt := buildConversionPrompt(text, profile)

	converted, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("tone conversion failed: %w", err)
	}

	c.logger.Info("Text converted",
		zap.String("tone", targetTone),
		zap.Int("input_chars", len(text)),
		zap.Int("output_chars", len(converted)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Conversion{
		OriginalText:    text,
		ConvertedText:   converted,
		TargetTone:      targetTone,
		ToneDescription: profile.Description,
		Characteristics: profile.Characteristics,
	}, nil
}

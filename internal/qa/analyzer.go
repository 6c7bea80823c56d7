package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/brandtone/brandtone/internal/tone"
	"go.uber.org/zap"
)

const analysisPromptTemplate = `Analyze the following text that was rewritten to match a %s tone.

Tone characteristics:
%s

Expected style elements:
%s

Text to analyze:
"%s"

Please provide an analysis in JSON format with the following structure:
{
    "tone_accuracy": "Score from 1-10",
    "grammar_correctness": "Score from 1-10",
    "strengths": ["List of what works well"],
    "improvement_areas": ["List of suggestions for improvement"],
    "forbidden_elements_found": ["List any ALL CAPS, multiple exclamation points, or inconsistent formatting found"]
}

Return ONLY the JSON object, nothing else.`

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Score is a 1-10 quality score. Models return these in loose formats, as
// numbers, numeric strings, or "8/10", so unmarshalling tolerates all three.
type Score float64

// UnmarshalJSON implements json.Unmarshaler
func (s *Score) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*s = Score(number)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("score must be a number or string, got %s", data)
	}

	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "/"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}

	number, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("cannot parse score %q", text)
	}

	*s = Score(number)
	return nil
}

// Assessment is the structured result of a quality check
type Assessment struct {
	ToneAccuracy      Score    `json:"tone_accuracy"`
	Grammar           Score    `json:"grammar_correctness"`
	Strengths         []string `json:"strengths"`
	ImprovementAreas  []string `json:"improvement_areas"`
	ForbiddenElements []string `json:"forbidden_elements_found"`
	Passed            bool     `json:"passed"`
	Raw               string   `json:"raw_response,omitempty"`
}

// Analyzer asks a model to score converted text against its target tone
type Analyzer struct {
	generator Generator
	config    config.QAConfig
	logger    *logger.Logger
}

// New creates a quality analyzer
func New(cfg config.QAConfig, generator Generator, log *logger.Logger) *Analyzer {
	return &Analyzer{
		generator: generator,
		config:    cfg,
		logger:    log,
	}
}

// Analyze scores text against the expectations of a tone profile. A
// response that is not valid JSON is returned raw instead of failing, so
// callers always get something to show.
func (a *Analyzer) Analyze(ctx context.Context, text string, profile tone.Profile) (*Assessment, error) {
	prompt := fmt.Sprintf(analysisPromptTemplate,
		profile.Name,
		profile.Description,
		tone.FormatCharacteristics(profile.Characteristics),
		text,
	)

	response, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("quality analysis failed: %w", err)
	}

	assessment := &Assessment{}
	if err := json.Unmarshal([]byte(stripCodeFences(response)), assessment); err != nil {
		a.logger.Warn("Quality analysis returned malformed JSON",
			zap.String("tone", profile.Name),
			zap.Error(err),
		)
		return &Assessment{Raw: response}, nil
	}

	assessment.Passed = a.meetsThresholds(assessment)

	a.logger.Info("Quality analysis complete",
		zap.String("tone", profile.Name),
		zap.Float64("tone_accuracy", float64(assessment.ToneAccuracy)),
		zap.Float64("grammar", float64(assessment.Grammar)),
		zap.Bool("passed", assessment.Passed),
	)

	return assessment, nil
}

// meetsThresholds compares 1-10 scores against the configured 0-1 thresholds
func (a *Analyzer) meetsThresholds(assessment *Assessment) bool {
	return float64(assessment.ToneAccuracy)/10 >= a.config.Thresholds.ToneAccuracy &&
		float64(assessment.Grammar)/10 >= a.config.Thresholds.Grammar
}

// stripCodeFences unwraps a markdown code fence around a model response
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

package format

import (
	"strings"
	"testing"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
)

// TestAllCapsRule tests all-caps detection and title casing
func TestAllCapsRule(t *testing.T) {
	t.Run("Detection", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		violations := engine.CheckViolations("THIS IS BAD")
		matches := violations["all_caps"]
		if len(matches) != 2 {
			t.Fatalf("Expected 2 matches, got %d", len(matches))
		}
		if matches[0].Text != "THIS" || matches[1].Text != "BAD" {
			t.Errorf("Expected THIS and BAD, got %q and %q", matches[0].Text, matches[1].Text)
		}
	})

	t.Run("ShortTokensIgnored", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		// Two-letter tokens like IS or OK stay below the threshold
		violations := engine.CheckViolations("it IS OK")
		if _, ok := violations["all_caps"]; ok {
			t.Error("Tokens shorter than 3 letters should not match")
		}
	})

	t.Run("WordBoundaries", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, _, err := engine.FixViolations("ABC123 DEF")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "ABC123 Def" {
			t.Errorf("Expected 'ABC123 Def', got '%s'", fixed)
		}
	})

	t.Run("Fix", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, report, err := engine.FixViolations("THIS IS BAD")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "This IS Bad" {
			t.Errorf("Expected 'This IS Bad', got '%s'", fixed)
		}
		if report.ViolationsFound != 2 {
			t.Errorf("Expected 2 violations, got %d", report.ViolationsFound)
		}
	})

	t.Run("FixAllTokens", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, _, err := engine.FixViolations("SALE TODAY ONLY")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "Sale Today Only" {
			t.Errorf("Expected 'Sale Today Only', got '%s'", fixed)
		}
	})
}

// TestExclamationsRule tests exclamation collapsing
func TestExclamationsRule(t *testing.T) {
	t.Run("Collapse", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, _, err := engine.FixViolations("Wow!!!")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "Wow!" {
			t.Errorf("Expected 'Wow!', got '%s'", fixed)
		}
	})

	t.Run("MultipleRuns", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, report, err := engine.FixViolations("Great!! Amazing!!!")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "Great! Amazing!" {
			t.Errorf("Expected 'Great! Amazing!', got '%s'", fixed)
		}
		if len(report.FixesApplied["multiple_exclamations"]) != 2 {
			t.Errorf("Expected 2 fix entries, got %d", len(report.FixesApplied["multiple_exclamations"]))
		}
	})

	t.Run("SingleUntouched", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, report, err := engine.FixViolations("Wow!")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "Wow!" {
			t.Errorf("Single exclamation should be untouched, got '%s'", fixed)
		}
		if report.ViolationsFound != 0 {
			t.Errorf("Expected 0 violations, got %d", report.ViolationsFound)
		}
	})
}

// TestBulletsRule tests bullet marker normalization
func TestBulletsRule(t *testing.T) {
	t.Run("Normalize", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, _, err := engine.FixViolations("- item one\n* item two")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "• item one\n• item two" {
			t.Errorf("Expected '• item one\\n• item two', got '%s'", fixed)
		}
	})

	t.Run("AllMarkers", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		for _, marker := range []string{"-", "*", "•", "+"} {
			fixed, _, err := engine.FixViolations(marker + " item")
			if err != nil {
				t.Fatalf("Fix failed for marker %q: %v", marker, err)
			}
			if fixed != "• item" {
				t.Errorf("Marker %q: expected '• item', got '%s'", marker, fixed)
			}
		}
	})

	t.Run("IndentationConsumed", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		// The match eats leading whitespace, so indentation collapses into
		// the canonical marker
		fixed, _, err := engine.FixViolations("  - indented")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "• indented" {
			t.Errorf("Expected '• indented', got '%s'", fixed)
		}
	})

	t.Run("CanonicalStillRecorded", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, report, err := engine.FixViolations("• already canonical")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "• already canonical" {
			t.Errorf("Canonical bullet should stay canonical, got '%s'", fixed)
		}
		if len(report.FixesApplied["inconsistent_bullets"]) != 1 {
			t.Error("Canonical bullets still match and are recorded in the fix log")
		}
	})

	t.Run("MidLineDashUntouched", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		fixed, report, err := engine.FixViolations("well - known")
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != "well - known" {
			t.Errorf("Mid-line dash should be untouched, got '%s'", fixed)
		}
		if report.ViolationsFound != 0 {
			t.Errorf("Expected 0 violations, got %d", report.ViolationsFound)
		}
	})
}

// TestLongSentencesRule tests long sentence flagging
func TestLongSentencesRule(t *testing.T) {
	t.Run("FlaggedNotRewritten", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		text := strings.Repeat("word ", 30) + "end."
		fixed, report, err := engine.FixViolations(text)
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != text {
			t.Error("Long sentences should be flagged, never rewritten")
		}

		found := false
		for _, name := range report.RulesTriggered {
			if name == "long_sentences" {
				found = true
			}
		}
		if !found {
			t.Error("Expected long_sentences in triggered rules")
		}

		entries := report.FixesApplied["long_sentences"]
		if len(entries) != 1 {
			t.Fatalf("Expected 1 fix entry, got %d", len(entries))
		}
		if entries[0].Original != entries[0].Fixed {
			t.Error("Long sentence fix entry should be a no-op")
		}
	})

	t.Run("ThresholdNotExceeded", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		// Exactly 30 words stays under the limit
		text := strings.Repeat("word ", 29) + "end."
		violations := engine.CheckViolations(text)
		if _, ok := violations["long_sentences"]; ok {
			t.Error("A 30 word sentence should not be flagged")
		}
	})

	t.Run("SpanUnchangedWithInnerCaps", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		// The no-op long sentence fix splices the original span back in,
		// so fixes inside the sentence do not survive the pass
		text := strings.Repeat("word ", 15) + "URGENT " + strings.Repeat("word ", 15) + "end."
		fixed, report, err := engine.FixViolations(text)
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		if fixed != text {
			t.Error("Sentence span should be byte-identical after the fix pass")
		}
		if report.ViolationsFound != 2 {
			t.Errorf("Expected 2 violations (caps token and long sentence), got %d", report.ViolationsFound)
		}
	})

	t.Run("ConfiguredThreshold", func(t *testing.T) {
		engine := newEngineWithMaxWords(t, 5)

		violations := engine.CheckViolations("one two three four five six seven.")
		if _, ok := violations["long_sentences"]; !ok {
			t.Error("A 7 word sentence should be flagged with a 5 word limit")
		}
	})
}

// TestEmdashRule tests em-dash thinning
func TestEmdashRule(t *testing.T) {
	t.Run("TwoOrFewerPreserved", func(t *testing.T) {
		engine := newTestEngine(t, 1)

		for _, text := range []string{"alpha — beta", "alpha — beta — gamma"} {
			fixed, _, err := engine.FixViolations(text)
			if err != nil {
				t.Fatalf("Fix failed: %v", err)
			}
			if fixed != text {
				t.Errorf("Text with two or fewer em-dashes should be unchanged, got '%s'", fixed)
			}
		}
	})

	t.Run("ThinningBounds", func(t *testing.T) {
		allowed := map[string]bool{",": true, ".": true, "—": true}

		for seed := int64(1); seed <= 20; seed++ {
			engine := newTestEngine(t, seed)

			fixed, _, err := engine.FixViolations("one — two — three — four")
			if err != nil {
				t.Fatalf("Fix failed: %v", err)
			}

			tokens := strings.Fields(fixed)
			if len(tokens) != 7 {
				t.Fatalf("Seed %d: expected 7 tokens, got %v", seed, tokens)
			}
			if tokens[1] != "—" {
				t.Errorf("Seed %d: first em-dash must always be preserved, got %q", seed, tokens[1])
			}
			if !allowed[tokens[3]] {
				t.Errorf("Seed %d: second em-dash replaced with %q, not in allowed set", seed, tokens[3])
			}
			if !allowed[tokens[5]] {
				t.Errorf("Seed %d: third em-dash replaced with %q, not in allowed set", seed, tokens[5])
			}
		}
	})

	t.Run("SeedDeterminism", func(t *testing.T) {
		text := "a — b — c — d — e"

		first := newTestEngine(t, 42)
		second := newTestEngine(t, 42)

		fixedFirst, _, err := first.FixViolations(text)
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}
		fixedSecond, _, err := second.FixViolations(text)
		if err != nil {
			t.Fatalf("Fix failed: %v", err)
		}

		if fixedFirst != fixedSecond {
			t.Errorf("Same seed should produce identical output: %q != %q", fixedFirst, fixedSecond)
		}
	})
}

func newEngineWithMaxWords(t *testing.T, maxWords int) *Engine {
	t.Helper()

	cfg := config.EngineConfig{
		Rules:                []string{"all"},
		RandomSeed:           1,
		LongSentenceMaxWords: maxWords,
	}
	engine, err := New(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

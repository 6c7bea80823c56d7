package format

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	allCapsPattern      = regexp.MustCompile(`\b[A-Z]{3,}\b`)
	exclamationsPattern = regexp.MustCompile(`!{2,}`)
	bulletsPattern      = regexp.MustCompile(`(?m)^\s*[-*•+]\s`)
	sentencePattern     = regexp.MustCompile(`[^.!?]+[.!?]`)
	emdashPattern       = regexp.MustCompile(`—`)
)

// defaultRules builds the standard rule set. The em-dash fixer draws from
// rng, so the caller owns synchronization around fix passes.
func defaultRules(rng *rand.Rand, maxWords int) []Rule {
	return []Rule{
		{
			Name:        "all_caps",
			Matcher:     allCapsPattern,
			Fix:         fixAllCaps,
			Description: "Avoid using ALL CAPS words",
		},
		{
			Name:        "multiple_exclamations",
			Matcher:     exclamationsPattern,
			Fix:         ReplacementFixer("!"),
			Description: "Avoid using multiple exclamation points",
		},
		{
			Name:        "inconsistent_bullets",
			Matcher:     bulletsPattern,
			Fix:         ReplacementFixer("• "),
			Description: "Maintain consistent bullet formatting",
		},
		{
			Name:        "long_sentences",
			Matcher:     sentencePattern,
			Fix:         fixLongSentence,
			Filter:      longSentenceFilter(maxWords),
			Description: fmt.Sprintf("Avoid overly long sentences (>%d words)", maxWords),
		},
		{
			Name:        "excessive_emdashes",
			Matcher:     emdashPattern,
			Fix:         fixExcessiveEmdashes(rng),
			Description: "Limit use of em-dashes to avoid AI-generated patterns",
		},
	}
}

// ReplacementFixer returns a FixFunc that substitutes every match with the
// same replacement string.
func ReplacementFixer(replacement string) FixFunc {
	return func(string, Match) (string, error) {
		return replacement, nil
	}
}

// fixAllCaps converts an ALL CAPS token to title case
func fixAllCaps(_ string, m Match) (string, error) {
	return cases.Title(language.English).String(m.Text), nil
}

// fixLongSentence returns the sentence unchanged. Long sentences are only
// flagged in the report; splitting prose is left to the writer.
func fixLongSentence(_ string, m Match) (string, error) {
	return m.Text, nil
}

// longSentenceFilter keeps only matches with more than maxWords
// whitespace-delimited words.
func longSentenceFilter(maxWords int) func(Match) bool {
	return func(m Match) bool {
		return len(strings.Fields(m.Text)) > maxWords
	}
}

// fixExcessiveEmdashes thins out em-dashes when the original text carries
// more than two. The first occurrence is always kept. Every other occurrence
// is replaced with a draw from a weighted set, half of which keeps the
// em-dash. The randomness is intentional, it creates natural variation
// instead of a mechanical substitution pattern.
func fixExcessiveEmdashes(rng *rand.Rand) FixFunc {
	replacements := []string{",", ".", "—", "—"}

	return func(text string, m Match) (string, error) {
		total := strings.Count(text, "—")
		if total <= 2 {
			return "—", nil
		}

		if m.Start == strings.Index(text, "—") {
			return "—", nil
		}

		return replacements[rng.Intn(len(replacements))], nil
	}
}

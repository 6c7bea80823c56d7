package format

import "fmt"

// Matcher locates violations in text. It returns the byte offsets of all
// non-overlapping matches in left-to-right order, in the same form as
// regexp.Regexp.FindAllStringIndex, which satisfies this interface directly.
type Matcher interface {
	FindAllStringIndex(s string, n int) [][]int
}

// FixFunc produces the replacement for a single match. It receives the full
// text the match was detected in and the match itself, with offsets valid
// for that text.
type FixFunc func(text string, m Match) (string, error)

// Rule represents a single formatting rule
type Rule struct {
	Name        string
	Matcher     Matcher
	Fix         FixFunc
	Filter      func(m Match) bool // optional post-filter on detected matches
	Description string
}

// Match represents a single detected violation
type Match struct {
	Rule  string `json:"rule"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// ViolationReport maps rule names to the matches they produced
type ViolationReport map[string][]Match

// FixEntry records one applied replacement
type FixEntry struct {
	Original string `json:"original"`
	Fixed    string `json:"fixed"`
}

// FixReport summarizes a fix pass
type FixReport struct {
	ViolationsFound int                   `json:"violations_found"`
	FixesApplied    map[string][]FixEntry `json:"fixes_applied"`
	RulesTriggered  []string              `json:"rules_triggered"`
}

// RuleInfo describes a registered rule
type RuleInfo struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern,omitempty"`
	Description string `json:"description"`
}

// InvalidPatternError indicates a rule pattern that failed to compile
type InvalidPatternError struct {
	Rule    string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("rule %q: invalid pattern %q: %v", e.Rule, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// FixerError indicates a fixer that failed during a fix pass. The pass is
// aborted because offsets for the remaining matches may no longer be valid.
type FixerError struct {
	Rule    string
	Matched string
	Err     error
}

func (e *FixerError) Error() string {
	return fmt.Sprintf("rule %q: fixer failed on %q: %v", e.Rule, e.Matched, e.Err)
}

func (e *FixerError) Unwrap() error {
	return e.Err
}

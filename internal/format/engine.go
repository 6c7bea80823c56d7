package format

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"go.uber.org/zap"
)

// Engine owns the active rule set and applies it to marketing copy. Each
// instance carries an independent rule set, so concurrent sessions never
// interfere through shared rules.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	index    map[string]int
	rng      *rand.Rand
	maxWords int
	logger   *logger.Logger
}

// New creates a rule engine with the configured default rules
func New(cfg config.EngineConfig, log *logger.Logger) (*Engine, error) {
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	maxWords := cfg.LongSentenceMaxWords
	if maxWords <= 0 {
		maxWords = 30
	}

	engine := &Engine{
		index:    make(map[string]int),
		rng:      rand.New(rand.NewSource(seed)),
		maxWords: maxWords,
		logger:   log,
	}

	// Configure enabled rules
	if err := engine.configureRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to configure rules: %w", err)
	}

	// Register config-provided custom rules
	for _, custom := range cfg.CustomRules {
		if err := engine.AddRule(custom.Name, custom.Pattern, custom.Description, ReplacementFixer(custom.Replacement)); err != nil {
			return nil, fmt.Errorf("failed to add custom rule: %w", err)
		}
	}

	log.Info("Formatting engine initialized",
		zap.Int("rules", len(engine.rules)),
		zap.Int("long_sentence_max_words", maxWords),
	)

	return engine, nil
}

// configureRules registers the default rules selected by configuration
func (e *Engine) configureRules(names []string) error {
	defaults := defaultRules(e.rng, e.maxWords)

	if len(names) == 0 {
		names = []string{"all"}
	}

	for _, name := range names {
		if name == "all" {
			// Register all default rules
			for _, rule := range defaults {
				e.register(rule)
			}
			continue
		}

		// Register specific default rule
		found := false
		for _, rule := range defaults {
			if rule.Name == name {
				e.register(rule)
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("unknown rule: %s", name)
		}
	}

	return nil
}

// register inserts or overwrites a rule. An overwrite keeps the rule's
// original position so detection and fix ordering stay stable.
func (e *Engine) register(rule Rule) {
	if idx, ok := e.index[rule.Name]; ok {
		e.rules[idx] = rule
		return
	}

	e.index[rule.Name] = len(e.rules)
	e.rules = append(e.rules, rule)
}

// AddRule registers a custom rule, overwriting any existing rule with the
// same name. The pattern must be a valid regular expression.
func (e *Engine) AddRule(name, pattern, description string, fix FixFunc) error {
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return &InvalidPatternError{Rule: name, Pattern: pattern, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.register(Rule{
		Name:        name,
		Matcher:     matcher,
		Fix:         fix,
		Description: description,
	})

	e.logger.Info("Formatting rule added", zap.String("rule", name))
	return nil
}

// Register adds a rule with an arbitrary matcher. Most callers want AddRule;
// Register exists for matchers that are not regular expressions.
func (e *Engine) Register(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if rule.Matcher == nil {
		return fmt.Errorf("rule %q has no matcher", rule.Name)
	}
	if rule.Fix == nil {
		return fmt.Errorf("rule %q has no fixer", rule.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.register(rule)

	e.logger.Info("Formatting rule registered", zap.String("rule", rule.Name))
	return nil
}

// RemoveRule removes a rule by name and reports whether it existed
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.index[name]
	if !ok {
		return false
	}

	e.rules = append(e.rules[:idx], e.rules[idx+1:]...)
	delete(e.index, name)
	for ruleName, ruleIdx := range e.index {
		if ruleIdx > idx {
			e.index[ruleName] = ruleIdx - 1
		}
	}

	e.logger.Info("Formatting rule removed", zap.String("rule", name))
	return true
}

// Rules lists the registered rules in registration order
func (e *Engine) Rules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]RuleInfo, 0, len(e.rules))
	for _, rule := range e.rules {
		info := RuleInfo{Name: rule.Name, Description: rule.Description}
		if s, ok := rule.Matcher.(fmt.Stringer); ok {
			info.Pattern = s.String()
		}
		infos = append(infos, info)
	}

	return infos
}

// CheckViolations checks text against every registered rule and returns the
// matches per triggered rule. Rules with no matches are omitted.
func (e *Engine) CheckViolations(text string) ViolationReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.checkLocked(text)
}

// checkLocked runs detection. Callers must hold at least a read lock.
func (e *Engine) checkLocked(text string) ViolationReport {
	violations := make(ViolationReport)

	for _, rule := range e.rules {
		spans := rule.Matcher.FindAllStringIndex(text, -1)
		if len(spans) == 0 {
			continue
		}

		matches := make([]Match, 0, len(spans))
		for _, span := range spans {
			m := Match{
				Rule:  rule.Name,
				Start: span[0],
				End:   span[1],
				Text:  text[span[0]:span[1]],
			}

			if rule.Filter != nil && !rule.Filter(m) {
				continue
			}

			matches = append(matches, m)
		}

		if len(matches) == 0 {
			continue
		}

		violations[rule.Name] = matches

		e.logger.Debug("Formatting violations detected",
			zap.String("rule", rule.Name),
			zap.Int("count", len(matches)),
		)
	}

	return violations
}

// FixViolations detects violations in text and applies each rule's fixer,
// returning the corrected text and a report of what changed. Replacements
// are applied from the end of the text backward so that match offsets stay
// valid while earlier spans are still untouched.
func (e *Engine) FixViolations(text string) (string, *FixReport, error) {
	// Full lock: the em-dash fixer draws from the shared rng
	e.mu.Lock()
	defer e.mu.Unlock()

	violations := e.checkLocked(text)

	// Flatten matches in rule registration order
	all := make([]Match, 0)
	triggered := make([]string, 0, len(violations))
	for _, rule := range e.rules {
		matches, ok := violations[rule.Name]
		if !ok {
			continue
		}
		triggered = append(triggered, rule.Name)
		all = append(all, matches...)
	}

	// Apply fixes in reverse order of appearance
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Start > all[j].Start
	})

	fixed := text
	applied := make(map[string][]FixEntry)

	for _, m := range all {
		rule := e.rules[e.index[m.Rule]]

		// Fixers see the original text and the original match, so offset
		// dependent fixers stay coherent regardless of apply order
		replacement, err := rule.Fix(text, m)
		if err != nil {
			return "", nil, &FixerError{Rule: m.Rule, Matched: m.Text, Err: err}
		}

		fixed = fixed[:m.Start] + replacement + fixed[m.End:]

		applied[m.Rule] = append(applied[m.Rule], FixEntry{
			Original: m.Text,
			Fixed:    replacement,
		})
	}

	report := &FixReport{
		ViolationsFound: len(all),
		FixesApplied:    applied,
		RulesTriggered:  triggered,
	}

	e.logger.Debug("Fix pass complete",
		zap.Int("violations", report.ViolationsFound),
		zap.Int("rules_triggered", len(report.RulesTriggered)),
	)

	return fixed, report, nil
}

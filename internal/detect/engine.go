package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/logger"
	"go.uber.org/zap"
)

// Engine classifies text into ordered findings. It is immutable after New
// and safe for concurrent use.
type Engine struct {
	rules   []PatternRule
	filters []*regexp.Regexp
	logger  *logger.Logger
}

// New creates a detection engine from the configured detector selection.
// An empty selection enables the whole catalog.
func New(cfg config.DetectionConfig, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}

	rules, err := selectRules(DefaultRules(), cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	filters := DefaultExampleFilters()
	for _, pattern := range cfg.ExampleFilters {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid example filter %q: %w", pattern, err)
		}
		filters = append(filters, re)
	}

	log.Info("Detection engine initialized",
		zap.Int("total_rules", len(DefaultRules())),
		zap.Int("enabled_rules", len(rules)),
		zap.Int("example_filters", len(filters)),
	)

	return &Engine{rules: rules, filters: filters, logger: log}, nil
}

// Default returns an engine with the full catalog and a no-op logger
func Default() *Engine {
	e, err := New(config.DetectionConfig{}, nil)
	if err != nil {
		panic(err)
	}
	return e
}

// selectRules keeps catalog order regardless of the order names are listed in
func selectRules(catalog []PatternRule, names []string) ([]PatternRule, error) {
	if len(names) == 0 {
		return catalog, nil
	}

	enabled := make(map[string]bool)
	for _, name := range names {
		if name == "all" {
			return catalog, nil
		}

		found := false
		for _, rule := range catalog {
			if rule.Name == name {
				enabled[name] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
	}

	selected := make([]PatternRule, 0, len(enabled))
	for _, rule := range catalog {
		if enabled[rule.Name] {
			selected = append(selected, rule)
		}
	}
	return selected, nil
}

// Detect scans text and returns findings in catalog order. Each enabled
// rule contributes its first qualifying match, unless that match is an
// example placeholder.
func (e *Engine) Detect(text string) []Finding {
	findings := make([]Finding, 0)
	if strings.TrimSpace(text) == "" {
		return findings
	}

	for _, rule := range e.rules {
		match, ok := firstMatch(rule, text)
		if !ok {
			continue
		}

		if e.isExample(match) {
			e.logger.Debug("Example value ignored", zap.String("rule", rule.Name))
			continue
		}

		findings = append(findings, Finding{
			Name:     rule.Name,
			Match:    match,
			Severity: rule.Severity,
		})

		e.logger.Debug("Sensitive data detected",
			zap.String("rule", rule.Name),
			zap.Stringer("severity", rule.Severity),
			zap.String("masked", MaskValue(match)),
		)
	}

	return findings
}

// HasFindings reports whether text contains anything the engine would flag
func (e *Engine) HasFindings(text string) bool {
	return len(e.Detect(text)) > 0
}

// Rules returns the names of the enabled rules in scan order
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, rule := range e.rules {
		names = append(names, rule.Name)
	}
	return names
}

func firstMatch(rule PatternRule, text string) (string, bool) {
	if rule.Validate == nil {
		loc := rule.Pattern.FindStringIndex(text)
		if loc == nil {
			return "", false
		}
		return text[loc[0]:loc[1]], true
	}

	for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		if rule.Validate(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (e *Engine) isExample(match string) bool {
	for _, f := range e.filters {
		if f.MatchString(match) {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest severity among findings
func MaxSeverity(findings []Finding) Severity {
	highest := SeverityNone
	for _, f := range findings {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}

// Summaries strips matched values so findings can be recorded
func Summaries(findings []Finding) []Summary {
	out := make([]Summary, 0, len(findings))
	for _, f := range findings {
		out = append(out, Summary{Name: f.Name, Severity: f.Severity})
	}
	return out
}

// Names returns the sorted, de-duplicated rule names of findings
func Names(findings []Finding) []string {
	seen := make(map[string]struct{}, len(findings))
	names := make([]string, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// MaskValue hides the middle of a value for display. Short values are
// replaced entirely.
func MaskValue(value string) string {
	r := []rune(value)
	if len(r) <= 6 {
		return "***"
	}

	hidden := len(r) - 6
	if hidden > 12 {
		hidden = 12
	}
	return string(r[:3]) + strings.Repeat("•", hidden) + string(r[len(r)-3:])
}

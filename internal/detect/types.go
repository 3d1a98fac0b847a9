package detect

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity ranks how damaging a leaked value would be
type Severity int

const (
	// SeverityNone is reported for a scan without findings
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText encodes the severity as its lower-case name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a lower-case severity name
func (s *Severity) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for sev, n := range severityNames {
		if n == name {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity: %q", string(b))
}

// PatternRule is one named detector in the catalog
type PatternRule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
	// Validate, when set, rejects a candidate match so the rule moves on
	// to its next candidate in the text.
	Validate func(match string) bool
}

// Finding is one detected sensitive value. A scan reports at most one
// finding per rule.
type Finding struct {
	Name     string   `json:"name"`
	Match    string   `json:"match"`
	Severity Severity `json:"severity"`
}

// Summary is a finding without its matched value, safe to record
type Summary struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
}

package detect

import (
	"regexp"
	"strings"
)

// DefaultRules returns the built-in catalog in scan order
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			Name:     "Email",
			Pattern:  regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "Phone Number",
			Pattern:  regexp.MustCompile(`\b(\+?\d{1,3}[\s-]?)?\d{10}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "SSN",
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Severity: SeverityCritical,
			Validate: validSSNArea,
		},
		{
			Name:     "Aadhaar",
			Pattern:  regexp.MustCompile(`\b\d{4}\s\d{4}\s\d{4}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "PAN (India)",
			Pattern:  regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "Passport",
			Pattern:  regexp.MustCompile(`\b[A-Z]\d{7}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "Driving License",
			Pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{13,14}\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "Voter ID (India)",
			Pattern:  regexp.MustCompile(`\b[A-Z]{3}\d{7}\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "Credit Card",
			Pattern:  regexp.MustCompile(`\b(?:4\d{12}(?:\d{3})?|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`),
			Severity: SeverityCritical,
		},
		{
			Name:     "IFSC Code",
			Pattern:  regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "IBAN",
			Pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{4}\d{7}[A-Z0-9]{0,16}\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "GSTIN",
			Pattern:  regexp.MustCompile(`\b\d{2}[A-Z]{5}\d{4}[A-Z][A-Z\d]Z[A-Z\d]\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "IP Address",
			Pattern:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "MAC Address",
			Pattern:  regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`),
			Severity: SeverityMedium,
		},
		{
			Name:     "AWS Access Key",
			Pattern:  regexp.MustCompile(`\b(?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16}\b`),
			Severity: SeverityCritical,
		},
		{
			Name:     "GitHub Token",
			Pattern:  regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,255}\b`),
			Severity: SeverityCritical,
		},
		{
			Name:     "OpenAI API Key",
			Pattern:  regexp.MustCompile(`\bsk-[A-Za-z0-9]{48}\b`),
			Severity: SeverityCritical,
		},
		{
			Name:     "Stripe Key",
			Pattern:  regexp.MustCompile(`\b(?:sk|pk)_(?:test|live)_[A-Za-z0-9]{24,}\b`),
			Severity: SeverityCritical,
		},
		{
			Name:     "Private Key",
			Pattern:  regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
			Severity: SeverityCritical,
		},
		{
			Name:     "JWT Token",
			Pattern:  regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "Bearer Token",
			Pattern:  regexp.MustCompile(`\b[Bb]earer\s+[A-Za-z0-9_\-.]+\b`),
			Severity: SeverityHigh,
		},
		{
			Name:     "Password",
			Pattern:  regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*(?:is|[:=])\s*["']?[^\s"']{6,}["']?`),
			Severity: SeverityCritical,
		},
	}
}

// validSSNArea rejects area numbers that are never issued
func validSSNArea(match string) bool {
	area := match[:3]
	return area != "000" && area != "666" && !strings.HasPrefix(area, "9")
}

// DefaultExampleFilters returns the patterns that mark a match as a
// documentation placeholder rather than a real value
func DefaultExampleFilters() []*regexp.Regexp {
	patterns := []string{
		`(?i)^test@example\.com$`,
		`(?i)^user@example\.(com|org|net)$`,
		`(?i)^admin@example\.com$`,
		`(?i)^example@`,
		`(?i)example\.(?:com|org|net)$`,
		`(?i)^dummy|^sample|^placeholder|^fake`,
		`^0{3}-0{2}-0{4}$`,
		`^123-45-6789$`,
		`^1234567890$`,
		`(?i)xxxx`,
		`\*{4,}`,
		`(?i)^your[_-]?(?:api|key)`,
		`^<[A-Z_]+>$`,
		`^\$\{[^}]+\}$`,
		`^process\.env\.[A-Z_]+$`,
		`(?i)^sk-xxx`,
		`^AKIA[X]{16}$`,
	}

	filters := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		filters = append(filters, regexp.MustCompile(p))
	}
	return filters
}

// Package redact removes detected values from user text.
package redact

import (
	"sort"
	"strings"

	"github.com/raaihank/promptguard/internal/detect"
)

// Redact removes every literal occurrence of each finding's match,
// collapses whitespace runs to a single space and trims the result.
// Longer matches are removed first so the outcome does not depend on
// finding order.
func Redact(text string, findings []detect.Finding) string {
	if len(findings) == 0 {
		return collapse(text)
	}

	matches := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Match != "" {
			matches = append(matches, f.Match)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i]) > len(matches[j])
	})

	pairs := make([]string, 0, 2*len(matches))
	for _, m := range matches {
		pairs = append(pairs, m, "")
	}

	return collapse(strings.NewReplacer(pairs...).Replace(text))
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

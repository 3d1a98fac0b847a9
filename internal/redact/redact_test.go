package redact

import (
	"testing"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		findings []detect.Finding
		want     string
	}{
		{
			name:     "ssn",
			text:     "SSN is 234-56-7890",
			findings: []detect.Finding{{Name: "SSN", Match: "234-56-7890"}},
			want:     "SSN is",
		},
		{
			name:     "every occurrence",
			text:     "a@corp.io then a@corp.io again",
			findings: []detect.Finding{{Name: "Email", Match: "a@corp.io"}},
			want:     "then again",
		},
		{
			name: "overlapping matches",
			text: "token Bearer abc.def.ghi end",
			findings: []detect.Finding{
				{Name: "JWT Token", Match: "abc"},
				{Name: "Bearer Token", Match: "Bearer abc.def.ghi"},
			},
			want: "token end",
		},
		{
			name: "no findings still normalises whitespace",
			text: "  hello \n\n world ",
			want: "hello world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.text, tt.findings))
		})
	}
}

func TestRedactOrderIndependent(t *testing.T) {
	findings := []detect.Finding{
		{Name: "A", Match: "abc"},
		{Name: "B", Match: "abcdef"},
	}
	reversed := []detect.Finding{findings[1], findings[0]}
	text := "x abcdef y abc z"

	assert.Equal(t, Redact(text, findings), Redact(text, reversed))
}

func TestRedactRoundTrip(t *testing.T) {
	engine := detect.Default()
	text := "mail bob@corp.io, card 4111111111111111, ip 10.1.2.3"

	findings := engine.Detect(text)
	redacted := Redact(text, findings)

	for _, f := range findings {
		assert.NotContains(t, redacted, f.Match)
	}
	assert.Empty(t, engine.Detect(redacted))
}

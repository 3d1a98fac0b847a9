// Package platform describes the AI chat sites the engine recognises.
package platform

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/raaihank/promptguard/internal/surface"
)

// Descriptor is the per-site configuration record
type Descriptor struct {
	Key             string
	Name            string
	HostPattern     *regexp.Regexp
	InputSelectors  []string
	SubmitSelectors []string
}

// Surface returns the input surface descriptor for the site
func (d *Descriptor) Surface() surface.Descriptor {
	return surface.Descriptor{InputSelectors: d.InputSelectors}
}

// SubmitTrigger returns the first visible submit control, or nil
func (d *Descriptor) SubmitTrigger(doc page.Document) page.Activator {
	for _, selector := range d.SubmitSelectors {
		for _, node := range doc.QueryAll(selector) {
			if !node.Visible() {
				continue
			}
			if a, ok := node.(page.Activator); ok {
				return a
			}
		}
	}
	return nil
}

// Defaults returns the built-in sites. ChatGPT renders a hidden fallback
// textarea sharing the prompt id ahead of the real editor, so its
// selectors target the div explicitly.
func Defaults() []*Descriptor {
	return []*Descriptor{
		{
			Key:         "chatgpt",
			Name:        "ChatGPT",
			HostPattern: regexp.MustCompile(`chat\.openai\.com|chatgpt\.com`),
			InputSelectors: []string{
				`div#prompt-textarea[contenteditable="true"]`,
				`div.ProseMirror#prompt-textarea`,
				`div[contenteditable="true"].ProseMirror`,
				`div#prompt-textarea`,
			},
			SubmitSelectors: []string{
				`button[data-testid="send-button"]`,
				`button[aria-label="Send prompt"]`,
				`button[aria-label="Send"]`,
				`form button[type="submit"]`,
			},
		},
		{
			Key:         "claude",
			Name:        "Claude",
			HostPattern: regexp.MustCompile(`claude\.ai`),
			InputSelectors: []string{
				`div.ProseMirror[contenteditable="true"]`,
				`[contenteditable="true"].ProseMirror`,
				`div[contenteditable="true"][role="textbox"]`,
				`div.tiptap[contenteditable="true"]`,
				`fieldset div[contenteditable="true"]`,
				`div[contenteditable="true"]`,
			},
			SubmitSelectors: []string{
				`button[aria-label="Send Message"]`,
				`button[aria-label="Send"]`,
				`button[data-testid="send-button"]`,
				`fieldset button`,
			},
		},
		{
			Key:         "gemini",
			Name:        "Gemini",
			HostPattern: regexp.MustCompile(`gemini\.google\.com`),
			InputSelectors: []string{
				`rich-textarea div[contenteditable]`,
				`div[contenteditable="true"]`,
				`.ql-editor`,
			},
			SubmitSelectors: []string{
				`button.send-button`,
				`button[aria-label="Send message"]`,
				`button[aria-label="Send"]`,
			},
		},
		{
			Key:            "perplexity",
			Name:           "Perplexity",
			HostPattern:    regexp.MustCompile(`perplexity\.ai`),
			InputSelectors: []string{`textarea[placeholder*="Ask"]`, `textarea`},
			SubmitSelectors: []string{
				`button[aria-label="Submit"]`,
				`button[aria-label="Send"]`,
			},
		},
		{
			Key:            "copilot",
			Name:           "Copilot",
			HostPattern:    regexp.MustCompile(`copilot\.microsoft\.com`),
			InputSelectors: []string{`textarea#userInput`, `textarea`},
			SubmitSelectors: []string{
				`button[aria-label="Submit"]`,
				`button[aria-label="Send"]`,
			},
		},
	}
}

// Registry matches page hosts to site descriptors
type Registry struct {
	platforms []*Descriptor
}

// NewRegistry merges configured sites over the defaults. A configured
// entry with a built-in key replaces that entry; others are appended.
func NewRegistry(overrides []config.PlatformConfig) (*Registry, error) {
	platforms := Defaults()

	for _, o := range overrides {
		pattern, err := regexp.Compile(o.HostPattern)
		if err != nil {
			return nil, fmt.Errorf("platform %s: invalid host pattern: %w", o.Key, err)
		}

		d := &Descriptor{
			Key:             o.Key,
			Name:            o.Name,
			HostPattern:     pattern,
			InputSelectors:  o.InputSelectors,
			SubmitSelectors: o.SubmitSelectors,
		}

		replaced := false
		for i, p := range platforms {
			if p.Key == o.Key {
				platforms[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			platforms = append(platforms, d)
		}
	}

	return &Registry{platforms: platforms}, nil
}

// Detect returns the site whose host pattern matches rawURL, or nil
func (r *Registry) Detect(rawURL string) *Descriptor {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	for _, p := range r.platforms {
		if p.HostPattern.MatchString(u.Host) {
			return p
		}
	}
	return nil
}

// All returns every registered site in match order
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.platforms...)
}

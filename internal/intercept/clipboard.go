package intercept

import (
	"context"
	"fmt"
	"strings"

	"github.com/raaihank/promptguard/internal/confirm"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/raaihank/promptguard/internal/redact"
	"github.com/raaihank/promptguard/internal/surface"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

const clipboardSource = "clipboard"

// pasteChannel blocks pastes carrying sensitive data into AI platforms
type pasteChannel struct {
	c      *Coordinator
	logger *logger.Logger
}

func newPasteChannel(c *Coordinator) (*pasteChannel, error) {
	return &pasteChannel{c: c, logger: c.logger.WithChannel("paste")}, nil
}

func (p *pasteChannel) handle(s *session, ev *page.PasteEvent) {
	if s.site == nil || ev.DefaultPrevented() || p.c.deps.Gate.Bypassed() {
		return
	}

	text := ev.Text
	if strings.TrimSpace(text) == "" {
		return
	}
	findings := p.c.deps.Engine.Detect(text)
	if len(findings) == 0 {
		return
	}

	// The confirmation may move focus, so the target is resolved first.
	target := p.writeTarget(s, ev.Target)

	if p.c.holdPastCooldown(s, ev, func() { p.replay(s, text, findings, target) }) {
		return
	}

	ev.PreventDefault()
	p.suspend(s, text, findings, target)
}

// replay delivers a paste held through the cooldown. The native paste is
// gone, so a bypass writes the text directly.
func (p *pasteChannel) replay(s *session, text string, findings []detect.Finding, target surface.Handle) {
	if p.c.deps.Gate.Bypassed() {
		p.write(target, text)
		return
	}
	if p.c.holdPastCooldown(s, noDefault{}, func() { p.replay(s, text, findings, target) }) {
		return
	}
	p.suspend(s, text, findings, target)
}

func (p *pasteChannel) suspend(s *session, text string, findings []detect.Finding, target surface.Handle) {
	p.logger.Info("Paste suspended", zap.Strings("findings", detect.Names(findings)))

	verdicts := p.c.deps.Gate.Request(s.ctx, findings, confirm.SourcePaste)
	p.c.resolve(s, verdicts, func(v gate.Verdict) {
		if v == gate.VerdictCancel {
			if redacted := redact.Redact(text, findings); redacted != "" {
				p.write(target, redacted)
			}
			p.c.report(s.ctx, telemetry.PasteBlocked, clipboardSource, findings, pageURL(s))
			return
		}
		p.write(target, text)
		p.c.report(s.ctx, telemetry.PasteAllowed, clipboardSource, findings, pageURL(s))
	})
}

// noDefault stands in for an event that was already suspended
type noDefault struct{}

func (noDefault) PreventDefault() {}

// writeTarget is the editable root of the paste target, else the
// platform's input
func (p *pasteChannel) writeTarget(s *session, target page.Node) surface.Handle {
	if h := surface.Bind(surface.EditableRoot(target)); h != nil {
		return h
	}
	return surface.Locate(s.doc, s.site.Surface())
}

func (p *pasteChannel) write(h surface.Handle, text string) {
	if h == nil {
		p.logger.Warn("No input to paste into")
		return
	}
	if err := h.Write(text, page.ModeAppend); err != nil {
		p.logger.Warn("Could not insert pasted text", zap.Error(err))
	}
}

// copyChannel warns when sensitive data is copied. Copies are never
// blocked.
type copyChannel struct {
	c      *Coordinator
	logger *logger.Logger
}

func newCopyChannel(c *Coordinator) (*copyChannel, error) {
	return &copyChannel{c: c, logger: c.logger.WithChannel("copy")}, nil
}

func (cp *copyChannel) handle(s *session, ev *page.CopyEvent) {
	if strings.TrimSpace(ev.Selection) == "" {
		return
	}
	findings := cp.c.deps.Engine.Detect(ev.Selection)
	if len(findings) == 0 {
		return
	}

	cp.c.deps.Warner.PresentWarning(
		fmt.Sprintf("Warning: Copying sensitive data (%s)", joinNames(findings)),
		cp.c.cfg.CopyWarning,
	)
	ctx := context.Background()
	if s != nil {
		ctx = s.ctx
	}
	cp.c.report(ctx, telemetry.CopyWarned, clipboardSource, findings, pageURL(s))
}

// joinNames lists finding names in detection order
func joinNames(findings []detect.Finding) string {
	names := make([]string, len(findings))
	for i, f := range findings {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

package intercept

import (
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

// keystrokeChannel guards prompt submission, both by Enter and by the
// platform's send button
type keystrokeChannel struct {
	c      *Coordinator
	logger *logger.Logger
}

func newKeystrokeChannel(c *Coordinator) (*keystrokeChannel, error) {
	return &keystrokeChannel{c: c, logger: c.logger.WithChannel("keystroke")}, nil
}

func (k *keystrokeChannel) handleKey(s *session, ev *page.KeyEvent) {
	if s.site == nil || !ev.IsSubmit() || ev.DefaultPrevented() {
		return
	}
	k.intercept(s, ev, true)
}

func (k *keystrokeChannel) handleClick(s *session, ev *page.ClickEvent) {
	if s.site == nil || ev.DefaultPrevented() || !k.onSubmitTrigger(s, ev.Target) {
		return
	}
	k.intercept(s, ev, false)
}

// onSubmitTrigger reports whether target is inside a send button
func (k *keystrokeChannel) onSubmitTrigger(s *session, target page.Node) bool {
	if target == nil {
		return false
	}
	for _, selector := range s.site.SubmitSelectors {
		for _, node := range s.doc.QueryAll(selector) {
			if page.Contains(node, target) {
				return true
			}
		}
	}
	return false
}

type preventer interface {
	PreventDefault()
}

func (k *keystrokeChannel) intercept(s *session, ev preventer, fromKey bool) {
	if k.c.deps.Gate.Bypassed() {
		return
	}

	h := surface.Locate(s.doc, s.site.Surface())
	if h == nil {
		return
	}
	text := h.Read()
	if strings.TrimSpace(text) == "" {
		return
	}

	findings := k.c.deps.Engine.Detect(text)
	if len(findings) == 0 {
		return
	}
	if k.c.holdPastCooldown(s, ev, func() { k.resubmit(s, h) }) {
		return
	}

	ev.PreventDefault()
	k.logger.Info("Prompt submission suspended",
		zap.Strings("findings", detect.Names(findings)),
		zap.Bool("enter_key", fromKey),
	)

	verdicts := k.c.deps.Gate.Request(s.ctx, findings, confirm.SourcePrompt)
	k.c.resolve(s, verdicts, func(v gate.Verdict) {
		if v == gate.VerdictCancel {
			current := h.Read()
			if err := h.Write(redact.Redact(current, findings), page.ModeReplace); err != nil {
				k.logger.Warn("Could not redact prompt", zap.Error(err))
			}
			k.c.report(s.ctx, telemetry.PromptBlocked, s.site.Name, findings, pageURL(s))
			return
		}

		k.c.report(s.ctx, telemetry.PromptAllowed, s.site.Name, findings, pageURL(s))
		if pause(s, k.c.cfg.ResumeDelay) {
			k.resubmit(s, h)
		}
	})
}

// resubmit replays the send: the platform's button when present, else
// Enter on the input. The bypass window lets it through.
func (k *keystrokeChannel) resubmit(s *session, h surface.Handle) {
	if trigger := s.site.SubmitTrigger(s.doc); trigger != nil {
		trigger.Click()
		return
	}
	if target, ok := h.Node().(page.KeyTarget); ok {
		target.DispatchKey(page.KeyEvent{Key: "Enter"})
		return
	}
	k.logger.Warn("No way to resubmit prompt")
}

package intercept

import (
	"fmt"
	"sync"

	"github.com/raaihank/promptguard/internal/confirm"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/raaihank/promptguard/internal/redact"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

// formChannel blocks form submissions carrying sensitive data, on any site
type formChannel struct {
	c      *Coordinator
	logger *logger.Logger

	mu sync.Mutex
	// resubmitting holds forms being submitted again after the user
	// proceeded; the channel ignores their submit events
	resubmitting []page.Form
}

// flaggedField is one form control with findings
type flaggedField struct {
	field    page.ValueField
	name     string
	findings []detect.Finding
}

func newFormChannel(c *Coordinator) (*formChannel, error) {
	return &formChannel{c: c, logger: c.logger.WithChannel("form")}, nil
}

func (f *formChannel) handle(s *session, ev *page.SubmitEvent) {
	if ev.Form == nil || ev.DefaultPrevented() || f.isResubmitting(ev.Form) || f.c.deps.Gate.Bypassed() {
		return
	}

	flagged, labelled := f.scan(ev.Form)
	if len(flagged) == 0 {
		return
	}
	if f.c.holdPastCooldown(s, ev, ev.Form.Submit) {
		return
	}

	ev.PreventDefault()
	f.logger.Info("Form submission suspended", zap.Int("fields", len(flagged)))

	verdicts := f.c.deps.Gate.Request(s.ctx, labelled, confirm.SourceForm)
	f.c.resolve(s, verdicts, func(v gate.Verdict) {
		if v == gate.VerdictCancel {
			for _, ff := range flagged {
				ff.field.SetValue(redact.Redact(ff.field.Value(), ff.findings))
				ff.field.DispatchInput()
			}
			f.c.report(s.ctx, telemetry.FormBlocked, confirm.SourceForm, labelled, pageURL(s))
			return
		}
		f.c.report(s.ctx, telemetry.FormAllowed, confirm.SourceForm, labelled, pageURL(s))
		f.resubmit(ev.Form)
	})
}

// scan checks every field of the form. Labelled findings carry the field
// name for display.
func (f *formChannel) scan(form page.Form) ([]flaggedField, []detect.Finding) {
	var (
		flagged  []flaggedField
		labelled []detect.Finding
	)
	for _, field := range form.Fields() {
		findings := f.c.deps.Engine.Detect(field.Value())
		if len(findings) == 0 {
			continue
		}
		name, _ := field.Attr("name")
		flagged = append(flagged, flaggedField{field: field, name: name, findings: findings})
		for _, finding := range findings {
			finding.Name = fmt.Sprintf("%s (field: %s)", finding.Name, name)
			labelled = append(labelled, finding)
		}
	}
	return flagged, labelled
}

// resubmit submits the form again with this channel stepping aside for it
func (f *formChannel) resubmit(form page.Form) {
	f.mu.Lock()
	f.resubmitting = append(f.resubmitting, form)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, other := range f.resubmitting {
			if other.Same(form) {
				f.resubmitting = append(f.resubmitting[:i], f.resubmitting[i+1:]...)
				break
			}
		}
	}()

	form.Submit()
}

func (f *formChannel) isResubmitting(form page.Form) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.resubmitting {
		if other.Same(form) {
			return true
		}
	}
	return false
}

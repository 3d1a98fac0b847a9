package intercept

import (
	"slices"
	"strings"
	"sync"
	"time"

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

// liveTypingChannel scans the prompt while the user types
type liveTypingChannel struct {
	c        *Coordinator
	logger   *logger.Logger
	debounce time.Duration

	mu sync.Mutex
	attachment
}

// attachment is the per-page binding of the live-typing channel
type attachment struct {
	sess        *session
	handle      surface.Handle
	unsubscribe func()
	timer       *time.Timer
	// allowed holds the sorted finding names the user last proceeded
	// past, nil when there is none
	allowed []string
}

func newLiveTypingChannel(c *Coordinator) (*liveTypingChannel, error) {
	debounce := c.cfg.Debounce
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	return &liveTypingChannel{
		c:        c,
		logger:   c.logger.WithChannel("live_typing"),
		debounce: debounce,
	}, nil
}

// attach binds to the page's input and rebinds whenever the page swaps it
// for a new node
func (l *liveTypingChannel) attach(s *session) func() {
	if s.site == nil {
		return nil
	}

	l.mu.Lock()
	l.attachment = attachment{sess: s}
	l.mu.Unlock()

	l.rebind()
	stopMutations := s.doc.OnMutation(l.rebind)

	return func() {
		stopMutations()
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.timer != nil {
			l.timer.Stop()
		}
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		l.attachment = attachment{}
	}
}

func (l *liveTypingChannel) rebind() {
	l.mu.Lock()
	s := l.sess
	current := l.handle
	l.mu.Unlock()
	if s == nil {
		return
	}

	h := surface.Locate(s.doc, s.site.Surface())
	if h == nil || (current != nil && h.Node().Same(current.Node())) {
		return
	}

	unsubscribe := h.Node().OnChange(l.changed)

	l.mu.Lock()
	if l.sess != s {
		l.mu.Unlock()
		unsubscribe()
		return
	}
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	l.handle, l.unsubscribe = h, unsubscribe
	l.mu.Unlock()

	l.logger.Debug("Live typing bound", zap.String("tag", h.Node().Tag()), zap.Stringer("kind", h.Kind()))
}

// changed restarts the debounce timer. Changes are ignored while a
// decision is open or cooling down.
func (l *liveTypingChannel) changed() {
	if l.c.deps.Gate.State() != gate.StateIdle {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess == nil {
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	s := l.sess
	l.timer = time.AfterFunc(l.debounce, func() {
		if !l.c.tasks.begin() {
			return
		}
		defer l.c.tasks.end()
		l.scan(s)
	})
}

func (l *liveTypingChannel) scan(s *session) {
	if s.ctx.Err() != nil || l.c.deps.Gate.State() != gate.StateIdle {
		return
	}

	l.mu.Lock()
	h := l.handle
	allowed := l.allowed
	l.mu.Unlock()
	if h == nil {
		return
	}

	text := h.Read()
	if strings.TrimSpace(text) == "" {
		l.remember(s, nil)
		return
	}
	findings := l.c.deps.Engine.Detect(text)
	if len(findings) == 0 {
		l.remember(s, nil)
		return
	}

	names := detect.Names(findings)
	if allowed != nil && slices.Equal(names, allowed) {
		return
	}

	l.logger.Info("Sensitive data typed", zap.Strings("findings", names))

	var v gate.Verdict
	select {
	case v = <-l.c.deps.Gate.Request(s.ctx, findings, confirm.SourcePrompt):
	case <-s.ctx.Done():
		return
	}

	switch v {
	case gate.VerdictCancel:
		current := h.Read()
		if err := h.Write(redact.Redact(current, findings), page.ModeReplace); err != nil {
			l.logger.Warn("Could not redact prompt", zap.Error(err))
		}
		l.remember(s, nil)
		l.c.report(s.ctx, telemetry.RealtimeBlocked, "realtime", findings, pageURL(s))
	case gate.VerdictProceed:
		l.remember(s, names)
		l.c.report(s.ctx, telemetry.RealtimeAllowed, "realtime", findings, pageURL(s))
	}
}

func (l *liveTypingChannel) remember(s *session, names []string) {
	l.mu.Lock()
	if l.sess == s {
		l.allowed = names
	}
	l.mu.Unlock()
}

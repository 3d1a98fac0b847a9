// Package intercept wires the interception channels to a page. Every
// channel follows the same shape: take the text behind a user action, scan
// it, and only when something is found suspend the action and ask the
// shared gate what to do.
package intercept

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/raaihank/promptguard/internal/platform"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

// Gate is the shared decision state machine every channel consults
type Gate interface {
	Request(ctx context.Context, findings []detect.Finding, source string) <-chan gate.Verdict
	Bypassed() bool
	State() gate.State
	CooldownRemaining() time.Duration
	Reset()
}

// Warner shows non-blocking notices
type Warner interface {
	PresentWarning(message string, duration time.Duration)
}

// Deps are the collaborators shared by all channels
type Deps struct {
	Engine    *detect.Engine
	Gate      Gate
	Warner    Warner
	Sink      telemetry.Sink
	Platforms *platform.Registry
	Logger    *logger.Logger
}

// Coordinator builds the channels around one gate and routes host events
// to them
type Coordinator struct {
	cfg    config.ChannelsConfig
	deps   Deps
	logger *logger.Logger

	keystroke *keystrokeChannel
	live      *liveTypingChannel
	paste     *pasteChannel
	copy      *copyChannel
	form      *formChannel
	outbound  *Outbound
	url       *urlChannel

	mu   sync.Mutex
	sess *session

	tasks tracker
}

// session is the state of one attached page
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	doc    page.Document
	site   *platform.Descriptor
	detach []func()
}

var builtinPlatforms = func() (*platform.Registry, error) {
	return platform.NewRegistry(nil)
}

// New builds every enabled channel. A channel whose construction fails or
// panics is logged and left out; the others still run.
func New(cfg config.ChannelsConfig, deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Engine == nil {
		deps.Engine = detect.Default()
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.LogSink{Logger: deps.Logger}
	}
	if deps.Warner == nil {
		deps.Warner = logWarner{deps.Logger}
	}
	if deps.Platforms == nil {
		sites, err := builtinPlatforms()
		if err != nil {
			deps.Logger.Error("Failed to load built-in platforms, treating every site as unknown", zap.Error(err))
			sites = &platform.Registry{}
		}
		deps.Platforms = sites
	}
	if deps.Gate == nil {
		deps.Gate = gate.New(config.GetDefaults().Gate, nil, deps.Logger)
	}

	c := &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.WithComponent("intercept"),
	}

	if !cfg.Enabled {
		c.logger.Info("Interception disabled")
		return c
	}

	c.build("keystroke", cfg.Keystroke, func() (err error) {
		c.keystroke, err = newKeystrokeChannel(c)
		return err
	})
	c.build("live_typing", cfg.LiveTyping, func() (err error) {
		c.live, err = newLiveTypingChannel(c)
		return err
	})
	c.build("paste", cfg.Paste, func() (err error) {
		c.paste, err = newPasteChannel(c)
		return err
	})
	c.build("copy", cfg.Copy, func() (err error) {
		c.copy, err = newCopyChannel(c)
		return err
	})
	c.build("form", cfg.Form, func() (err error) {
		c.form, err = newFormChannel(c)
		return err
	})
	c.build("outbound", cfg.Outbound, func() (err error) {
		c.outbound, err = newOutbound(c)
		return err
	})
	c.build("url", cfg.URL, func() (err error) {
		c.url, err = newURLChannel(c)
		return err
	})

	return c
}

// build runs one channel constructor in isolation
func (c *Coordinator) build(name string, enabled bool, fn func() error) {
	if !enabled {
		c.logger.Debug("Channel disabled", zap.String("channel", name))
		return
	}
	if err := isolate(fn); err != nil {
		c.logger.Error("Channel failed to initialize", zap.String("channel", name), zap.Error(err))
		return
	}
	c.logger.Debug("Channel initialized", zap.String("channel", name))
}

func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Attach starts watching doc, replacing any previously attached page
func (c *Coordinator) Attach(doc page.Document) {
	c.Reset()
	if !c.cfg.Enabled || doc == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:    ctx,
		cancel: cancel,
		doc:    doc,
		site:   c.deps.Platforms.Detect(doc.URL()),
	}

	if s.site != nil {
		c.logger.Info("Platform detected", zap.String("platform", s.site.Name), zap.String("url", doc.URL()))
	} else {
		c.logger.Info("Not a known AI platform, watching forms, clipboard and URLs only", zap.String("url", doc.URL()))
	}

	s.detach = append(s.detach,
		doc.OnKeyDown(c.KeyDown),
		doc.OnClick(c.Click),
		doc.OnPaste(c.Paste),
		doc.OnCopy(c.Copy),
		doc.OnSubmit(c.Submit),
		doc.OnNavigate(c.Navigate),
	)

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	if c.live != nil {
		if err := isolate(func() error {
			s.detach = append(s.detach, c.live.attach(s))
			return nil
		}); err != nil {
			c.logger.Error("Live typing failed to attach", zap.Error(err))
		}
	}

	c.Navigate(doc.URL())
}

// Reset detaches from the current page and clears the page-session state:
// pending decisions are dropped and the bypass window closes
func (c *Coordinator) Reset() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		for _, fn := range s.detach {
			if fn != nil {
				fn()
			}
		}
	}
	if c.deps.Gate != nil {
		c.deps.Gate.Reset()
	}
}

// Wait blocks until every pending resolution has finished
func (c *Coordinator) Wait() {
	c.tasks.wait()
}

// Close detaches, refuses new work and waits for pending resolutions
func (c *Coordinator) Close() {
	c.Reset()
	c.tasks.close()
	c.tasks.wait()
}

// Outbound returns the outbound-request channel, nil when disabled
func (c *Coordinator) Outbound() *Outbound {
	return c.outbound
}

func (c *Coordinator) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// KeyDown handles a key press. Hosts register it ahead of the page's own
// handlers.
func (c *Coordinator) KeyDown(ev *page.KeyEvent) {
	if s := c.session(); s != nil && c.keystroke != nil {
		c.keystroke.handleKey(s, ev)
	}
}

// Click handles a primary-button click
func (c *Coordinator) Click(ev *page.ClickEvent) {
	if s := c.session(); s != nil && c.keystroke != nil {
		c.keystroke.handleClick(s, ev)
	}
}

// Paste handles a clipboard paste
func (c *Coordinator) Paste(ev *page.PasteEvent) {
	if s := c.session(); s != nil && c.paste != nil {
		c.paste.handle(s, ev)
	}
}

// Copy handles a copy of the current selection
func (c *Coordinator) Copy(ev *page.CopyEvent) {
	if c.copy != nil {
		c.copy.handle(c.session(), ev)
	}
}

// Submit handles a form submission
func (c *Coordinator) Submit(ev *page.SubmitEvent) {
	if s := c.session(); s != nil && c.form != nil {
		c.form.handle(s, ev)
	}
}

// Navigate handles a URL change within the page
func (c *Coordinator) Navigate(url string) {
	if c.url != nil {
		c.url.scan(c.session(), url)
	}
}

// report hands a decision to the telemetry sink. Sink failures are logged
// and never affect the decision.
func (c *Coordinator) report(ctx context.Context, typ telemetry.EventType, source string, findings []detect.Finding, url string) {
	ev := telemetry.NewEvent(typ, source, findings, url)
	if err := c.deps.Sink.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("Failed to record event", zap.String("type", string(typ)), zap.Error(err))
	}
}

// resolve waits for a verdict off the host's event path and hands it to fn
// unless the page session ended first
func (c *Coordinator) resolve(s *session, verdicts <-chan gate.Verdict, fn func(gate.Verdict)) {
	c.tasks.goTrack(func() {
		var v gate.Verdict
		select {
		case v = <-verdicts:
		case <-s.ctx.Done():
			return
		}
		if s.ctx.Err() != nil || v == gate.VerdictDropped {
			return
		}
		fn(v)
	})
}

// holdPastCooldown suspends a native action that arrives while the gate
// is cooling and replays it once the cooldown ends, so the action goes
// through detection again instead of being dropped by the gate
func (c *Coordinator) holdPastCooldown(s *session, ev preventer, replay func()) bool {
	wait := c.deps.Gate.CooldownRemaining()
	if wait <= 0 {
		return false
	}
	ev.PreventDefault()
	c.logger.Debug("Action held until cooldown ends", zap.Duration("wait", wait))
	c.tasks.goTrack(func() {
		if pause(s, wait) {
			replay()
		}
	})
	return true
}

// pause sleeps for d unless the session ends first
func pause(s *session, d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func pageURL(s *session) string {
	if s == nil || s.doc == nil {
		return ""
	}
	return s.doc.URL()
}

// tracker counts goroutines doing work on behalf of a page
type tracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *tracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *tracker) end() {
	t.wg.Done()
}

func (t *tracker) goTrack(fn func()) {
	if !t.begin() {
		return
	}
	go func() {
		defer t.end()
		fn()
	}()
}

func (t *tracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *tracker) wait() {
	t.wg.Wait()
}

type logWarner struct {
	logger *logger.Logger
}

func (w logWarner) PresentWarning(message string, duration time.Duration) {
	w.logger.Warn(message, zap.Duration("duration", duration))
}

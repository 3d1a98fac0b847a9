package intercept

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/dom"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/platform"
	"github.com/raaihank/promptguard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const claudeMarkup = `<html><body>
<fieldset>
  <div class="ProseMirror" contenteditable="true"><p>hello</p></div>
  <button aria-label="Send Message">Send</button>
</fieldset>
</body></html>`

// countingGate counts decision requests reaching the shared gate
type countingGate struct {
	*gate.Gate
	requests atomic.Int32
}

func (g *countingGate) Request(ctx context.Context, findings []detect.Finding, source string) <-chan gate.Verdict {
	g.requests.Add(1)
	return g.Gate.Request(ctx, findings, source)
}

type fakeConfirmer struct {
	mu       sync.Mutex
	proceed  bool
	block    bool
	sources  []string
	findings [][]detect.Finding
}

func (f *fakeConfirmer) PresentBlockingChoice(ctx context.Context, findings []detect.Finding, source string) (bool, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.findings = append(f.findings, findings)
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.proceed, nil
}

func (f *fakeConfirmer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingSink) Record(_ context.Context, ev telemetry.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) all() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

func (r *recordingSink) types() []telemetry.EventType {
	var types []telemetry.EventType
	for _, ev := range r.all() {
		types = append(types, ev.Type)
	}
	return types
}

type recordingWarner struct {
	mu       sync.Mutex
	messages []string
}

func (w *recordingWarner) PresentWarning(message string, _ time.Duration) {
	w.mu.Lock()
	w.messages = append(w.messages, message)
	w.mu.Unlock()
}

func (w *recordingWarner) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.messages...)
}

type harness struct {
	doc       *dom.Document
	coord     *Coordinator
	gate      *countingGate
	confirmer *fakeConfirmer
	sink      *recordingSink
	warner    *recordingWarner
}

type harnessOption func(*config.ChannelsConfig, *config.GateConfig)

func withoutLiveTyping() harnessOption {
	return func(c *config.ChannelsConfig, _ *config.GateConfig) { c.LiveTyping = false }
}

func withBypass(d time.Duration) harnessOption {
	return func(_ *config.ChannelsConfig, g *config.GateConfig) { g.BypassWindow = d }
}

func withCooldown(d time.Duration) harnessOption {
	return func(_ *config.ChannelsConfig, g *config.GateConfig) { g.CooldownWindow = d }
}

func newHarness(t *testing.T, url, markup string, proceed bool, opts ...harnessOption) *harness {
	t.Helper()

	cfg := config.GetDefaults().Channels
	cfg.Debounce = 10 * time.Millisecond
	cfg.ResumeDelay = 0
	gateCfg := config.GateConfig{BypassWindow: 3 * time.Second}
	for _, opt := range opts {
		opt(&cfg, &gateCfg)
	}

	h := &harness{
		confirmer: &fakeConfirmer{proceed: proceed},
		sink:      &recordingSink{},
		warner:    &recordingWarner{},
	}
	h.gate = &countingGate{Gate: gate.New(gateCfg, h.confirmer, nil)}
	h.coord = New(cfg, Deps{
		Engine: detect.Default(),
		Gate:   h.gate,
		Warner: h.warner,
		Sink:   h.sink,
	})
	t.Cleanup(func() {
		h.coord.Close()
		h.gate.Wait()
	})

	if markup != "" {
		h.doc = dom.MustParse(url, markup)
		h.coord.Attach(h.doc)
	}
	return h
}

func TestAttach(t *testing.T) {
	t.Run("RegistersAndDetaches", func(t *testing.T) {
		h := newHarness(t, "https://claude.ai/new", claudeMarkup, false)
		// six event kinds plus the live-typing mutation watch
		assert.Equal(t, 7, h.doc.Listeners())

		h.coord.Reset()
		assert.Zero(t, h.doc.Listeners())
	})

	t.Run("UnknownSiteSkipsLiveTyping", func(t *testing.T) {
		h := newHarness(t, "https://example.org/", `<body><textarea></textarea></body>`, false)
		assert.Equal(t, 6, h.doc.Listeners())
	})

	t.Run("Disabled", func(t *testing.T) {
		h := newHarness(t, "", "", false)
		cfg := config.GetDefaults().Channels
		cfg.Enabled = false
		coord := New(cfg, Deps{Gate: h.gate})
		defer coord.Close()

		doc := dom.MustParse("https://claude.ai/new", claudeMarkup)
		coord.Attach(doc)
		assert.Zero(t, doc.Listeners())

		ev := doc.Paste(doc.Find("p"), "card 4111111111111111")
		assert.False(t, ev.DefaultPrevented())
	})

	t.Run("ScansInitialURL", func(t *testing.T) {
		h := newHarness(t, "https://example.org/profile?email=alice@corp.io", `<body></body>`, false)
		assert.Equal(t, []telemetry.EventType{telemetry.URLPIIDetected}, h.sink.types())
	})
}

func TestChannelIsolation(t *testing.T) {
	cfg := config.GetDefaults().Channels
	cfg.URLRecencySize = 0

	sink := &recordingSink{}
	g := gate.New(config.GateConfig{}, &fakeConfirmer{}, nil)
	coord := New(cfg, Deps{Gate: g, Sink: sink})
	defer func() {
		coord.Close()
		g.Wait()
	}()

	assert.Nil(t, coord.url)
	assert.NotNil(t, coord.paste)
	assert.NotNil(t, coord.copy)

	assert.NotPanics(t, func() {
		coord.build("broken", true, func() error { panic("constructor exploded") })
	})

	coord.Navigate("https://example.org/?email=alice@corp.io")
	assert.Empty(t, sink.all())

	doc := dom.MustParse("https://example.org/", `<body></body>`)
	coord.Attach(doc)
	doc.Copy("alice@corp.io")
	assert.Equal(t, []telemetry.EventType{telemetry.CopyWarned}, sink.types())
}

func TestBuiltinPlatformsFailure(t *testing.T) {
	orig := builtinPlatforms
	builtinPlatforms = func() (*platform.Registry, error) { return nil, assert.AnError }
	defer func() { builtinPlatforms = orig }()

	core, logs := observer.New(zap.ErrorLevel)
	g := gate.New(config.GateConfig{}, &fakeConfirmer{}, nil)
	coord := New(config.GetDefaults().Channels, Deps{Gate: g, Logger: logger.Wrap(zap.New(core))})
	defer func() {
		coord.Close()
		g.Wait()
	}()

	require.Equal(t, 1, logs.FilterMessage("Failed to load built-in platforms, treating every site as unknown").Len())

	doc := dom.MustParse("https://claude.ai/new", claudeMarkup)
	assert.NotPanics(t, func() { coord.Attach(doc) })
	// known chat sites fall back to the unknown-site channels
	assert.Equal(t, 6, doc.Listeners())
}

func TestResetDropsPendingDecision(t *testing.T) {
	h := newHarness(t, "https://claude.ai/new", claudeMarkup, true, withoutLiveTyping())
	h.confirmer.block = true

	ev := h.doc.Paste(h.doc.Find("p"), "card 4111111111111111")
	require.True(t, ev.DefaultPrevented())
	require.Eventually(t, func() bool { return h.confirmer.calls() == 1 }, time.Second, 5*time.Millisecond)

	h.coord.Reset()
	h.coord.Wait()
	h.gate.Wait()

	assert.Empty(t, h.sink.all())
	assert.Equal(t, "hello", h.doc.Find(".ProseMirror").Text())
	assert.False(t, h.gate.Bypassed())
}

func TestBypassSharedAcrossChannels(t *testing.T) {
	h := newHarness(t, "https://claude.ai/new", claudeMarkup, true, withoutLiveTyping())
	editor := h.doc.Find(".ProseMirror")

	paste := h.doc.Paste(h.doc.Find("p"), " card 4111111111111111")
	require.True(t, paste.DefaultPrevented())
	h.coord.Wait()
	require.Equal(t, []telemetry.EventType{telemetry.PasteAllowed}, h.sink.types())
	require.True(t, h.gate.Bypassed())

	// The same logical action reaching the keystroke channel is let through
	key := h.doc.KeyDown(editor, "Enter", false)
	assert.False(t, key.DefaultPrevented())
	assert.Equal(t, int32(1), h.gate.requests.Load())
	assert.Equal(t, 1, h.confirmer.calls())
}

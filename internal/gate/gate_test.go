package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeConfirmer struct {
	calls   atomic.Int32
	answer  bool
	err     error
	release chan struct{}
}

func (f *fakeConfirmer) PresentBlockingChoice(ctx context.Context, _ []detect.Finding, _ string) (bool, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.answer, f.err
}

var (
	findings = []detect.Finding{{Name: "Email", Match: "bob@corp.io", Severity: detect.SeverityHigh}}
	windows  = config.GateConfig{BypassWindow: 3 * time.Second, CooldownWindow: 500 * time.Millisecond}
)

func newGate(c Confirmer, clock *fakeClock) *Gate {
	return New(windows, c, nil, WithClock(clock.Now))
}

func TestBypassWindow(t *testing.T) {
	clock := newClock()
	confirmer := &fakeConfirmer{answer: true}
	g := newGate(confirmer, clock)

	assert.Equal(t, VerdictProceed, g.Decide(context.Background(), findings, "prompt"))
	assert.True(t, g.Bypassed())
	assert.Equal(t, StateCooling, g.State())

	clock.Advance(time.Second)
	assert.Equal(t, VerdictProceed, g.Decide(context.Background(), findings, "paste"))
	assert.Equal(t, int32(1), confirmer.calls.Load())

	clock.Advance(2 * time.Second)
	assert.False(t, g.Bypassed())
	assert.Equal(t, StateIdle, g.State())
	assert.Equal(t, VerdictProceed, g.Decide(context.Background(), findings, "prompt"))
	assert.Equal(t, int32(2), confirmer.calls.Load())
}

func TestConcurrentRequestDropped(t *testing.T) {
	clock := newClock()
	confirmer := &fakeConfirmer{answer: false, release: make(chan struct{})}
	g := newGate(confirmer, clock)

	first := g.Request(context.Background(), findings, "prompt")
	require.Eventually(t, func() bool { return confirmer.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateAwaitingUser, g.State())
	assert.Zero(t, g.CooldownRemaining())

	assert.Equal(t, VerdictDropped, <-g.Request(context.Background(), findings, "paste"))

	close(confirmer.release)
	assert.Equal(t, VerdictCancel, <-first)
	assert.Equal(t, int32(1), confirmer.calls.Load())
	g.Wait()
}

func TestCooldown(t *testing.T) {
	clock := newClock()
	confirmer := &fakeConfirmer{answer: false}
	g := newGate(confirmer, clock)

	assert.Equal(t, VerdictCancel, g.Decide(context.Background(), findings, "prompt"))
	assert.False(t, g.Bypassed())
	assert.Equal(t, StateCooling, g.State())
	assert.Equal(t, 500*time.Millisecond, g.CooldownRemaining())
	assert.Equal(t, VerdictDropped, g.Decide(context.Background(), findings, "prompt"))

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, g.CooldownRemaining())

	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, StateIdle, g.State())
	assert.Zero(t, g.CooldownRemaining())
	assert.Equal(t, VerdictCancel, g.Decide(context.Background(), findings, "prompt"))
	assert.Equal(t, int32(2), confirmer.calls.Load())
}

func TestFailClosed(t *testing.T) {
	t.Run("NoConfirmer", func(t *testing.T) {
		g := newGate(nil, newClock())
		assert.Equal(t, VerdictCancel, g.Decide(context.Background(), findings, "form"))
	})

	t.Run("ConfirmerError", func(t *testing.T) {
		g := newGate(&fakeConfirmer{answer: true, err: errors.New("dialog unavailable")}, newClock())
		assert.Equal(t, VerdictCancel, g.Decide(context.Background(), findings, "form"))
		assert.False(t, g.Bypassed())
	})

	t.Run("ConfirmerPanic", func(t *testing.T) {
		g := newGate(panicConfirmer{}, newClock())
		assert.Equal(t, VerdictCancel, g.Decide(context.Background(), findings, "form"))
		assert.Equal(t, StateCooling, g.State())
	})
}

type panicConfirmer struct{}

func (panicConfirmer) PresentBlockingChoice(context.Context, []detect.Finding, string) (bool, error) {
	panic("boom")
}

func TestContextCancelled(t *testing.T) {
	clock := newClock()
	confirmer := &fakeConfirmer{release: make(chan struct{})}
	g := newGate(confirmer, clock)

	ctx, cancel := context.WithCancel(context.Background())
	verdict := g.Request(ctx, findings, "prompt")
	cancel()

	assert.Equal(t, VerdictDropped, <-verdict)
	assert.Equal(t, StateCooling, g.State())
	g.Wait()
}

func TestReset(t *testing.T) {
	clock := newClock()
	confirmer := &fakeConfirmer{answer: true}
	g := newGate(confirmer, clock)

	require.Equal(t, VerdictProceed, g.Decide(context.Background(), findings, "paste"))
	require.True(t, g.Bypassed())

	g.Reset()
	assert.False(t, g.Bypassed())
	assert.Equal(t, StateIdle, g.State())

	assert.Equal(t, VerdictProceed, g.Decide(context.Background(), findings, "paste"))
	assert.Equal(t, int32(2), confirmer.calls.Load())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "awaiting_user", StateAwaitingUser.String())
	assert.Equal(t, "dropped", VerdictDropped.String())
}

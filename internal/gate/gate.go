// Package gate arbitrates one user decision across every interception
// channel of a page session.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"go.uber.org/zap"
)

// Confirmer asks the user whether to proceed despite findings
type Confirmer interface {
	PresentBlockingChoice(ctx context.Context, findings []detect.Finding, source string) (bool, error)
}

// State is the gate's position in its decision cycle
type State int

const (
	StateIdle State = iota
	StateAwaitingUser
	StateCooling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUser:
		return "awaiting_user"
	case StateCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// Verdict is the outcome delivered for one request
type Verdict int

const (
	// VerdictProceed lets the suspended action continue
	VerdictProceed Verdict = iota
	// VerdictCancel means the user chose to remove the findings
	VerdictCancel
	// VerdictDropped means another decision absorbed the request; the
	// caller takes no further action
	VerdictDropped
)

func (v Verdict) String() string {
	switch v {
	case VerdictProceed:
		return "proceed"
	case VerdictCancel:
		return "cancel"
	case VerdictDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Gate is the shared decision state machine. State is derived from
// timestamps so no timers outlive a decision.
type Gate struct {
	mu          sync.Mutex
	confirmer   Confirmer
	logger      *logger.Logger
	bypass      time.Duration
	cooldown    time.Duration
	now         func() time.Time
	awaiting    bool
	bypassUntil time.Time
	coolUntil   time.Time
	wg          sync.WaitGroup
}

// Option customises a Gate
type Option func(*Gate)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate. A nil confirmer makes every prompted decision fail
// closed.
func New(cfg config.GateConfig, confirmer Confirmer, log *logger.Logger, opts ...Option) *Gate {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Gate{
		confirmer: confirmer,
		logger:    log.WithComponent("gate"),
		bypass:    cfg.BypassWindow,
		cooldown:  cfg.CooldownWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request asks for a decision on findings. The verdict is always
// delivered on the returned channel, even when it is known immediately.
func (g *Gate) Request(ctx context.Context, findings []detect.Finding, source string) <-chan Verdict {
	out := make(chan Verdict, 1)

	g.mu.Lock()
	now := g.now()
	switch {
	case now.Before(g.bypassUntil):
		g.mu.Unlock()
		g.logger.Debug("Bypass window active", zap.String("source", source))
		out <- VerdictProceed
		return out
	case g.awaiting, now.Before(g.coolUntil):
		g.mu.Unlock()
		g.logger.Debug("Decision request dropped", zap.String("source", source))
		out <- VerdictDropped
		return out
	}
	g.awaiting = true
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		v := g.ask(ctx, findings, source)
		g.resolve(v)
		g.logger.Info("Decision resolved",
			zap.String("source", source),
			zap.Stringer("verdict", v),
			zap.Int("findings", len(findings)),
		)
		out <- v
	}()

	return out
}

// Decide is Request for callers that can block
func (g *Gate) Decide(ctx context.Context, findings []detect.Finding, source string) Verdict {
	return <-g.Request(ctx, findings, source)
}

func (g *Gate) ask(ctx context.Context, findings []detect.Finding, source string) (v Verdict) {
	if g.confirmer == nil {
		g.logger.Warn("No confirmation provider, failing closed")
		return VerdictCancel
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Confirmation provider panicked, failing closed", zap.Any("panic", r))
			v = VerdictCancel
		}
	}()

	proceed, err := g.confirmer.PresentBlockingChoice(ctx, findings, source)
	if err != nil {
		if ctx.Err() != nil {
			return VerdictDropped
		}
		g.logger.Warn("Confirmation failed, failing closed", zap.Error(fmt.Errorf("confirm %s: %w", source, err)))
		return VerdictCancel
	}
	if proceed {
		return VerdictProceed
	}
	return VerdictCancel
}

func (g *Gate) resolve(v Verdict) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.awaiting = false
	if v == VerdictProceed {
		g.bypassUntil = now.Add(g.bypass)
	}
	g.coolUntil = now.Add(g.cooldown)
}

// Bypassed reports whether an override is still in effect
func (g *Gate) Bypassed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.bypassUntil)
}

// State reports the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.awaiting {
		return StateAwaitingUser
	}
	if g.now().Before(g.coolUntil) {
		return StateCooling
	}
	return StateIdle
}

// CooldownRemaining is how long the gate stays Cooling, zero in any other
// state
func (g *Gate) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.awaiting {
		return 0
	}
	if d := g.coolUntil.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// Reset clears the bypass and cooldown windows for a new page session. A
// decision still awaiting the user resolves normally.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bypassUntil = time.Time{}
	g.coolUntil = time.Time{}
}

// Wait blocks until every pending decision has resolved
func (g *Gate) Wait() {
	g.wg.Wait()
}

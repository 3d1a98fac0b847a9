// Package confirm adapts the user-facing confirmation surfaces: a blocking
// block/allow choice and a transient warning toast.
package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sources name the channel asking for a decision
const (
	SourcePrompt = "prompt"
	SourcePaste  = "paste"
	SourceForm   = "form"
	SourceURL    = "url"
)

var (
	// ErrTimeout is returned when nobody answered in time
	ErrTimeout = errors.New("confirmation timed out")
	// ErrNoClients is returned when no confirmation surface is connected
	ErrNoClients = errors.New("no confirmation clients connected")
)

// Provider shows confirmations to the user
type Provider interface {
	// PresentBlockingChoice resolves true when the user chooses to proceed
	PresentBlockingChoice(ctx context.Context, findings []detect.Finding, source string) (bool, error)
	// PresentWarning shows a transient, non-blocking notice
	PresentWarning(message string, duration time.Duration)
}

// Static answers every choice the same way, for headless runs
type Static struct {
	Proceed bool
	Logger  *logger.Logger
}

func (s *Static) PresentBlockingChoice(_ context.Context, findings []detect.Finding, source string) (bool, error) {
	if s.Logger != nil {
		s.Logger.Info("Blocking choice answered automatically",
			zap.String("source", source),
			zap.Strings("findings", detect.Names(findings)),
			zap.Bool("proceed", s.Proceed),
		)
	}
	return s.Proceed, nil
}

func (s *Static) PresentWarning(message string, duration time.Duration) {
	if s.Logger != nil {
		s.Logger.Warn(message, zap.Duration("duration", duration))
	}
}

// Throttled limits how often warnings reach the wrapped provider. Blocking
// choices are never throttled.
type Throttled struct {
	Provider
	limiter *rate.Limiter
}

// NewThrottled allows perMinute warnings per minute with a small burst
func NewThrottled(p Provider, perMinute int) *Throttled {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Throttled{Provider: p, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) PresentWarning(message string, duration time.Duration) {
	if !t.limiter.Allow() {
		return
	}
	t.Provider.PresentWarning(message, duration)
}

// Func adapts plain functions to a Provider; nil functions fail closed and
// drop warnings
type Func struct {
	Choice  func(ctx context.Context, findings []detect.Finding, source string) (bool, error)
	Warning func(message string, duration time.Duration)
}

func (f Func) PresentBlockingChoice(ctx context.Context, findings []detect.Finding, source string) (bool, error) {
	if f.Choice == nil {
		return false, ErrNoClients
	}
	return f.Choice(ctx, findings, source)
}

func (f Func) PresentWarning(message string, duration time.Duration) {
	if f.Warning != nil {
		f.Warning(message, duration)
	}
}

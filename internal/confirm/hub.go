package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/websocket"
	"go.uber.org/zap"
)

// Broadcaster is the part of the websocket hub a Hub provider needs
type Broadcaster interface {
	BroadcastEvent(event websocket.Event)
	ClientCount() int
	OnConfirmResponse(fn func(websocket.ConfirmResponse))
}

// Hub asks connected dashboard clients for the decision. The first answer
// wins; later answers for the same request are ignored.
type Hub struct {
	hub     Broadcaster
	timeout time.Duration
	logger  *logger.Logger

	mu      sync.Mutex
	pending map[string]chan bool
}

// NewHub wires a provider to a websocket hub
func NewHub(hub Broadcaster, timeout time.Duration, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Hub{
		hub:     hub,
		timeout: timeout,
		logger:  log.WithComponent("confirm"),
		pending: make(map[string]chan bool),
	}
	hub.OnConfirmResponse(h.resolve)
	return h
}

func (h *Hub) PresentBlockingChoice(ctx context.Context, findings []detect.Finding, source string) (bool, error) {
	if h.hub.ClientCount() == 0 {
		return false, ErrNoClients
	}

	id := uuid.NewString()
	answer := make(chan bool, 1)

	h.mu.Lock()
	h.pending[id] = answer
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	masked := make([]websocket.MaskedFinding, 0, len(findings))
	for _, f := range findings {
		masked = append(masked, websocket.MaskedFinding{
			Name:     f.Name,
			Severity: f.Severity,
			Masked:   detect.MaskValue(f.Match),
		})
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	h.hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeConfirmRequest,
		Timestamp: time.Now(),
		RequestID: id,
		Data: websocket.ConfirmRequest{
			Source:   source,
			Findings: masked,
			Deadline: time.Now().Add(h.timeout),
		},
	})

	h.logger.Debug("Confirmation requested", zap.String("request_id", id), zap.String("source", source))

	select {
	case proceed := <-answer:
		return proceed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, fmt.Errorf("request %s: %w", id, ErrTimeout)
	}
}

func (h *Hub) resolve(resp websocket.ConfirmResponse) {
	h.mu.Lock()
	answer, ok := h.pending[resp.RequestID]
	if ok {
		delete(h.pending, resp.RequestID)
	}
	h.mu.Unlock()

	if !ok {
		h.logger.Debug("Ignoring answer for unknown request", zap.String("request_id", resp.RequestID))
		return
	}

	h.logger.Info("Confirmation answered",
		zap.String("request_id", resp.RequestID),
		zap.String("client_id", resp.ClientID),
		zap.Bool("proceed", resp.Proceed),
	)
	answer <- resp.Proceed
}

func (h *Hub) PresentWarning(message string, duration time.Duration) {
	h.hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeWarning,
		Timestamp: time.Now(),
		Data:      websocket.WarningEvent{Message: message, Duration: duration},
	})
}

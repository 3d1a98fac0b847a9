package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	mu      sync.Mutex
	clients int
	events  []websocket.Event
	respond func(websocket.ConfirmResponse)
	onEvent func(websocket.Event)
}

func (f *fakeBroadcaster) BroadcastEvent(ev websocket.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	hook := f.onEvent
	f.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (f *fakeBroadcaster) ClientCount() int { return f.clients }

func (f *fakeBroadcaster) OnConfirmResponse(fn func(websocket.ConfirmResponse)) { f.respond = fn }

var findings = []detect.Finding{{Name: "Credit Card", Match: "4111111111111111", Severity: detect.SeverityCritical}}

func TestHubProvider(t *testing.T) {
	t.Run("FirstAnswerWins", func(t *testing.T) {
		b := &fakeBroadcaster{clients: 1}
		p := NewHub(b, time.Second, nil)
		b.onEvent = func(ev websocket.Event) {
			go func() {
				b.respond(websocket.ConfirmResponse{RequestID: ev.RequestID, Proceed: true})
				b.respond(websocket.ConfirmResponse{RequestID: ev.RequestID, Proceed: false})
			}()
		}

		proceed, err := p.PresentBlockingChoice(context.Background(), findings, SourcePaste)
		require.NoError(t, err)
		assert.True(t, proceed)

		require.Len(t, b.events, 1)
		req := b.events[0].Data.(websocket.ConfirmRequest)
		assert.Equal(t, SourcePaste, req.Source)
		assert.Equal(t, detect.MaskValue("4111111111111111"), req.Findings[0].Masked)
	})

	t.Run("NoClients", func(t *testing.T) {
		p := NewHub(&fakeBroadcaster{}, time.Second, nil)
		_, err := p.PresentBlockingChoice(context.Background(), findings, SourcePrompt)
		assert.ErrorIs(t, err, ErrNoClients)
	})

	t.Run("Timeout", func(t *testing.T) {
		p := NewHub(&fakeBroadcaster{clients: 1}, 10*time.Millisecond, nil)
		_, err := p.PresentBlockingChoice(context.Background(), findings, SourcePrompt)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		p := NewHub(&fakeBroadcaster{clients: 1}, time.Minute, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.PresentBlockingChoice(ctx, findings, SourcePrompt)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Warning", func(t *testing.T) {
		b := &fakeBroadcaster{}
		NewHub(b, time.Second, nil).PresentWarning("careful", 4*time.Second)
		require.Len(t, b.events, 1)
		assert.Equal(t, websocket.EventTypeWarning, b.events[0].Type)
	})
}

func TestStatic(t *testing.T) {
	proceed, err := (&Static{Proceed: true}).PresentBlockingChoice(context.Background(), findings, SourceForm)
	require.NoError(t, err)
	assert.True(t, proceed)
}

func TestThrottled(t *testing.T) {
	var shown int
	p := NewThrottled(Func{Warning: func(string, time.Duration) { shown++ }}, 1)

	for i := 0; i < 5; i++ {
		p.PresentWarning("copied sensitive data", time.Second)
	}
	assert.Equal(t, 1, shown)

	_, err := p.PresentBlockingChoice(context.Background(), findings, SourcePrompt)
	assert.True(t, errors.Is(err, ErrNoClients))
}

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		typ     EventType
		blocked bool
		warned  bool
	}{
		{PromptBlocked, true, false},
		{RealtimeAllowed, false, false},
		{CopyWarned, false, true},
		{APIPIIWarned, false, true},
		{URLPIIDetected, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			ev := Event{Type: tt.typ}
			assert.Equal(t, tt.blocked, ev.Blocked())
			assert.Equal(t, tt.warned, ev.Warned())
		})
	}
}

func TestNewEventDropsMatches(t *testing.T) {
	ev := NewEvent(PasteBlocked, "paste", []detect.Finding{
		{Name: "Credit Card", Match: "4111111111111111", Severity: detect.SeverityCritical},
	}, "https://claude.ai/")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, []detect.Summary{{Name: "Credit Card", Severity: detect.SeverityCritical}}, ev.Findings)
}

type recordingHub struct{ events []websocket.Event }

func (r *recordingHub) BroadcastEvent(ev websocket.Event) { r.events = append(r.events, ev) }

func TestMulti(t *testing.T) {
	hub := &recordingHub{}
	var seen []EventType
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("redis down") })
	recording := SinkFunc(func(_ context.Context, e Event) error {
		seen = append(seen, e.Type)
		return nil
	})

	sink := Multi{failing, LogSink{Logger: logger.NewNop()}, HubSink{Hub: hub}, nil, recording}
	err := sink.Record(context.Background(), NewEvent(FormAllowed, "form", nil, ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, []EventType{FormAllowed}, seen)
	require.Len(t, hub.events, 1)
	assert.Equal(t, websocket.EventTypeDecision, hub.events[0].Type)
}

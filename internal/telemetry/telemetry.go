// Package telemetry records interception decisions. Matched values never
// reach a sink; events carry finding names and severities only.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/websocket"
	"go.uber.org/zap"
)

// EventType names what happened to a guarded action
type EventType string

const (
	PromptBlocked   EventType = "prompt_blocked"
	PromptAllowed   EventType = "prompt_allowed"
	PasteBlocked    EventType = "paste_blocked"
	PasteAllowed    EventType = "paste_allowed"
	FormBlocked     EventType = "form_blocked"
	FormAllowed     EventType = "form_allowed"
	RealtimeBlocked EventType = "realtime_blocked"
	RealtimeAllowed EventType = "realtime_allowed"
	CopyWarned      EventType = "copy_warned"
	APIPIIWarned    EventType = "api_pii_warned"
	URLPIIDetected  EventType = "url_pii_detected"
)

// Event is one recorded decision
type Event struct {
	ID        string           `json:"id" db:"id"`
	Type      EventType        `json:"type" db:"type"`
	Source    string           `json:"source" db:"source"`
	Findings  []detect.Summary `json:"findings" db:"-"`
	Timestamp time.Time        `json:"timestamp" db:"created_at"`
	URL       string           `json:"url,omitempty" db:"url"`
}

// NewEvent builds an event stamped with an id and the current time
func NewEvent(typ EventType, source string, findings []detect.Finding, url string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    source,
		Findings:  detect.Summaries(findings),
		Timestamp: time.Now().UTC(),
		URL:       url,
	}
}

// Blocked reports whether the event counts as a block
func (e Event) Blocked() bool {
	return strings.Contains(string(e.Type), "blocked")
}

// Warned reports whether the event counts as a warning
func (e Event) Warned() bool {
	s := string(e.Type)
	return strings.Contains(s, "warned") || strings.Contains(s, "detected")
}

// Sink receives decision events
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

// Multi fans an event out to every sink. A failing sink does not stop the
// others; all errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log lines
type LogSink struct {
	Logger *logger.Logger
}

func (s LogSink) Record(_ context.Context, event Event) error {
	names := make([]string, 0, len(event.Findings))
	for _, f := range event.Findings {
		names = append(names, f.Name)
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("source", event.Source),
		zap.Strings("findings", names),
		zap.String("url", event.URL),
	}
	if event.Blocked() {
		s.Logger.Warn("Sensitive data blocked", fields...)
	} else {
		s.Logger.Info("Sensitive data event", fields...)
	}
	return nil
}

// Broadcaster is the part of the websocket hub HubSink needs
type Broadcaster interface {
	BroadcastEvent(event websocket.Event)
}

// HubSink pushes events to dashboard clients
type HubSink struct {
	Hub Broadcaster
}

func (s HubSink) Record(_ context.Context, event Event) error {
	s.Hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDecision,
		Timestamp: event.Timestamp,
		Data:      event,
		RequestID: event.ID,
	})
	return nil
}

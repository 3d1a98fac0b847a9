package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/promptguard/internal/detect"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDecision carries a recorded interception event
	EventTypeDecision EventType = "decision"
	// EventTypeWarning carries a non-blocking warning toast
	EventTypeWarning EventType = "warning"
	// EventTypeConfirmRequest asks dashboard clients for a block/allow choice
	EventTypeConfirmRequest EventType = "confirm_request"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConfirmRequest is the payload of EventTypeConfirmRequest. Matched values
// are masked before they leave the process.
type ConfirmRequest struct {
	Source   string          `json:"source"`
	Findings []MaskedFinding `json:"findings"`
	Deadline time.Time       `json:"deadline"`
}

// MaskedFinding is a finding safe to display
type MaskedFinding struct {
	Name     string          `json:"name"`
	Severity detect.Severity `json:"severity"`
	Masked   string          `json:"masked"`
}

// WarningEvent is the payload of EventTypeWarning
type WarningEvent struct {
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Proceed   bool        `json:"proceed,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// ConfirmResponse is a client's answer to a confirm request
type ConfirmResponse struct {
	ClientID  string
	RequestID string
	Proceed   bool
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}

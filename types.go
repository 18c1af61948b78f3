package petnotify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrMissingToken is reported when a connection is opened without credentials.
	ErrMissingToken = errors.New("petnotify: auth token is required")

	// ErrNotConnected is returned by Send when the connection is not open.
	ErrNotConnected = errors.New("petnotify: not connected")

	// ErrUnauthorized is reported when the server rejects the auth token.
	ErrUnauthorized = errors.New("petnotify: unauthorized")

	// ErrSendUnsupported is returned by transports that are server-push only.
	ErrSendUnsupported = errors.New("petnotify: transport does not support sending")

	// ErrUnknownKind marks an inbound message whose type is not recognised.
	ErrUnknownKind = errors.New("petnotify: unknown message kind")
)

// DialError wraps a failed transport handshake. StatusCode is the HTTP status
// of the handshake response, or 0 when no response was received.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial failed with HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dial failed: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState represents the engine's connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateClosing      ConnectionState = "closing"
	StateFailed       ConnectionState = "failed"
)

// StatusCode is a close code in the WebSocket close-code space.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusAbnormalClosure StatusCode = 1006
	StatusPolicyViolation StatusCode = 1008
	StatusUnauthorized    StatusCode = 4001
	StatusForbidden       StatusCode = 4003
)

// IsAuthFailure reports whether the close code means the server rejected
// the credentials. Such closes are never retried.
func (c StatusCode) IsAuthFailure() bool {
	switch c {
	case StatusUnauthorized, StatusForbidden, StatusPolicyViolation:
		return true
	}
	return false
}

// CloseEvent describes why a connection ended.
type CloseEvent struct {
	Code   StatusCode
	Reason string
	Err    error
}

// ============================================================================
// Wire Format
// ============================================================================

// MessageKind is the "type" field of an inbound frame.
type MessageKind string

const (
	KindNotification     MessageKind = "notification"
	KindReadAck          MessageKind = "read_ack"
	KindDeleteAck        MessageKind = "delete_ack"
	KindConnectionStatus MessageKind = "connection_status"

	// Names used by the legacy notification server for the same acks.
	kindLegacyRead    MessageKind = "notification_read"
	kindLegacyDeleted MessageKind = "notification_deleted"
)

// Known reports whether the dispatcher has a route for the kind.
func (k MessageKind) Known() bool {
	switch k {
	case KindNotification, KindReadAck, KindDeleteAck, KindConnectionStatus:
		return true
	}
	return false
}

// Envelope is the server-to-client wire format.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// InboundMessage is a decoded frame.
type InboundMessage struct {
	Kind      MessageKind
	Data      json.RawMessage
	Timestamp time.Time
}

// DecodeFrame parses one raw frame. Legacy ack names are normalised. A
// timestamp that is present but unparseable is left as the zero time.
func DecodeFrame(frame []byte) (InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return InboundMessage{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return InboundMessage{}, fmt.Errorf("decode frame: missing type")
	}

	kind := MessageKind(env.Type)
	switch kind {
	case kindLegacyRead:
		kind = KindReadAck
	case kindLegacyDeleted:
		kind = KindDeleteAck
	}

	msg := InboundMessage{Kind: kind, Data: env.Data}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			msg.Timestamp = ts
		}
	}
	return msg, nil
}

// ============================================================================
// Notification Payloads
// ============================================================================

// NotificationID is a server-assigned notification id. The server may send
// it as a JSON number or a JSON string.
type NotificationID string

func (id *NotificationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NotificationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*id = NotificationID(n.String())
	return nil
}

// NotificationEvent is a notification as seen by subscribers.
type NotificationEvent struct {
	ID        NotificationID  `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Category  string          `json:"category"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data,omitempty"`

	// IsNew is set only by the engine, for real-time arrivals.
	IsNew bool `json:"isNew"`
	// ShowToast carries the server's hint about native display, if any.
	ShowToast *bool `json:"showToast,omitempty"`
}

// notificationWire accepts both the current field names and the legacy
// server's ("message" for body, "type" for category).
type notificationWire struct {
	ID        NotificationID  `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Message   string          `json:"message"`
	Category  string          `json:"category"`
	Type      string          `json:"type"`
	CreatedAt string          `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
	ShowToast *bool           `json:"showToast"`
}

func decodeNotification(data json.RawMessage) (NotificationEvent, error) {
	var w notificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return NotificationEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if w.ID == "" {
		return NotificationEvent{}, fmt.Errorf("decode notification: missing id")
	}
	ev := NotificationEvent{
		ID:        w.ID,
		Title:     w.Title,
		Body:      w.Body,
		Category:  w.Category,
		Data:      w.Data,
		ShowToast: w.ShowToast,
	}
	if ev.Body == "" {
		ev.Body = w.Message
	}
	if ev.Category == "" {
		ev.Category = w.Type
	}
	if w.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
			ev.CreatedAt = ts
		}
	}
	return ev, nil
}

type ackWire struct {
	ID  NotificationID   `json:"id"`
	IDs []NotificationID `json:"ids"`
}

// decodeAckIDs accepts a bare id, {"id": ...} or {"ids": [...]}.
func decodeAckIDs(data json.RawMessage) ([]NotificationID, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode ack: empty payload")
	}
	if trimmed[0] != '{' {
		var id NotificationID
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, fmt.Errorf("decode ack: %w", err)
		}
		if id == "" {
			return nil, fmt.Errorf("decode ack: missing id")
		}
		return []NotificationID{id}, nil
	}

	var w ackWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	ids := make([]NotificationID, 0, len(w.IDs)+1)
	if w.ID != "" {
		ids = append(ids, w.ID)
	}
	for _, id := range w.IDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("decode ack: missing id")
	}
	return ids, nil
}

// decodeConnectionStatus accepts a bare bool or {"connected": bool}.
func decodeConnectionStatus(data json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return b, nil
	}
	var w struct {
		Connected *bool `json:"connected"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return false, fmt.Errorf("decode connection status: %w", err)
	}
	if w.Connected == nil {
		return false, fmt.Errorf("decode connection status: missing connected")
	}
	return *w.Connected, nil
}

// ============================================================================
// Topics and Meta-Event Payloads
// ============================================================================

const (
	TopicNotification        = "notification"
	TopicNotificationRead    = "notification_read"
	TopicNotificationDeleted = "notification_deleted"
	TopicConnected           = "connected"
	TopicConnectionExhausted = "connection_exhausted"
	TopicNotificationClick   = "notification_click"
	TopicReconnecting        = "reconnecting"
	TopicUnauthorized        = "unauthorized"
)

// ExhaustReason says why the supervisor gave up.
type ExhaustReason string

const (
	ReasonRetriesExhausted ExhaustReason = "retries_exhausted"
	ReasonUnauthorized     ExhaustReason = "unauthorized"
)

// ExhaustedEvent is the payload of TopicConnectionExhausted.
type ExhaustedEvent struct {
	Reason   ExhaustReason
	Attempts int
	Code     StatusCode
}

// ReconnectingEvent is the payload of TopicReconnecting.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidMessage is returned when an envelope is missing required fields.
var ErrInvalidMessage = errors.New("invalid message")

// MessageType classifies an envelope.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeInfo     MessageType = "info"
	TypeError    MessageType = "error"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeInfo, TypeError:
		return true
	}
	return false
}

// Message is the envelope exchanged between participants. It is not mutated
// after construction; the broker shares the same pointer between the
// receiver's queue and the history.
type Message struct {
	ID            string      `json:"message_id"`     // ULID
	Sender        string      `json:"sender"`
	Receiver      string      `json:"receiver"`
	Type          MessageType `json:"message_type"`
	Payload       Payload     `json:"content"`
	CorrelationID string      `json:"correlation_id"` // groups one logical task
	Timestamp     time.Time   `json:"timestamp"`
}

// NewMessage creates an envelope with a fresh id and timestamp. An empty
// correlationID starts a new conversation keyed by the message id.
func NewMessage(sender, receiver string, typ MessageType, payload Payload, correlationID string) *Message {
	id := ulid.Make().String()
	if correlationID == "" {
		correlationID = id
	}
	if payload == nil {
		payload = Payload{}
	}
	return &Message{
		ID:            id,
		Sender:        sender,
		Receiver:      receiver,
		Type:          typ,
		Payload:       payload,
		CorrelationID: correlationID,
		Timestamp:     stamp(),
	}
}

// Validate checks the fields every envelope must carry.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalidMessage)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if m.Receiver == "" {
		return fmt.Errorf("%w: receiver is required", ErrInvalidMessage)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown message_type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// Equal compares envelopes by identity.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID
}

// Action returns the action tag carried in the payload.
func (m *Message) Action() (Action, bool) {
	return ParseAction(m.Payload.String("action"))
}

// ToMap exports the envelope as a plain mapping.
func (m *Message) ToMap() map[string]any {
	return map[string]any{
		"message_id":     m.ID,
		"sender":         m.Sender,
		"receiver":       m.Receiver,
		"message_type":   string(m.Type),
		"content":        map[string]any(m.Payload.Clone()),
		"correlation_id": m.CorrelationID,
		"timestamp":      m.Timestamp.Format(time.RFC3339Nano),
	}
}

// MessageFromMap rebuilds an envelope exported with ToMap or decoded from
// JSON into a generic map.
func MessageFromMap(data map[string]any) (*Message, error) {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}

	msg := &Message{
		ID:            str("message_id"),
		Sender:        str("sender"),
		Receiver:      str("receiver"),
		Type:          MessageType(str("message_type")),
		CorrelationID: str("correlation_id"),
	}

	switch content := data["content"].(type) {
	case nil:
		msg.Payload = Payload{}
	case Payload:
		msg.Payload = content.Clone()
	case map[string]any:
		msg.Payload = Payload(content).Clone()
	default:
		return nil, fmt.Errorf("%w: content must be a mapping, got %T", ErrInvalidMessage, content)
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}

	if ts := str("timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidMessage, err)
		}
		msg.Timestamp = parsed
	} else {
		msg.Timestamp = stamp()
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// clock hands out non-decreasing timestamps within the process.
var clock struct {
	mu   sync.Mutex
	last time.Time
}

func stamp() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(clock.last) {
		now = clock.last
	}
	clock.last = now
	return now
}

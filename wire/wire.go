// Package wire defines the JSON envelope and payload types of the support
// chat duplex channel. Both the server gateway and the widget import these —
// single source of truth.
package wire

import (
	"encoding/json"
	"time"
)

// Event names carried by Envelope.Event.
const (
	EventVisitorStart = "visitor:start"
	EventChatStarted  = "chat:started"
	EventChatJoin     = "chat:join"
	EventChatMessage  = "chat:message"
	EventChatTyping   = "chat:typing"
	EventError        = "error"
)

// ErrorNotice codes. ConversationNotFound tells the widget its stored
// conversation id is stale and must be discarded.
const (
	CodeConversationNotFound = "conversation_not_found"
	CodeInvalidPayload       = "invalid_payload"
)

// Envelope frames every message on the duplex channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// VisitorStart requests a new or resumed conversation (widget -> server).
type VisitorStart struct {
	VisitorID string `json:"visitorId"`
}

// ChatStarted assigns or confirms a conversation id (server -> widget).
type ChatStarted struct {
	ConversationID    string `json:"conversationId"`
	IsNewConversation bool   `json:"isNewConversation"`
}

// ChatJoin attaches the connection to a conversation room (client -> server).
type ChatJoin struct {
	ConversationID string `json:"conversationId"`
}

// MessageSend carries an outgoing message (client -> server).
type MessageSend struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// MessageDelivery is a delivered message, either party (server -> client).
// The server echoes the sender's own messages through this payload too;
// the widget reconciles the echo against its pending placeholder.
type MessageDelivery struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TypingSignal is the presence event. Outbound (client -> server) it carries
// the conversation id; inbound (server -> client) the server substitutes the
// sender role of the peer.
type TypingSignal struct {
	ConversationID string `json:"conversationId,omitempty"`
	Sender         string `json:"sender,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// ErrorNotice is a protocol-level failure (server -> client).
type ErrorNotice struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

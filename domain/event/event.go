package event

import (
	"time"

	"assist-chat/domain"

	"github.com/google/uuid"
)

type DomainEvent interface {
	ConversationID() uuid.UUID
}

// MessageAccepted is emitted once a message passed validation and
// moderation and owns its authoritative server id and timestamp.
type MessageAccepted struct {
	ID           uuid.UUID
	Conversation uuid.UUID
	Sender       domain.SenderRole
	Text         string
	At           time.Time
}

func (e MessageAccepted) ConversationID() uuid.UUID { return e.Conversation }

// ConversationStarted is emitted when a visitor start request resolved,
// whether it created a fresh conversation or confirmed an existing one.
type ConversationStarted struct {
	Conversation uuid.UUID
	VisitorID    string
	IsNew        bool
}

func (e ConversationStarted) ConversationID() uuid.UUID { return e.Conversation }

// TypingChanged is ephemeral presence; sinks relay it without storing.
type TypingChanged struct {
	Conversation uuid.UUID
	Sender       domain.SenderRole
	IsTyping     bool
}

func (e TypingChanged) ConversationID() uuid.UUID { return e.Conversation }

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Command is a request addressed to one conversation.
type Command interface {
	ConversationID() uuid.UUID
}

// StartCommand asks the server to create or resume the visitor's conversation.
type StartCommand struct {
	VisitorID string
}

// PostMessageCommand carries a message to accept into a conversation.
type PostMessageCommand struct {
	Conversation uuid.UUID
	Sender       SenderRole
	Text         string
	CreatedAt    time.Time
}

func (c PostMessageCommand) ConversationID() uuid.UUID { return c.Conversation }

// TypingCommand relays a presence signal; it is never persisted.
type TypingCommand struct {
	Conversation uuid.UUID
	Sender       SenderRole
	IsTyping     bool
}

func (c TypingCommand) ConversationID() uuid.UUID { return c.Conversation }

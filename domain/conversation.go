package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a server-owned chat session between one visitor and
// at most one agent at a time. The visitor identifier stays opaque:
// it is generated by the widget and never interpreted server-side.
type Conversation struct {
	ID        uuid.UUID
	VisitorID string
	Language  string
	CreatedAt time.Time
}

func NewConversation(visitorID string, now time.Time) Conversation {
	return Conversation{
		ID:        uuid.New(),
		VisitorID: visitorID,
		CreatedAt: now,
	}
}

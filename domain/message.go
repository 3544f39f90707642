// Package domain contains core concepts of the support chat.
// This file defines Message and related rules.
// Messages are immutable once accepted by the server.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SenderRole identifies which party authored a message.
type SenderRole string

const (
	SenderVisitor SenderRole = "visitor"
	SenderAdmin   SenderRole = "admin"
)

// Valid reports whether the role is one of the two known parties.
func (r SenderRole) Valid() bool {
	return r == SenderVisitor || r == SenderAdmin
}

// Message represents one authoritative chat entry of a conversation.
// The id and timestamp are server-assigned on acceptance.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         SenderRole
	Text           string
	CreatedAt      time.Time
}

// MaxMessageLength bounds the accepted text size, matching the widget input limit.
const MaxMessageLength = 2000

// NormalizeText trims surrounding whitespace; an empty result means the
// message must be rejected client-side before any network call.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

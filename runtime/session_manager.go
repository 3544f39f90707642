package runtime

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"assist-chat/contract"
	"assist-chat/domain"
	"assist-chat/domain/event"
	"assist-chat/errors"
	"assist-chat/moderation"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
)

// minLanguageConfidence is the whatlanggo threshold under which the
// detection result is discarded as noise (short greetings, emoji).
const minLanguageConfidence = 0.5

// SessionManager is the server peer of the widget's session synchronizer.
// Every wire operation lands here; accepted work is turned into domain
// events on the pipeline channel and fanned out by the workers.
type SessionManager struct {
	log           *slog.Logger
	conversations contract.IConversationRepository
	messages      contract.IMessageRepository
	registry      contract.IRegistry
	moderator     *moderation.Moderator
	domainEvents  chan event.DomainEvent
	now           func() time.Time
}

func NewSessionManager(log *slog.Logger,
	conversations contract.IConversationRepository,
	messages contract.IMessageRepository,
	registry contract.IRegistry,
	moderator *moderation.Moderator,
	bufferSize int) *SessionManager {
	return &SessionManager{
		log:           log,
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		moderator:     moderator,
		domainEvents:  make(chan event.DomainEvent, bufferSize),
		now:           time.Now,
	}
}

// Events exposes the pipeline channel consumed by the FanoutWorker.
func (m *SessionManager) Events() chan event.DomainEvent {
	return m.domainEvents
}

// StartConversation resolves a visitor start request: an existing
// conversation is confirmed, otherwise a fresh one is created and indexed
// under the visitor id. The bool result reports whether it is new.
func (m *SessionManager) StartConversation(ctx context.Context, cmd domain.StartCommand) (domain.Conversation, bool, error) {
	existing, err := m.conversations.FindByVisitor(cmd.VisitorID)
	if err == nil {
		m.log.Debug("Resuming conversation", "conversationId", existing.ID, "visitorId", cmd.VisitorID)
		return existing, false, nil
	}
	if !goerrors.Is(err, errors.ErrConversationNotFound) {
		return domain.Conversation{}, false, err
	}

	conversation := domain.NewConversation(cmd.VisitorID, m.now().UTC())
	if err := m.conversations.Store(conversation); err != nil {
		return domain.Conversation{}, false, err
	}
	m.log.Info("Conversation created", "conversationId", conversation.ID, "visitorId", cmd.VisitorID)

	m.emit(event.ConversationStarted{
		Conversation: conversation.ID,
		VisitorID:    cmd.VisitorID,
		IsNew:        true,
	})
	return conversation, true, nil
}

// Join attaches a connection to an existing conversation. An unknown id is
// the stale-session case: the caller reports it back so the widget discards
// its stored id and restarts.
func (m *SessionManager) Join(connectionID string, id uuid.UUID, sink contract.EventSink) error {
	if _, err := m.conversations.Get(id); err != nil {
		return err
	}
	m.registry.Subscribe(connectionID, id, sink)
	return nil
}

// PostMessage validates, moderates, and persists a message, then emits the
// authoritative version for fanout. The sender's own connection receives the
// same delivery: that echo is what the widget reconciles its pending entry
// against.
func (m *SessionManager) PostMessage(ctx context.Context, cmd domain.PostMessageCommand) error {
	if !cmd.Sender.Valid() {
		return errors.ErrInvalidSender
	}
	text := domain.NormalizeText(cmd.Text)
	if text == "" {
		return errors.ErrEmptyMessage
	}
	if len(text) > domain.MaxMessageLength {
		return errors.ErrMessageTooLong
	}

	conversation, err := m.target(cmd)
	if err != nil {
		return err
	}

	if m.moderator != nil {
		text = m.moderator.Censor(text)
	}

	if conversation.Language == "" && cmd.Sender == domain.SenderVisitor {
		m.tagLanguage(conversation, text)
	}

	message := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		Sender:         cmd.Sender,
		Text:           text,
		CreatedAt:      cmd.CreatedAt.UTC(),
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = m.now().UTC()
	}
	if err := m.messages.StoreMessage(message); err != nil {
		return err
	}

	m.emit(event.MessageAccepted{
		ID:           message.ID,
		Conversation: message.ConversationID,
		Sender:       message.Sender,
		Text:         message.Text,
		At:           message.CreatedAt,
	})
	return nil
}

// Typing relays a presence signal to the conversation members. Nothing is
// persisted and unknown conversations are reported like any stale session.
func (m *SessionManager) Typing(cmd domain.TypingCommand) error {
	if _, err := m.target(cmd); err != nil {
		return err
	}
	m.emit(event.TypingChanged{
		Conversation: cmd.Conversation,
		Sender:       cmd.Sender,
		IsTyping:     cmd.IsTyping,
	})
	return nil
}

// target resolves the conversation a command addresses. An unknown id is
// the stale-session case and surfaces as ErrConversationNotFound.
func (m *SessionManager) target(cmd domain.Command) (domain.Conversation, error) {
	return m.conversations.Get(cmd.ConversationID())
}

// Detach drops every registration of a closed connection.
func (m *SessionManager) Detach(connectionID string) {
	m.registry.UnsubscribeAll(connectionID)
}

// History returns the ordered message snapshot of a conversation, the
// request/response half of the protocol used by the widget after a reconnect.
func (m *SessionManager) History(id uuid.UUID) ([]domain.Message, error) {
	if _, err := m.conversations.Get(id); err != nil {
		return nil, err
	}
	return m.messages.GetMessages(id)
}

// tagLanguage records the detected language of the first visitor message.
// Detection failures only cost the routing hint, never the message.
func (m *SessionManager) tagLanguage(conversation domain.Conversation, text string) {
	count, err := m.messages.CountByConversation(conversation.ID)
	if err != nil || count > 0 {
		return
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() || info.Confidence < minLanguageConfidence {
		return
	}
	conversation.Language = whatlanggo.LangToString(info.Lang)
	if err := m.conversations.Store(conversation); err != nil {
		m.log.Warn(fmt.Sprintf("Failed to tag conversation language: %v", err))
		return
	}
	m.log.Debug("Conversation language tagged", "conversationId", conversation.ID, "language", conversation.Language)
}

// emit pushes an event onto the pipeline, preferring a dropped event over a
// blocked protocol handler when the buffer is saturated.
func (m *SessionManager) emit(evt event.DomainEvent) {
	select {
	case m.domainEvents <- evt:
	default:
		m.log.Warn(fmt.Sprintf("Domain event channel full, dropping event for conversation %s", evt.ConversationID()))
	}
}

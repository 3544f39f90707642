package services

import (
	"context"

	"assist-chat/contract"
	"assist-chat/domain"
	"assist-chat/runtime"

	"github.com/google/uuid"
)

// ChatService is the application facade the transport layers depend on.
// It keeps the gateway and the HTTP API decoupled from the runtime package.
type ChatService struct {
	manager *runtime.SessionManager
}

func NewChatService(manager *runtime.SessionManager) *ChatService {
	return &ChatService{manager: manager}
}

func (s *ChatService) StartConversation(ctx context.Context, cmd domain.StartCommand) (domain.Conversation, bool, error) {
	return s.manager.StartConversation(ctx, cmd)
}

func (s *ChatService) Join(connectionID string, id uuid.UUID, sink contract.EventSink) error {
	return s.manager.Join(connectionID, id, sink)
}

func (s *ChatService) PostMessage(ctx context.Context, cmd domain.PostMessageCommand) error {
	return s.manager.PostMessage(ctx, cmd)
}

func (s *ChatService) Typing(cmd domain.TypingCommand) error {
	return s.manager.Typing(cmd)
}

func (s *ChatService) Detach(connectionID string) {
	s.manager.Detach(connectionID)
}

func (s *ChatService) History(id uuid.UUID) ([]domain.Message, error) {
	return s.manager.History(id)
}

//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"assist-chat/domain"
	"assist-chat/domain/event"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives domain events for one attached connection.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry maps live connections onto the conversations they attend.
type IRegistry interface {
	GetSinksForConversation(id uuid.UUID) []EventSink
	Subscribe(connectionID string, id uuid.UUID, sink EventSink)
	Unsubscribe(connectionID string, id uuid.UUID)
	UnsubscribeAll(connectionID string)
}

// ISessionManager is the server-side peer of the widget protocol.
type ISessionManager interface {
	StartConversation(ctx context.Context, cmd domain.StartCommand) (domain.Conversation, bool, error)
	Join(connectionID string, id uuid.UUID, sink EventSink) error
	PostMessage(ctx context.Context, cmd domain.PostMessageCommand) error
	Typing(cmd domain.TypingCommand) error
	Detach(connectionID string)
}

// IConversationRepository persists conversations and the visitor index.
type IConversationRepository interface {
	Store(conversation domain.Conversation) error
	Get(id uuid.UUID) (domain.Conversation, error)
	FindByVisitor(visitorID string) (domain.Conversation, error)
}

// IMessageRepository persists accepted messages in arrival order.
type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessages(conversationID uuid.UUID) ([]domain.Message, error)
	CountByConversation(conversationID uuid.UUID) (int, error)
}

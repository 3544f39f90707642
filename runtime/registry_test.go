package runtime

import (
	"context"
	"testing"

	"assist-chat/domain/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type Sink struct{}

func (s Sink) Consume(ctx context.Context, e event.DomainEvent) error {
	return nil
}

func TestRegistry_Subscribe_One_Conversation_One_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connectionID := uuid.NewString()
	conversation := uuid.New()
	sink := Sink{}

	// Given no connection is registered
	req.Empty(registry.Sessions)
	req.Empty(registry.Members)

	// When a connection subscribes a conversation
	registry.Subscribe(connectionID, conversation, sink)

	// Then
	req.Len(registry.Sessions, 1)
	req.Equal(sink, registry.Sessions[connectionID])

	req.Len(registry.Members, 1)
	req.Contains(registry.Members[conversation], connectionID)

	req.Len(registry.GetSinksForConversation(conversation), 1)
	req.Contains(registry.GetSinksForConversation(conversation), sink)
}

func TestRegistry_Subscribe_One_Conversation_Multiple_Connections(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connectionID1 := uuid.NewString()
	connectionID2 := uuid.NewString()
	conversation := uuid.New()

	// When a visitor connection and an admin connection subscribe
	registry.Subscribe(connectionID1, conversation, Sink{})
	registry.Subscribe(connectionID2, conversation, Sink{})

	// Then
	req.Len(registry.Sessions, 2)
	req.Len(registry.Members[conversation], 2)
	req.Len(registry.GetSinksForConversation(conversation), 2)
}

func TestRegistry_Unsubscribe_Leaves_No_Empty_Set(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connectionID := uuid.NewString()
	conversation := uuid.New()

	// Given a connection subscribed a conversation
	registry.Subscribe(connectionID, conversation, Sink{})

	// When the connection unsubscribes
	registry.Unsubscribe(connectionID, conversation)

	// Then no session is left and the conversation entry is removed
	req.Empty(registry.Sessions)
	req.Empty(registry.Members)
	req.Nil(registry.GetSinksForConversation(conversation))
}

func TestRegistry_Unsubscribe_Keeps_Other_Conversations_Attached(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connectionID := uuid.NewString()
	conv1 := uuid.New()
	conv2 := uuid.New()
	sink := Sink{}

	// Given one connection attending two conversations
	registry.Subscribe(connectionID, conv1, sink)
	registry.Subscribe(connectionID, conv2, sink)

	// When it leaves the first one
	registry.Unsubscribe(connectionID, conv1)

	// Then the sink still serves the second conversation's fanout
	req.Nil(registry.GetSinksForConversation(conv1))
	req.Len(registry.GetSinksForConversation(conv2), 1)
	req.Contains(registry.Sessions, connectionID)
}

func TestRegistry_UnsubscribeAll_Detaches_Every_Conversation(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connectionID := uuid.NewString()
	conv1 := uuid.New()
	conv2 := uuid.New()

	// Given one connection attending two conversations
	registry.Subscribe(connectionID, conv1, Sink{})
	registry.Subscribe(connectionID, conv2, Sink{})

	// When the underlying channel closes
	registry.UnsubscribeAll(connectionID)

	// Then no registration survives
	req.Empty(registry.Sessions)
	req.Empty(registry.Members)
}

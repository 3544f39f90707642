package widget

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityStore_Visitor_Id_Survives_Restart(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "identity.json")

	store, err := NewIdentityStore(path)
	req.NoError(err)
	first, err := store.VisitorID()
	req.NoError(err)
	req.NotEmpty(first)

	// A second call returns the same id
	again, err := store.VisitorID()
	req.NoError(err)
	req.Equal(first, again)

	// And so does a fresh store over the same file
	reloaded, err := NewIdentityStore(path)
	req.NoError(err)
	loaded, err := reloaded.VisitorID()
	req.NoError(err)
	req.Equal(first, loaded)
}

func TestIdentityStore_Conversation_Id_Set_And_Clear(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "identity.json")

	store, err := NewIdentityStore(path)
	req.NoError(err)
	_, ok := store.ConversationID()
	req.False(ok)

	req.NoError(store.SetConversationID("conv-42"))
	reloaded, err := NewIdentityStore(path)
	req.NoError(err)
	id, ok := reloaded.ConversationID()
	req.True(ok)
	req.Equal("conv-42", id)

	// Clearing drops the conversation but keeps the visitor
	visitorID, err := reloaded.VisitorID()
	req.NoError(err)
	req.NoError(reloaded.ClearConversationID())
	final, err := NewIdentityStore(path)
	req.NoError(err)
	_, ok = final.ConversationID()
	req.False(ok)
	kept, err := final.VisitorID()
	req.NoError(err)
	req.Equal(visitorID, kept)
}

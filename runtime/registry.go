// Package runtime owns the server side of the chat protocol: the session
// manager, the connection registry, and the supervised worker pipeline.
// It orchestrates the system without containing domain rules.
package runtime

import (
	"sync"

	"assist-chat/contract"

	"github.com/google/uuid"
)

type Set map[string]struct{}

// Registry tracks which live connections attend which conversations.
// A visitor usually holds one connection; reconnects register a fresh
// connection id, so stale entries are removed on UnsubscribeAll.
type Registry struct {
	mu       sync.RWMutex
	Sessions map[string]contract.EventSink // connection id -> sink
	Members  map[uuid.UUID]Set             // conversation -> connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		Sessions: make(map[string]contract.EventSink),
		Members:  make(map[uuid.UUID]Set),
	}
}

// GetSinksForConversation resolves every active sink attached to a conversation.
// Two-step lookup: member connection ids first, then their sinks, so one
// connection joined to several conversations is managed in a single place.
// Returns nil if the conversation has no attendees.
func (r *Registry) GetSinksForConversation(id uuid.UUID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.Members[id]
	if !ok {
		return nil
	}
	var activeSinks []contract.EventSink
	for connectionID := range members {
		if sink, exists := r.Sessions[connectionID]; exists {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}

// Subscribe registers a connection's sink and attaches it to a conversation.
// The conversation entry is initialized on the fly when missing.
func (r *Registry) Subscribe(connectionID string, id uuid.UUID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Sessions[connectionID] = sink

	if _, ok := r.Members[id]; !ok {
		r.Members[id] = make(Set)
	}
	r.Members[id][connectionID] = struct{}{}
}

// Unsubscribe detaches a connection from one conversation. The sink stays
// registered while the connection attends any other conversation; empty
// member sets are removed to prevent the map growing over time.
func (r *Registry) Unsubscribe(connectionID string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMember(connectionID, id)
	if !r.attendsAny(connectionID) {
		delete(r.Sessions, connectionID)
	}
}

// UnsubscribeAll drops every registration of a connection. Called when the
// underlying channel closes.
func (r *Registry) UnsubscribeAll(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.Sessions, connectionID)
	for id := range r.Members {
		r.removeMember(connectionID, id)
	}
}

func (r *Registry) attendsAny(connectionID string) bool {
	for _, members := range r.Members {
		if _, ok := members[connectionID]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) removeMember(connectionID string, id uuid.UUID) {
	if members, ok := r.Members[id]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.Members, id)
		}
	}
}

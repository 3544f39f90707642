package widget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// IdentityStore persists the visitor's durable identity between widget runs.
// The visitor id is created once and never rotated by the store itself; the
// conversation id is set when the server confirms a conversation and cleared
// when the server reports it unknown.
type IdentityStore struct {
	mu   sync.Mutex
	path string
	data identityData
}

type identityData struct {
	VisitorID      string `json:"visitorId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// NewIdentityStore loads the identity file at path, creating the parent
// directory if needed. A missing file is not an error.
func NewIdentityStore(path string) (*IdentityStore, error) {
	s := &IdentityStore{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read identity file %s : %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse identity file %s : %w", path, err)
	}
	return s, nil
}

// VisitorID returns the durable visitor id, minting and persisting one on
// first use.
func (s *IdentityStore) VisitorID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.VisitorID != "" {
		return s.data.VisitorID, nil
	}
	s.data.VisitorID = uuid.NewString()
	if err := s.persist(); err != nil {
		return "", err
	}
	return s.data.VisitorID, nil
}

// ConversationID returns the persisted conversation id, if any.
func (s *IdentityStore) ConversationID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ConversationID, s.data.ConversationID != ""
}

// SetConversationID records a server confirmed conversation id.
func (s *IdentityStore) SetConversationID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.ConversationID == id {
		return nil
	}
	s.data.ConversationID = id
	return s.persist()
}

// ClearConversationID drops the persisted conversation id after the server
// reported it unknown. The visitor id is kept.
func (s *IdentityStore) ClearConversationID() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.ConversationID == "" {
		return nil
	}
	s.data.ConversationID = ""
	return s.persist()
}

func (s *IdentityStore) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity : %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create identity directory %s : %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file %s : %w", s.path, err)
	}
	return nil
}

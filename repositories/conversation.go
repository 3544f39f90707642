//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"assist-chat/domain"
	"assist-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ConversationRepository persists conversations under "conv:{uuid}" and keeps
// a secondary index "visitor:{visitorId}" -> conversation uuid so a returning
// visitor resumes the same conversation instead of opening a new one.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

type diskConversation struct {
	ID        string `cbor:"1,keyasint"`
	VisitorID string `cbor:"2,keyasint"`
	Language  string `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

func (r ConversationRepository) Store(conversation domain.Conversation) error {
	bytes, err := cbor.Marshal(diskConversation{
		ID:        conversation.ID.String(),
		VisitorID: conversation.VisitorID,
		Language:  conversation.Language,
		CreatedAt: conversation.CreatedAt.UnixNano(),
	})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(convKey(conversation.ID)), bytes); err != nil {
			return err
		}
		return txn.Set([]byte(visitorKey(conversation.VisitorID)), []byte(conversation.ID.String()))
	})
}

func (r ConversationRepository) Get(id uuid.UUID) (domain.Conversation, error) {
	var raw []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(convKey(id)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	return toDomainConversation(raw)
}

// FindByVisitor resolves the visitor index, then loads the conversation.
// A dangling index entry (conversation purged, index kept) is reported as
// not found so the caller creates a fresh conversation.
func (r ConversationRepository) FindByVisitor(visitorID string) (domain.Conversation, error) {
	var rawID []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(visitorKey(visitorID)))
		if err != nil {
			return err
		}
		rawID, err = item.ValueCopy(nil)
		return err
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	id, err := uuid.Parse(string(rawID))
	if err != nil {
		r.log.Warn("Corrupt visitor index entry", "visitorId", visitorID, "error", err)
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	return r.Get(id)
}

func toDomainConversation(raw []byte) (domain.Conversation, error) {
	var dc diskConversation
	if err := cbor.Unmarshal(raw, &dc); err != nil {
		return domain.Conversation{}, err
	}
	id, err := uuid.Parse(dc.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:        id,
		VisitorID: dc.VisitorID,
		Language:  dc.Language,
		CreatedAt: time.Unix(0, dc.CreatedAt).UTC(),
	}, nil
}

func convKey(id uuid.UUID) string {
	return fmt.Sprintf("conv:%s", id)
}

func visitorKey(visitorID string) string {
	return fmt.Sprintf("visitor:%s", visitorID)
}

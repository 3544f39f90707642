// Package search maintains a full-text index of accepted messages for the
// agent console. The index is a projection: losing it never loses messages,
// the repositories stay authoritative.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"assist-chat/domain/event"

	"github.com/blugelabs/bluge"
)

// Hit is one search result row.
type Hit struct {
	MessageID      string  `json:"messageId"`
	ConversationID string  `json:"conversationId"`
	Sender         string  `json:"sender"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
}

// MessageIndex indexes messages as they are fanned out and answers match
// queries. It is registered as a permanent sink on the pipeline.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func Open(path string, log *slog.Logger) (*MessageIndex, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("opening bluge writer: %w", err)
	}
	return &MessageIndex{writer: writer, log: log}, nil
}

func (i *MessageIndex) Close() error {
	return i.writer.Close()
}

// Consume indexes MessageAccepted events and ignores everything else.
// Update is idempotent on the message id, so redelivered events do not
// create duplicate index entries.
func (i *MessageIndex) Consume(_ context.Context, e event.DomainEvent) error {
	accepted, ok := e.(event.MessageAccepted)
	if !ok {
		return nil
	}
	doc := bluge.NewDocument(accepted.ID.String()).
		AddField(bluge.NewKeywordField("conversationId", accepted.Conversation.String()).StoreValue()).
		AddField(bluge.NewKeywordField("sender", string(accepted.Sender)).StoreValue()).
		AddField(bluge.NewTextField("text", accepted.Text).StoreValue())
	return i.writer.Update(doc.ID(), doc)
}

// Search runs a match query over message text, optionally scoped to one
// conversation, returning the top limit hits by score.
func (i *MessageIndex) Search(ctx context.Context, text, conversationID string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(text).SetField("text"))
	if conversationID != "" {
		query.AddMust(bluge.NewTermQuery(conversationID).SetField("conversationId"))
	}

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		hit := Hit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "conversationId":
				hit.ConversationID = string(value)
			case "sender":
				hit.Sender = string(value)
			case "text":
				hit.Text = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"assist-chat/domain"
	"assist-chat/domain/event"
	"assist-chat/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connection is one live websocket peer. It implements contract.EventSink:
// the fanout workers deliver domain events here and the write pump is the
// single goroutine touching the underlying conn for writes.
type connection struct {
	id   string
	role domain.SenderRole
	conn *websocket.Conn
	log  *slog.Logger
	send chan wire.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(id string, role domain.SenderRole, conn *websocket.Conn, log *slog.Logger) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:     id,
		role:   role,
		conn:   conn,
		log:    log,
		send:   make(chan wire.Envelope, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Consume projects a domain event onto the wire for this peer.
func (c *connection) Consume(ctx context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageAccepted:
		// Deliveries go to every member, sender included: the sender's
		// copy is the echo its widget reconciles against.
		return c.enqueue(ctx, wire.EventChatMessage, wire.MessageDelivery{
			ID:             evt.ID.String(),
			ConversationID: evt.Conversation.String(),
			Sender:         string(evt.Sender),
			Text:           evt.Text,
			CreatedAt:      evt.At,
		})
	case event.TypingChanged:
		// Never relay a typing signal back to its originator role.
		if evt.Sender == c.role {
			return nil
		}
		return c.enqueue(ctx, wire.EventChatTyping, wire.TypingSignal{
			Sender:   string(evt.Sender),
			IsTyping: evt.IsTyping,
		})
	default:
		return nil
	}
}

func (c *connection) enqueue(ctx context.Context, eventName string, payload any) error {
	envelope, err := wire.NewEnvelope(eventName, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- envelope:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection %s backed up: %w", c.id, ctx.Err())
	case <-c.ctx.Done():
		return nil
	}
}

// sendEnvelope is a best-effort push used for direct protocol replies.
func (c *connection) sendEnvelope(eventName string, payload any) {
	envelope, err := wire.NewEnvelope(eventName, payload)
	if err != nil {
		c.log.Error("Failed to encode envelope", "event", eventName, "error", err)
		return
	}
	select {
	case c.send <- envelope:
	case <-c.ctx.Done():
	default:
		c.log.Warn("Dropping reply on backed up connection", "connectionId", c.id, "event", eventName)
	}
}

func (c *connection) sendError(message, code string) {
	c.sendEnvelope(wire.EventError, wire.ErrorNotice{Message: message, Code: code})
}

// parseConversation validates a conversation id string, reporting a payload
// error to the peer when it is absent or malformed.
func (c *connection) parseConversation(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		c.sendError("conversationId is missing or malformed", wire.CodeInvalidPayload)
		return uuid.Nil, false
	}
	return id, true
}

// writePump serializes all writes and keeps the connection alive with pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case envelope := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.log.Debug("Write failed, closing connection", "connectionId", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

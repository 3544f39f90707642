// Package ws is the server end of the duplex channel: it upgrades HTTP
// requests to websocket connections, decodes envelopes, and bridges them
// onto the session manager.
package ws

import (
	goerrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"assist-chat/auth"
	"assist-chat/contract"
	"assist-chat/domain"
	"assist-chat/errors"
	"assist-chat/observability"
	"assist-chat/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Gateway accepts widget and agent connections. Agent connections carry a
// ?token= query parameter; everything else is treated as a visitor.
type Gateway struct {
	log      *slog.Logger
	manager  contract.ISessionManager
	issuer   *auth.TokenIssuer
	monitor  *observability.Monitor
	upgrader websocket.Upgrader
}

func NewGateway(log *slog.Logger, manager contract.ISessionManager, issuer *auth.TokenIssuer,
	monitor *observability.Monitor, readBufferSize, writeBufferSize int) *Gateway {
	return &Gateway{
		log:     log,
		manager: manager,
		issuer:  issuer,
		monitor: monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// The widget is embedded in arbitrary marketing pages; origin
			// policy is enforced by the reverse proxy, not here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the request and runs the connection until it closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	role := domain.SenderVisitor
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := g.issuer.Validate(token)
		if err != nil {
			g.log.Warn("Rejected agent connection", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		g.log.Info("Agent connected", "email", claims.Email)
		role = domain.SenderAdmin
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(uuid.NewString(), role, conn, g.log)
	g.monitor.ConnectionOpened()
	defer g.monitor.ConnectionClosed()

	go c.writePump()
	g.readLoop(c)
}

// readLoop decodes envelopes until the connection drops, then detaches it
// from every conversation.
func (g *Gateway) readLoop(c *connection) {
	defer func() {
		g.manager.Detach(c.id)
		c.close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope wire.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("Connection dropped", "connectionId", c.id, "error", err)
			}
			return
		}
		g.dispatch(c, envelope)
	}
}

func (g *Gateway) dispatch(c *connection, envelope wire.Envelope) {
	switch envelope.Event {
	case wire.EventVisitorStart:
		g.handleStart(c, envelope)
	case wire.EventChatJoin:
		g.handleJoin(c, envelope)
	case wire.EventChatMessage:
		g.handleMessage(c, envelope)
	case wire.EventChatTyping:
		g.handleTyping(c, envelope)
	default:
		g.log.Debug("Unknown event", "event", envelope.Event, "connectionId", c.id)
		c.sendError(fmt.Sprintf("unknown event %q", envelope.Event), wire.CodeInvalidPayload)
	}
}

func (g *Gateway) handleStart(c *connection, envelope wire.Envelope) {
	var payload wire.VisitorStart
	if err := envelope.Decode(&payload); err != nil || payload.VisitorID == "" {
		c.sendError("visitor:start requires a visitorId", wire.CodeInvalidPayload)
		return
	}

	conversation, isNew, err := g.manager.StartConversation(c.ctx, domain.StartCommand{VisitorID: payload.VisitorID})
	if err != nil {
		g.log.Error("Start failed", "visitorId", payload.VisitorID, "error", err)
		c.sendError("could not start conversation", "")
		return
	}

	// The requesting connection is attached right away; a later chat:join
	// for the same id is a no-op from the registry's point of view.
	if err := g.manager.Join(c.id, conversation.ID, c); err != nil {
		c.sendError("could not start conversation", "")
		return
	}
	c.sendEnvelope(wire.EventChatStarted, wire.ChatStarted{
		ConversationID:    conversation.ID.String(),
		IsNewConversation: isNew,
	})
}

func (g *Gateway) handleJoin(c *connection, envelope wire.Envelope) {
	var payload wire.ChatJoin
	if err := envelope.Decode(&payload); err != nil {
		c.sendError("malformed chat:join payload", wire.CodeInvalidPayload)
		return
	}
	id, ok := c.parseConversation(payload.ConversationID)
	if !ok {
		return
	}
	if err := g.manager.Join(c.id, id, c); err != nil {
		g.replyManagerError(c, err)
	}
}

func (g *Gateway) handleMessage(c *connection, envelope wire.Envelope) {
	var payload wire.MessageSend
	if err := envelope.Decode(&payload); err != nil {
		c.sendError("malformed chat:message payload", wire.CodeInvalidPayload)
		return
	}
	id, ok := c.parseConversation(payload.ConversationID)
	if !ok {
		return
	}
	err := g.manager.PostMessage(c.ctx, domain.PostMessageCommand{
		Conversation: id,
		Sender:       c.role,
		Text:         payload.Text,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		g.replyManagerError(c, err)
	}
}

func (g *Gateway) handleTyping(c *connection, envelope wire.Envelope) {
	var payload wire.TypingSignal
	if err := envelope.Decode(&payload); err != nil {
		c.sendError("malformed chat:typing payload", wire.CodeInvalidPayload)
		return
	}
	id, ok := c.parseConversation(payload.ConversationID)
	if !ok {
		return
	}
	err := g.manager.Typing(domain.TypingCommand{
		Conversation: id,
		Sender:       c.role,
		IsTyping:     payload.IsTyping,
	})
	if err != nil {
		g.replyManagerError(c, err)
	}
}

// replyManagerError maps session manager errors onto wire error notices.
// The not-found code is what makes the widget discard a stale session.
func (g *Gateway) replyManagerError(c *connection, err error) {
	switch {
	case goerrors.Is(err, errors.ErrConversationNotFound):
		c.sendError("conversation not found", wire.CodeConversationNotFound)
	case goerrors.Is(err, errors.ErrEmptyMessage),
		goerrors.Is(err, errors.ErrMessageTooLong),
		goerrors.Is(err, errors.ErrInvalidSender):
		c.sendError(err.Error(), wire.CodeInvalidPayload)
	default:
		g.log.Error("Session manager failure", "connectionId", c.id, "error", err)
		c.sendError("internal error", "")
	}
}

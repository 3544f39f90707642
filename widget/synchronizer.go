package widget

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"assist-chat/errors"
	"assist-chat/wire"
)

const (
	commandBufferSize = 64
	updateBufferSize  = 16
	bannerTTL         = 5 * time.Second
	peerTypingTTL     = 5 * time.Second
	resolveRetryDelay = time.Second
	historyTimeout    = 10 * time.Second
)

// Snapshot is an immutable view of the synchronizer for rendering.
type Snapshot struct {
	State          State
	ConversationID string
	Messages       []Message
	PeerTyping     bool
	Banner         string
}

// Synchronizer owns the conversation lifecycle on the visitor side. All
// transitions run on one internal goroutine consuming a command channel, so
// channel callbacks, timers and the public API never race over state.
type Synchronizer struct {
	log      *slog.Logger
	channel  Channel
	history  HistoryLoader
	identity *IdentityStore
	typing   *typingDebouncer

	commands chan func()
	quit     chan struct{}
	stopOnce sync.Once
	updates  chan Snapshot

	state          State
	started        bool
	connected      bool
	confirmed      bool
	visitorID      string
	conversationID string
	messages       []Message
	peerTyping     bool
	banner         string

	// resolveSeq stamps every in flight resolution; bumping it discards
	// late history results after a disconnect or a widget close.
	resolveSeq int
	resolving  bool
	bannerSeq  int
	typingSeq  int
}

func NewSynchronizer(log *slog.Logger, channel Channel, history HistoryLoader,
	identity *IdentityStore, typingWindow time.Duration) *Synchronizer {
	s := &Synchronizer{
		log:      log,
		channel:  channel,
		history:  history,
		identity: identity,
		commands: make(chan func(), commandBufferSize),
		quit:     make(chan struct{}),
		updates:  make(chan Snapshot, updateBufferSize),
		state:    StateUninitialized,
	}
	s.typing = newTypingDebouncer(typingWindow, func() {
		s.post(func() { s.sendTyping(false) })
	})
	channel.OnConnect(func() { s.post(s.handleConnected) })
	channel.OnDisconnect(func(err error) { s.post(func() { s.handleDisconnected(err) }) })
	channel.OnEnvelope(func(envelope wire.Envelope) { s.post(func() { s.handleEnvelope(envelope) }) })
	go s.run()
	return s
}

func (s *Synchronizer) run() {
	for {
		select {
		case fn := <-s.commands:
			fn()
		case <-s.quit:
			return
		}
	}
}

func (s *Synchronizer) post(fn func()) bool {
	select {
	case s.commands <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// Updates delivers a fresh snapshot after every state change. The channel
// is coalescing : when the consumer lags, older snapshots are dropped.
func (s *Synchronizer) Updates() <-chan Snapshot {
	return s.updates
}

// Snapshot returns the current view synchronously.
func (s *Synchronizer) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !s.post(func() { reply <- s.snapshot() }) {
		return Snapshot{State: StateClosed}
	}
	return <-reply
}

// Open brings the widget up. The first call loads the visitor identity and
// starts the channel; reopening after Close resumes from the retained state
// without a second start request.
func (s *Synchronizer) Open() error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- s.open() }) {
		return errors.ErrWidgetClosed
	}
	return <-reply
}

func (s *Synchronizer) open() error {
	switch s.state {
	case StateUninitialized:
		visitorID, err := s.identity.VisitorID()
		if err != nil {
			return fmt.Errorf("failed to load visitor identity : %w", err)
		}
		s.visitorID = visitorID
		s.state = StateConnecting
		s.started = true
		s.channel.Start()
		s.publish()
		return nil
	case StateClosed:
		for i := range s.messages {
			s.messages[i].Read = true
		}
		switch {
		case s.connected && s.confirmed:
			s.state = StateActive
		case s.connected:
			s.state = StateResolving
			s.beginResolve()
		default:
			s.state = StateConnecting
		}
		s.publish()
		return nil
	default:
		return nil
	}
}

// Close detaches the UI. The channel stays up so the conversation keeps
// accumulating in the background, and Open resumes it.
func (s *Synchronizer) Close() {
	s.post(func() {
		if s.state == StateClosed {
			return
		}
		s.typing.Stop()
		s.resolveSeq++
		s.resolving = false
		s.state = StateClosed
		s.publish()
	})
}

// Shutdown tears everything down for process exit.
func (s *Synchronizer) Shutdown() {
	s.stopOnce.Do(func() { close(s.quit) })
	_ = s.channel.Close()
	s.typing.Stop()
}

// Send posts one visitor message. The entry appears immediately as pending
// and is reconciled against the server echo.
func (s *Synchronizer) Send(text string) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- s.send(text) }) {
		return errors.ErrWidgetClosed
	}
	return <-reply
}

func (s *Synchronizer) send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.ErrEmptyMessage
	}
	if s.state != StateActive {
		return errors.ErrNotActive
	}
	s.messages = append(s.messages, Message{
		ID:        "local-" + uuid.NewString(),
		Sender:    "visitor",
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Pending:   true,
	})
	// The typing stop must reach the wire before the message itself.
	if s.typing.Flush() {
		s.sendTyping(false)
	}
	err := s.channel.Emit(wire.EventChatMessage, wire.MessageSend{
		ConversationID: s.conversationID,
		Text:           text,
	})
	if err != nil {
		// The entry stays pending; the resync after reconnection repairs it.
		s.log.Warn("failed to emit message, kept pending", slog.Any("error", err))
	}
	s.publish()
	return nil
}

// InputChanged registers one keystroke in the compose box.
func (s *Synchronizer) InputChanged() {
	s.post(func() {
		if s.state != StateActive {
			return
		}
		if s.typing.Touch() {
			s.sendTyping(true)
		}
	})
}

func (s *Synchronizer) handleConnected() {
	s.connected = true
	if s.state == StateClosed {
		return
	}
	s.state = StateResolving
	s.beginResolve()
	s.publish()
}

func (s *Synchronizer) handleDisconnected(err error) {
	s.connected = false
	// Confirmation is per connection: the server detached this connection's
	// registrations, so any resume must re-join on the next one.
	s.confirmed = false
	s.resolving = false
	s.resolveSeq++
	s.typing.Stop()
	s.peerTyping = false
	if err != nil {
		s.log.Debug("channel dropped", slog.Any("error", err))
	}
	switch s.state {
	case StateResolving, StateActive:
		s.state = StateDisconnected
	}
	s.publish()
}

// beginResolve decides between resuming the persisted conversation and
// requesting a fresh one. At most one resolution runs at a time.
func (s *Synchronizer) beginResolve() {
	if s.resolving {
		return
	}
	conversationID, ok := s.identity.ConversationID()
	if !ok {
		s.emitStart()
		return
	}
	s.resolving = true
	s.resolveSeq++
	seq := s.resolveSeq
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		history, err := s.history.FetchHistory(ctx, conversationID)
		s.post(func() { s.finishResolve(seq, conversationID, history, err) })
	}()
}

func (s *Synchronizer) finishResolve(seq int, conversationID string, history []wire.MessageDelivery, err error) {
	if seq != s.resolveSeq || s.state != StateResolving {
		// A disconnect or a close happened while the fetch was in flight.
		return
	}
	s.resolving = false
	switch {
	case goerrors.Is(err, errors.ErrConversationNotFound):
		s.invalidateConversation()
		s.emitStart()
		s.publish()
	case err != nil:
		s.log.Warn("history fetch failed, will retry", slog.Any("error", err))
		time.AfterFunc(resolveRetryDelay, func() {
			s.post(func() {
				if s.state == StateResolving {
					s.beginResolve()
				}
			})
		})
	default:
		s.conversationID = conversationID
		s.confirmed = true
		s.messages = s.reconcileHistory(history)
		s.emitJoin()
		s.state = StateActive
		s.publish()
	}
}

// reconcileHistory seeds the transcript from the server and keeps local
// pending entries that never made it across the gap.
func (s *Synchronizer) reconcileHistory(history []wire.MessageDelivery) []Message {
	merged := make([]Message, 0, len(history))
	for _, d := range history {
		m := fromDelivery(d)
		// A history snapshot is rendered immediately, so everything in it
		// counts as seen.
		m.Read = true
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		if !m.Pending {
			continue
		}
		if containsText(merged, m.Sender, m.Text) {
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

func containsText(messages []Message, sender, text string) bool {
	for _, m := range messages {
		if m.Sender == sender && m.Text == text {
			return true
		}
	}
	return false
}

func (s *Synchronizer) handleEnvelope(envelope wire.Envelope) {
	switch envelope.Event {
	case wire.EventChatStarted:
		s.handleStarted(envelope)
	case wire.EventChatMessage:
		s.handleMessage(envelope)
	case wire.EventChatTyping:
		s.handleTyping(envelope)
	case wire.EventError:
		s.handleError(envelope)
	default:
		s.log.Debug("ignoring unknown event", slog.String("event", envelope.Event))
	}
}

func (s *Synchronizer) handleStarted(envelope wire.Envelope) {
	var payload wire.ChatStarted
	if err := envelope.Decode(&payload); err != nil {
		s.log.Warn("failed to decode chat:started", slog.Any("error", err))
		return
	}
	s.conversationID = payload.ConversationID
	s.confirmed = true
	s.resolving = false
	if err := s.identity.SetConversationID(payload.ConversationID); err != nil {
		s.log.Warn("failed to persist conversation id", slog.Any("error", err))
	}
	if payload.IsNewConversation {
		s.messages = nil
	}
	s.emitJoin()
	if s.state != StateClosed {
		s.state = StateActive
	}
	s.publish()
}

func (s *Synchronizer) handleMessage(envelope wire.Envelope) {
	var payload wire.MessageDelivery
	if err := envelope.Decode(&payload); err != nil {
		s.log.Warn("failed to decode chat:message", slog.Any("error", err))
		return
	}
	if payload.ConversationID != s.conversationID {
		return
	}
	for _, m := range s.messages {
		if m.ID == payload.ID {
			return
		}
	}
	// The server echoes the visitor's own message back; reconcile it with
	// the pending placeholder instead of duplicating the entry.
	if payload.Sender == "visitor" {
		for i, m := range s.messages {
			if m.Pending && m.Sender == payload.Sender && m.Text == payload.Text {
				confirmed := fromDelivery(payload)
				confirmed.Read = true
				s.messages[i] = confirmed
				s.publish()
				return
			}
		}
	}
	delivered := fromDelivery(payload)
	// Deliveries landing while the widget is closed stay unread until the
	// user reopens it.
	delivered.Read = s.state != StateClosed
	s.messages = append(s.messages, delivered)
	s.publish()
}

func (s *Synchronizer) handleTyping(envelope wire.Envelope) {
	var payload wire.TypingSignal
	if err := envelope.Decode(&payload); err != nil {
		return
	}
	if payload.Sender == "visitor" {
		return
	}
	s.peerTyping = payload.IsTyping
	if payload.IsTyping {
		s.typingSeq++
		seq := s.typingSeq
		time.AfterFunc(peerTypingTTL, func() {
			s.post(func() {
				if seq != s.typingSeq {
					return
				}
				s.peerTyping = false
				s.publish()
			})
		})
	}
	s.publish()
}

func (s *Synchronizer) handleError(envelope wire.Envelope) {
	var payload wire.ErrorNotice
	if err := envelope.Decode(&payload); err != nil {
		return
	}
	if payload.Code == wire.CodeConversationNotFound {
		s.invalidateConversation()
		if s.state == StateActive || s.state == StateDisconnected {
			s.state = StateResolving
		}
		if s.connected && s.state == StateResolving {
			s.emitStart()
		}
		s.publish()
		return
	}
	s.banner = payload.Message
	s.bannerSeq++
	seq := s.bannerSeq
	time.AfterFunc(bannerTTL, func() {
		s.post(func() {
			if seq != s.bannerSeq {
				return
			}
			s.banner = ""
			s.publish()
		})
	})
	s.publish()
}

// invalidateConversation forgets a conversation the server no longer knows.
// The visitor identity survives.
func (s *Synchronizer) invalidateConversation() {
	s.conversationID = ""
	s.confirmed = false
	s.messages = nil
	s.peerTyping = false
	if err := s.identity.ClearConversationID(); err != nil {
		s.log.Warn("failed to clear conversation id", slog.Any("error", err))
	}
}

func (s *Synchronizer) emitStart() {
	err := s.channel.Emit(wire.EventVisitorStart, wire.VisitorStart{VisitorID: s.visitorID})
	if err != nil {
		s.log.Warn("failed to request conversation start", slog.Any("error", err))
	}
}

func (s *Synchronizer) emitJoin() {
	err := s.channel.Emit(wire.EventChatJoin, wire.ChatJoin{ConversationID: s.conversationID})
	if err != nil {
		s.log.Warn("failed to join conversation", slog.Any("error", err))
	}
}

func (s *Synchronizer) sendTyping(active bool) {
	if s.conversationID == "" {
		return
	}
	err := s.channel.Emit(wire.EventChatTyping, wire.TypingSignal{
		ConversationID: s.conversationID,
		IsTyping:       active,
	})
	if err != nil && !goerrors.Is(err, errors.ErrChannelDown) {
		s.log.Warn("failed to emit typing signal", slog.Any("error", err))
	}
}

func (s *Synchronizer) snapshot() Snapshot {
	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)
	return Snapshot{
		State:          s.state,
		ConversationID: s.conversationID,
		Messages:       messages,
		PeerTyping:     s.peerTyping,
		Banner:         s.banner,
	}
}

// publish pushes the latest snapshot, displacing the oldest one when the
// consumer lags.
func (s *Synchronizer) publish() {
	snap := s.snapshot()
	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

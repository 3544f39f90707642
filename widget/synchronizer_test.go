package widget

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"assist-chat/errors"
	"assist-chat/wire"
)

// fakeChannel is a scripted transport: the test flips the connection edges
// and injects inbound envelopes by hand.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitted   []wire.Envelope

	onEnvelope   func(wire.Envelope)
	onConnect    func()
	onDisconnect func(error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		onEnvelope:   func(wire.Envelope) {},
		onConnect:    func() {},
		onDisconnect: func(error) {},
	}
}

func (c *fakeChannel) Start()       {}
func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return errors.ErrChannelDown
	}
	envelope, err := wire.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.emitted = append(c.emitted, envelope)
	return nil
}

func (c *fakeChannel) OnEnvelope(fn func(wire.Envelope)) { c.onEnvelope = fn }
func (c *fakeChannel) OnConnect(fn func())               { c.onConnect = fn }
func (c *fakeChannel) OnDisconnect(fn func(error))       { c.onDisconnect = fn }

func (c *fakeChannel) connect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.onConnect()
}

func (c *fakeChannel) disconnect(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.onDisconnect(err)
}

func (c *fakeChannel) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	envelope, err := wire.NewEnvelope(event, payload)
	require.NoError(t, err)
	c.onEnvelope(envelope)
}

func (c *fakeChannel) countEvents(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, e := range c.emitted {
		if e.Event == event {
			count++
		}
	}
	return count
}

func (c *fakeChannel) eventNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.emitted))
	for i, e := range c.emitted {
		names[i] = e.Event
	}
	return names
}

func (c *fakeChannel) lastEvent(event string) (wire.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.emitted) - 1; i >= 0; i-- {
		if c.emitted[i].Event == event {
			return c.emitted[i], true
		}
	}
	return wire.Envelope{}, false
}

// fakeHistory is a scripted HistoryLoader with an optional gate to hold a
// fetch in flight.
type fakeHistory struct {
	mu      sync.Mutex
	calls   []string
	history []wire.MessageDelivery
	err     error
	gate    chan struct{}
}

func (h *fakeHistory) FetchHistory(_ context.Context, conversationID string) ([]wire.MessageDelivery, error) {
	h.mu.Lock()
	h.calls = append(h.calls, conversationID)
	gate := h.gate
	history, err := h.history, h.err
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return history, err
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *fakeHistory) set(history []wire.MessageDelivery, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history, h.err = history, err
}

type widgetFixture struct {
	sync     *Synchronizer
	channel  *fakeChannel
	history  *fakeHistory
	identity *IdentityStore
}

func newWidgetFixture(t *testing.T) *widgetFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	identity, err := NewIdentityStore(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, err)

	channel := newFakeChannel()
	history := &fakeHistory{}
	s := NewSynchronizer(log, channel, history, identity, 150*time.Millisecond)
	t.Cleanup(s.Shutdown)
	return &widgetFixture{sync: s, channel: channel, history: history, identity: identity}
}

func (f *widgetFixture) eventually(t *testing.T, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(f.sync.Snapshot())
	}, 2*time.Second, 5*time.Millisecond)
}

// activate drives the fixture through a fresh start into the active state.
func (f *widgetFixture) activate(t *testing.T) string {
	t.Helper()
	require.NoError(t, f.sync.Open())
	f.channel.connect()
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventVisitorStart) == 1 })

	conversationID := uuid.NewString()
	f.channel.deliver(t, wire.EventChatStarted, wire.ChatStarted{
		ConversationID:    conversationID,
		IsNewConversation: true,
	})
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive })
	return conversationID
}

func TestSynchronizer_Fresh_Visitor_Requests_Start(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	// When the widget opens and the channel comes up
	req.NoError(f.sync.Open())
	req.Equal(StateConnecting, f.sync.Snapshot().State)
	f.channel.connect()

	// Then a start request carries the minted visitor id
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventVisitorStart) == 1 })
	envelope, ok := f.channel.lastEvent(wire.EventVisitorStart)
	req.True(ok)
	var start wire.VisitorStart
	req.NoError(envelope.Decode(&start))
	visitorID, err := f.identity.VisitorID()
	req.NoError(err)
	req.Equal(visitorID, start.VisitorID)

	// And no history fetch happened
	req.Zero(f.history.callCount())
}

func TestSynchronizer_Started_Confirms_And_Joins(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	conversationID := f.activate(t)

	// The id is persisted and the room joined
	persisted, ok := f.identity.ConversationID()
	req.True(ok)
	req.Equal(conversationID, persisted)
	req.Equal(1, f.channel.countEvents(wire.EventChatJoin))
	req.Equal(conversationID, f.sync.Snapshot().ConversationID)
}

func TestSynchronizer_Resume_Seeds_From_History(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	// Given a persisted conversation with two server side messages
	conversationID := uuid.NewString()
	req.NoError(f.identity.SetConversationID(conversationID))
	f.history.set([]wire.MessageDelivery{
		{ID: "m1", ConversationID: conversationID, Sender: "visitor", Text: "hello"},
		{ID: "m2", ConversationID: conversationID, Sender: "admin", Text: "hi, how can I help?"},
	}, nil)

	// When the widget opens
	req.NoError(f.sync.Open())
	f.channel.connect()

	// Then it resumes without a fresh start request
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive })
	snap := f.sync.Snapshot()
	req.Len(snap.Messages, 2)
	req.Equal("hello", snap.Messages[0].Text)
	req.Equal(conversationID, snap.ConversationID)
	req.Equal(1, f.channel.countEvents(wire.EventChatJoin))
	req.Zero(f.channel.countEvents(wire.EventVisitorStart))
}

func TestSynchronizer_Stale_Conversation_Falls_Back_To_Fresh_Start(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	// Given a persisted id the server no longer knows
	req.NoError(f.identity.SetConversationID(uuid.NewString()))
	f.history.set(nil, errors.ErrConversationNotFound)

	req.NoError(f.sync.Open())
	f.channel.connect()

	// Then the stale id is dropped and a fresh start requested
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventVisitorStart) == 1 })
	_, ok := f.identity.ConversationID()
	req.False(ok)
	req.Equal(StateResolving, f.sync.Snapshot().State)

	// And the fresh conversation activates normally
	f.channel.deliver(t, wire.EventChatStarted, wire.ChatStarted{
		ConversationID:    uuid.NewString(),
		IsNewConversation: true,
	})
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive })
}

func TestSynchronizer_Send_Appends_Pending_Then_Reconciles_Echo(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	// When the visitor sends a message
	req.NoError(f.sync.Send("my printer is on fire"))

	// Then it shows immediately as pending
	snap := f.sync.Snapshot()
	req.Len(snap.Messages, 1)
	req.True(snap.Messages[0].Pending)
	req.Equal(1, f.channel.countEvents(wire.EventChatMessage))

	// When the server echo arrives
	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID:             "srv-1",
		ConversationID: conversationID,
		Sender:         "visitor",
		Text:           "my printer is on fire",
		CreatedAt:      time.Now().UTC(),
	})

	// Then the pending entry is replaced, not duplicated
	f.eventually(t, func(s Snapshot) bool {
		return len(s.Messages) == 1 && !s.Messages[0].Pending && s.Messages[0].ID == "srv-1"
	})
}

func TestSynchronizer_Send_Rejected_Outside_Active(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	req.NoError(f.sync.Open())
	req.ErrorIs(f.sync.Send("hello?"), errors.ErrNotActive)
	req.ErrorIs(f.sync.Send("   "), errors.ErrEmptyMessage)
	req.Zero(f.channel.countEvents(wire.EventChatMessage))
}

func TestSynchronizer_Ignores_Duplicates_And_Foreign_Conversations(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	delivery := wire.MessageDelivery{
		ID:             "srv-1",
		ConversationID: conversationID,
		Sender:         "admin",
		Text:           "have you tried turning it off?",
	}
	f.channel.deliver(t, wire.EventChatMessage, delivery)
	f.channel.deliver(t, wire.EventChatMessage, delivery)
	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID:             "srv-2",
		ConversationID: uuid.NewString(),
		Sender:         "admin",
		Text:           "wrong room",
	})

	f.eventually(t, func(s Snapshot) bool { return len(s.Messages) == 1 })
	req.Equal("srv-1", f.sync.Snapshot().Messages[0].ID)
}

func TestSynchronizer_Disconnect_Retains_State_And_Resyncs(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID: "m1", ConversationID: conversationID, Sender: "visitor", Text: "hello",
	})
	f.eventually(t, func(s Snapshot) bool { return len(s.Messages) == 1 })

	// When the channel drops
	f.channel.disconnect(context.DeadlineExceeded)
	snap := f.sync.Snapshot()
	req.Equal(StateDisconnected, snap.State)
	req.Len(snap.Messages, 1)

	// And a message lands server side during the gap
	f.history.set([]wire.MessageDelivery{
		{ID: "m1", ConversationID: conversationID, Sender: "visitor", Text: "hello"},
		{ID: "m2", ConversationID: conversationID, Sender: "admin", Text: "missed you"},
	}, nil)

	// Then reconnecting repairs the transcript through the history loader
	f.channel.connect()
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive && len(s.Messages) == 2 })
	req.Equal(1, f.history.callCount())
	req.Equal(2, f.channel.countEvents(wire.EventChatJoin))
}

func TestSynchronizer_Typing_Is_Debounced_And_Edge_Triggered(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	f.activate(t)

	// Three quick keystrokes produce a single typing start
	f.sync.InputChanged()
	f.sync.InputChanged()
	f.sync.InputChanged()
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventChatTyping) == 1 })
	envelope, _ := f.channel.lastEvent(wire.EventChatTyping)
	var signal wire.TypingSignal
	req.NoError(envelope.Decode(&signal))
	req.True(signal.IsTyping)

	// The pause emits the single stop
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventChatTyping) == 2 })
	envelope, _ = f.channel.lastEvent(wire.EventChatTyping)
	req.NoError(envelope.Decode(&signal))
	req.False(signal.IsTyping)
}

func TestSynchronizer_Send_Flushes_Typing(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	f.activate(t)

	f.sync.InputChanged()
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventChatTyping) == 1 })
	req.NoError(f.sync.Send("done typing"))

	// Sending ends the burst without waiting for the window
	f.eventually(t, func(s Snapshot) bool { return f.channel.countEvents(wire.EventChatTyping) == 2 })
	envelope, _ := f.channel.lastEvent(wire.EventChatTyping)
	var signal wire.TypingSignal
	req.NoError(envelope.Decode(&signal))
	req.False(signal.IsTyping)

	// And the stop signal went out before the message itself
	var stopIndex, messageIndex int
	for i, name := range f.channel.eventNames() {
		switch name {
		case wire.EventChatTyping:
			stopIndex = i
		case wire.EventChatMessage:
			messageIndex = i
		}
	}
	req.Less(stopIndex, messageIndex)
}

func TestSynchronizer_Typing_Silent_Outside_Active(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	req.NoError(f.sync.Open())
	f.sync.InputChanged()
	time.Sleep(100 * time.Millisecond)
	req.Zero(f.channel.countEvents(wire.EventChatTyping))
}

func TestSynchronizer_Peer_Typing_Flag(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.channel.deliver(t, wire.EventChatTyping, wire.TypingSignal{
		ConversationID: conversationID, Sender: "admin", IsTyping: true,
	})
	f.eventually(t, func(s Snapshot) bool { return s.PeerTyping })

	f.channel.deliver(t, wire.EventChatTyping, wire.TypingSignal{
		ConversationID: conversationID, Sender: "admin", IsTyping: false,
	})
	f.eventually(t, func(s Snapshot) bool { return !s.PeerTyping })

	// The widget's own role never sets the peer flag
	f.channel.deliver(t, wire.EventChatTyping, wire.TypingSignal{
		ConversationID: conversationID, Sender: "visitor", IsTyping: true,
	})
	time.Sleep(50 * time.Millisecond)
	req.False(f.sync.Snapshot().PeerTyping)
}

func TestSynchronizer_Server_Error_Shows_Banner(t *testing.T) {
	f := newWidgetFixture(t)
	f.activate(t)

	f.channel.deliver(t, wire.EventError, wire.ErrorNotice{
		Message: "message rejected",
		Code:    wire.CodeInvalidPayload,
	})
	f.eventually(t, func(s Snapshot) bool { return s.Banner == "message rejected" })
}

func TestSynchronizer_Not_Found_During_Active_Recovers(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID: "m1", ConversationID: conversationID, Sender: "visitor", Text: "hello",
	})
	f.eventually(t, func(s Snapshot) bool { return len(s.Messages) == 1 })

	// When the server reports the conversation gone
	f.channel.deliver(t, wire.EventError, wire.ErrorNotice{
		Message: "conversation not found",
		Code:    wire.CodeConversationNotFound,
	})

	// Then the widget forgets it and requests a fresh start
	f.eventually(t, func(s Snapshot) bool {
		return s.State == StateResolving && len(s.Messages) == 0
	})
	_, ok := f.identity.ConversationID()
	req.False(ok)
	req.Equal(2, f.channel.countEvents(wire.EventVisitorStart))

	f.channel.deliver(t, wire.EventChatStarted, wire.ChatStarted{
		ConversationID:    uuid.NewString(),
		IsNewConversation: true,
	})
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive })
}

func TestSynchronizer_Close_Then_Reopen_Resumes(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID: "m1", ConversationID: conversationID, Sender: "admin", Text: "still there?",
	})
	f.eventually(t, func(s Snapshot) bool { return len(s.Messages) == 1 })

	// When the user closes and reopens the widget
	f.sync.Close()
	f.eventually(t, func(s Snapshot) bool { return s.State == StateClosed })
	req.NoError(f.sync.Open())

	// Then the conversation resumes without a second start or any refetch
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive })
	snap := f.sync.Snapshot()
	req.Len(snap.Messages, 1)
	req.Equal(conversationID, snap.ConversationID)
	req.Equal(1, f.channel.countEvents(wire.EventVisitorStart))
	req.Zero(f.history.callCount())
}

func TestSynchronizer_Reconnect_While_Closed_Resolves_On_Reopen(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.sync.Close()
	f.eventually(t, func(s Snapshot) bool { return s.State == StateClosed })

	// The channel drops and comes back while the widget is closed; the
	// server forgot this connection, so the old join no longer holds.
	f.channel.disconnect(context.DeadlineExceeded)
	f.channel.connect()
	f.history.set([]wire.MessageDelivery{
		{ID: "m1", ConversationID: conversationID, Sender: "admin", Text: "wrote during the gap"},
	}, nil)

	// Reopening must refetch and re-join on the fresh connection
	req.NoError(f.sync.Open())
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive && len(s.Messages) == 1 })
	req.Equal(1, f.history.callCount())
	req.Equal(2, f.channel.countEvents(wire.EventChatJoin))
}

func TestSynchronizer_Messages_While_Closed_Stay_Unread_Until_Reopen(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)
	conversationID := f.activate(t)

	f.sync.Close()
	f.eventually(t, func(s Snapshot) bool { return s.State == StateClosed })

	// A message lands while the widget is closed
	f.channel.deliver(t, wire.EventChatMessage, wire.MessageDelivery{
		ID: "m1", ConversationID: conversationID, Sender: "admin", Text: "are you still there?",
	})
	f.eventually(t, func(s Snapshot) bool { return len(s.Messages) == 1 })
	req.False(f.sync.Snapshot().Messages[0].Read)

	// Reopening marks the backlog as seen
	req.NoError(f.sync.Open())
	f.eventually(t, func(s Snapshot) bool {
		return s.State == StateActive && len(s.Messages) == 1 && s.Messages[0].Read
	})
}

func TestSynchronizer_Late_History_After_Close_Is_Discarded(t *testing.T) {
	req := require.New(t)
	f := newWidgetFixture(t)

	// Given a resume whose history fetch hangs
	conversationID := uuid.NewString()
	req.NoError(f.identity.SetConversationID(conversationID))
	gate := make(chan struct{})
	f.history.gate = gate
	f.history.set([]wire.MessageDelivery{
		{ID: "m1", ConversationID: conversationID, Sender: "admin", Text: "late"},
	}, nil)

	req.NoError(f.sync.Open())
	f.channel.connect()
	f.eventually(t, func(s Snapshot) bool { return f.history.callCount() == 1 })

	// When the widget closes before the fetch lands
	f.sync.Close()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	// Then the late result does not reactivate anything
	snap := f.sync.Snapshot()
	req.Equal(StateClosed, snap.State)
	req.Empty(snap.Messages)
	req.Zero(f.channel.countEvents(wire.EventChatJoin))

	// And reopening resolves from scratch
	f.history.gate = nil
	req.NoError(f.sync.Open())
	f.eventually(t, func(s Snapshot) bool { return s.State == StateActive && len(s.Messages) == 1 })
	req.Equal(2, f.history.callCount())
}

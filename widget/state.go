// Package widget implements the visitor side of the support chat: a
// session synchronizer that owns the conversation lifecycle over an
// unreliable duplex channel, the durable identity store, and the history
// loader used to repair state after reconnects.
package widget

// State is the synchronizer's lifecycle position.
type State int

const (
	// StateUninitialized means no connection has been attempted.
	StateUninitialized State = iota

	// StateConnecting means the channel is being established.
	StateConnecting

	// StateResolving means the channel is up and the synchronizer is
	// determining whether to resume an existing conversation or start fresh.
	StateResolving

	// StateActive means the conversation is confirmed and message flow is enabled.
	StateActive

	// StateDisconnected means the channel dropped; state is retained while
	// the channel retries in the background.
	StateDisconnected

	// StateClosed means the user closed the widget. The channel may stay
	// connected for notifications, but the UI is detached.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

package widget

import (
	"time"

	"assist-chat/wire"
)

// Message is the widget's local view of a conversation entry. Identifiers
// are opaque strings assigned by the server; locally created entries carry
// a provisional id until the server echo replaces it.
type Message struct {
	ID        string
	Sender    string
	Text      string
	CreatedAt time.Time
	Pending   bool
	Read      bool
}

func fromDelivery(d wire.MessageDelivery) Message {
	return Message{
		ID:        d.ID,
		Sender:    d.Sender,
		Text:      d.Text,
		CreatedAt: d.CreatedAt,
	}
}

// Package projection builds presentation feeds from synchronizer snapshots.
// Handles date grouping and read separation for rendering.
// Does not mutate the snapshot or interact with the transport.
package projection

import (
	"sort"

	"github.com/samber/lo"

	"assist-chat/widget"
)

const dayFormat = "2006-01-02"

// DaySection groups the messages of one calendar day.
type DaySection struct {
	Date     string
	Messages []widget.Message
}

// Timeline is the date grouped rendering feed of a conversation.
type Timeline struct {
	Days []DaySection
}

// Build projects a snapshot's messages into a timeline, one section per
// calendar day in ascending order. Message order inside a day is preserved.
func Build(snapshot widget.Snapshot) Timeline {
	byDay := lo.GroupBy(snapshot.Messages, func(m widget.Message) string {
		return m.CreatedAt.Local().Format(dayFormat)
	})
	dates := lo.Keys(byDay)
	sort.Strings(dates)

	timeline := Timeline{Days: make([]DaySection, 0, len(dates))}
	for _, date := range dates {
		timeline.Days = append(timeline.Days, DaySection{Date: date, Messages: byDay[date]})
	}
	return timeline
}

// UnreadCount counts peer messages not yet marked read.
func UnreadCount(snapshot widget.Snapshot) int {
	return lo.CountBy(snapshot.Messages, func(m widget.Message) bool {
		return m.Sender != "visitor" && !m.Read
	})
}

// Package feed turns a channel snapshot into the render-item sequence the
// windowing engine consumes, and estimates per-item heights.
package feed

import (
	"time"

	"github.com/mglns/feedview/internal/entity"
)

type ItemKind int

const (
	ItemMessage ItemKind = iota
	ItemDateSeparator
	ItemUnreadSeparator
	ItemLoadOlder
	ItemLoadNewer
	ItemLoading
	ItemChannelStart
)

func (k ItemKind) String() string {
	switch k {
	case ItemMessage:
		return "message"
	case ItemDateSeparator:
		return "date-separator"
	case ItemUnreadSeparator:
		return "unread-separator"
	case ItemLoadOlder:
		return "load-older"
	case ItemLoadNewer:
		return "load-newer"
	case ItemLoading:
		return "loading"
	case ItemChannelStart:
		return "channel-start"
	}
	return "unknown"
}

// Fixed item IDs. Message items use the message ID; date separators use
// "day-" plus the calendar date.
const (
	IDUnread       = "unread"
	IDLoadOlder    = "load-older"
	IDLoadNewer    = "load-newer"
	IDLoading      = "loading"
	IDChannelStart = "channel-start"
)

// Item is one unit handed to the windowing and rendering layers. ID is the
// stable measurement/anchor key: identity must survive head insertions.
type Item struct {
	Kind ItemKind
	ID   string

	// Message items only.
	Message entity.Message
	Grouped bool

	// Date separators only.
	Day time.Time

	// Unread separator only.
	UnreadCount int
}

func dayID(day time.Time) string {
	return "day-" + day.Format("2006-01-02")
}

package feed

import (
	"time"

	"github.com/mglns/feedview/internal/entity"
)

// DefaultGroupingWindow is the maximum gap between two same-author messages
// for the later one to render without a repeated header.
const DefaultGroupingWindow = 5 * time.Minute

// Options control the build. Zero values fall back to sane defaults.
type Options struct {
	ViewerID       string
	ShowJoinLeave  bool
	GroupingWindow time.Duration
	Location       *time.Location // viewer-local time for day boundaries
}

func (o Options) groupingWindow() time.Duration {
	if o.GroupingWindow > 0 {
		return o.GroupingWindow
	}
	return DefaultGroupingWindow
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.Local
}

// Build is the full pipeline: message items, then loaders, then the unread
// separator. Deterministic and order-preserving over the snapshot.
func Build(snap entity.Snapshot, opts Options) []Item {
	items := messageItems(snap, opts)
	items = injectLoaders(items, snap.AtOldest, snap.AtNewest)
	items = injectUnreadSeparator(items, snap.LastReadAt, snap.UnreadCount)
	return items
}

// messageItems walks the order from the oldest end (storage is
// most-recent-first) and emits message items with date separators and
// grouping flags.
func messageItems(snap entity.Snapshot, opts Options) []Item {
	loc := opts.location()
	window := opts.groupingWindow()

	items := make([]Item, 0, len(snap.Order)+8)
	var prev *entity.Message
	var prevDay time.Time

	for i := len(snap.Order) - 1; i >= 0; i-- {
		msg, ok := snap.Messages[snap.Order[i]]
		if !ok || msg.IsDeleted() {
			continue
		}
		if skipSystemMessage(msg, opts) {
			continue
		}

		day := startOfDay(msg.CreateAt, loc)
		newDay := prevDay.IsZero() || !day.Equal(prevDay)
		if newDay {
			items = append(items, Item{Kind: ItemDateSeparator, ID: dayID(day), Day: day})
			prevDay = day
		}

		grouped := !newDay &&
			prev != nil &&
			!prev.IsSystem() && !msg.IsSystem() &&
			prev.UserID == msg.UserID &&
			msg.CreateAt.Sub(prev.CreateAt) < window

		items = append(items, Item{
			Kind:    ItemMessage,
			ID:      msg.ID,
			Message: msg,
			Grouped: grouped,
		})
		prevCopy := msg
		prev = &prevCopy
	}
	return items
}

// skipSystemMessage applies the join/leave preference. A system message is
// kept when it references the viewer, whatever the preference says.
func skipSystemMessage(msg entity.Message, opts Options) bool {
	if !msg.IsSystem() || opts.ShowJoinLeave {
		return false
	}
	return !msg.References(opts.ViewerID)
}

// injectLoaders prepends the channel start or an older-page loader and
// appends a newer-page loader unless the newest boundary is reached.
func injectLoaders(items []Item, atOldest, atNewest bool) []Item {
	out := make([]Item, 0, len(items)+2)
	if atOldest {
		out = append(out, Item{Kind: ItemChannelStart, ID: IDChannelStart})
	} else {
		out = append(out, Item{Kind: ItemLoadOlder, ID: IDLoadOlder})
	}
	out = append(out, items...)
	if !atNewest {
		out = append(out, Item{Kind: ItemLoadNewer, ID: IDLoadNewer})
	}
	return out
}

// injectUnreadSeparator inserts the unread marker immediately before the
// oldest message created after the read marker. No-op when nothing is
// unread.
func injectUnreadSeparator(items []Item, lastReadAt time.Time, unread int) []Item {
	if unread <= 0 {
		return items
	}
	at := -1
	for i := range items {
		if items[i].Kind != ItemMessage {
			continue
		}
		if items[i].Message.CreateAt.After(lastReadAt) {
			at = i
			break
		}
	}
	if at < 0 {
		return items
	}
	out := make([]Item, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, Item{Kind: ItemUnreadSeparator, ID: IDUnread, UnreadCount: unread})
	out = append(out, items[at:]...)
	// A separator now sits above the first unread message, so it renders
	// its own header again.
	out[at+1].Grouped = false
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

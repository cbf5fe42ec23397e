package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mglns/feedview/internal/entity"
)

func snapshotOf(msgs []entity.Message, mutate func(*entity.Snapshot)) entity.Snapshot {
	snap := entity.Snapshot{
		ChannelID: "general",
		Messages:  make(map[string]entity.Message, len(msgs)),
		AtOldest:  true,
		AtNewest:  true,
	}
	// Order is most-recent-first; msgs are given oldest-first for
	// readability.
	for i := len(msgs) - 1; i >= 0; i-- {
		snap.Order = append(snap.Order, msgs[i].ID)
		snap.Messages[msgs[i].ID] = msgs[i]
	}
	if mutate != nil {
		mutate(&snap)
	}
	return snap
}

func utcOptions() Options {
	return Options{ViewerID: "viewer", Location: time.UTC}
}

func messageIDs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Kind == ItemMessage {
			out = append(out, item.ID)
		}
	}
	return out
}

func TestBuildPreservesDisplayOrder(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: now},
		{ID: "m2", UserID: "grace", ChannelID: "general", Body: "two", CreateAt: now.Add(time.Minute)},
		{ID: "m3", UserID: "ada", ChannelID: "general", Body: "three", CreateAt: now.Add(2 * time.Minute)},
	}, nil)

	items := Build(snap, utcOptions())
	require.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(items))
}

func TestBuildIsIdempotent(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: now},
		{ID: "m2", UserID: "ada", ChannelID: "general", Body: "two", CreateAt: now.Add(time.Minute)},
	}, func(s *entity.Snapshot) {
		s.LastReadAt = now
		s.UnreadCount = 1
	})

	first := Build(snap, utcOptions())
	second := Build(snap, utcOptions())
	require.Equal(t, first, second)

	separators := 0
	for _, item := range first {
		if item.Kind == ItemUnreadSeparator {
			separators++
		}
	}
	require.Equal(t, 1, separators)
}

func TestGroupingWithinWindowSuppressesHeader(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: now},
		{ID: "m2", UserID: "ada", ChannelID: "general", Body: "two", CreateAt: now.Add(time.Minute)},
		{ID: "m3", UserID: "ada", ChannelID: "general", Body: "three", CreateAt: now.Add(10 * time.Minute)},
		{ID: "m4", UserID: "grace", ChannelID: "general", Body: "four", CreateAt: now.Add(11 * time.Minute)},
	}, nil)

	byID := make(map[string]Item)
	for _, item := range Build(snap, utcOptions()) {
		byID[item.ID] = item
	}

	require.False(t, byID["m1"].Grouped)
	require.True(t, byID["m2"].Grouped)  // same author, within the window
	require.False(t, byID["m3"].Grouped) // window exceeded
	require.False(t, byID["m4"].Grouped) // author change
}

func TestGroupingBreaksAcrossDayBoundary(t *testing.T) {
	late := time.Date(2026, 2, 9, 23, 58, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: late},
		{ID: "m2", UserID: "ada", ChannelID: "general", Body: "two", CreateAt: late.Add(4 * time.Minute)},
	}, nil)

	items := Build(snap, utcOptions())

	var kinds []ItemKind
	for _, item := range items {
		kinds = append(kinds, item.Kind)
	}
	require.Equal(t, []ItemKind{ItemChannelStart, ItemDateSeparator, ItemMessage, ItemDateSeparator, ItemMessage}, kinds)
	require.False(t, items[4].Grouped)
}

func TestSystemMessagesFilteredUnlessViewerReferenced(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "hello", CreateAt: now},
		{ID: "s1", UserID: "grace", ChannelID: "general", Type: entity.TypeJoinChannel, Body: "grace joined", CreateAt: now.Add(time.Minute)},
		{ID: "s2", UserID: "grace", ChannelID: "general", Type: entity.TypeAddToChannel, Body: "grace added viewer", RefUserIDs: []string{"viewer"}, CreateAt: now.Add(2 * time.Minute)},
		{ID: "s3", UserID: "linus", ChannelID: "general", Type: entity.TypeCombinedActivity, Body: "2 joined", RefUserIDs: []string{"bob", "viewer"}, CreateAt: now.Add(3 * time.Minute)},
	}, nil)

	opts := utcOptions()
	opts.ShowJoinLeave = false
	require.Equal(t, []string{"m1", "s2", "s3"}, messageIDs(Build(snap, opts)))

	opts.ShowJoinLeave = true
	require.Equal(t, []string{"m1", "s1", "s2", "s3"}, messageIDs(Build(snap, opts)))
}

func TestDeletedAndMissingRecordsAreSkipped(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: now},
		{ID: "m2", UserID: "ada", ChannelID: "general", Body: "two", CreateAt: now.Add(time.Minute), DeleteAt: now.Add(time.Hour)},
	}, func(s *entity.Snapshot) {
		s.Order = append([]string{"ghost"}, s.Order...)
	})

	require.Equal(t, []string{"m1"}, messageIDs(Build(snap, utcOptions())))
}

func TestInjectLoadersRespectsBoundaryFlags(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: now},
	}, func(s *entity.Snapshot) {
		s.AtOldest = false
		s.AtNewest = true
	})

	items := Build(snap, utcOptions())
	require.Equal(t, ItemLoadOlder, items[0].Kind)
	for _, item := range items {
		require.NotEqual(t, ItemLoadNewer, item.Kind)
	}

	snap.AtOldest = true
	snap.AtNewest = false
	items = Build(snap, utcOptions())
	require.Equal(t, ItemChannelStart, items[0].Kind)
	require.Equal(t, ItemLoadNewer, items[len(items)-1].Kind)
}

func TestUnreadSeparatorPlacement(t *testing.T) {
	base := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	msgs := []entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: base},
		{ID: "m2", UserID: "grace", ChannelID: "general", Body: "two", CreateAt: base.Add(time.Minute)},
		{ID: "m3", UserID: "ada", ChannelID: "general", Body: "three", CreateAt: base.Add(2 * time.Minute)},
	}

	snap := snapshotOf(msgs, func(s *entity.Snapshot) {
		s.LastReadAt = base.Add(90 * time.Second) // between m2 and m3
		s.UnreadCount = 1
	})
	items := Build(snap, utcOptions())

	unreadAt := -1
	for i, item := range items {
		if item.Kind == ItemUnreadSeparator {
			require.Equal(t, -1, unreadAt, "unread separator must appear once")
			unreadAt = i
			require.Equal(t, 1, item.UnreadCount)
		}
	}
	require.GreaterOrEqual(t, unreadAt, 0)
	require.Equal(t, ItemMessage, items[unreadAt+1].Kind)
	require.Equal(t, "m3", items[unreadAt+1].ID)

	// Absent when nothing is unread.
	snap.UnreadCount = 0
	for _, item := range Build(snap, utcOptions()) {
		require.NotEqual(t, ItemUnreadSeparator, item.Kind)
	}
}

// The storage sequence is newest-first; with the read marker between m2 and
// m3 (newest-first naming: m1/m2 are the unread ones) the separator lands
// immediately before m2 in display order.
func TestUnreadScenarioNewestFirst(t *testing.T) {
	base := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	byAge := []entity.Message{ // oldest first: m5 .. m1
		{ID: "m5", UserID: "ada", ChannelID: "general", Body: "five", CreateAt: base},
		{ID: "m4", UserID: "grace", ChannelID: "general", Body: "four", CreateAt: base.Add(time.Minute)},
		{ID: "m3", UserID: "ada", ChannelID: "general", Body: "three", CreateAt: base.Add(2 * time.Minute)},
		{ID: "m2", UserID: "grace", ChannelID: "general", Body: "two", CreateAt: base.Add(3 * time.Minute)},
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: base.Add(4 * time.Minute)},
	}
	snap := snapshotOf(byAge, func(s *entity.Snapshot) {
		require.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, s.Order)
		s.LastReadAt = base.Add(150 * time.Second) // between m3 and m2
		s.UnreadCount = 2
	})

	items := Build(snap, utcOptions())
	for i, item := range items {
		if item.Kind != ItemUnreadSeparator {
			continue
		}
		require.Equal(t, 2, item.UnreadCount)
		require.Equal(t, "m2", items[i+1].ID)
		return
	}
	t.Fatal("unread separator not injected")
}

func TestDateSeparatorOnlyOnDayChange(t *testing.T) {
	day1 := time.Date(2026, 2, 9, 22, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	snap := snapshotOf([]entity.Message{
		{ID: "m1", UserID: "ada", ChannelID: "general", Body: "one", CreateAt: day1},
		{ID: "m2", UserID: "grace", ChannelID: "general", Body: "two", CreateAt: day1.Add(time.Hour)},
		{ID: "m3", UserID: "ada", ChannelID: "general", Body: "three", CreateAt: day2},
	}, nil)

	items := Build(snap, utcOptions())

	var days []string
	for _, item := range items {
		if item.Kind == ItemDateSeparator {
			days = append(days, item.Day.Format("2006-01-02"))
		}
	}
	require.Equal(t, []string{"2026-02-09", "2026-02-10"}, days)
}

func TestBuildEmptySnapshotYieldsLoadersOnly(t *testing.T) {
	snap := entity.Snapshot{ChannelID: "general", Messages: map[string]entity.Message{}}
	items := Build(snap, utcOptions())
	require.Equal(t, ItemLoadOlder, items[0].Kind)
	require.Equal(t, ItemLoadNewer, items[len(items)-1].Kind)
	require.Empty(t, messageIDs(items))
}

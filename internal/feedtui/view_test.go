package feedtui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/feed"
	"github.com/mglns/feedview/internal/realtime"
)

type fetchCall struct {
	channelID string
	dir       entity.Direction
	pivotID   string
	limit     int
}

// stubProvider serves canned pages and records what the view asked for.
type stubProvider struct {
	pages   map[entity.Direction]entity.PageResult
	fetches []fetchCall
	events  chan realtime.Event
	sendErr error
	sends   []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		pages:  make(map[entity.Direction]entity.PageResult),
		events: make(chan realtime.Event, 16),
	}
}

func (s *stubProvider) FetchPage(_ context.Context, channelID string, dir entity.Direction, pivotID string, limit int) (entity.PageResult, error) {
	s.fetches = append(s.fetches, fetchCall{channelID: channelID, dir: dir, pivotID: pivotID, limit: limit})
	return s.pages[dir], nil
}

func (s *stubProvider) Subscribe(string) (<-chan realtime.Event, func()) {
	return s.events, func() {}
}

func (s *stubProvider) Send(_ context.Context, channelID, body string) (entity.Message, error) {
	s.sends = append(s.sends, body)
	msg := entity.Message{
		ID:        fmt.Sprintf("local-%d", len(s.sends)),
		UserID:    "viewer",
		ChannelID: channelID,
		Body:      body,
		CreateAt:  time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
		Pending:   true,
	}
	return msg, s.sendErr
}

// feedMessages builds n posts by "ada" spaced six minutes apart so nothing
// groups, returned newest-first the way pages arrive.
func feedMessages(channelID string, firstIdx, n int) []entity.Message {
	base := time.Date(2026, 2, 9, 1, 0, 0, 0, time.UTC)
	out := make([]entity.Message, 0, n)
	for i := firstIdx + n - 1; i >= firstIdx; i-- {
		out = append(out, entity.Message{
			ID:        fmt.Sprintf("m%02d", i),
			UserID:    "ada",
			ChannelID: channelID,
			Body:      fmt.Sprintf("post %d", i),
			CreateAt:  base.Add(time.Duration(i) * 6 * time.Minute),
		})
	}
	return out
}

func newTestView(provider *stubProvider) *feedView {
	v := newFeedView(entity.NewStore(), provider, Options{ViewerID: "viewer", Overscan: 4})
	v.now = func() time.Time { return time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC) }
	v.setSize(80, 10)
	return v
}

func runesKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitialPageScrollsToBottom(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")

	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 10, 20), AtNewest: boolPtr(true)},
	})

	require.True(t, v.eng.AtBottom())
	require.Len(t, v.store.Snapshot("general").Order, 20)
}

func TestStalePageFetchIsDiscarded(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	staleGen := v.gen
	v.Open("random")

	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       staleGen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 0, 5)},
	})

	require.Empty(t, v.store.Snapshot("general").Order, "stale completion must not mutate the store")
}

func TestOlderPagePreservesAnchor(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 10, 20), AtNewest: boolPtr(true)},
	})

	// Scroll up into the history, then note where the anchor item sits.
	v.eng.SetScrollTop(16)
	anchor, ok := v.eng.CaptureAnchor()
	require.True(t, ok)
	before, found := v.eng.OffsetOf(anchor.Key)
	require.True(t, found)
	rel := before - v.eng.ScrollTop()

	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirOlder,
		page:      entity.PageResult{Messages: feedMessages("general", 0, 10), AtOldest: boolPtr(true)},
	})

	require.Len(t, v.store.Snapshot("general").Order, 30)
	after, found := v.eng.OffsetOf(anchor.Key)
	require.True(t, found)
	require.Equal(t, rel, after-v.eng.ScrollTop(), "anchor item must keep its viewport position")
}

func TestVisibleLoaderTriggersOlderFetch(t *testing.T) {
	provider := newStubProvider()
	provider.pages[entity.DirOlder] = entity.PageResult{
		Messages: feedMessages("general", 0, 10),
		AtOldest: boolPtr(true),
	}
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 10, 20), AtNewest: boolPtr(true)},
	})

	// Bring the head loader into view.
	v.eng.SetScrollTop(0)
	cmd := v.Update(runesKey("k"))
	require.NotNil(t, cmd)

	msg, isPage := cmd().(pageLoadedMsg)
	require.True(t, isPage)
	require.Equal(t, entity.DirOlder, msg.dir)

	require.NotEmpty(t, provider.fetches)
	last := provider.fetches[len(provider.fetches)-1]
	require.Equal(t, entity.DirOlder, last.dir)
	require.Equal(t, "m10", last.pivotID, "pivot must be the oldest loaded message")

	// The in-flight guard suppresses duplicate dispatch.
	require.Nil(t, v.Update(runesKey("k")))
}

func TestRealtimeEventFollowsTailOnlyAtBottom(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 10, 20), AtNewest: boolPtr(true)},
	})
	require.True(t, v.eng.AtBottom())

	live := feedMessages("general", 40, 1)[0]
	v.Update(eventMsg{ev: realtime.Event{Kind: realtime.KindMessageCreated, Message: &live}})
	require.True(t, v.eng.AtBottom(), "tail position must follow new posts")

	v.eng.SetScrollTop(5)
	held := v.eng.ScrollTop()
	next := feedMessages("general", 41, 1)[0]
	v.Update(eventMsg{ev: realtime.Event{Kind: realtime.KindMessageCreated, Message: &next}})
	require.Equal(t, held, v.eng.ScrollTop(), "reading history must not be yanked to the tail")
}

func TestEmptyOlderPageStopsRefetch(t *testing.T) {
	provider := newStubProvider()
	provider.pages[entity.DirOlder] = entity.PageResult{} // no messages, no boundary report
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 10, 20), AtNewest: boolPtr(true)},
	})

	// Bring the head loader into view and run the dispatch cycle to rest.
	v.eng.SetScrollTop(0)
	cmd := v.Update(runesKey("k"))
	for i := 0; cmd != nil; i++ {
		require.Less(t, i, 5, "empty older pages must not refetch the same pivot forever")
		cmd = v.Update(cmd())
	}

	require.Len(t, provider.fetches, 1)
	// Scrolling again must not redispatch either.
	require.Nil(t, v.Update(runesKey("k")))
}

func TestJumpToUnreadPositionsSeparator(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 0, 30), AtNewest: boolPtr(true)},
	})
	base := time.Date(2026, 2, 9, 1, 0, 0, 0, time.UTC)
	v.store.SeedReadState("general", base.Add(20*6*time.Minute+time.Second), 9)
	v.rebuild()

	v.Update(runesKey("u"))

	offset, found := v.eng.OffsetOf(feed.IDUnread)
	require.True(t, found)
	require.Equal(t, offset-v.eng.ScrollTop(), int(unreadFraction*float64(v.height)))
}

func TestJumpToUnreadFallsBackToReadMarker(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 0, 30), AtNewest: boolPtr(true)},
	})
	// Read marker moved but no count delivered: no separator item exists.
	base := time.Date(2026, 2, 9, 1, 0, 0, 0, time.UTC)
	v.store.SeedReadState("general", base.Add(20*6*time.Minute+time.Second), 0)
	v.rebuild()
	_, found := v.eng.OffsetOf(feed.IDUnread)
	require.False(t, found)

	v.Update(runesKey("u"))

	offset, found := v.eng.OffsetOf("m21")
	require.True(t, found)
	require.Equal(t, int(unreadFraction*float64(v.height)), offset-v.eng.ScrollTop())
}

func TestMarkReadRemovesSeparator(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")
	v.Update(pageLoadedMsg{
		channelID: "general",
		gen:       v.gen,
		dir:       entity.DirInitial,
		page:      entity.PageResult{Messages: feedMessages("general", 0, 10), AtNewest: boolPtr(true)},
	})
	base := time.Date(2026, 2, 9, 1, 0, 0, 0, time.UTC)
	v.store.SeedReadState("general", base.Add(5*6*time.Minute+time.Second), 4)
	v.rebuild()
	_, found := v.eng.OffsetOf(feed.IDUnread)
	require.True(t, found)

	v.Update(runesKey("m"))

	_, found = v.eng.OffsetOf(feed.IDUnread)
	require.False(t, found)
	require.Equal(t, 0, v.store.Snapshot("general").UnreadCount)
}

func TestComposeAndSend(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")

	v.Update(runesKey("i"))
	require.True(t, v.composeActive)
	v.Update(runesKey("hi"))
	v.Update(tea.KeyMsg{Type: tea.KeySpace})
	v.Update(runesKey("there"))
	v.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	require.Equal(t, "hi ther", v.composeInput)

	cmd := v.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.False(t, v.composeActive)

	v.Update(cmd())
	require.Equal(t, []string{"hi ther"}, provider.sends)

	snap := v.store.Snapshot("general")
	require.Len(t, snap.Order, 1)
	require.True(t, snap.Messages[snap.Order[0]].Pending)
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	provider := newStubProvider()
	provider.sendErr = errors.New("server rejected")
	v := newTestView(provider)
	v.Open("general")

	v.Update(runesKey("i"))
	v.Update(runesKey("doomed"))
	cmd := v.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	v.Update(cmd())

	require.Error(t, v.lastErr)
	snap := v.store.Snapshot("general")
	require.Len(t, snap.Order, 1)
	got := snap.Messages[snap.Order[0]]
	require.True(t, got.Failed)
	require.False(t, got.Pending)
}

func TestEscCancelsCompose(t *testing.T) {
	provider := newStubProvider()
	v := newTestView(provider)
	v.Open("general")

	v.Update(runesKey("i"))
	v.Update(runesKey("draft"))
	v.Update(tea.KeyMsg{Type: tea.KeyEsc})

	require.False(t, v.composeActive)
	require.Empty(t, v.composeInput)
	require.Empty(t, provider.sends)
}

func boolPtr(v bool) *bool { return &v }

package feedtui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/feed"
	"github.com/mglns/feedview/internal/logging"
	"github.com/mglns/feedview/internal/realtime"
	"github.com/mglns/feedview/internal/transport"
	"github.com/mglns/feedview/internal/window"
)

const (
	fetchTimeout   = 10 * time.Second
	scrollStep     = 1
	pageStepShare  = 2 // page scroll = viewport / pageStepShare
	unreadFraction = 0.25
)

type pageLoadedMsg struct {
	channelID string
	gen       int
	dir       entity.Direction
	page      entity.PageResult
	err       error
}

type eventMsg struct {
	ev realtime.Event
}

type sweepTickMsg struct{}

type sentMsg struct {
	msg entity.Message
	err error
}

// feedView is the conversation feed: it owns the per-view measurement
// state and drives the store -> builder -> windowing pipeline.
type feedView struct {
	store    *entity.Store
	merger   *realtime.Merger
	provider transport.Provider
	resolve  realtime.NameResolver

	opts     feed.Options
	pageSize int

	est *feed.Estimator
	eng *window.Engine

	channelID string
	gen       int // fetch generation; stale completions are discarded
	inFlight  map[entity.Direction]bool
	exhausted map[entity.Direction]bool

	items     []feed.Item
	itemIndex map[string]feed.Item

	subCh     <-chan realtime.Event
	subCancel func()

	width  int
	height int

	composeActive bool
	composeInput  string

	lastErr error
	now     func() time.Time
}

// Options configures a feed view instance.
type Options struct {
	ViewerID       string
	ShowJoinLeave  bool
	GroupingWindow time.Duration
	Overscan       int
	PageSize       int
	Resolve        realtime.NameResolver
	TypingTimeout  time.Duration
}

func newFeedView(store *entity.Store, provider transport.Provider, opts Options) *feedView {
	mergerOpts := []realtime.Option{}
	if opts.TypingTimeout > 0 {
		mergerOpts = append(mergerOpts, realtime.WithTypingTimeout(opts.TypingTimeout))
	}
	v := &feedView{
		store:    store,
		merger:   realtime.NewMerger(store, opts.ViewerID, opts.Resolve, mergerOpts...),
		provider: provider,
		resolve:  opts.Resolve,
		opts: feed.Options{
			ViewerID:       opts.ViewerID,
			ShowJoinLeave:  opts.ShowJoinLeave,
			GroupingWindow: opts.GroupingWindow,
		},
		pageSize:  opts.PageSize,
		est:       feed.NewEstimator(),
		inFlight:  make(map[entity.Direction]bool),
		exhausted: make(map[entity.Direction]bool),
		itemIndex: make(map[string]feed.Item),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if v.pageSize <= 0 {
		v.pageSize = transport.DefaultPageSize
	}
	v.eng = window.New(viewHeights{v: v}, 0, opts.Overscan)
	return v
}

// viewHeights adapts the estimator to the windowing engine. Measurement
// failures simply fall through to the heuristic.
type viewHeights struct {
	v *feedView
}

func (h viewHeights) Height(key string) int {
	item, ok := h.v.itemIndex[key]
	if !ok {
		return 1
	}
	return h.v.est.Estimate(item, h.v.estimateContext())
}

func (v *feedView) estimateContext() feed.Context {
	return feed.Context{
		ViewerID: v.opts.ViewerID,
		Width:    v.width,
	}
}

// Open switches the view to a channel. Bumping the generation makes any
// in-flight fetch for the previous context a stale no-op on completion.
func (v *feedView) Open(channelID string) tea.Cmd {
	v.channelID = channelID
	v.gen++
	v.inFlight = make(map[entity.Direction]bool)
	v.exhausted = make(map[entity.Direction]bool)
	v.lastErr = nil
	v.est.Reset()
	v.rebuild()

	v.startSubscription()
	return tea.Batch(
		v.fetchPageCmd(entity.DirInitial, ""),
		v.sweepTickCmd(),
		v.waitForEventCmd(),
	)
}

func (v *feedView) Close() {
	if v.subCancel != nil {
		v.subCancel()
		v.subCancel = nil
	}
	v.subCh = nil
	v.est.Reset()
}

func (v *feedView) startSubscription() {
	if v.provider == nil || v.subCh != nil {
		return
	}
	ch, cancel := v.provider.Subscribe("")
	v.subCh = ch
	v.subCancel = cancel
}

func (v *feedView) waitForEventCmd() tea.Cmd {
	if v.subCh == nil {
		return nil
	}
	ch := v.subCh
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{ev: ev}
	}
}

func (v *feedView) sweepTickCmd() tea.Cmd {
	return tea.Tick(v.merger.SweepInterval(), func(time.Time) tea.Msg { return sweepTickMsg{} })
}

func (v *feedView) setSize(width, height int) {
	widthChanged := width != v.width
	v.width = width
	v.height = height
	v.eng.SetViewport(height)
	if widthChanged {
		// Wrapped line counts depend on width; stale measurements would
		// misplace every offset.
		v.est.Reset()
	}
	v.eng.Remeasure()
}

func (v *feedView) Update(msg tea.Msg) tea.Cmd {
	switch typed := msg.(type) {
	case pageLoadedMsg:
		return v.applyPage(typed)
	case eventMsg:
		return tea.Batch(v.applyEvent(typed.ev), v.waitForEventCmd())
	case sweepTickMsg:
		v.merger.Sweep(v.now())
		return v.sweepTickCmd()
	case sentMsg:
		return v.applySent(typed)
	case tea.KeyMsg:
		return v.handleKey(typed)
	}
	return nil
}

// applyPage is the anchor protocol's host side: capture before the store
// mutation, correct after the new windowing computation.
func (v *feedView) applyPage(msg pageLoadedMsg) tea.Cmd {
	if msg.channelID != v.channelID || msg.gen != v.gen {
		log := logging.Component("feedtui")
		log.Debug().Str("channel_id", msg.channelID).Msg("discarding stale page fetch")
		return nil
	}
	v.inFlight[msg.dir] = false
	if msg.err != nil {
		v.lastErr = msg.err
		return nil
	}
	v.lastErr = nil
	if msg.dir != entity.DirInitial {
		// An empty page without a boundary report would otherwise refetch
		// the same pivot forever.
		v.exhausted[msg.dir] = len(msg.page.Messages) == 0
	}

	anchor, anchored := window.Anchor{}, false
	if msg.dir == entity.DirOlder {
		anchor, anchored = v.eng.CaptureAnchor()
	}
	followTail := msg.dir != entity.DirOlder && v.eng.AtBottom()

	v.store.ApplyPage(v.channelID, msg.dir, msg.page)
	v.rebuild()

	switch {
	case anchored:
		v.eng.RestoreAnchor(anchor)
	case msg.dir == entity.DirInitial, followTail:
		v.eng.ScrollToBottom()
	}
	return v.maybeFetchCmd()
}

func (v *feedView) applyEvent(ev realtime.Event) tea.Cmd {
	followTail := v.eng.AtBottom()
	v.merger.Apply(ev)
	v.rebuild()
	if followTail {
		v.eng.ScrollToBottom()
	}
	return nil
}

func (v *feedView) applySent(msg sentMsg) tea.Cmd {
	if msg.err != nil {
		v.lastErr = msg.err
		failed := msg.msg
		failed.Pending = false
		failed.Failed = true
		v.store.UpsertMessage(failed)
	} else {
		v.store.UpsertMessage(msg.msg)
	}
	v.rebuild()
	v.eng.ScrollToBottom()
	return nil
}

// rebuild re-derives the render-item sequence from the latest snapshot.
// The pipeline is idempotent: triggers may arrive in any order, only the
// store's data application order matters.
func (v *feedView) rebuild() {
	snap := v.store.Snapshot(v.channelID)
	v.items = feed.Build(snap, v.opts)

	v.itemIndex = make(map[string]feed.Item, len(v.items))
	keys := make([]string, len(v.items))
	for i := range v.items {
		keys[i] = v.items[i].ID
		v.itemIndex[v.items[i].ID] = v.items[i]
	}
	v.eng.SetItems(keys)
}

// maybeFetchCmd dispatches pagination when a loader item is in view. The
// in-flight guard keeps retry policy out of the engine.
func (v *feedView) maybeFetchCmd() tea.Cmd {
	if v.provider == nil || len(v.items) == 0 {
		return nil
	}
	start, end := v.eng.Visible()

	var cmds []tea.Cmd
	for i := start; i < end; i++ {
		switch v.items[i].Kind {
		case feed.ItemLoadOlder:
			if !v.inFlight[entity.DirOlder] && !v.exhausted[entity.DirOlder] {
				cmds = append(cmds, v.fetchPageCmd(entity.DirOlder, v.oldestMessageID()))
			}
		case feed.ItemLoadNewer:
			if !v.inFlight[entity.DirNewer] && !v.exhausted[entity.DirNewer] {
				cmds = append(cmds, v.fetchPageCmd(entity.DirNewer, v.newestMessageID()))
			}
		}
	}
	if len(cmds) == 0 {
		return nil
	}
	return tea.Batch(cmds...)
}

func (v *feedView) fetchPageCmd(dir entity.Direction, pivotID string) tea.Cmd {
	v.inFlight[dir] = true
	provider := v.provider
	channelID := v.channelID
	gen := v.gen
	limit := v.pageSize
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		page, err := provider.FetchPage(ctx, channelID, dir, pivotID, limit)
		return pageLoadedMsg{channelID: channelID, gen: gen, dir: dir, page: page, err: err}
	}
}

func (v *feedView) oldestMessageID() string {
	for i := range v.items {
		if v.items[i].Kind == feed.ItemMessage {
			return v.items[i].ID
		}
	}
	return ""
}

func (v *feedView) newestMessageID() string {
	for i := len(v.items) - 1; i >= 0; i-- {
		if v.items[i].Kind == feed.ItemMessage {
			return v.items[i].ID
		}
	}
	return ""
}

func (v *feedView) handleKey(msg tea.KeyMsg) tea.Cmd {
	if v.composeActive {
		return v.handleComposeKey(msg)
	}

	switch msg.String() {
	case "k", "up":
		v.eng.ScrollBy(-scrollStep)
		return v.maybeFetchCmd()
	case "j", "down":
		v.eng.ScrollBy(scrollStep)
		return v.maybeFetchCmd()
	case "pgup", "ctrl+u":
		v.eng.ScrollBy(-maxInt(1, v.height/pageStepShare))
		return v.maybeFetchCmd()
	case "pgdown", "ctrl+d":
		v.eng.ScrollBy(maxInt(1, v.height/pageStepShare))
		return v.maybeFetchCmd()
	case "G", "end":
		v.eng.ScrollToBottom()
		v.store.MarkRead(v.channelID, v.now())
		v.rebuild()
		v.eng.ScrollToBottom()
		return v.maybeFetchCmd()
	case "u":
		return v.jumpToUnread()
	case "m":
		v.store.MarkRead(v.channelID, v.now())
		v.rebuild()
		return nil
	case "i":
		v.composeActive = true
		v.composeInput = ""
		return nil
	case "r":
		if v.lastErr != nil {
			v.lastErr = nil
			return v.fetchPageCmd(entity.DirInitial, "")
		}
		return nil
	}
	return nil
}

// jumpToUnread is a directed command, independent of the anchor protocol.
// Without a separator item (no unread count delivered) the oldest message
// past the read marker is the target instead.
func (v *feedView) jumpToUnread() tea.Cmd {
	if v.eng.ScrollToKey(feed.IDUnread, unreadFraction) {
		return v.maybeFetchCmd()
	}
	if id, ok := v.store.OldestUnreadID(v.channelID); ok && v.eng.ScrollToKey(id, unreadFraction) {
		return v.maybeFetchCmd()
	}
	return nil
}

func (v *feedView) handleComposeKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		v.composeActive = false
		v.composeInput = ""
		return nil
	case tea.KeyEnter:
		body := v.composeInput
		v.composeActive = false
		v.composeInput = ""
		return v.sendCmd(body)
	case tea.KeyBackspace:
		v.composeInput = trimLastRune(v.composeInput)
		return nil
	case tea.KeyRunes:
		v.composeInput += string(msg.Runes)
		return nil
	case tea.KeySpace:
		v.composeInput += " "
		return nil
	}
	return nil
}

func (v *feedView) sendCmd(body string) tea.Cmd {
	if body == "" || v.provider == nil {
		return nil
	}
	provider := v.provider
	channelID := v.channelID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msg, err := provider.Send(ctx, channelID, body)
		return sentMsg{msg: msg, err: err}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return string(runes[:len(runes)-1])
}

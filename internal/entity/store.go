package entity

import (
	"sync"
	"time"
)

// Direction of a page fetch relative to the loaded window.
type Direction int

const (
	DirInitial Direction = iota
	DirOlder
	DirNewer
)

func (d Direction) String() string {
	switch d {
	case DirOlder:
		return "older"
	case DirNewer:
		return "newer"
	default:
		return "initial"
	}
}

// PageResult is what a conversation fetch delivers. Boundary flags are
// pointers so that "not reported" is distinguishable from "reported false";
// the store only advances a boundary on an explicit report.
type PageResult struct {
	Messages []Message
	AtOldest *bool
	AtNewest *bool
}

// Snapshot is an immutable copy of one channel's state. Builders and the
// windowing engine work exclusively on snapshots and must never mutate them.
type Snapshot struct {
	ChannelID   string
	Order       []string // most-recent-first
	Messages    map[string]Message
	AtOldest    bool
	AtNewest    bool
	LastReadAt  time.Time
	UnreadCount int
}

type channelState struct {
	order      []string // most-recent-first
	atOldest   bool
	atNewest   bool
	lastReadAt time.Time
	unread     int
}

// Store owns message records and per-channel pagination/read state.
type Store struct {
	mu       sync.Mutex
	messages map[string]Message
	channels map[string]*channelState
}

func NewStore() *Store {
	return &Store{
		messages: make(map[string]Message),
		channels: make(map[string]*channelState),
	}
}

func (s *Store) channel(id string) *channelState {
	st, ok := s.channels[id]
	if !ok {
		st = &channelState{}
		s.channels[id] = st
	}
	return st
}

// ApplyPage merges a fetch result into the channel. Older pages extend the
// tail, newer pages merge at the head, an initial page replaces the window.
// Duplicate IDs are dropped; boundary flags never regress once reported.
func (s *Store) ApplyPage(channelID string, dir Direction, page PageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.channel(channelID)

	incoming := make([]string, 0, len(page.Messages))
	for i := range page.Messages {
		msg := page.Messages[i]
		if msg.ID == "" {
			continue
		}
		s.messages[msg.ID] = cloneMessage(msg)
		incoming = append(incoming, msg.ID)
	}

	switch dir {
	case DirInitial:
		st.order = dedupIDs(incoming)
	case DirOlder:
		st.order = appendMissing(st.order, incoming)
	case DirNewer:
		st.order = appendMissing(incoming, st.order)
	}

	if page.AtOldest != nil && *page.AtOldest {
		st.atOldest = true
	}
	if page.AtNewest != nil && *page.AtNewest {
		st.atNewest = true
	}
}

// UpsertMessage applies a created or updated record. New IDs are inserted
// into the order keeping the most-recent-first convention.
func (s *Store) UpsertMessage(msg Message) {
	if msg.ID == "" || msg.ChannelID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.messages[msg.ID]
	s.messages[msg.ID] = cloneMessage(msg)
	if existed {
		return
	}

	st := s.channel(msg.ChannelID)
	for _, id := range st.order {
		if id == msg.ID {
			return
		}
	}
	st.order = insertByTime(st.order, msg.ID, msg.CreateAt, s.messages)
}

// DeleteMessage tombstones the record and drops it from the channel order.
// An unread delete is reflected in the unread counter.
func (s *Store) DeleteMessage(channelID, id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if ok {
		msg.DeleteAt = at
		s.messages[id] = msg
	}

	st := s.channel(channelID)
	for i, existing := range st.order {
		if existing != id {
			continue
		}
		st.order = append(st.order[:i], st.order[i+1:]...)
		if ok && st.unread > 0 && msg.CreateAt.After(st.lastReadAt) {
			st.unread--
		}
		break
	}
}

// SeedReadState sets the read marker delivered with the channel metadata.
func (s *Store) SeedReadState(channelID string, lastReadAt time.Time, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channel(channelID)
	st.lastReadAt = lastReadAt
	if unread >= 0 {
		st.unread = unread
	}
}

// MarkRead clears the unread state up to the given time.
func (s *Store) MarkRead(channelID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channel(channelID)
	st.lastReadAt = at
	st.unread = 0
}

// IncrementUnread bumps the unread counter; called by the realtime merger
// for creates from other users.
func (s *Store) IncrementUnread(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel(channelID).unread++
}

// OldestUnreadID walks the order from the oldest end and returns the first
// message created after the read marker. The second return is false when
// the sequence holds no qualifying post.
func (s *Store) OldestUnreadID(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.channels[channelID]
	if !ok {
		return "", false
	}
	for i := len(st.order) - 1; i >= 0; i-- {
		msg, ok := s.messages[st.order[i]]
		if !ok || msg.IsDeleted() {
			continue
		}
		if msg.CreateAt.After(st.lastReadAt) {
			return msg.ID, true
		}
	}
	return "", false
}

// Snapshot copies the channel state. The copy is safe to hand across the
// pipeline; mutating it never affects the store.
func (s *Store) Snapshot(channelID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ChannelID: channelID,
		Messages:  make(map[string]Message),
	}
	st, ok := s.channels[channelID]
	if !ok {
		return snap
	}
	snap.Order = append([]string(nil), st.order...)
	snap.AtOldest = st.atOldest
	snap.AtNewest = st.atNewest
	snap.LastReadAt = st.lastReadAt
	snap.UnreadCount = st.unread
	for _, id := range st.order {
		if msg, ok := s.messages[id]; ok {
			snap.Messages[id] = cloneMessage(msg)
		}
	}
	return snap
}

func dedupIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// appendMissing appends entries of tail not already present in head.
func appendMissing(head, tail []string) []string {
	seen := make(map[string]struct{}, len(head))
	out := make([]string, 0, len(head)+len(tail))
	for _, id := range head {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range tail {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// insertByTime places id into a most-recent-first order by creation time.
// The common case, a fresh message newer than the head, is a prepend.
func insertByTime(order []string, id string, at time.Time, msgs map[string]Message) []string {
	pos := len(order)
	for i, existing := range order {
		msg, ok := msgs[existing]
		if !ok {
			continue
		}
		if !msg.CreateAt.After(at) {
			pos = i
			break
		}
	}
	order = append(order, "")
	copy(order[pos+1:], order[pos:])
	order[pos] = id
	return order
}

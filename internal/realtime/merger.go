// Package realtime applies push events to the entity store and tracks
// ephemeral typing signals in a time-windowed expiring set.
package realtime

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/logging"
)

// Event kinds delivered by the transport.
type Kind string

const (
	KindMessageCreated Kind = "message-created"
	KindMessageUpdated Kind = "message-updated"
	KindMessageDeleted Kind = "message-deleted"
	KindTyping         Kind = "typing"
)

// DefaultTypingTimeout is how long a typing signal stays alive without a
// refresh. The sweep runs at half the timeout, bounding worst-case
// staleness to 1.5x.
const DefaultTypingTimeout = 8 * time.Second

// Typing is the payload of an ephemeral typing event.
type Typing struct {
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Event is a single push from the transport layer.
type Event struct {
	Kind    Kind            `json:"kind"`
	Message *entity.Message `json:"message,omitempty"`
	Typing  *Typing         `json:"typing,omitempty"`
}

type typingKey struct {
	channelID string
	userID    string
}

type typingEntry struct {
	name string
	at   time.Time
}

// NameResolver maps a user ID to a display name from the local profile
// cache; it returns "" when no profile is cached.
type NameResolver func(userID string) string

// Merger is the per-connection event applier. Message events flow into the
// entity store; rendering is re-derived by the builder, never patched here.
type Merger struct {
	store    *entity.Store
	viewerID string
	resolve  NameResolver
	timeout  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	typing map[typingKey]typingEntry
}

type Option func(*Merger)

// WithTypingTimeout overrides the typing expiry window.
func WithTypingTimeout(d time.Duration) Option {
	return func(m *Merger) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithNow injects the clock; tests use a fixed time.
func WithNow(now func() time.Time) Option {
	return func(m *Merger) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMerger(store *entity.Store, viewerID string, resolve NameResolver, opts ...Option) *Merger {
	m := &Merger{
		store:    store,
		viewerID: strings.TrimSpace(viewerID),
		resolve:  resolve,
		timeout:  DefaultTypingTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		typing:   make(map[typingKey]typingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the typing expiry window.
func (m *Merger) Timeout() time.Duration { return m.timeout }

// SweepInterval is the recommended cadence for Sweep.
func (m *Merger) SweepInterval() time.Duration { return m.timeout / 2 }

// Apply dispatches one push event. Malformed events are dropped silently;
// a later full fetch reconciles any gap.
func (m *Merger) Apply(ev Event) {
	switch ev.Kind {
	case KindMessageCreated:
		m.applyCreated(ev.Message)
	case KindMessageUpdated:
		m.applyUpdated(ev.Message)
	case KindMessageDeleted:
		m.applyDeleted(ev.Message)
	case KindTyping:
		m.applyTyping(ev.Typing)
	default:
		log := logging.Component("realtime")
		log.Debug().Str("kind", string(ev.Kind)).Msg("dropping unknown event")
	}
}

func (m *Merger) applyCreated(msg *entity.Message) {
	if msg == nil || msg.ID == "" || msg.ChannelID == "" {
		log := logging.Component("realtime")
		log.Debug().Msg("dropping malformed create event")
		return
	}
	m.store.UpsertMessage(*msg)
	if msg.UserID != m.viewerID {
		m.store.IncrementUnread(msg.ChannelID)
	}
	// A post from someone supersedes their typing signal.
	m.clearTyping(msg.ChannelID, msg.UserID)
}

func (m *Merger) applyUpdated(msg *entity.Message) {
	if msg == nil || msg.ID == "" || msg.ChannelID == "" {
		log := logging.Component("realtime")
		log.Debug().Msg("dropping malformed update event")
		return
	}
	m.store.UpsertMessage(*msg)
}

func (m *Merger) applyDeleted(msg *entity.Message) {
	if msg == nil || msg.ID == "" || msg.ChannelID == "" {
		log := logging.Component("realtime")
		log.Debug().Msg("dropping malformed delete event")
		return
	}
	at := msg.DeleteAt
	if at.IsZero() {
		at = m.now()
	}
	m.store.DeleteMessage(msg.ChannelID, msg.ID, at)
}

func (m *Merger) applyTyping(t *Typing) {
	if t == nil || strings.TrimSpace(t.UserID) == "" || strings.TrimSpace(t.ChannelID) == "" {
		log := logging.Component("realtime")
		log.Debug().Msg("dropping malformed typing event")
		return
	}
	if strings.TrimSpace(t.UserID) == m.viewerID {
		return
	}

	name := ""
	if m.resolve != nil {
		name = strings.TrimSpace(m.resolve(t.UserID))
	}
	if name == "" {
		name = strings.TrimSpace(t.DisplayName)
	}
	if name == "" {
		name = "someone"
	}

	m.mu.Lock()
	m.typing[typingKey{channelID: t.ChannelID, userID: t.UserID}] = typingEntry{name: name, at: m.now()}
	m.mu.Unlock()
}

func (m *Merger) clearTyping(channelID, userID string) {
	m.mu.Lock()
	delete(m.typing, typingKey{channelID: channelID, userID: userID})
	m.mu.Unlock()
}

// Sweep removes every signal older than the timeout and returns how many
// were dropped.
func (m *Merger) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.typing {
		if now.Sub(entry.at) > m.timeout {
			delete(m.typing, key)
			removed++
		}
	}
	return removed
}

// Typing returns the display names currently typing in the channel, sorted
// for stable rendering. Entries past the timeout are excluded even before
// the next sweep runs.
func (m *Merger) Typing(channelID string, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, 4)
	for key, entry := range m.typing {
		if key.channelID != channelID {
			continue
		}
		if now.Sub(entry.at) > m.timeout {
			continue
		}
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

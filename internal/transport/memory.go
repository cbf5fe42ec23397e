package transport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/realtime"
)

// MemoryProvider serves seeded messages and scripted events. It backs the
// demo mode and the test suites.
type MemoryProvider struct {
	viewerID string
	now      func() time.Time

	mu          sync.Mutex
	byChannel   map[string][]entity.Message // most-recent-first
	subscribers map[int]subscriber
	nextSubID   int
}

func NewMemoryProvider(viewerID string) *MemoryProvider {
	return &MemoryProvider{
		viewerID:    strings.TrimSpace(viewerID),
		now:         func() time.Time { return time.Now().UTC() },
		byChannel:   make(map[string][]entity.Message),
		subscribers: make(map[int]subscriber),
	}
}

// Seed loads messages into a channel, keeping most-recent-first order.
func (p *MemoryProvider) Seed(channelID string, msgs []entity.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := append(p.byChannel[channelID], msgs...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreateAt.After(all[j].CreateAt) })
	p.byChannel[channelID] = all
}

func (p *MemoryProvider) FetchPage(_ context.Context, channelID string, dir entity.Direction, pivotID string, limit int) (entity.PageResult, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	all := p.byChannel[channelID]
	pivot := -1
	for i := range all {
		if all[i].ID == pivotID {
			pivot = i
			break
		}
	}

	var window []entity.Message
	page := entity.PageResult{}
	switch dir {
	case entity.DirOlder:
		start := pivot + 1
		if pivot < 0 {
			start = 0
		}
		end := start + limit
		if end >= len(all) {
			end = len(all)
			page.AtOldest = boolPtr(true)
		}
		window = all[start:end]
	case entity.DirNewer:
		end := pivot
		if pivot < 0 {
			end = 0
		}
		start := end - limit
		if start <= 0 {
			start = 0
			page.AtNewest = boolPtr(true)
		}
		window = all[start:end]
	default:
		end := limit
		if end >= len(all) {
			end = len(all)
			page.AtOldest = boolPtr(true)
		}
		window = all[:end]
		page.AtNewest = boolPtr(true)
	}

	page.Messages = append([]entity.Message(nil), window...)
	return page, nil
}

func (p *MemoryProvider) Subscribe(channelID string) (<-chan realtime.Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	sub := subscriber{channelID: channelID, ch: make(chan realtime.Event, defaultSubscribeBuffer)}
	p.subscribers[id] = sub

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(existing.ch)
		}
	}
	return sub.ch, cancel
}

// Publish fans an event out to matching subscribers. Slow consumers drop
// events rather than block the publisher; a later fetch reconciles.
func (p *MemoryProvider) Publish(ev realtime.Event) {
	channelID := eventChannelID(ev)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Message != nil {
		p.storeLocked(*ev.Message, ev.Kind)
	}
	for _, sub := range p.subscribers {
		if sub.channelID != "" && channelID != "" && sub.channelID != channelID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

func (p *MemoryProvider) Send(_ context.Context, channelID, body string) (entity.Message, error) {
	msg := entity.Message{
		ID:        uuid.NewString(),
		UserID:    p.viewerID,
		ChannelID: channelID,
		Body:      body,
		CreateAt:  p.now(),
		Pending:   true,
	}

	// Ack immediately: the authoritative record is the same message with
	// the pending flag cleared.
	acked := msg
	acked.Pending = false
	p.Publish(realtime.Event{Kind: realtime.KindMessageCreated, Message: &acked})
	return msg, nil
}

func (p *MemoryProvider) storeLocked(msg entity.Message, kind realtime.Kind) {
	all := p.byChannel[msg.ChannelID]
	for i := range all {
		if all[i].ID == msg.ID {
			all[i] = msg
			return
		}
	}
	if kind == realtime.KindMessageCreated {
		p.byChannel[msg.ChannelID] = append([]entity.Message{msg}, all...)
	}
}

func eventChannelID(ev realtime.Event) string {
	if ev.Message != nil {
		return ev.Message.ChannelID
	}
	if ev.Typing != nil {
		return ev.Typing.ChannelID
	}
	return ""
}

func boolPtr(v bool) *bool { return &v }

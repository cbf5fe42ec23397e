// Package transport is the boundary collaborator that delivers page fetches
// and push events to the feed core. The core consumes its output through
// narrow interfaces and owns no wire protocol of its own.
package transport

import (
	"context"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/realtime"
)

const (
	// DefaultPageSize is the message count requested per page.
	DefaultPageSize = 60

	defaultSubscribeBuffer = 256
)

// subscriber is one fan-out registration; both provider implementations
// share the buffered, drop-on-full delivery policy.
type subscriber struct {
	channelID string
	ch        chan realtime.Event
}

// Provider abstracts message access for the feed.
type Provider interface {
	// FetchPage loads one page of messages. pivotID is the message the
	// page is relative to ("" for initial loads); dir selects older or
	// newer content. Returned messages are most-recent-first.
	FetchPage(ctx context.Context, channelID string, dir entity.Direction, pivotID string, limit int) (entity.PageResult, error)

	// Subscribe streams push events for a channel and returns a cancel
	// function. An empty channelID subscribes to everything.
	Subscribe(channelID string) (<-chan realtime.Event, func())

	// Send submits a new post. The returned message carries a locally
	// generated ID and the pending flag; the authoritative record arrives
	// later as a message-created event.
	Send(ctx context.Context, channelID, body string) (entity.Message, error)
}

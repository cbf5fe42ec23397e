// Package entity holds the normalized message cache and per-channel
// pagination/read state. It is the single mutable resource of the feed
// pipeline; every other component reads immutable snapshots.
package entity

import (
	"strings"
	"time"
)

// Message types. The empty string is a normal user post; system subtypes
// are injected by the server for membership activity.
const (
	TypeNormal            = ""
	TypeJoinChannel       = "system_join_channel"
	TypeLeaveChannel      = "system_leave_channel"
	TypeAddToChannel      = "system_add_to_channel"
	TypeRemoveFromChannel = "system_remove_from_channel"
	TypeCombinedActivity  = "system_combined_activity"
)

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Reaction struct {
	UserID    string `json:"user_id"`
	EmojiName string `json:"emoji_name"`
}

// Message is a single channel post. Pending messages carry a locally
// generated ID and have no stable position until the send is acked.
type Message struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ChannelID   string       `json:"channel_id"`
	Body        string       `json:"body"`
	CreateAt    time.Time    `json:"create_at"`
	EditAt      time.Time    `json:"edit_at,omitempty"`
	DeleteAt    time.Time    `json:"delete_at,omitempty"`
	RootID      string       `json:"root_id,omitempty"`
	ReplyCount  int          `json:"reply_count,omitempty"`
	Type        string       `json:"type,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`

	// RefUserIDs lists the users a system message (or any activity it
	// aggregates) references as subject, adder or remover.
	RefUserIDs []string `json:"ref_user_ids,omitempty"`

	// Local-only send state; never set on server records.
	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// IsSystem reports whether the message is a server-injected membership
// notice rather than a user post.
func (m Message) IsSystem() bool {
	return strings.HasPrefix(m.Type, "system_")
}

// IsDeleted reports whether the record has been tombstoned.
func (m Message) IsDeleted() bool {
	return !m.DeleteAt.IsZero()
}

// References reports whether the message involves the given user as
// subject, adder or remover.
func (m Message) References(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	if strings.TrimSpace(m.UserID) == userID {
		return true
	}
	for _, ref := range m.RefUserIDs {
		if strings.TrimSpace(ref) == userID {
			return true
		}
	}
	return false
}

func cloneMessage(m Message) Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.RefUserIDs != nil {
		out.RefUserIDs = append([]string(nil), m.RefUserIDs...)
	}
	return out
}

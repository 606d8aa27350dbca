package domain

import (
	"time"
)

// MaxMessageLength is the maximum allowed message content length in characters.
const MaxMessageLength = 8000

// Channel identifies one of the two conversation lanes within a session.
type Channel string

const (
	// ChannelMain is the in-scenario narrative exchange.
	ChannelMain Channel = "main"
	// ChannelHelper is the side-channel assistance exchange.
	ChannelHelper Channel = "helper"
)

// Valid reports whether the channel is one of the known lanes.
func (c Channel) Valid() bool {
	return c == ChannelMain || c == ChannelHelper
}

// Role identifies the sender of a message.
type Role string

const (
	// RoleUser is a human turn; it may appear on either channel.
	RoleUser Role = "user"
	// RolePartner is the in-scenario assistant; pinned to the main channel.
	RolePartner Role = "partner"
	// RoleHelper is the side-channel assistant; pinned to the helper channel.
	RoleHelper Role = "helper"
)

// AssistantRole returns the assistant role pinned to the given channel.
func AssistantRole(ch Channel) Role {
	if ch == ChannelHelper {
		return RoleHelper
	}
	return RolePartner
}

// AllowedOn reports whether the role may appear on the given channel.
func (r Role) AllowedOn(ch Channel) bool {
	switch r {
	case RoleUser:
		return ch.Valid()
	case RolePartner:
		return ch == ChannelMain
	case RoleHelper:
		return ch == ChannelHelper
	default:
		return false
	}
}

// Message is one immutable turn in a session's conversation. Seq is the
// store-assigned insertion order, used as the stable tiebreak when several
// messages share a sent_at at second resolution. ReplyTo links an assistant
// turn to the human turn it answers; the store keeps it unique per session
// so an exchange can never produce two assistant turns.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"-"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Channel   Channel   `json:"channel"`
	Content   string    `json:"content"`
	DedupKey  string    `json:"-"`
	ReplyTo   int64     `json:"-"`
	SentAt    time.Time `json:"sent_at"`
}

// Package wa talks to the WhatsApp bridge process. The bridge owns the
// session; this package sends actions and receives inbound events.
package wa

import (
	"context"

	"github.com/thanhpd/warelay/internal/identity"
)

// Client is the remote messaging service contract consumed by the relay.
type Client interface {
	// SendText delivers a plain text message.
	SendText(ctx context.Context, to, body string) error
	// SendReply delivers a text message quoting an earlier message.
	SendReply(ctx context.Context, to, body, quoteID string) error
	// React attaches an emoji reaction to a message in a chat.
	React(ctx context.Context, chat, messageID, emoji string) error
	// SendSeen marks a chat as read. Best effort.
	SendSeen(ctx context.Context, chat string) error
	// Presence publishes a presence state, optionally scoped to a chat.
	Presence(ctx context.Context, state, chat string) error
	// RejectCall declines an incoming call.
	RejectCall(ctx context.Context, callID string) error
	// RecentChats lists recent direct-chat identifiers.
	RecentChats(ctx context.Context) ([]string, error)

	identity.Directory
}

// Message is an inbound chat message event.
type Message struct {
	From     string // raw sender identifier, possibly alias-linked
	Chat     string
	Content  string
	ID       string // message id, usable for threaded replies
	FromName string // push name as reported by the bridge
	FromMe   bool
	Status   bool // status/story update
}

// Call is an inbound call event.
type Call struct {
	From string
	ID   string
}

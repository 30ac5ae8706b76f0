// Package bridge defines the JSON frames exchanged with the WhatsApp bridge
// process over WebSocket. The bridge (wwebjs-based) owns the browser session
// and the WhatsApp protocol; the relay only speaks these frames.
package bridge

// Frame type names, relay → bridge.
const (
	TypeSend         = "send"          // text message, optionally a threaded reply
	TypeReact        = "react"         // emoji reaction to a message
	TypeSeen         = "seen"          // mark a chat read (fire-and-forget)
	TypePresence     = "presence"      // presence update (fire-and-forget)
	TypeRejectCall   = "reject_call"   // decline an incoming call
	TypeResolveAlias = "resolve_alias" // alias → phone-linked identifier
	TypeProfile      = "profile"       // contact profile lookup
	TypeRecentChats  = "recent_chats"  // recent direct-chat identifiers
)

// Frame type names, bridge → relay.
const (
	TypeMessage = "message" // inbound chat message
	TypeCall    = "call"    // inbound voice/video call
	TypeResult  = "result"  // response to a correlated request
)

// Presence states understood by the bridge.
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
	PresenceComposing   = "composing"
	PresencePaused      = "paused"
)

// Request is a relay → bridge frame. ID correlates the bridge's Result;
// fire-and-forget frames leave it empty.
type Request struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	To      string `json:"to,omitempty"`
	Chat    string `json:"chat,omitempty"`
	Content string `json:"content,omitempty"`
	QuoteID string `json:"quote_id,omitempty"` // serialized message id for threaded replies
	Message string `json:"message_id,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
	State   string `json:"state,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	Alias   string `json:"alias,omitempty"`
	JID     string `json:"jid,omitempty"`
}

// Result is the bridge's response to a correlated Request.
type Result struct {
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	OK     bool     `json:"ok"`
	Error  string   `json:"error,omitempty"`
	PN     string   `json:"pn,omitempty"`     // resolve_alias: phone-linked id, empty when unknown
	Number string   `json:"number,omitempty"` // profile
	Name   string   `json:"name,omitempty"`   // profile
	Chats  []string `json:"chats,omitempty"`  // recent_chats
}

// Event is a bridge → relay push frame.
type Event struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	Chat     string `json:"chat,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
	FromName string `json:"from_name,omitempty"`
	FromMe   bool   `json:"from_me,omitempty"`
	Status   bool   `json:"status,omitempty"` // status/story update, not a chat message
	CallID   string `json:"call_id,omitempty"`
}

// Package store defines the contracts for the external pending-message
// store (outbox), inbound-message recording (inbox), and the sender
// registry. The relay reads and writes rows but never owns the schema's
// meaning beyond recipient, payload, and status.
package store

import (
	"context"
	"time"
)

// Status is the relay's opaque view of an outbox row's lifecycle.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// StatusCodes maps the opaque statuses onto the integer codes the external
// schema actually uses. The producers' codes are inherited, not designed.
type StatusCodes struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// DefaultStatusCodes matches the legacy schema this relay feeds.
func DefaultStatusCodes() StatusCodes {
	return StatusCodes{Pending: 0, Sent: 20, Failed: 3}
}

// OutboxRow is one pending send owned by an external producer. Recipient
// may embed a reply token after "#"; the relay parses but never rewrites it.
type OutboxRow struct {
	Key       int64
	Recipient string
	Body      string
	EnteredAt time.Time
	Status    Status
	StatusAt  time.Time
}

// OutboxStore is the external pending-message store.
type OutboxStore interface {
	// FetchPending returns up to limit pending rows, oldest entry first.
	FetchPending(ctx context.Context, limit int) ([]OutboxRow, error)
	// MarkSent flags a row sent and records which account sent it.
	MarkSent(ctx context.Context, key int64, senderEcho string) error
	// MarkFailed flags a row permanently failed.
	MarkFailed(ctx context.Context, key int64) error
}

// InboundRecord is one accepted inbound message written back for producers.
type InboundRecord struct {
	Sender     string
	SenderCode string // registry code of the registered sender
	Body       string
	ReceivedAt time.Time
}

// InboxStore records accepted inbound messages.
type InboxStore interface {
	SaveInbound(ctx context.Context, rec InboundRecord) error
}

// RegisteredSender is a phone number known to the producers' registry.
type RegisteredSender struct {
	Code   string
	Name   string
	Number string
}

// SenderRegistry looks up whether an inbound number belongs to a registered
// sender. Implementations try the international and local spellings.
type SenderRegistry interface {
	// SenderByNumber returns nil when the number is not registered.
	SenderByNumber(ctx context.Context, number string) (*RegisteredSender, error)
}

// Stores bundles every store implementation for one backend.
type Stores struct {
	Outbox  OutboxStore
	Inbox   InboxStore
	Senders SenderRegistry

	// Close releases the underlying connection.
	Close func() error
}

// NumberVariants returns the spellings a registry row may use for an
// Indonesian mobile number: "+628…" and "08…". Other numbers are returned
// as-is.
func NumberVariants(number string) (string, string) {
	if len(number) > 3 && number[:3] == "628" {
		return "+" + number, "0" + number[2:]
	}
	return number, number
}

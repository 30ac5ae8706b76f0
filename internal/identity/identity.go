// Package identity resolves raw WhatsApp identifiers into stable phone-linked
// contacts, caching aggressively so bursts of inbound traffic do not hammer
// the remote service.
package identity

import (
	"strings"
	"time"
)

// Identifier suffixes as they appear on the wire.
const (
	SuffixPhone      = "@c.us"
	SuffixGroup      = "@g.us"
	SuffixBroadcast  = "@broadcast"
	SuffixNewsletter = "@newsletter"
	SuffixAlias      = "@lid"
	SuffixAliasMD    = "@s.whatsapp.net"
)

// Kind classifies an identifier. Only phone-linked identifiers are valid
// send targets; aliases must be resolved first.
type Kind int

const (
	KindPhone Kind = iota
	KindAlias
	KindGroup
	KindBroadcast
)

func (k Kind) String() string {
	switch k {
	case KindPhone:
		return "phone"
	case KindAlias:
		return "alias"
	case KindGroup:
		return "group"
	case KindBroadcast:
		return "broadcast"
	}
	return "unknown"
}

// Classify tags an identifier. Identifiers without a suffix are treated as
// bare phone numbers.
func Classify(id string) Kind {
	switch {
	case strings.HasSuffix(id, SuffixGroup):
		return KindGroup
	case strings.HasSuffix(id, SuffixBroadcast), strings.HasSuffix(id, SuffixNewsletter):
		return KindBroadcast
	case strings.Contains(id, SuffixAlias), strings.Contains(id, SuffixAliasMD):
		return KindAlias
	default:
		return KindPhone
	}
}

// Normalize appends the phone suffix to bare identifiers.
func Normalize(id string) string {
	if !strings.Contains(id, "@") {
		return id + SuffixPhone
	}
	return id
}

// Sanitize reduces an identifier to canonical phone-linked form: everything
// from the first "@" or ":" is dropped, non-digits are stripped and the
// phone suffix appended. When the prefix holds no digits at all the raw
// prefix is kept as a best effort.
func Sanitize(id string) string {
	if id == "" {
		return ""
	}
	prefix := id
	if i := strings.IndexAny(id, "@:"); i >= 0 {
		prefix = id[:i]
	}
	digits := keepDigits(prefix)
	if digits == "" {
		digits = prefix
	}
	return digits + SuffixPhone
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Contact is a resolved, phone-linked contact. Handlers receive copies;
// the resolver owns the canonical state.
type Contact struct {
	ID         string    `json:"id"`             // canonical phone-linked identifier
	Number     string    `json:"number"`         // display number, digits only
	Name       string    `json:"name,omitempty"` // push name, empty when unknown
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Fallback synthesizes a degraded contact for id. The canonical identifier
// is derived purely from digits found in id so the pipeline can still
// address a reply when resolution fails.
func Fallback(id string, now time.Time) Contact {
	jid := Sanitize(id)
	return Contact{
		ID:         jid,
		Number:     strings.TrimSuffix(jid, SuffixPhone),
		ResolvedAt: now,
	}
}

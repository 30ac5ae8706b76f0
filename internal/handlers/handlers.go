// Package handlers reacts to inbound bridge events: chat messages and calls.
// Handlers filter, throttle, resolve the sender, mimic human composition and
// hand the actual sends to the delivery queue.
package handlers

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/pacing"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/pkg/bridge"
)

// Messenger is the slice of the bridge client handlers drive directly.
// Message sends never go through here; those go through the delivery queue.
type Messenger interface {
	SendSeen(ctx context.Context, chat string) error
	Presence(ctx context.Context, state, chat string) error
	RejectCall(ctx context.Context, callID string) error
}

// Resolver resolves raw sender identifiers into contacts.
type Resolver interface {
	Resolve(ctx context.Context, rawID string) identity.Contact
}

// Enqueuer accepts delivery jobs.
type Enqueuer interface {
	Enqueue(job queue.Job)
}

// human bundles the randomness and sleep hooks so tests can pin them.
type human struct {
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
	delay func(ctx context.Context, min, max time.Duration) error
}

func defaultHuman() human {
	return human{
		rand:  rand.Float64,
		sleep: pacing.Sleep,
		delay: pacing.HumanDelay,
	}
}

// typing mimics a human composing a reply: 30% of the time no typing at all,
// usually flashing online first, then composing for a length-scaled stretch
// before pausing. Presence frames are best effort.
func (h human) typing(ctx context.Context, m Messenger, chat, text string, target time.Duration) {
	if h.rand() < 0.30 {
		return
	}
	if h.rand() < 0.60 {
		if err := m.Presence(ctx, bridge.PresenceAvailable, ""); err != nil {
			slog.Debug("presence available failed", "error", err)
		}
	}
	if err := m.Presence(ctx, bridge.PresenceComposing, chat); err != nil {
		slog.Debug("presence composing failed", "chat", chat, "error", err)
	}

	_ = h.sleep(ctx, pacing.TypingDuration(text, target))

	if err := m.Presence(ctx, bridge.PresencePaused, chat); err != nil {
		slog.Debug("presence paused failed", "chat", chat, "error", err)
	}
}

// renderTemplate fills {number} and {name} placeholders in a reply template.
func renderTemplate(tmpl, number, name string) string {
	return strings.NewReplacer("{number}", number, "{name}", name).Replace(tmpl)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

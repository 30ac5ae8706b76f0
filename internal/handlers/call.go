package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thanhpd/warelay/internal/cooldown"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/wa"
)

// CallConfig tunes the incoming-call responder.
type CallConfig struct {
	RejectCalls   bool
	Cooldown      time.Duration // per-caller auto-reply suppression
	ReplyTemplate string        // {number} and {name} placeholders
}

// DefaultCallConfig mirrors the behavior the account has run with.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		RejectCalls: true,
		Cooldown:    time.Minute,
		ReplyTemplate: "Halo Kak @{number} ({name}), " +
			"nomor ini *tidak bisa menerima panggilan* ya 🙏\n" +
			"Silakan kirim chat saja agar bisa kami balas.",
	}
}

// CallHandler declines incoming calls and explains why over chat. The call
// is always rejected; only the chat reply is rate limited.
type CallHandler struct {
	client   Messenger
	gate     *cooldown.Gate
	resolver Resolver
	queue    Enqueuer
	cfg      CallConfig
	human    human
}

func NewCallHandler(client Messenger, gate *cooldown.Gate, resolver Resolver, q Enqueuer, cfg CallConfig) *CallHandler {
	return &CallHandler{
		client:   client,
		gate:     gate,
		resolver: resolver,
		queue:    q,
		cfg:      cfg,
		human:    defaultHuman(),
	}
}

// Handle processes one incoming call. Blocking; run on its own goroutine.
func (h *CallHandler) Handle(ctx context.Context, call wa.Call) {
	if !h.cfg.RejectCalls {
		return
	}
	slog.Info("incoming call", "from", call.From, "call_id", call.ID)

	// Instant rejection looks automated.
	_ = h.human.delay(ctx, 300*time.Millisecond, 1300*time.Millisecond)
	if err := h.client.RejectCall(ctx, call.ID); err != nil {
		slog.Warn("reject call failed", "call_id", call.ID, "error", err)
	}

	// Rejection is unconditional; the explanation is per-caller throttled.
	// Prefixed so callers and message senders keep separate ledger entries.
	if !h.gate.ShouldProcess("call:"+call.From, h.cfg.Cooldown) {
		slog.Debug("call reply suppressed by cooldown", "from", call.From)
		return
	}

	contact := h.resolver.Resolve(ctx, call.From)
	name := contact.Name
	if name == "" {
		name = contact.Number
	}
	reply := renderTemplate(h.cfg.ReplyTemplate, contact.Number, name)

	_ = h.human.delay(ctx, 900*time.Millisecond, 2400*time.Millisecond)
	target := clampDuration(time.Duration(len(reply))*30*time.Millisecond,
		900*time.Millisecond, 2600*time.Millisecond)
	h.human.typing(ctx, h.client, contact.ID, reply, target)
	_ = h.human.delay(ctx, 300*time.Millisecond, 900*time.Millisecond)

	h.queue.Enqueue(queue.Job{
		Kind:   queue.KindText,
		Target: contact.ID,
		Body:   reply,
	})
}

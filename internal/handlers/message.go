package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/thanhpd/warelay/internal/cooldown"
	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
	"github.com/thanhpd/warelay/internal/wa"
)

// MessageConfig tunes the inbound message responder.
type MessageConfig struct {
	CooldownMin   time.Duration // per-sender suppression floor
	CooldownMax   time.Duration // per-sender suppression ceiling
	ReadChance    float64       // probability of sending a read receipt
	ReplyTemplate string        // {number} and {name} placeholders
}

// DefaultMessageConfig mirrors the behavior the account has run with.
func DefaultMessageConfig() MessageConfig {
	return MessageConfig{
		CooldownMin: 1400 * time.Millisecond,
		CooldownMax: 3 * time.Second,
		ReadChance:  0.55,
		ReplyTemplate: "Halo @{number} ({name}) 👋\n" +
			"Pesan kamu sudah diterima.\n" +
			"Ini balasan otomatis dari bot 😊",
	}
}

// MessageHandler auto-replies to direct inbound messages. inbox and senders
// may be nil; inbound recording is then skipped.
type MessageHandler struct {
	client   Messenger
	gate     *cooldown.Gate
	resolver Resolver
	queue    Enqueuer
	inbox    store.InboxStore
	senders  store.SenderRegistry
	cfg      MessageConfig
	human    human
	now      func() time.Time
}

func NewMessageHandler(client Messenger, gate *cooldown.Gate, resolver Resolver, q Enqueuer, inbox store.InboxStore, senders store.SenderRegistry, cfg MessageConfig) *MessageHandler {
	return &MessageHandler{
		client:   client,
		gate:     gate,
		resolver: resolver,
		queue:    q,
		inbox:    inbox,
		senders:  senders,
		cfg:      cfg,
		human:    defaultHuman(),
		now:      time.Now,
	}
}

// Handle processes one inbound message. Blocking (it sleeps to mimic human
// reading and typing); run it on its own goroutine per event.
func (h *MessageHandler) Handle(ctx context.Context, msg wa.Message) {
	if !h.accepts(msg) {
		return
	}
	text := strings.TrimSpace(msg.Content)

	if !h.gate.ShouldProcessBetween(msg.From, h.cfg.CooldownMin, h.cfg.CooldownMax) {
		slog.Debug("message suppressed by cooldown", "from", msg.From)
		return
	}
	slog.Info("message accepted", "from", msg.From, "chars", len(text))

	chat := msg.Chat
	if chat == "" {
		chat = msg.From
	}

	// Humans do not read everything, and never instantly.
	if h.human.rand() < h.cfg.ReadChance {
		readDelay := clampDuration(time.Duration(len(text))*32*time.Millisecond,
			800*time.Millisecond, 3500*time.Millisecond)
		_ = h.human.delay(ctx, readDelay/2, readDelay)
		if err := h.client.SendSeen(ctx, chat); err != nil {
			slog.Warn("send seen failed", "chat", chat, "error", err)
		}
	}

	contact := h.resolver.Resolve(ctx, msg.From)
	name := contact.Name
	if name == "" {
		name = msg.FromName
	}
	if name == "" {
		name = contact.Number
	}

	reply := renderTemplate(h.cfg.ReplyTemplate, contact.Number, name)

	_ = h.human.delay(ctx, 700*time.Millisecond, 1800*time.Millisecond)
	target := clampDuration(time.Duration(len(reply))*27*time.Millisecond,
		850*time.Millisecond, 2800*time.Millisecond)
	h.human.typing(ctx, h.client, contact.ID, reply, target)
	_ = h.human.delay(ctx, 280*time.Millisecond, 750*time.Millisecond)

	h.queue.Enqueue(queue.Job{
		Kind:    queue.KindText,
		Target:  contact.ID,
		Body:    reply,
		QuoteID: "false_" + contact.ID + "_" + msg.ID,
	})
	h.queue.Enqueue(queue.Job{
		Kind:      queue.KindReaction,
		Target:    chat,
		MessageID: msg.ID,
		Body:      "👍",
	})

	h.recordInbound(ctx, contact, text)
}

// accepts applies the inbound filters: never answer ourselves, statuses,
// broadcasts, newsletters, groups or empty bodies.
func (h *MessageHandler) accepts(msg wa.Message) bool {
	switch {
	case msg.From == "" || msg.FromMe || msg.Status:
		return false
	case strings.HasSuffix(msg.From, identity.SuffixBroadcast),
		strings.HasSuffix(msg.From, identity.SuffixNewsletter),
		strings.HasSuffix(msg.From, identity.SuffixGroup):
		return false
	case strings.TrimSpace(msg.Content) == "":
		return false
	}
	return true
}

// recordInbound saves the message for senders registered in the store.
func (h *MessageHandler) recordInbound(ctx context.Context, contact identity.Contact, text string) {
	if h.inbox == nil || h.senders == nil {
		return
	}
	sender, err := h.senders.SenderByNumber(ctx, contact.Number)
	if err != nil {
		slog.Warn("sender lookup failed", "number", contact.Number, "error", err)
		return
	}
	if sender == nil {
		slog.Debug("sender not registered, inbound not recorded", "number", contact.Number)
		return
	}
	rec := store.InboundRecord{
		Sender:     contact.ID,
		SenderCode: sender.Code,
		Body:       text,
		ReceivedAt: h.now(),
	}
	if err := h.inbox.SaveInbound(ctx, rec); err != nil {
		slog.Warn("save inbound failed", "sender", contact.ID, "error", err)
		return
	}
	slog.Info("inbound recorded", "sender", contact.ID, "sender_code", sender.Code)
}

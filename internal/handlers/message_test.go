package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thanhpd/warelay/internal/cooldown"
	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
	"github.com/thanhpd/warelay/internal/wa"
)

type fakeMessenger struct {
	seen     []string
	presence []string // "state chat"
	rejected []string
}

func (f *fakeMessenger) SendSeen(_ context.Context, chat string) error {
	f.seen = append(f.seen, chat)
	return nil
}

func (f *fakeMessenger) Presence(_ context.Context, state, chat string) error {
	f.presence = append(f.presence, state+" "+chat)
	return nil
}

func (f *fakeMessenger) RejectCall(_ context.Context, callID string) error {
	f.rejected = append(f.rejected, callID)
	return nil
}

type fakeResolver struct {
	contacts map[string]identity.Contact
}

func (f *fakeResolver) Resolve(_ context.Context, rawID string) identity.Contact {
	if c, ok := f.contacts[rawID]; ok {
		return c
	}
	return identity.Fallback(rawID, time.Now())
}

type fakeJobSink struct {
	jobs []queue.Job
}

func (f *fakeJobSink) Enqueue(job queue.Job) { f.jobs = append(f.jobs, job) }

type fakeInbox struct {
	records []store.InboundRecord
	err     error
}

func (f *fakeInbox) SaveInbound(_ context.Context, rec store.InboundRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeSenders struct {
	byNumber map[string]*store.RegisteredSender
}

func (f *fakeSenders) SenderByNumber(_ context.Context, number string) (*store.RegisteredSender, error) {
	return f.byNumber[number], nil
}

// pinned returns a human with a fixed roll sequence and no real sleeping.
func pinned(rolls ...float64) human {
	i := 0
	return human{
		rand: func() float64 {
			v := rolls[i%len(rolls)]
			i++
			return v
		},
		sleep: func(context.Context, time.Duration) error { return nil },
		delay: func(context.Context, time.Duration, time.Duration) error { return nil },
	}
}

func newMessageHandler(t *testing.T, client *fakeMessenger, sink *fakeJobSink) *MessageHandler {
	t.Helper()
	resolver := &fakeResolver{contacts: map[string]identity.Contact{
		"99887766@lid": {ID: "628123@c.us", Number: "628123", Name: "Alice"},
	}}
	h := NewMessageHandler(client, cooldown.NewGate("", 0), resolver, sink, nil, nil, DefaultMessageConfig())
	h.human = pinned(0.99)
	return h
}

func inbound(from, content string) wa.Message {
	return wa.Message{From: from, Content: content, ID: "MSGID1"}
}

func TestMessageFilters(t *testing.T) {
	tests := []struct {
		name string
		msg  wa.Message
	}{
		{name: "own message", msg: wa.Message{From: "628123@c.us", Content: "hi", FromMe: true}},
		{name: "status update", msg: wa.Message{From: "628123@c.us", Content: "hi", Status: true}},
		{name: "broadcast", msg: inbound("628123@broadcast", "hi")},
		{name: "newsletter", msg: inbound("123@newsletter", "hi")},
		{name: "group", msg: inbound("12036304@g.us", "hi")},
		{name: "empty body", msg: inbound("628123@c.us", "   ")},
		{name: "no sender", msg: inbound("", "hi")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeJobSink{}
			h := newMessageHandler(t, &fakeMessenger{}, sink)
			h.Handle(context.Background(), tt.msg)
			require.Empty(t, sink.jobs)
		})
	}
}

func TestMessageRepliesWithQuoteAndReaction(t *testing.T) {
	sink := &fakeJobSink{}
	h := newMessageHandler(t, &fakeMessenger{}, sink)

	h.Handle(context.Background(), inbound("99887766@lid", "halo"))

	require.Len(t, sink.jobs, 2)

	reply := sink.jobs[0]
	require.Equal(t, queue.KindText, reply.Kind)
	require.Equal(t, "628123@c.us", reply.Target)
	require.Equal(t, "false_628123@c.us_MSGID1", reply.QuoteID)
	require.Contains(t, reply.Body, "@628123")
	require.Contains(t, reply.Body, "(Alice)")

	reaction := sink.jobs[1]
	require.Equal(t, queue.KindReaction, reaction.Kind)
	require.Equal(t, "MSGID1", reaction.MessageID)
	require.Equal(t, "👍", reaction.Body)
}

func TestMessageReadReceiptRoll(t *testing.T) {
	client := &fakeMessenger{}
	h := newMessageHandler(t, client, &fakeJobSink{})
	h.human = pinned(0.10, 0.99) // below ReadChance, then skip-typing branch off

	h.Handle(context.Background(), inbound("628123@c.us", "halo"))
	require.Equal(t, []string{"628123@c.us"}, client.seen)

	client2 := &fakeMessenger{}
	h2 := newMessageHandler(t, client2, &fakeJobSink{})
	h2.human = pinned(0.90) // above ReadChance

	h2.Handle(context.Background(), inbound("628123@c.us", "halo"))
	require.Empty(t, client2.seen)
}

func TestMessageTypingPresenceSequence(t *testing.T) {
	client := &fakeMessenger{}
	h := newMessageHandler(t, client, &fakeJobSink{})
	// no read receipt, typing not skipped, available-first taken
	h.human = pinned(0.90, 0.50, 0.10)

	h.Handle(context.Background(), inbound("99887766@lid", "halo"))

	require.Equal(t, []string{
		"available ",
		"composing 628123@c.us",
		"paused 628123@c.us",
	}, client.presence)
}

func TestMessageCooldownSuppressesBurst(t *testing.T) {
	sink := &fakeJobSink{}
	h := newMessageHandler(t, &fakeMessenger{}, sink)

	h.Handle(context.Background(), inbound("628123@c.us", "one"))
	h.Handle(context.Background(), inbound("628123@c.us", "two"))

	require.Len(t, sink.jobs, 2) // reply + reaction for the first message only
}

func TestMessageNameFallsBackToPushName(t *testing.T) {
	sink := &fakeJobSink{}
	resolver := &fakeResolver{contacts: map[string]identity.Contact{
		"628999@c.us": {ID: "628999@c.us", Number: "628999"}, // no name
	}}
	h := NewMessageHandler(&fakeMessenger{}, cooldown.NewGate("", 0), resolver, sink, nil, nil, DefaultMessageConfig())
	h.human = pinned(0.99)

	msg := inbound("628999@c.us", "halo")
	msg.FromName = "Budi"
	h.Handle(context.Background(), msg)

	require.Len(t, sink.jobs, 2)
	require.Contains(t, sink.jobs[0].Body, "(Budi)")
}

func TestMessageRecordsInboundForRegisteredSender(t *testing.T) {
	sink := &fakeJobSink{}
	inboxStore := &fakeInbox{}
	senders := &fakeSenders{byNumber: map[string]*store.RegisteredSender{
		"628123": {Code: "RS01", Name: "Alice", Number: "+628123"},
	}}
	resolver := &fakeResolver{contacts: map[string]identity.Contact{
		"628123@c.us": {ID: "628123@c.us", Number: "628123", Name: "Alice"},
	}}
	h := NewMessageHandler(&fakeMessenger{}, cooldown.NewGate("", 0), resolver, sink, inboxStore, senders, DefaultMessageConfig())
	h.human = pinned(0.99)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

	h.Handle(context.Background(), inbound("628123@c.us", "order status?"))

	require.Len(t, inboxStore.records, 1)
	rec := inboxStore.records[0]
	require.Equal(t, "628123@c.us", rec.Sender)
	require.Equal(t, "RS01", rec.SenderCode)
	require.Equal(t, "order status?", rec.Body)
}

func TestMessageSkipsInboundForUnregisteredSender(t *testing.T) {
	inboxStore := &fakeInbox{}
	senders := &fakeSenders{byNumber: map[string]*store.RegisteredSender{}}
	resolver := &fakeResolver{contacts: map[string]identity.Contact{}}
	h := NewMessageHandler(&fakeMessenger{}, cooldown.NewGate("", 0), resolver, &fakeJobSink{}, inboxStore, senders, DefaultMessageConfig())
	h.human = pinned(0.99)

	h.Handle(context.Background(), inbound("628777@c.us", "halo"))
	require.Empty(t, inboxStore.records)
}

func TestRenderTemplate(t *testing.T) {
	out := renderTemplate("hi @{number} ({name})", "628123", "Alice")
	require.Equal(t, "hi @628123 (Alice)", out)
}

var errBoom = errors.New("boom")

func TestMessageInboxErrorIsNonFatal(t *testing.T) {
	sink := &fakeJobSink{}
	inboxStore := &fakeInbox{err: errBoom}
	senders := &fakeSenders{byNumber: map[string]*store.RegisteredSender{
		"628123": {Code: "RS01"},
	}}
	resolver := &fakeResolver{contacts: map[string]identity.Contact{
		"628123@c.us": {ID: "628123@c.us", Number: "628123"},
	}}
	h := NewMessageHandler(&fakeMessenger{}, cooldown.NewGate("", 0), resolver, sink, inboxStore, senders, DefaultMessageConfig())
	h.human = pinned(0.99)

	h.Handle(context.Background(), inbound("628123@c.us", "halo"))
	require.Len(t, sink.jobs, 2) // reply still went out
}

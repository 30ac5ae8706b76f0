package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thanhpd/warelay/internal/cooldown"
	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/wa"
)

func newCallHandler(client *fakeMessenger, sink *fakeJobSink, gate *cooldown.Gate, cfg CallConfig) *CallHandler {
	resolver := &fakeResolver{contacts: map[string]identity.Contact{
		"628555@c.us": {ID: "628555@c.us", Number: "628555", Name: "Caller"},
	}}
	h := NewCallHandler(client, gate, resolver, sink, cfg)
	h.human = pinned(0.99)
	return h
}

func TestCallDisabledDoesNothing(t *testing.T) {
	client := &fakeMessenger{}
	sink := &fakeJobSink{}
	cfg := DefaultCallConfig()
	cfg.RejectCalls = false
	h := newCallHandler(client, sink, cooldown.NewGate("", 0), cfg)

	h.Handle(context.Background(), wa.Call{From: "628555@c.us", ID: "CALL1"})

	require.Empty(t, client.rejected)
	require.Empty(t, sink.jobs)
}

func TestCallRejectedAndAnswered(t *testing.T) {
	client := &fakeMessenger{}
	sink := &fakeJobSink{}
	h := newCallHandler(client, sink, cooldown.NewGate("", 0), DefaultCallConfig())

	h.Handle(context.Background(), wa.Call{From: "628555@c.us", ID: "CALL1"})

	require.Equal(t, []string{"CALL1"}, client.rejected)
	require.Len(t, sink.jobs, 1)
	require.Equal(t, queue.KindText, sink.jobs[0].Kind)
	require.Equal(t, "628555@c.us", sink.jobs[0].Target)
	require.Contains(t, sink.jobs[0].Body, "@628555")
	require.Contains(t, sink.jobs[0].Body, "(Caller)")
	require.Empty(t, sink.jobs[0].QuoteID)
}

func TestCallCooldownStillRejects(t *testing.T) {
	client := &fakeMessenger{}
	sink := &fakeJobSink{}
	cfg := DefaultCallConfig()
	cfg.Cooldown = time.Hour
	h := newCallHandler(client, sink, cooldown.NewGate("", 0), cfg)

	h.Handle(context.Background(), wa.Call{From: "628555@c.us", ID: "CALL1"})
	h.Handle(context.Background(), wa.Call{From: "628555@c.us", ID: "CALL2"})

	// Both calls rejected; only the first got the explanation.
	require.Equal(t, []string{"CALL1", "CALL2"}, client.rejected)
	require.Len(t, sink.jobs, 1)
}

func TestCallLedgerSeparateFromMessages(t *testing.T) {
	gate := cooldown.NewGate("", 0)
	// A chat message from the same identifier was just accepted.
	require.True(t, gate.ShouldProcess("628555@c.us", time.Hour))

	client := &fakeMessenger{}
	sink := &fakeJobSink{}
	h := newCallHandler(client, sink, gate, DefaultCallConfig())

	h.Handle(context.Background(), wa.Call{From: "628555@c.us", ID: "CALL1"})
	require.Len(t, sink.jobs, 1)
}

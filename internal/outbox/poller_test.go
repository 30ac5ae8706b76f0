package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
)

type fakeOutboxStore struct {
	pending  []store.OutboxRow
	fetches  int
	fetchErr error

	sent   map[int64]string // key → senderEcho
	failed map[int64]bool
}

func newFakeOutboxStore(rows ...store.OutboxRow) *fakeOutboxStore {
	return &fakeOutboxStore{
		pending: rows,
		sent:    make(map[int64]string),
		failed:  make(map[int64]bool),
	}
}

func (f *fakeOutboxStore) FetchPending(_ context.Context, limit int) ([]store.OutboxRow, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutboxStore) MarkSent(_ context.Context, key int64, senderEcho string) error {
	f.sent[key] = senderEcho
	return nil
}

func (f *fakeOutboxStore) MarkFailed(_ context.Context, key int64) error {
	f.failed[key] = true
	return nil
}

type fakeEnqueuer struct {
	jobs []queue.Job
	idle bool
}

func (f *fakeEnqueuer) Enqueue(job queue.Job) { f.jobs = append(f.jobs, job) }
func (f *fakeEnqueuer) Idle() bool            { return f.idle }

func row(key int64, recipient, body string) store.OutboxRow {
	return store.OutboxRow{
		Key:       key,
		Recipient: recipient,
		Body:      body,
		EnteredAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Status:    store.StatusPending,
	}
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		jid       string
		quoteID   string
		wantErr   bool
	}{
		{name: "plain number", recipient: "628123456@db", jid: "628123456@c.us"},
		{name: "bare number", recipient: "628123456", jid: "628123456@c.us"},
		{
			name:      "reply token",
			recipient: "628123456@db#3EB0A1B2C3",
			jid:       "628123456@c.us",
			quoteID:   "false_628123456@c.us_3EB0A1B2C3",
		},
		{name: "empty", recipient: "", wantErr: true},
		{name: "missing number", recipient: "@db#tok", wantErr: true},
		{name: "empty token", recipient: "628123456@db#", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, quoteID, err := ParseRecipient(tt.recipient)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.jid, jid)
			require.Equal(t, tt.quoteID, quoteID)
		})
	}
}

func TestTickEnqueuesBatch(t *testing.T) {
	st := newFakeOutboxStore(
		row(1, "628111@db", "first"),
		row(2, "628222@db#tok2", "second"),
	)
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))

	require.Len(t, q.jobs, 2)
	require.Equal(t, "628111@c.us", q.jobs[0].Target)
	require.Equal(t, "first", q.jobs[0].Body)
	require.Equal(t, "1", q.jobs[0].SourceRef)
	require.Empty(t, q.jobs[0].QuoteID)

	require.Equal(t, "628222@c.us", q.jobs[1].Target)
	require.Equal(t, "false_628222@c.us_tok2", q.jobs[1].QuoteID)

	require.Equal(t, 2, p.Outstanding())
}

func TestTickSkipsWhileQueueBusy(t *testing.T) {
	st := newFakeOutboxStore(row(1, "628111@db", "msg"))
	q := &fakeEnqueuer{idle: false}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))
	require.Zero(t, st.fetches)
	require.Empty(t, q.jobs)
}

func TestTickSkipsWhileBatchOutstanding(t *testing.T) {
	st := newFakeOutboxStore(row(1, "628111@db", "msg"))
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, 1, st.fetches)
	require.Equal(t, 1, p.Outstanding())

	// Queue went idle again but the row has not settled yet.
	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, 1, st.fetches)

	p.ReportSent(context.Background(), q.jobs[0].SourceRef)
	require.Zero(t, p.Outstanding())

	require.NoError(t, p.tick(context.Background()))
	require.Equal(t, 2, st.fetches)
}

func TestTickHonorsBatchLimit(t *testing.T) {
	st := newFakeOutboxStore(
		row(1, "628111@db", "a"),
		row(2, "628222@db", "b"),
		row(3, "628333@db", "c"),
	)
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, Config{Interval: time.Second, BatchLimit: 2})

	require.NoError(t, p.tick(context.Background()))
	require.Len(t, q.jobs, 2)
}

func TestMalformedRowMarkedFailed(t *testing.T) {
	st := newFakeOutboxStore(
		row(1, "@db#tok", "broken"),
		row(2, "628222@db", "ok"),
	)
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))

	require.True(t, st.failed[1])
	require.Len(t, q.jobs, 1)
	require.Equal(t, "2", q.jobs[0].SourceRef)
	require.Equal(t, 1, p.Outstanding())
}

func TestReportSentSettlesRow(t *testing.T) {
	st := newFakeOutboxStore(row(7, "628111@db", "msg"))
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))
	p.ReportSent(context.Background(), "7")

	require.Equal(t, "628111@db", st.sent[7])
	require.Zero(t, p.Outstanding())
}

func TestReportFailedSettlesRow(t *testing.T) {
	st := newFakeOutboxStore(row(9, "628111@db", "msg"))
	q := &fakeEnqueuer{idle: true}
	p := New(st, q, DefaultConfig())

	require.NoError(t, p.tick(context.Background()))
	p.ReportFailed(context.Background(), "9")

	require.True(t, st.failed[9])
	require.Zero(t, p.Outstanding())
}

func TestReportUnknownSourceRefIgnored(t *testing.T) {
	st := newFakeOutboxStore()
	p := New(st, &fakeEnqueuer{idle: true}, DefaultConfig())

	p.ReportSent(context.Background(), "404")
	p.ReportFailed(context.Background(), "404")
	require.Empty(t, st.sent)
	require.Empty(t, st.failed)
}

func TestTickPropagatesFetchError(t *testing.T) {
	st := newFakeOutboxStore()
	st.fetchErr = errors.New("db down")
	p := New(st, &fakeEnqueuer{idle: true}, DefaultConfig())

	require.Error(t, p.tick(context.Background()))
}

// Package outbox drains the external pending-message store into the
// delivery queue and settles row status from the queue's terminal reports.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
)

// Enqueuer is the slice of the delivery queue the poller needs.
type Enqueuer interface {
	Enqueue(job queue.Job)
	Idle() bool
}

// Config tunes the polling loop.
type Config struct {
	Interval   time.Duration // tick between polls
	BatchLimit int           // max rows fetched per batch
}

// DefaultConfig matches the producers' expectations.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, BatchLimit: 20}
}

// Poller periodically fetches pending rows and enqueues one delivery job per
// row. A new batch is fetched only when the queue is idle and every job from
// the previous batch has reported a terminal status: queue depth gates
// ingestion.
type Poller struct {
	store store.OutboxStore
	queue Enqueuer
	cfg   Config

	mu          sync.Mutex
	outstanding map[string]store.OutboxRow // sourceRef → row awaiting terminal report
}

// New creates a poller draining st into q.
func New(st store.OutboxStore, q Enqueuer, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	return &Poller{
		store:       st,
		queue:       q,
		cfg:         cfg,
		outstanding: make(map[string]store.OutboxRow),
	}
}

// Run ticks until ctx is cancelled. Cancellation only prevents new ticks;
// jobs already handed to the queue run to completion.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("outbox poller started", "interval", p.cfg.Interval, "batch_limit", p.cfg.BatchLimit)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				slog.Error("outbox poll failed", "error", err)
			}
		}
	}
}

// tick fetches and enqueues one batch when the pipeline is drained.
func (p *Poller) tick(ctx context.Context) error {
	p.mu.Lock()
	busy := len(p.outstanding) > 0
	p.mu.Unlock()
	if busy || !p.queue.Idle() {
		return nil
	}

	rows, err := p.store.FetchPending(ctx, p.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	slog.Info("outbox batch fetched", "count", len(rows))

	for _, row := range rows {
		job, err := RowToJob(row)
		if err != nil {
			// Malformed rows are flagged as failed, never silently dropped
			// and never retried.
			slog.Warn("outbox row malformed, marking failed", "key", row.Key, "recipient", row.Recipient, "error", err)
			if err := p.store.MarkFailed(ctx, row.Key); err != nil {
				slog.Error("mark malformed row failed", "key", row.Key, "error", err)
			}
			continue
		}

		p.mu.Lock()
		p.outstanding[job.SourceRef] = row
		p.mu.Unlock()

		p.queue.Enqueue(job)
	}
	return nil
}

// ReportSent settles a row as sent. Implements queue.Reporter.
func (p *Poller) ReportSent(ctx context.Context, sourceRef string) {
	row, ok := p.take(sourceRef)
	if !ok {
		slog.Warn("sent report for unknown row", "source_ref", sourceRef)
		return
	}
	if err := p.store.MarkSent(ctx, row.Key, row.Recipient); err != nil {
		slog.Error("mark row sent failed", "key", row.Key, "error", err)
	}
}

// ReportFailed settles a row as permanently failed. Implements queue.Reporter.
func (p *Poller) ReportFailed(ctx context.Context, sourceRef string) {
	row, ok := p.take(sourceRef)
	if !ok {
		slog.Warn("failure report for unknown row", "source_ref", sourceRef)
		return
	}
	if err := p.store.MarkFailed(ctx, row.Key); err != nil {
		slog.Error("mark row failed failed", "key", row.Key, "error", err)
	}
}

func (p *Poller) take(sourceRef string) (store.OutboxRow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.outstanding[sourceRef]
	if ok {
		delete(p.outstanding, sourceRef)
	}
	return row, ok
}

// Outstanding returns how many enqueued rows still await a terminal report.
func (p *Poller) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

// RowToJob translates an outbox row into a delivery job. The recipient is
// "<number>@<domain>" with an optional "#<replyToken>" suffix; a token turns
// the send into a threaded reply quoting that message.
func RowToJob(row store.OutboxRow) (queue.Job, error) {
	jid, quoteID, err := ParseRecipient(row.Recipient)
	if err != nil {
		return queue.Job{}, err
	}
	return queue.Job{
		Kind:      queue.KindText,
		Target:    jid,
		Body:      row.Body,
		QuoteID:   quoteID,
		SourceRef: strconv.FormatInt(row.Key, 10),
	}, nil
}

// ParseRecipient splits a stored recipient into the send target and an
// optional serialized quote id.
func ParseRecipient(recipient string) (jid, quoteID string, err error) {
	if recipient == "" {
		return "", "", fmt.Errorf("empty recipient")
	}

	number, rest, _ := strings.Cut(recipient, "@")
	if number == "" {
		return "", "", fmt.Errorf("recipient %q has no address part", recipient)
	}

	jid = number + "@c.us"

	if _, token, ok := strings.Cut(rest, "#"); ok {
		if token == "" {
			return "", "", fmt.Errorf("recipient %q has empty reply token", recipient)
		}
		// wwebjs serialized quoted-message id.
		quoteID = fmt.Sprintf("false_%s_%s", jid, token)
	}
	return jid, quoteID, nil
}

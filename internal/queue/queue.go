// Package queue is the outbound delivery pipeline: a strict FIFO queue
// drained by a single worker, with randomized pacing between jobs and
// bounded retries with backoff. Serialized, paced delivery is the point —
// messaging services penalize bursty parallel automated traffic.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thanhpd/warelay/internal/pacing"
)

var tracer = otel.Tracer("warelay/queue")

// Kind discriminates delivery job payloads.
type Kind string

const (
	KindText     Kind = "text"
	KindReaction Kind = "reaction"
	KindMedia    Kind = "media"
)

// Job is one outbound action. Retried jobs are re-enqueued in place with an
// incremented Attempt; a job is consumed exactly once per attempt.
type Job struct {
	Kind      Kind
	Target    string // phone-linked identifier
	Body      string // message text, emoji, or media reference
	QuoteID   string // optional serialized message id for a threaded reply
	MessageID string // reaction: the message being reacted to
	SourceRef string // optional external-store row key
	Attempt   int
}

// Sender executes delivery actions against the messaging service.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendReply(ctx context.Context, to, body, quoteID string) error
	React(ctx context.Context, chat, messageID, emoji string) error
}

// Reporter receives exactly one terminal report per job carrying a SourceRef.
type Reporter interface {
	ReportSent(ctx context.Context, sourceRef string)
	ReportFailed(ctx context.Context, sourceRef string)
}

// Config tunes pacing and retry behavior.
type Config struct {
	MaxRetries int           // attempts before a job fails permanently
	MinDelay   time.Duration // steady-state inter-job delay floor
	MaxDelay   time.Duration // steady-state inter-job delay ceiling
	BackoffMin time.Duration // retry backoff floor, larger than MinDelay
	BackoffMax time.Duration // retry backoff ceiling
}

// DefaultConfig mirrors the pacing the account has been observed to tolerate.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		MinDelay:   1200 * time.Millisecond,
		MaxDelay:   3500 * time.Millisecond,
		BackoffMin: 1600 * time.Millisecond,
		BackoffMax: 3100 * time.Millisecond,
	}
}

// Queue is the FIFO delivery queue. Enqueue starts the worker when idle;
// at most one worker loop is ever active.
type Queue struct {
	mu      sync.Mutex
	jobs    []Job
	running bool
	stopped bool
	idle    *sync.Cond

	sender   Sender
	reporter Reporter // may be nil when no job carries a SourceRef
	cfg      Config
}

// New creates a delivery queue. reporter may be nil.
func New(sender Sender, reporter Reporter, cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	q := &Queue{sender: sender, reporter: reporter, cfg: cfg}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job and starts the worker loop if idle. Re-entrant
// calls never spawn a second worker.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		slog.Warn("delivery queue stopped, dropping job", "kind", job.Kind, "target", job.Target)
		return
	}

	q.jobs = append(q.jobs, job)
	slog.Debug("delivery job enqueued", "kind", job.Kind, "target", job.Target, "depth", len(q.jobs))

	if !q.running {
		q.running = true
		go q.run()
	}
}

// Depth returns the number of queued jobs, excluding the one in flight.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Idle reports whether no worker is active and no jobs are queued.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.running && len(q.jobs) == 0
}

// Stop prevents new iterations of the worker loop. The in-flight job runs
// to completion, retries included.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

// Wait blocks until the queue goes idle. Intended for tests and shutdown.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
}

// run drains jobs one at a time until empty, then goes idle.
func (q *Queue) run() {
	ctx := context.Background()

	for {
		q.mu.Lock()
		if q.stopped || len(q.jobs) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.process(ctx, job)

		// Anti-detection pacing between jobs.
		_ = pacing.Delay(ctx, q.cfg.MinDelay, q.cfg.MaxDelay)
	}
}

// process runs one job through its retry state machine:
// attempting → (succeeded | retrying → attempting | permanently failed).
func (q *Queue) process(ctx context.Context, job Job) {
	ctx, span := tracer.Start(ctx, "queue.process",
		trace.WithAttributes(
			attribute.String("job.kind", string(job.Kind)),
			attribute.String("job.target", job.Target),
		))
	defer span.End()

	for {
		err := q.execute(ctx, job)
		if err == nil {
			slog.Info("delivery job sent", "kind", job.Kind, "target", job.Target, "attempt", job.Attempt)
			if job.SourceRef != "" && q.reporter != nil {
				q.reporter.ReportSent(ctx, job.SourceRef)
			}
			return
		}

		job.Attempt++
		if job.Attempt >= q.cfg.MaxRetries {
			slog.Error("delivery job permanently failed",
				"kind", job.Kind, "target", job.Target, "attempts", job.Attempt, "error", err)
			span.SetStatus(codes.Error, "permanently failed")
			if job.SourceRef != "" && q.reporter != nil {
				q.reporter.ReportFailed(ctx, job.SourceRef)
			}
			return
		}

		slog.Warn("delivery job failed, retrying",
			"kind", job.Kind, "target", job.Target, "attempt", job.Attempt, "error", err)
		_ = pacing.Delay(ctx, q.cfg.BackoffMin, q.cfg.BackoffMax)
	}
}

func (q *Queue) execute(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindText, KindMedia:
		if job.QuoteID != "" {
			return q.sender.SendReply(ctx, job.Target, job.Body, job.QuoteID)
		}
		return q.sender.SendText(ctx, job.Target, job.Body)
	case KindReaction:
		return q.sender.React(ctx, job.Target, job.MessageID, job.Body)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

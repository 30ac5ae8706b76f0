package identity

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// laneDepth bounds how many lookups may queue behind the in-flight call.
const laneDepth = 64

type laneJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// lane serializes remote calls: exactly one in flight, executed in arrival
// order, with a minimum gap between consecutive calls. Bursts of inbound
// traffic therefore never issue overlapping requests to the remote service.
// This trades latency for rate-limit safety, deliberately.
type lane struct {
	jobs    chan laneJob
	limiter *rate.Limiter
	stop    chan struct{}
}

func newLane(gap time.Duration) *lane {
	if gap <= 0 {
		gap = 500 * time.Millisecond
	}
	l := &lane{
		jobs:    make(chan laneJob, laneDepth),
		limiter: rate.NewLimiter(rate.Every(gap), 1),
		stop:    make(chan struct{}),
	}
	go l.run()
	return l
}

// do queues fn and blocks until it has run (or ctx is cancelled while
// still queued; an in-flight call runs to completion).
func (l *lane) do(ctx context.Context, fn func(context.Context) error) error {
	job := laneJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return context.Canceled
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) run() {
	for {
		select {
		case <-l.stop:
			// Fail queued jobs so no caller is left waiting.
			for {
				select {
				case job := <-l.jobs:
					job.done <- context.Canceled
				default:
					return
				}
			}
		case job := <-l.jobs:
			if err := job.ctx.Err(); err != nil {
				job.done <- err
				continue
			}
			if err := l.limiter.Wait(job.ctx); err != nil {
				job.done <- err
				continue
			}
			job.done <- job.fn(job.ctx)
		}
	}
}

// close stops the lane once the current call finishes. Queued jobs are
// abandoned; callers blocked in do observe their context.
func (l *lane) close() {
	close(l.stop)
}

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSender records executed actions in order and can fail per target.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string // "<kind>:<target>"
	failures map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: make(map[string]int)}
}

func (s *fakeSender) failNTimes(target string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[target] = n
}

func (s *fakeSender) record(kind, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[target] > 0 {
		s.failures[target]--
		return errors.New("send failed")
	}
	s.sent = append(s.sent, kind+":"+target)
	return nil
}

func (s *fakeSender) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSender) SendText(_ context.Context, to, _ string) error {
	return s.record("text", to)
}

func (s *fakeSender) SendReply(_ context.Context, to, _, _ string) error {
	return s.record("reply", to)
}

func (s *fakeSender) React(_ context.Context, chat, _, _ string) error {
	return s.record("react", chat)
}

// fakeReporter counts terminal reports per source ref.
type fakeReporter struct {
	mu     sync.Mutex
	sent   map[string]int
	failed map[string]int
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{sent: make(map[string]int), failed: make(map[string]int)}
}

func (r *fakeReporter) ReportSent(_ context.Context, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[ref]++
}

func (r *fakeReporter) ReportFailed(_ context.Context, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[ref]++
}

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		MinDelay:   time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
	}
}

func TestFIFOOrderAcrossKinds(t *testing.T) {
	sender := newFakeSender()
	q := New(sender, nil, fastConfig())

	q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "1"})
	q.Enqueue(Job{Kind: KindReaction, Target: "b@c.us", MessageID: "m1", Body: "👍"})
	q.Enqueue(Job{Kind: KindText, Target: "c@c.us", Body: "3", QuoteID: "q1"})
	q.Wait()

	require.Equal(t, []string{"text:a@c.us", "react:b@c.us", "reply:c@c.us"}, sender.order())
}

func TestRetryThenSucceed(t *testing.T) {
	sender := newFakeSender()
	sender.failNTimes("a@c.us", 2)
	reporter := newFakeReporter()
	q := New(sender, reporter, fastConfig())

	q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "hi", SourceRef: "row-1"})
	q.Wait()

	require.Equal(t, []string{"text:a@c.us"}, sender.order())
	require.Equal(t, 1, reporter.sent["row-1"])
	require.Zero(t, reporter.failed["row-1"])
}

func TestPermanentFailureReportedOnce(t *testing.T) {
	sender := newFakeSender()
	sender.failNTimes("a@c.us", 10)
	reporter := newFakeReporter()
	q := New(sender, reporter, fastConfig())

	q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "hi", SourceRef: "row-1"})
	q.Wait()

	// Exactly MaxRetries attempts were consumed, never more.
	sender.mu.Lock()
	remaining := sender.failures["a@c.us"]
	sender.mu.Unlock()
	require.Equal(t, 7, remaining)

	require.Empty(t, sender.order())
	require.Equal(t, 1, reporter.failed["row-1"])
	require.Zero(t, reporter.sent["row-1"])
}

func TestNoReportWithoutSourceRef(t *testing.T) {
	sender := newFakeSender()
	sender.failNTimes("a@c.us", 10)
	reporter := newFakeReporter()
	q := New(sender, reporter, fastConfig())

	q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "hi"})
	q.Wait()

	require.Empty(t, reporter.failed)
	require.Empty(t, reporter.sent)
}

func TestEnqueueWhileRunningKeepsSingleWorker(t *testing.T) {
	sender := newFakeSender()
	q := New(sender, nil, fastConfig())

	for i := 0; i < 10; i++ {
		q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "x"})
	}
	q.Wait()

	require.Len(t, sender.order(), 10)
	require.True(t, q.Idle())
}

func TestStopPreventsFurtherJobs(t *testing.T) {
	sender := newFakeSender()
	q := New(sender, nil, fastConfig())

	q.Enqueue(Job{Kind: KindText, Target: "a@c.us", Body: "x"})
	q.Wait()
	q.Stop()
	q.Enqueue(Job{Kind: KindText, Target: "b@c.us", Body: "y"})
	q.Wait()

	require.Equal(t, []string{"text:a@c.us"}, sender.order())
}

func TestUnknownKindFailsPermanently(t *testing.T) {
	sender := newFakeSender()
	reporter := newFakeReporter()
	q := New(sender, reporter, fastConfig())

	q.Enqueue(Job{Kind: Kind("bogus"), Target: "a@c.us", SourceRef: "row-9"})
	q.Wait()

	require.Equal(t, 1, reporter.failed["row-9"])
}

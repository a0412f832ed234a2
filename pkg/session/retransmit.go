package session

import (
	"container/heap"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hoprnet/hopr-session-go/pkg/session/segment"
)

// RetransmissionConfig configures the retry min-heap's backoff behaviour.
type RetransmissionConfig struct {
	// InitialRTO is the deadline for a frame's first retransmission attempt.
	InitialRTO time.Duration
	// BackoffBase is the growth factor of the retry interval: after the
	// n-th resend, the next deadline is InitialRTO*BackoffBase^(n+1) away.
	BackoffBase float64
	// MaxRTO caps the retry interval regardless of how many retries have
	// already elapsed.
	MaxRTO time.Duration
	// MaxRetries is how many times a frame is resent before the session
	// escalates to SessionError.PeerUnresponsive.
	MaxRetries int
}

func (c RetransmissionConfig) withDefaults() RetransmissionConfig {
	if c.InitialRTO <= 0 {
		c.InitialRTO = 200 * time.Millisecond
	}
	if c.BackoffBase <= 1 {
		c.BackoffBase = 2.0
	}
	if c.MaxRTO <= 0 {
		c.MaxRTO = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// retryRecord tracks one outstanding, unacknowledged frame awaiting
// retransmission. Equality and heap ordering are keyed solely by FrameID,
// so re-inserting a FrameID collapses duplicates.
type retryRecord struct {
	frameID  segment.FrameID
	retries  int
	deadline time.Time
	backoff  *backoff.ExponentialBackOff
	index    int
}

func newRetryRecord(id segment.FrameID, cfg RetransmissionConfig, now time.Time) *retryRecord {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialRTO
	b.Multiplier = cfg.BackoffBase
	b.MaxInterval = cfg.MaxRTO
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	// The first deadline is InitialRTO (set below); skip the intervals for
	// exponents 0 and 1 so the n-th resend waits InitialRTO*BackoffBase^(n+1).
	b.NextBackOff()
	b.NextBackOff()

	return &retryRecord{
		frameID:  id,
		deadline: now.Add(cfg.InitialRTO),
		backoff:  b,
	}
}

// nextDeadline advances the record's retry count to n and returns its next
// deadline, InitialRTO*BackoffBase^(n+1) after now, capped at MaxRTO.
func (r *retryRecord) nextDeadline(now time.Time) time.Time {
	interval := r.backoff.NextBackOff()
	if interval == backoff.Stop {
		interval = r.backoff.MaxInterval
	}
	r.retries++
	r.deadline = now.Add(interval)
	return r.deadline
}

// retryHeap is a container/heap min-heap of retryRecords ordered by deadline.
type retryHeap []*retryRecord

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *retryHeap) Push(x any) {
	rec := x.(*retryRecord)
	rec.index = len(*h)
	*h = append(*h, rec)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.index = -1
	*h = old[:n-1]
	return rec
}

// RetryQueue is the per-session min-heap of frames awaiting acknowledgment,
// keyed by FrameID so a re-send of the same frame collapses into one entry.
type RetryQueue struct {
	cfg  RetransmissionConfig
	heap retryHeap
	byID map[segment.FrameID]*retryRecord
}

// NewRetryQueue creates an empty RetryQueue.
func NewRetryQueue(cfg RetransmissionConfig) *RetryQueue {
	cfg = cfg.withDefaults()
	return &RetryQueue{
		cfg:  cfg,
		byID: make(map[segment.FrameID]*retryRecord),
	}
}

// Track registers a freshly sent frame as awaiting acknowledgment.
func (q *RetryQueue) Track(id segment.FrameID, now time.Time) {
	if _, exists := q.byID[id]; exists {
		return
	}
	rec := newRetryRecord(id, q.cfg, now)
	q.byID[id] = rec
	heap.Push(&q.heap, rec)
}

// Ack removes a frame from the retry queue once its acknowledgment arrives.
// Returns false if the frame was not being tracked (already acked, or never sent).
func (q *RetryQueue) Ack(id segment.FrameID) bool {
	rec, exists := q.byID[id]
	if !exists {
		return false
	}
	heap.Remove(&q.heap, rec.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of frames currently awaiting acknowledgment.
func (q *RetryQueue) Len() int { return q.heap.Len() }

// Due pops every record whose deadline is at or before now, in deadline
// order. Each returned record is either rescheduled in the queue (if it has
// retries remaining) or dropped and reported as exhausted.
func (q *RetryQueue) Due(now time.Time) (resend []segment.FrameID, exhausted []segment.FrameID) {
	for q.heap.Len() > 0 && !q.heap[0].deadline.After(now) {
		rec := heap.Pop(&q.heap).(*retryRecord)

		if rec.retries >= q.cfg.MaxRetries {
			delete(q.byID, rec.frameID)
			exhausted = append(exhausted, rec.frameID)
			continue
		}

		rec.nextDeadline(now)
		heap.Push(&q.heap, rec)
		resend = append(resend, rec.frameID)
	}
	return resend, exhausted
}

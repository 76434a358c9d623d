package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type MemoryOption func(*MemoryQueue)

func WithDedupeWindow(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.dedupeWindow = d }
}

func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.visibility = d }
}

func WithMaxAttempts(n int) MemoryOption {
	return func(q *MemoryQueue) { q.maxAttempts = n }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

type inflight struct {
	msg      *Message
	deadline time.Time
}

// MemoryQueue is an in-process Queue with at-least-once delivery: messages
// not acked within the visibility timeout are delivered again.
type MemoryQueue struct {
	mu           sync.Mutex
	pending      []*Message
	inflight     map[string]*inflight
	seen         map[string]time.Time
	dead         []*Message
	notify       chan struct{}
	dedupeWindow time.Duration
	visibility   time.Duration
	maxAttempts  int
	now          func() time.Time
}

func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		inflight:     make(map[string]*inflight),
		seen:         make(map[string]time.Time),
		notify:       make(chan struct{}, 1),
		dedupeWindow: 5 * time.Minute,
		visibility:   30 * time.Second,
		maxAttempts:  5,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobs ...*Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.expireSeenLocked(now)
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		if _, dup := q.seen[j.IdempotencyKey]; dup {
			slog.Debug("dropping duplicate job", "kind", j.Kind, "task_id", j.TaskID, "idempotency_key", j.IdempotencyKey)
			continue
		}
		j.EnqueuedAt = now.UTC()
		body, err := Encode(j)
		if err != nil {
			return err
		}
		q.seen[j.IdempotencyKey] = now
		q.pending = append(q.pending, &Message{ID: j.ID, Body: body, Receipt: j.ID})
	}
	q.signalLocked()
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 1
	}
	for {
		q.mu.Lock()
		q.reclaimLocked(q.now())
		if len(q.pending) > 0 {
			n := min(limit, len(q.pending))
			batch := q.pending[:n:n]
			q.pending = q.pending[n:]
			deadline := q.now().Add(q.visibility)
			for _, m := range batch {
				m.Attempt++
				q.inflight[m.Receipt] = &inflight{msg: m, deadline: deadline}
			}
			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(q.pollInterval()):
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, msgs ...*Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		delete(q.inflight, m.Receipt)
	}
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, msgs ...*Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		if _, ok := q.inflight[m.Receipt]; !ok {
			continue
		}
		delete(q.inflight, m.Receipt)
		q.requeueLocked(m)
	}
	q.signalLocked()
	return nil
}

// Len returns the number of messages waiting for delivery.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns messages that exhausted their delivery attempts.
func (q *MemoryQueue) DeadLetters() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Message(nil), q.dead...)
}

// Jobs decodes every pending message without consuming it.
func (q *MemoryQueue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]*Job, 0, len(q.pending))
	for _, m := range q.pending {
		if j, err := Decode(m.Body); err == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

func (q *MemoryQueue) requeueLocked(m *Message) {
	if q.maxAttempts > 0 && m.Attempt >= q.maxAttempts {
		slog.Warn("job exhausted delivery attempts", "message_id", m.ID, "attempts", m.Attempt)
		q.dead = append(q.dead, m)
		return
	}
	q.pending = append(q.pending, m)
}

func (q *MemoryQueue) reclaimLocked(now time.Time) {
	for receipt, in := range q.inflight {
		if now.Before(in.deadline) {
			continue
		}
		delete(q.inflight, receipt)
		q.requeueLocked(in.msg)
	}
}

func (q *MemoryQueue) expireSeenLocked(now time.Time) {
	for key, at := range q.seen {
		if now.Sub(at) >= q.dedupeWindow {
			delete(q.seen, key)
		}
	}
}

func (q *MemoryQueue) signalLocked() {
	if len(q.pending) == 0 {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) pollInterval() time.Duration {
	return min(q.visibility, 250*time.Millisecond)
}

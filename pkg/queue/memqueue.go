package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is an in-memory Queue for tests and single-process local runs,
// with the same visibility-timeout and pop-receipt semantics as PGQueue.
type MemQueue struct {
	mu     sync.Mutex
	queues map[string][]*memMessage
	now    func() time.Time
}

type memMessage struct {
	id           string
	body         []byte
	enqueuedAt   time.Time
	visibleAt    time.Time
	dequeueCount int
	popReceipt   string
}

// NewMemQueue creates an empty in-memory queue adapter.
func NewMemQueue() *MemQueue {
	return &MemQueue{queues: make(map[string][]*memMessage), now: time.Now}
}

// SetClock overrides the time source. Test hook for visibility expiry.
func (q *MemQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Send enqueues one message body.
func (q *MemQueue) Send(_ context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.queues[queue] = append(q.queues[queue], &memMessage{
		id:         uuid.NewString(),
		body:       append([]byte(nil), body...),
		enqueuedAt: now,
		visibleAt:  now,
	})
	return nil
}

// Receive claims up to max visible messages.
func (q *MemQueue) Receive(_ context.Context, queue string, max int, visibilityTimeout time.Duration) ([]*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	pending := q.queues[queue]
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].enqueuedAt.Before(pending[j].enqueuedAt)
	})

	var out []*Message
	for _, m := range pending {
		if len(out) >= max {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.visibleAt = now.Add(visibilityTimeout)
		m.dequeueCount++
		m.popReceipt = uuid.NewString()
		out = append(out, &Message{
			ID:           m.id,
			Queue:        queue,
			Body:         append([]byte(nil), m.body...),
			DequeueCount: m.dequeueCount,
			PopReceipt:   m.popReceipt,
			EnqueuedAt:   m.enqueuedAt,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoMessages
	}
	return out, nil
}

// Delete removes a message by id + pop receipt.
func (q *MemQueue) Delete(_ context.Context, queue, id, popReceipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[queue]
	for i, m := range msgs {
		if m.id == id {
			if m.popReceipt != popReceipt {
				return fmt.Errorf("deleting %s from %s: %w", id, queue, ErrReceiptMismatch)
			}
			q.queues[queue] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("deleting %s from %s: %w", id, queue, ErrReceiptMismatch)
}

// Depth returns the number of visible messages.
func (q *MemQueue) Depth(_ context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	depth := 0
	for _, m := range q.queues[queue] {
		if !m.visibleAt.After(now) {
			depth++
		}
	}
	return depth, nil
}

// Len returns the total message count including invisible in-flight ones.
// Test hook: Depth alone cannot distinguish a deleted message from one
// hidden inside its visibility window.
func (q *MemQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

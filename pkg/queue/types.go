// Package queue provides the durable queue adapter and the worker pool that
// polls it. Messages are hidden for a per-stage visibility timeout when
// received; a consumer that does not delete its message within that window
// sees it redelivered to someone else.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/curator-sh/curator/pkg/pipeline"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessages indicates no visible messages are on the queue.
	ErrNoMessages = errors.New("no messages available")

	// ErrReceiptMismatch indicates a delete with a stale pop receipt:
	// the message was redelivered to another consumer after the caller's
	// visibility window expired.
	ErrReceiptMismatch = errors.New("pop receipt mismatch")
)

// Message is one received queue message. PopReceipt is only valid until the
// visibility timeout expires.
type Message struct {
	ID           string
	Queue        string
	Body         []byte
	DequeueCount int
	PopReceipt   string
	EnqueuedAt   time.Time
}

// Envelope decodes the message body into the common envelope format.
func (m *Message) Envelope() (*pipeline.Envelope, error) {
	var env pipeline.Envelope
	if err := json.Unmarshal(m.Body, &env); err != nil {
		return nil, fmt.Errorf("decoding message %s envelope: %w", m.ID, err)
	}
	env.MessageID = m.ID
	return &env, nil
}

// Queue is the durable queue capability set.
type Queue interface {
	// Send enqueues one message body.
	Send(ctx context.Context, queue string, body []byte) error

	// Receive returns up to max visible messages, hiding each for the
	// visibility timeout. Returns ErrNoMessages when the queue is empty.
	Receive(ctx context.Context, queue string, max int, visibilityTimeout time.Duration) ([]*Message, error)

	// Delete removes a message by id + pop receipt. A stale receipt fails
	// with ErrReceiptMismatch.
	Delete(ctx context.Context, queue, id, popReceipt string) error

	// Depth returns the number of visible messages.
	Depth(ctx context.Context, queue string) (int, error)
}

// SendEnvelope marshals an envelope and enqueues it.
func SendEnvelope(ctx context.Context, q Queue, queue string, env *pipeline.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope for %s: %w", queue, err)
	}
	return q.Send(ctx, queue, body)
}

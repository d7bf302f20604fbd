package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/database"
)

// PGQueue implements Queue on PostgreSQL. Receive claims visible messages
// with FOR UPDATE SKIP LOCKED so concurrent replicas never double-claim,
// and hides each claimed message by pushing visible_at past the visibility
// timeout. FIFO order is per queue by enqueue time.
type PGQueue struct {
	db *sql.DB
}

// NewPGQueue creates a Postgres-backed queue adapter.
func NewPGQueue(client *database.Client) *PGQueue {
	return &PGQueue{db: client.DB()}
}

// Send enqueues one message body.
func (q *PGQueue) Send(ctx context.Context, queue string, body []byte) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, queue, body)
		VALUES ($1, $2, $3)`,
		uuid.NewString(), queue, body)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", queue, err)
	}
	return nil
}

// Receive claims up to max visible messages and hides them for the
// visibility timeout. Each claim issues a fresh pop receipt; receipts from
// earlier deliveries go stale, which is what makes late deletes detectable.
func (q *PGQueue) Receive(ctx context.Context, queue string, max int, visibilityTimeout time.Duration) ([]*Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE queue_messages
		SET visible_at = now() + $3::interval,
		    dequeue_count = dequeue_count + 1,
		    pop_receipt = gen_random_uuid()
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue = $1 AND deleted_at IS NULL AND visible_at <= now()
			ORDER BY enqueued_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, body, dequeue_count, pop_receipt, enqueued_at`,
		queue, max, fmt.Sprintf("%f seconds", visibilityTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{Queue: queue}
		if err := rows.Scan(&msg.ID, &msg.Body, &msg.DequeueCount, &msg.PopReceipt, &msg.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("receiving from %s: %w", queue, err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", queue, err)
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	return msgs, nil
}

// Delete removes a message by id + pop receipt. Deleting with a stale
// receipt fails so a consumer that outlived its visibility window cannot
// delete a message someone else is processing.
func (q *PGQueue) Delete(ctx context.Context, queue, id, popReceipt string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET deleted_at = now()
		WHERE queue = $1 AND id = $2 AND pop_receipt = $3 AND deleted_at IS NULL`,
		queue, id, popReceipt)
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, queue, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, queue, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting %s from %s: %w", id, queue, ErrReceiptMismatch)
	}
	return nil
}

// Depth returns the number of visible messages on the queue.
func (q *PGQueue) Depth(ctx context.Context, queue string) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx, `
		SELECT count(*) FROM queue_messages
		WHERE queue = $1 AND deleted_at IS NULL AND visible_at <= now()`,
		queue).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("peeking depth of %s: %w", queue, err)
	}
	return depth, nil
}

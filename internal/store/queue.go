package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PariLedger/internal/settlement"
)

// Enqueue inserts a QUEUED settlement job for a game. One job per game:
// a conflicting insert is reported as created=false, which the ingestion
// layer ACKs as already handled.
func (s *Store) Enqueue(ctx context.Context, gameID uuid.UUID, outcome settlement.Outcome) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_queue (game_id, outcome, status, next_attempt_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (game_id) DO NOTHING
	`, gameID, outcome, settlement.QueueQueued)
	if err != nil {
		return false, fmt.Errorf("enqueue settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue settlement: %w", err)
	}
	return n > 0, nil
}

// LockNext atomically claims one eligible queue item for this worker.
// The subselect with FOR UPDATE SKIP LOCKED plus the single conditional
// UPDATE guarantees two concurrent workers never lock the same item.
// FAILED items become eligible again once next_attempt_at passes.
func (s *Store) LockNext(ctx context.Context, workerID string, now time.Time) (*settlement.QueueItem, error) {
	item := &settlement.QueueItem{}
	err := s.db.QueryRowContext(ctx, `
		UPDATE settlement_queue
		SET status = $1, locked_by = $2, locked_at = $3
		WHERE id = (
			SELECT id FROM settlement_queue
			WHERE status IN ($4, $5)
			  AND next_attempt_at <= $3
			  AND locked_by IS NULL
			ORDER BY next_attempt_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, game_id, outcome, status, attempts, next_attempt_at, locked_by, locked_at, COALESCE(reason, '')
	`,
		settlement.QueueProcessing, workerID, now,
		settlement.QueueQueued, settlement.QueueFailed,
	).Scan(
		&item.ID, &item.GameID, &item.Outcome, &item.Status,
		&item.Attempts, &item.NextAttemptAt, &item.LockedBy, &item.LockedAt, &item.Reason,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock next queue item: %w", err)
	}
	return item, nil
}

// MarkDone clears the lock and finishes the item.
func (s *Store) MarkDone(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_queue
		SET status = $2, locked_by = NULL, locked_at = NULL, completed_at = NOW()
		WHERE id = $1
	`, itemID, settlement.QueueDone)
	if err != nil {
		return fmt.Errorf("mark queue item done: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason and the backoff-scheduled next
// attempt, clearing the lock so the item can be re-locked later.
func (s *Store) MarkFailed(ctx context.Context, itemID int64, attempts int, nextAttempt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_queue
		SET status = $2, attempts = $3, next_attempt_at = $4, reason = $5,
		    locked_by = NULL, locked_at = NULL
		WHERE id = $1
	`, itemID, settlement.QueueFailed, attempts, nextAttempt, reason)
	if err != nil {
		return fmt.Errorf("mark queue item failed: %w", err)
	}
	return nil
}

// ReclaimStale requeues PROCESSING items whose lock is older than
// olderThan — jobs orphaned by a hard worker crash. Off by default at the
// worker; see its staleLockAge knob.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_queue
		SET status = $1, locked_by = NULL, locked_at = NULL
		WHERE status = $2 AND locked_at < NOW() - $3::interval
	`, settlement.QueueQueued, settlement.QueueProcessing,
		fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale queue items: %w", err)
	}
	return int(n), nil
}

// QueueDepth counts items currently eligible for locking, for the gauge.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM settlement_queue
		WHERE status IN ($1, $2) AND next_attempt_at <= NOW() AND locked_by IS NULL
	`, settlement.QueueQueued, settlement.QueueFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

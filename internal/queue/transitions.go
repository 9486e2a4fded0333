package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const claimAttempts = 3

// ClaimNext atomically claims the oldest pending item for processing. The
// claim is a conditional update keyed on the pending status, so concurrent
// workers can never claim the same item twice. Returns nil when the queue has
// no pending work.
func (s *Store) ClaimNext(ctx context.Context) (*Item, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM media_items WHERE status = ? ORDER BY created_at, id LIMIT 1`,
			string(StatusPending)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}

		now := formatTime(nowUTC())
		res, err := s.execWithRetry(ctx, `
			UPDATE media_items
			SET status = ?, last_heartbeat = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(StatusProcessing), now, now, id, string(StatusPending))
		if err != nil {
			return nil, fmt.Errorf("claim item %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim item %d: %w", id, err)
		}
		if affected == 1 {
			return s.GetByID(ctx, id)
		}
		// Lost the race, another worker took it. Try the next candidate.
	}
	return nil, nil
}

// Transition moves an item along the lifecycle graph. Illegal moves return a
// typed InvalidTransitionError and leave the row untouched. Export is
// additionally blocked while needs_repair is set.
func (s *Store) Transition(ctx context.Context, id int64, to Status) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(item.Status, to) {
		return &InvalidTransitionError{ItemID: id, From: item.Status, To: to}
	}
	if to == StatusExported && item.NeedsRepair {
		return fmt.Errorf("%w: item %d", ErrRepairPending, id)
	}

	now := formatTime(nowUTC())
	query := `UPDATE media_items SET status = ?, updated_at = ?`
	args := []any{string(to), now}
	if to != StatusProcessing {
		query += `, last_heartbeat = NULL`
	}
	if to == StatusTranscribed {
		// Successful completion clears any recorded transient failure.
		query += `, failure_kind = '', failure_message = '', failure_terminal = 0`
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(item.Status))

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition item %d to %s: %w", id, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition item %d to %s: %w", id, to, err)
	}
	if affected == 0 {
		return fmt.Errorf("queue: item %d changed concurrently during transition to %s", id, to)
	}
	return nil
}

// RecordFailure stores the failure cause on an item without moving it out of
// processing. Terminal failures are excluded from lease reclaim and need
// operator intervention; transient failures become reclaimable again once the
// heartbeat lease expires.
func (s *Store) RecordFailure(ctx context.Context, id int64, kind, message string, terminal bool) error {
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE media_items
		SET failure_kind = ?, failure_message = ?, failure_terminal = ?, updated_at = ?
		WHERE id = ?`,
		kind, message, boolToInt(terminal), now, id)
	if err != nil {
		return fmt.Errorf("record failure for item %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record failure for item %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	return nil
}

// SetNeedsRepair toggles the repair flag. The flag is orthogonal to status
// but blocks the reviewed -> exported transition while set.
func (s *Store) SetNeedsRepair(ctx context.Context, id int64, needsRepair bool) error {
	res, err := s.execWithRetry(ctx, `
		UPDATE media_items SET needs_repair = ?, updated_at = ? WHERE id = ?`,
		boolToInt(needsRepair), formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("set needs_repair for item %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set needs_repair for item %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	return nil
}

// UpdateHeartbeat refreshes the processing lease on a claimed item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := formatTime(nowUTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE media_items SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("heartbeat item %d: %w", id, err)
	}
	return nil
}

// ReclaimStaleProcessing returns processing items with an expired heartbeat
// lease to pending so another worker can pick them up. Window results already
// merged are kept, so the retried run resumes instead of starting over.
// Items with a terminal failure are left alone.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := formatTime(nowUTC().Add(-timeout))
	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE media_items
		SET status = ?, last_heartbeat = NULL, updated_at = ?
		WHERE status = ?
		  AND failure_terminal = 0
		  AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(StatusPending), now, string(StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed clears a terminal failure marker and returns the item to
// pending. Operator initiated; partial window progress is preserved.
func (s *Store) RetryFailed(ctx context.Context, id int64) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != StatusProcessing || !item.HasFailure() {
		return fmt.Errorf("queue: item %d has no recorded failure to retry", id)
	}
	now := formatTime(nowUTC())
	_, err = s.execWithRetry(ctx, `
		UPDATE media_items
		SET status = ?, failure_kind = '', failure_message = '', failure_terminal = 0,
		    last_heartbeat = NULL, updated_at = ?
		WHERE id = ?`,
		string(StatusPending), now, id)
	if err != nil {
		return fmt.Errorf("retry item %d: %w", id, err)
	}
	return nil
}

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewItem inserts a media item in pending status and returns it.
func (s *Store) NewItem(ctx context.Context, title, audioURI string, duration time.Duration) (*Item, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("queue: item title is required")
	}
	if strings.TrimSpace(audioURI) == "" {
		return nil, errors.New("queue: audio URI is required")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("queue: media duration must be positive, got %s", duration)
	}

	now := formatTime(nowUTC())
	res, err := s.execWithRetry(ctx, `
		INSERT INTO media_items (title, audio_uri, duration_ms, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		title, audioURI, durationMS(duration), string(StatusPending), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert media item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted item id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID loads one item or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	return item, nil
}

// List returns items, optionally filtered to the given statuses, ordered by
// creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteItems removes items in the given statuses along with their sentences,
// window markers, and review chunks. Returns the number of items removed.
func (s *Store) DeleteItems(ctx context.Context, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, errors.New("queue: at least one status is required to clear items")
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}
	where := ` WHERE item_id IN (SELECT id FROM media_items WHERE status IN (` +
		strings.Join(placeholders, ", ") + `))`

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"sentences", "window_results", "review_chunks"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+where, args...); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM media_items WHERE status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
		if err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// StuckItems returns processing items whose last progress is older than the
// threshold, plus any item carrying a recorded failure. These need operator
// attention but are never silently discarded.
func (s *Store) StuckItems(ctx context.Context, threshold time.Duration) ([]*Item, error) {
	cutoff := formatTime(nowUTC().Add(-threshold))
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM media_items
		WHERE (status = ? AND updated_at < ?) OR failure_message != ''
		ORDER BY updated_at, id`,
		string(StatusProcessing), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Health aggregates item counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var summary HealthSummary
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, needs_repair, failure_message != '', COUNT(*)
		FROM media_items
		GROUP BY status, needs_repair, failure_message != ''`)
	if err != nil {
		return summary, fmt.Errorf("aggregate item health: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			repair int
			failed int
			count  int
		)
		if err := rows.Scan(&status, &repair, &failed, &count); err != nil {
			return summary, fmt.Errorf("scan health row: %w", err)
		}
		summary.Total += count
		if repair != 0 {
			summary.NeedsRepair += count
		}
		if failed != 0 {
			summary.Failed += count
		}
		switch Status(status) {
		case StatusPending:
			summary.Pending += count
		case StatusProcessing:
			summary.Processing += count
		case StatusTranscribed:
			summary.Transcribed += count
		case StatusReviewed:
			summary.Reviewed += count
		case StatusExported:
			summary.Exported += count
		}
	}
	return summary, rows.Err()
}

package queue

import (
	"context"
	"database/sql"
	"fmt"
)

// ReplaceChunks swaps the review chunk layout for an item in one transaction.
// Grouping is deterministic, so rebuilding after a reopen yields identical
// boundaries.
func (s *Store) ReplaceChunks(ctx context.Context, itemID int64, chunks []ReviewChunk) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM review_chunks WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("clear review chunks for item %d: %w", itemID, err)
		}
		for _, chunk := range chunks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_chunks (item_id, chunk_index, start_seq, end_seq)
				VALUES (?, ?, ?, ?)`,
				itemID, chunk.Index, chunk.StartSeq, chunk.EndSeq)
			if err != nil {
				return fmt.Errorf("insert review chunk %d for item %d: %w", chunk.Index, itemID, err)
			}
		}
		return nil
	})
}

// ChunksForItem returns the review chunks with completion derived from the
// live sentence rows: a chunk is complete when no live sentence in its range
// remains unreviewed. Tombstoned sentences shrink the range instead of
// blocking it.
func (s *Store) ChunksForItem(ctx context.Context, itemID int64) ([]ReviewChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.item_id, c.chunk_index, c.start_seq, c.end_seq,
		       NOT EXISTS (
		           SELECT 1 FROM sentences s
		           WHERE s.item_id = c.item_id
		             AND s.seq >= c.start_seq AND s.seq < c.end_seq
		             AND s.deleted = 0 AND s.reviewed = 0
		       )
		FROM review_chunks c
		WHERE c.item_id = ?
		ORDER BY c.chunk_index`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list review chunks for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var chunks []ReviewChunk
	for rows.Next() {
		var (
			chunk    ReviewChunk
			complete int
		)
		if err := rows.Scan(&chunk.ItemID, &chunk.Index, &chunk.StartSeq, &chunk.EndSeq, &complete); err != nil {
			return nil, fmt.Errorf("scan review chunk: %w", err)
		}
		chunk.Complete = complete != 0
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// AllChunksComplete reports whether every review chunk of the item is
// complete. Items without chunks report false; grouping happens before
// review starts.
func (s *Store) AllChunksComplete(ctx context.Context, itemID int64) (bool, error) {
	chunks, err := s.ChunksForItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, nil
	}
	for _, chunk := range chunks {
		if !chunk.Complete {
			return false, nil
		}
	}
	return true, nil
}

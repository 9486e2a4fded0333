package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CompletedWindows returns the set of window indexes whose merge fold has
// already been committed for the item.
func (s *Store) CompletedWindows(ctx context.Context, itemID int64) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_index FROM window_results WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list completed windows for item %d: %w", itemID, err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("scan window index: %w", err)
		}
		done[index] = true
	}
	return done, rows.Err()
}

// AppendMerged commits the accepted sentences of one window fold together
// with the window-done marker in a single transaction. Re-folding a window
// that is already committed is a no-op, which makes crash resume idempotent.
func (s *Store) AppendMerged(ctx context.Context, itemID int64, windowIndex int, sentences []Sentence) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM window_results WHERE item_id = ? AND window_index = ?`,
			itemID, windowIndex).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check window %d for item %d: %w", windowIndex, itemID, err)
		}

		for _, sentence := range sentences {
			// Rows keep the window that transcribed them, which may be an
			// earlier window than the fold committing them.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sentences (item_id, seq, start_ms, end_ms, transcript, translation, issue, window_index)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				itemID, sentence.Seq, durationMS(sentence.Start), durationMS(sentence.End),
				sentence.Transcript, sentence.Translation, boolToInt(sentence.Issue), sentence.WindowIndex)
			if err != nil {
				return fmt.Errorf("insert sentence %d for item %d: %w", sentence.Seq, itemID, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO window_results (item_id, window_index, merged_at) VALUES (?, ?, ?)`,
			itemID, windowIndex, formatTime(nowUTC()))
		if err != nil {
			return fmt.Errorf("mark window %d done for item %d: %w", windowIndex, itemID, err)
		}
		return nil
	})
}

const sentenceColumns = `item_id, seq, start_ms, end_ms, transcript, translation, issue, reviewed, deleted, window_index`

func scanSentence(row interface{ Scan(...any) error }) (Sentence, error) {
	var (
		sentence Sentence
		startMS  int64
		endMS    int64
		issue    int
		reviewed int
		deleted  int
	)
	err := row.Scan(&sentence.ItemID, &sentence.Seq, &startMS, &endMS,
		&sentence.Transcript, &sentence.Translation, &issue, &reviewed, &deleted, &sentence.WindowIndex)
	if err != nil {
		return Sentence{}, err
	}
	sentence.Start = msDuration(startMS)
	sentence.End = msDuration(endMS)
	sentence.Issue = issue != 0
	sentence.Reviewed = reviewed != 0
	sentence.Deleted = deleted != 0
	return sentence, nil
}

// SentencesForItem returns all sentence rows for the item in sequence order,
// tombstones included. Callers that only want live rows filter on Deleted.
func (s *Store) SentencesForItem(ctx context.Context, itemID int64) ([]Sentence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sentenceColumns+` FROM sentences WHERE item_id = ? ORDER BY seq`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list sentences for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var sentences []Sentence
	for rows.Next() {
		sentence, err := scanSentence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sentence: %w", err)
		}
		sentences = append(sentences, sentence)
	}
	return sentences, rows.Err()
}

// GetSentence loads a single sentence by sequence number.
func (s *Store) GetSentence(ctx context.Context, itemID int64, seq int) (Sentence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sentenceColumns+` FROM sentences WHERE item_id = ? AND seq = ?`, itemID, seq)
	sentence, err := scanSentence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sentence{}, fmt.Errorf("%w: sentence %d/%d", ErrNotFound, itemID, seq)
	}
	if err != nil {
		return Sentence{}, fmt.Errorf("load sentence %d/%d: %w", itemID, seq, err)
	}
	return sentence, nil
}

// NextSeq returns the next unused sequence number for the item. Tombstoned
// rows still occupy their number.
func (s *Store) NextSeq(ctx context.Context, itemID int64) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM sentences WHERE item_id = ?`, itemID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence for item %d: %w", itemID, err)
	}
	return next, nil
}

// PatchSentence applies a correction against the canonical record. Deleted
// sentences cannot be patched.
func (s *Store) PatchSentence(ctx context.Context, itemID int64, seq int, patch SentencePatch) error {
	if patch.IsZero() {
		return nil
	}
	sentence, err := s.GetSentence(ctx, itemID, seq)
	if err != nil {
		return err
	}
	if sentence.Deleted {
		return fmt.Errorf("queue: sentence %d/%d is deleted", itemID, seq)
	}

	query := `UPDATE sentences SET `
	var (
		sets []string
		args []any
	)
	if patch.Transcript != nil {
		sets = append(sets, "transcript = ?")
		args = append(args, *patch.Transcript)
	}
	if patch.Translation != nil {
		sets = append(sets, "translation = ?")
		args = append(args, *patch.Translation)
	}
	if patch.Start != nil {
		sets = append(sets, "start_ms = ?")
		args = append(args, durationMS(*patch.Start))
	}
	if patch.End != nil {
		sets = append(sets, "end_ms = ?")
		args = append(args, durationMS(*patch.End))
	}
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += ` WHERE item_id = ? AND seq = ?`
	args = append(args, itemID, seq)

	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("patch sentence %d/%d: %w", itemID, seq, err)
	}
	return nil
}

// SetSentenceReviewed marks or unmarks one sentence as reviewed.
func (s *Store) SetSentenceReviewed(ctx context.Context, itemID int64, seq int, reviewed bool) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE sentences SET reviewed = ? WHERE item_id = ? AND seq = ? AND deleted = 0`,
		boolToInt(reviewed), itemID, seq)
	if err != nil {
		return fmt.Errorf("mark sentence %d/%d reviewed: %w", itemID, seq, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sentence %d/%d reviewed: %w", itemID, seq, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: sentence %d/%d", ErrNotFound, itemID, seq)
	}
	return nil
}

// ClearReviewed unmarks every live sentence of the item, forcing all review
// chunks back to incomplete. Transcripts and translations are untouched.
func (s *Store) ClearReviewed(ctx context.Context, itemID int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE sentences SET reviewed = 0 WHERE item_id = ? AND deleted = 0`, itemID)
	if err != nil {
		return fmt.Errorf("clear review marks for item %d: %w", itemID, err)
	}
	return nil
}

// SetSentenceIssue toggles the issue flag on one sentence.
func (s *Store) SetSentenceIssue(ctx context.Context, itemID int64, seq int, flagged bool) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE sentences SET issue = ? WHERE item_id = ? AND seq = ?`,
		boolToInt(flagged), itemID, seq)
	if err != nil {
		return fmt.Errorf("flag sentence %d/%d: %w", itemID, seq, err)
	}
	return nil
}

// DeleteSentence tombstones a sentence. The row keeps its sequence number so
// neighbouring sentences and chunk boundaries stay stable.
func (s *Store) DeleteSentence(ctx context.Context, itemID int64, seq int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE sentences SET deleted = 1, reviewed = 0, issue = 0 WHERE item_id = ? AND seq = ? AND deleted = 0`,
		itemID, seq)
	if err != nil {
		return fmt.Errorf("delete sentence %d/%d: %w", itemID, seq, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sentence %d/%d: %w", itemID, seq, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: sentence %d/%d", ErrNotFound, itemID, seq)
	}
	return nil
}

// FlaggedSentences returns live sentences carrying the issue flag, the work
// list for targeted repair.
func (s *Store) FlaggedSentences(ctx context.Context, itemID int64) ([]Sentence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sentenceColumns+` FROM sentences WHERE item_id = ? AND issue = 1 AND deleted = 0 ORDER BY seq`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("list flagged sentences for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var sentences []Sentence
	for rows.Next() {
		sentence, err := scanSentence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flagged sentence: %w", err)
		}
		sentences = append(sentences, sentence)
	}
	return sentences, rows.Err()
}

// Package issues tracks flagged sentences and drives targeted repair through
// fresh translation requests.
package issues

import (
	"context"
	"fmt"
	"log/slog"

	"lingest/internal/logging"
	"lingest/internal/queue"
)

// Retranslator requests a fresh translation for a single transcript.
type Retranslator interface {
	Retranslate(ctx context.Context, transcript, sourceLanguage, targetLanguage string) (string, error)
}

// Tracker manages sentence issue flags for review and repair.
type Tracker struct {
	store          *queue.Store
	client         Retranslator
	sourceLanguage string
	targetLanguage string
	logger         *slog.Logger
}

// NewTracker wires a tracker against the store and the speech service.
func NewTracker(store *queue.Store, client Retranslator, sourceLanguage, targetLanguage string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		store:          store,
		client:         client,
		sourceLanguage: sourceLanguage,
		targetLanguage: targetLanguage,
		logger:         logging.NewComponentLogger(logger, "issues"),
	}
}

// Flagged lists the live sentences currently carrying the issue flag.
func (t *Tracker) Flagged(ctx context.Context, itemID int64) ([]queue.Sentence, error) {
	return t.store.FlaggedSentences(ctx, itemID)
}

// Flag sets or clears the issue flag on one sentence.
func (t *Tracker) Flag(ctx context.Context, itemID int64, seq int, flagged bool) error {
	if _, err := t.store.GetSentence(ctx, itemID, seq); err != nil {
		return err
	}
	return t.store.SetSentenceIssue(ctx, itemID, seq, flagged)
}

// RepairResult summarizes one repair pass. Partial success is a valid
// outcome: repaired sentences keep their new translation even when others
// fail.
type RepairResult struct {
	Attempted int
	Repaired  int
	// Failures maps sentence sequence numbers to the failure message.
	Failures map[int]string
}

// Repair retranslates flagged sentences one at a time. With an empty seqs
// argument every flagged sentence of the item is attempted. Successfully
// repaired sentences have their translation replaced and their flag cleared;
// once no flags remain the item's needs_repair marker is cleared too.
func (t *Tracker) Repair(ctx context.Context, itemID int64, seqs []int) (RepairResult, error) {
	result := RepairResult{Failures: make(map[int]string)}

	targets, err := t.repairTargets(ctx, itemID, seqs)
	if err != nil {
		return result, err
	}

	for _, sentence := range targets {
		result.Attempted++
		translation, err := t.client.Retranslate(ctx, sentence.Transcript, t.sourceLanguage, t.targetLanguage)
		if err != nil {
			result.Failures[sentence.Seq] = err.Error()
			t.logger.Warn("sentence repair failed",
				logging.Int64("item_id", itemID),
				logging.Int("seq", sentence.Seq),
				logging.Error(err))
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			continue
		}
		if err := t.store.PatchSentence(ctx, itemID, sentence.Seq, queue.SentencePatch{Translation: &translation}); err != nil {
			result.Failures[sentence.Seq] = err.Error()
			continue
		}
		if err := t.store.SetSentenceIssue(ctx, itemID, sentence.Seq, false); err != nil {
			result.Failures[sentence.Seq] = err.Error()
			continue
		}
		result.Repaired++
		t.logger.Info("sentence repaired",
			logging.Int64("item_id", itemID),
			logging.Int("seq", sentence.Seq))
	}

	remaining, err := t.store.FlaggedSentences(ctx, itemID)
	if err != nil {
		return result, err
	}
	if len(remaining) == 0 {
		if err := t.store.SetNeedsRepair(ctx, itemID, false); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (t *Tracker) repairTargets(ctx context.Context, itemID int64, seqs []int) ([]queue.Sentence, error) {
	if len(seqs) == 0 {
		return t.store.FlaggedSentences(ctx, itemID)
	}
	targets := make([]queue.Sentence, 0, len(seqs))
	for _, seq := range seqs {
		sentence, err := t.store.GetSentence(ctx, itemID, seq)
		if err != nil {
			return nil, err
		}
		if sentence.Deleted {
			return nil, fmt.Errorf("issues: sentence %d/%d is deleted", itemID, seq)
		}
		targets = append(targets, sentence)
	}
	return targets, nil
}

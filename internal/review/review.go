// Package review slices a merged timeline into fixed-size review chunks and
// carries the human review operations: corrections, deletes, sign-off, and
// the reopen cycle.
package review

import (
	"context"
	"fmt"
	"log/slog"

	"lingest/internal/logging"
	"lingest/internal/queue"
	"lingest/internal/services"
)

// Group partitions the sequence range [0, seqCount) into contiguous chunks
// of at most chunkSize sentences. The layout depends only on the inputs, so
// regrouping after a reopen reproduces the same boundaries.
func Group(itemID int64, seqCount, chunkSize int) []queue.ReviewChunk {
	if seqCount <= 0 || chunkSize <= 0 {
		return nil
	}
	chunks := make([]queue.ReviewChunk, 0, (seqCount+chunkSize-1)/chunkSize)
	for start := 0; start < seqCount; start += chunkSize {
		end := start + chunkSize
		if end > seqCount {
			end = seqCount
		}
		chunks = append(chunks, queue.ReviewChunk{
			ItemID:   itemID,
			Index:    len(chunks),
			StartSeq: start,
			EndSeq:   end,
		})
	}
	return chunks
}

// Service exposes the review workflow over the store.
type Service struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewService wires the review operations against the store.
func NewService(store *queue.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, logger: logging.NewComponentLogger(logger, "review")}
}

// Chunks returns the item's review chunks with derived completion.
func (s *Service) Chunks(ctx context.Context, itemID int64) ([]queue.ReviewChunk, error) {
	return s.store.ChunksForItem(ctx, itemID)
}

// Sentences returns the item's live sentences in timeline order.
func (s *Service) Sentences(ctx context.Context, itemID int64) ([]queue.Sentence, error) {
	all, err := s.store.SentencesForItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, sentence := range all {
		if !sentence.Deleted {
			live = append(live, sentence)
		}
	}
	return live, nil
}

// Correct applies a reviewer's patch to one sentence. Timing edits must keep
// the sentence well formed.
func (s *Service) Correct(ctx context.Context, itemID int64, seq int, patch queue.SentencePatch) error {
	if patch.IsZero() {
		return services.Wrap(services.ErrValidation, "review", "correct", "empty correction", nil)
	}
	if patch.Start != nil || patch.End != nil {
		current, err := s.store.GetSentence(ctx, itemID, seq)
		if err != nil {
			return err
		}
		start, end := current.Start, current.End
		if patch.Start != nil {
			start = *patch.Start
		}
		if patch.End != nil {
			end = *patch.End
		}
		if start < 0 || end <= start {
			return services.Wrap(services.ErrValidation, "review", "correct",
				fmt.Sprintf("sentence times invalid: [%s, %s)", start, end), nil)
		}
	}
	return s.store.PatchSentence(ctx, itemID, seq, patch)
}

// MarkReviewed records a reviewer's sign-off on a single sentence.
func (s *Service) MarkReviewed(ctx context.Context, itemID int64, seq int, reviewed bool) error {
	return s.store.SetSentenceReviewed(ctx, itemID, seq, reviewed)
}

// Delete tombstones a sentence. Chunk boundaries are untouched; the chunk
// simply covers one sentence fewer.
func (s *Service) Delete(ctx context.Context, itemID int64, seq int) error {
	return s.store.DeleteSentence(ctx, itemID, seq)
}

// FinishReview moves a transcribed item to reviewed once every chunk is
// complete.
func (s *Service) FinishReview(ctx context.Context, itemID int64) error {
	complete, err := s.store.AllChunksComplete(ctx, itemID)
	if err != nil {
		return err
	}
	if !complete {
		return services.Wrap(services.ErrValidation, "review", "finish",
			fmt.Sprintf("item %d still has incomplete chunks", itemID), nil)
	}
	if err := s.store.Transition(ctx, itemID, queue.StatusReviewed); err != nil {
		return err
	}
	s.logger.Info("item review finished", logging.Int64("item_id", itemID))
	return nil
}

// Reopen returns a reviewed item to transcribed for another review pass.
// Corrections are preserved, but per-sentence sign-offs are cleared so every
// chunk must be completed again before the item can finish review.
func (s *Service) Reopen(ctx context.Context, itemID int64) error {
	if err := s.store.Transition(ctx, itemID, queue.StatusTranscribed); err != nil {
		return err
	}
	if err := s.store.ClearReviewed(ctx, itemID); err != nil {
		return err
	}
	s.logger.Info("item reopened for review", logging.Int64("item_id", itemID))
	return nil
}

// Export marks a reviewed item exported and returns its live sentences as
// the corpus payload. Blocked while a repair request is outstanding.
func (s *Service) Export(ctx context.Context, itemID int64) ([]queue.Sentence, error) {
	if err := s.store.Transition(ctx, itemID, queue.StatusExported); err != nil {
		return nil, err
	}
	sentences, err := s.Sentences(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("item exported",
		logging.Int64("item_id", itemID),
		logging.Int("sentences", len(sentences)))
	return sentences, nil
}

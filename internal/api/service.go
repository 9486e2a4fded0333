// Package api carries the transport types of the HTTP interface and the item
// service facade that backs it.
package api

import (
	"context"
	"fmt"
	"time"

	"lingest/internal/issues"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services"
)

// ItemService bundles the item-level operations the HTTP handlers expose.
type ItemService struct {
	store   *queue.Store
	reviews *review.Service
	tracker *issues.Tracker
}

// NewItemService builds the facade over the store and the review and repair
// services.
func NewItemService(store *queue.Store, reviews *review.Service, tracker *issues.Tracker) *ItemService {
	return &ItemService{store: store, reviews: reviews, tracker: tracker}
}

// List returns items, optionally filtered by status.
func (s *ItemService) List(ctx context.Context, statusFilter string) ([]Item, error) {
	var statuses []queue.Status
	if statusFilter != "" {
		status, ok := queue.ParseStatus(statusFilter)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list",
				fmt.Sprintf("unknown status %q", statusFilter), nil)
		}
		statuses = append(statuses, status)
	}
	items, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromItems(items), nil
}

// Clear removes items in the given status, defaulting to exported items.
// Returns the number of items removed.
func (s *ItemService) Clear(ctx context.Context, statusFilter string) (int64, error) {
	status := queue.StatusExported
	if statusFilter != "" {
		parsed, ok := queue.ParseStatus(statusFilter)
		if !ok {
			return 0, services.Wrap(services.ErrValidation, "api", "clear",
				fmt.Sprintf("unknown status %q", statusFilter), nil)
		}
		status = parsed
	}
	return s.store.DeleteItems(ctx, status)
}

// Get loads one item.
func (s *ItemService) Get(ctx context.Context, id int64) (Item, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// Add creates a new pending item.
func (s *ItemService) Add(ctx context.Context, req AddItemRequest) (Item, error) {
	item, err := s.store.NewItem(ctx, req.Title, req.AudioURI, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// Sentences returns the item's live sentence rows.
func (s *ItemService) Sentences(ctx context.Context, id int64) ([]Sentence, error) {
	sentences, err := s.reviews.Sentences(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromSentences(sentences), nil
}

// Chunks returns the item's review chunks with derived completion.
func (s *ItemService) Chunks(ctx context.Context, id int64) ([]Chunk, error) {
	chunks, err := s.reviews.Chunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromChunks(chunks), nil
}

// Correct applies a sentence correction patch.
func (s *ItemService) Correct(ctx context.Context, id int64, seq int, req SentencePatchRequest) error {
	return s.reviews.Correct(ctx, id, seq, req.Patch())
}

// SetReviewed toggles a sentence's review mark.
func (s *ItemService) SetReviewed(ctx context.Context, id int64, seq int, reviewed bool) error {
	return s.reviews.MarkReviewed(ctx, id, seq, reviewed)
}

// DeleteSentence tombstones a sentence.
func (s *ItemService) DeleteSentence(ctx context.Context, id int64, seq int) error {
	return s.reviews.Delete(ctx, id, seq)
}

// FinishReview moves a fully reviewed item to reviewed status.
func (s *ItemService) FinishReview(ctx context.Context, id int64) error {
	return s.reviews.FinishReview(ctx, id)
}

// Reopen returns a reviewed item to transcribed for more editing.
func (s *ItemService) Reopen(ctx context.Context, id int64) error {
	return s.reviews.Reopen(ctx, id)
}

// Export marks the item exported and returns the corpus sentences.
func (s *ItemService) Export(ctx context.Context, id int64) ([]Sentence, error) {
	sentences, err := s.reviews.Export(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromSentences(sentences), nil
}

// Repair marks the item for repair and runs a targeted repair pass over the
// selected (or all flagged) sentences.
func (s *ItemService) Repair(ctx context.Context, id int64, req RepairRequest) (RepairResponse, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return RepairResponse{}, err
	}
	if item.Status == queue.StatusPending || item.Status == queue.StatusProcessing {
		return RepairResponse{}, services.Wrap(services.ErrValidation, "api", "repair",
			fmt.Sprintf("item %d is not transcribed yet", id), nil)
	}
	if err := s.store.SetNeedsRepair(ctx, id, true); err != nil {
		return RepairResponse{}, err
	}
	result, err := s.tracker.Repair(ctx, id, req.Indices)
	if err != nil {
		return RepairResponse{}, err
	}
	resp := RepairResponse{Attempted: result.Attempted, Repaired: result.Repaired}
	if len(result.Failures) > 0 {
		resp.Failures = result.Failures
	}
	return resp, nil
}

// RetryFailed clears a terminal failure and re-queues the item.
func (s *ItemService) RetryFailed(ctx context.Context, id int64) error {
	return s.store.RetryFailed(ctx, id)
}

// Package transcribe implements the pipeline stage that turns one media item
// into a merged bilingual sentence timeline: plan the overlapping windows,
// process them concurrently against the speech service, fold the results in
// window order, and slice the timeline into review chunks.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"lingest/internal/config"
	"lingest/internal/logging"
	"lingest/internal/merge"
	"lingest/internal/plan"
	"lingest/internal/queue"
	"lingest/internal/review"
	"lingest/internal/services"
	"lingest/internal/services/speech"
	"lingest/internal/stage"
)

// Transcriber is the slice of the speech client the stage depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.Request) ([]speech.Segment, error)
	HealthCheck(ctx context.Context) error
}

// Stage processes claimed items end to end.
type Stage struct {
	cfg    *config.Config
	store  *queue.Store
	client Transcriber
	logger *slog.Logger
}

// NewStage wires the transcribe stage.
func NewStage(cfg *config.Config, store *queue.Store, client Transcriber, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Prepare validates the item before any external call is made.
func (s *Stage) Prepare(_ context.Context, item *queue.Item) error {
	if strings.TrimSpace(item.AudioURI) == "" {
		return services.Wrap(services.ErrValidation, "transcribe", "prepare",
			fmt.Sprintf("item %d has no audio uri", item.ID), nil)
	}
	if item.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "transcribe", "prepare",
			fmt.Sprintf("item %d has non-positive duration %s", item.ID, item.Duration), nil)
	}
	return nil
}

type windowResult struct {
	sentences []queue.ProvisionalSentence
	err       error
}

// Execute runs the full window pipeline for one item. Window processing fans
// out up to WindowConcurrency slices at a time, but folds commit strictly in
// window order as results arrive. Committed folds always form a prefix of
// the window list, so a failure keeps every fold committed before it and an
// interrupted run resumes from the first unfolded window. A fold's tail that
// reaches into the successor's overlap region is persisted with the
// successor's fold; on resume that region is re-transcribed by the successor
// window, so its content is recovered there.
func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	windows, err := plan.Windows(item.Duration, s.maxWindow(), s.overlap())
	if err != nil {
		return services.Wrap(services.ErrValidation, "transcribe", "plan", "window planning failed", err)
	}

	done, err := s.store.CompletedWindows(ctx, item.ID)
	if err != nil {
		return err
	}

	logger := logging.WithContext(services.WithItemID(ctx, item.ID), s.logger)
	logger.Info("processing item",
		logging.Int("windows", len(windows)),
		logging.Int("already_merged", len(done)))

	if err := s.processAndFold(ctx, item, windows, done); err != nil {
		return err
	}

	nextSeq, err := s.store.NextSeq(ctx, item.ID)
	if err != nil {
		return err
	}
	chunks := review.Group(item.ID, nextSeq, s.cfg.Pipeline.ReviewChunkSize)
	if err := s.store.ReplaceChunks(ctx, item.ID, chunks); err != nil {
		return err
	}

	logger.Info("item transcribed",
		logging.Int("sentences", nextSeq),
		logging.Int("chunks", len(chunks)))
	return nil
}

func (s *Stage) processAndFold(ctx context.Context, item *queue.Item, windows []plan.Window, done map[int]bool) error {
	concurrency := s.cfg.Pipeline.WindowConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	// Cancel must fire before the wait so an early fold failure aborts the
	// in-flight speech calls instead of draining them to completion.
	defer wg.Wait()
	defer cancel()

	// Workers report through per-window buffered channels so the fold loop
	// controls failure handling and still drains on cancel.
	results := make(map[int]chan windowResult, len(windows))
	for _, window := range windows {
		if done[window.Index] {
			continue
		}
		ch := make(chan windowResult, 1)
		results[window.Index] = ch
		window := window
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(runCtx, 1); err != nil {
				ch <- windowResult{err: err}
				return
			}
			defer sem.Release(1)
			sentences, err := s.processWindow(runCtx, item, window)
			ch <- windowResult{sentences: sentences, err: err}
		}()
	}

	merger, err := s.newMerger(ctx, item, done)
	if err != nil {
		return err
	}
	for i, window := range windows {
		if done[window.Index] {
			continue
		}
		result := <-results[window.Index]
		if result.err != nil {
			return result.err
		}
		var next *plan.Window
		if i+1 < len(windows) {
			next = &windows[i+1]
		}
		accepted := merger.Fold(window, next, result.sentences)
		if err := s.store.AppendMerged(ctx, item.ID, window.Index, accepted); err != nil {
			return err
		}
	}
	return nil
}

// processWindow sends one slice to the speech service. A malformed reply is
// retried exactly once with a strict request before the failure escalates.
func (s *Stage) processWindow(ctx context.Context, item *queue.Item, window plan.Window) ([]queue.ProvisionalSentence, error) {
	req := speech.Request{
		AudioURI:       item.AudioURI,
		Start:          window.Start,
		End:            window.End,
		SourceLanguage: s.cfg.Languages.Source,
		TargetLanguage: s.cfg.Languages.Target,
	}

	segments, err := s.client.Transcribe(ctx, req)
	if err != nil && errors.Is(err, services.ErrMalformed) && ctx.Err() == nil {
		s.logger.Warn("malformed reply, retrying strict",
			logging.Int64("item_id", item.ID),
			logging.Int("window", window.Index),
			logging.Error(err))
		req.Strict = true
		segments, err = s.client.Transcribe(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("window %d: %w", window.Index, err)
	}

	sentences := make([]queue.ProvisionalSentence, 0, len(segments))
	for i, segment := range segments {
		sentences = append(sentences, queue.ProvisionalSentence{
			Index:          i,
			Start:          window.Start + segment.Start,
			End:            window.Start + segment.End,
			Transcript:     segment.Transcript,
			Translation:    segment.Translation,
			QualityWarning: segment.QualityWarning,
		})
	}
	return sentences, nil
}

// newMerger builds the fold state, seeded from the last committed window's
// sentences when resuming an interrupted run.
func (s *Stage) newMerger(ctx context.Context, item *queue.Item, done map[int]bool) (*merge.Merger, error) {
	nextSeq, err := s.store.NextSeq(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	merger := merge.NewMerger(merge.Policy{
		DedupThreshold: s.cfg.Pipeline.DedupSimilarity,
		FlagThreshold:  s.cfg.Pipeline.FlagSimilarity,
		StartDelta:     s.startDelta(),
	}, nextSeq)

	if len(done) > 0 {
		lastDone := -1
		for index := range done {
			if index > lastDone {
				lastDone = index
			}
		}
		persisted, err := s.store.SentencesForItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		merger.Seed(persisted, lastDone)
	}
	return merger, nil
}

// HealthCheck probes the speech service endpoint.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if err := s.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("transcribe", err.Error())
	}
	return stage.Healthy("transcribe")
}

func (s *Stage) maxWindow() time.Duration {
	return time.Duration(s.cfg.Pipeline.MaxWindowSeconds) * time.Second
}

func (s *Stage) overlap() time.Duration {
	return time.Duration(s.cfg.Pipeline.OverlapSeconds) * time.Second
}

func (s *Stage) startDelta() time.Duration {
	return time.Duration(s.cfg.Pipeline.DedupStartDeltaSeconds * float64(time.Second))
}

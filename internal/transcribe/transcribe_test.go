package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lingest/internal/config"
	"lingest/internal/queue"
	"lingest/internal/services"
	"lingest/internal/services/speech"
)

type utterance struct {
	at          time.Duration
	transcript  string
	translation string
}

// fakeSpeech replays a fixed set of utterances: any slice request returns
// the utterances inside its bounds with slice-relative times, which is
// exactly how overlapping windows see the same speech twice.
type fakeSpeech struct {
	mu         sync.Mutex
	utterances []utterance
	failOnce   map[time.Duration]error
	failAlways map[time.Duration]error
	calls      []speech.Request
}

func (f *fakeSpeech) Transcribe(_ context.Context, req speech.Request) ([]speech.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if err, ok := f.failAlways[req.Start]; ok {
		return nil, err
	}
	if err, ok := f.failOnce[req.Start]; ok {
		delete(f.failOnce, req.Start)
		return nil, err
	}

	var segments []speech.Segment
	for _, u := range f.utterances {
		if u.at >= req.Start && u.at < req.End {
			rel := u.at - req.Start
			segments = append(segments, speech.Segment{
				Start:       rel,
				End:         rel + 2*time.Second,
				Transcript:  u.transcript,
				Translation: u.translation,
			})
		}
	}
	return segments, nil
}

func (f *fakeSpeech) HealthCheck(context.Context) error { return nil }

func (f *fakeSpeech) requests(start time.Duration) []speech.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []speech.Request
	for _, call := range f.calls {
		if call.Start == start {
			matched = append(matched, call)
		}
	}
	return matched
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Languages.Source = "es"
	cfg.Languages.Target = "en"
	cfg.Pipeline.MaxWindowSeconds = 600
	cfg.Pipeline.OverlapSeconds = 20
	cfg.Pipeline.WindowConcurrency = 2
	cfg.Pipeline.ReviewChunkSize = 2
	return &cfg
}

// Three windows over 25 minutes: [0, 600), [580, 1180), [1160, 1500).
func testUtterances() []utterance {
	return []utterance{
		{at: 30 * time.Second, transcript: "buenos dias a todos", translation: "good morning everyone"},
		{at: 590 * time.Second, transcript: "hasta manana amigos", translation: "see you tomorrow friends"},
		{at: 700 * time.Second, transcript: "el tiempo es bueno", translation: "the weather is good"},
		{at: 1170 * time.Second, transcript: "gracias por venir", translation: "thanks for coming"},
		{at: 1300 * time.Second, transcript: "adios a todos", translation: "goodbye everyone"},
	}
}

func setupStage(t *testing.T, fake Transcriber) (*Stage, *queue.Store, *queue.Item) {
	t.Helper()
	ctx := context.Background()
	store, err := queue.OpenPath(ctx, filepath.Join(t.TempDir(), "lingest.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.NewItem(ctx, "episode", "file:///media/episode.wav", 25*time.Minute); err != nil {
		t.Fatalf("new item: %v", err)
	}
	item, err := store.ClaimNext(ctx)
	if err != nil || item == nil {
		t.Fatalf("claim: item=%v err=%v", item, err)
	}
	return NewStage(testConfig(), store, fake, nil), store, item
}

func TestExecuteMergesOverlappingWindows(t *testing.T) {
	fake := &fakeSpeech{utterances: testUtterances()}
	stg, store, item := setupStage(t, fake)
	ctx := context.Background()

	if err := stg.Execute(ctx, item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	sentences, err := store.SentencesForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("sentences: %v", err)
	}
	if len(sentences) != 5 {
		t.Fatalf("got %d sentences, want 5 (overlap duplicates must collapse): %+v", len(sentences), sentences)
	}
	for i, sentence := range sentences {
		if sentence.Seq != i {
			t.Errorf("sentence %d has seq %d", i, sentence.Seq)
		}
		if i > 0 && sentence.Start < sentences[i-1].Start {
			t.Errorf("timeline out of order at seq %d", i)
		}
		if sentence.Issue {
			t.Errorf("clean merge flagged sentence %d", i)
		}
	}
	// The first window's copy of the 590s utterance wins.
	if sentences[1].WindowIndex != 0 {
		t.Errorf("overlap survivor came from window %d, want 0", sentences[1].WindowIndex)
	}

	done, err := store.CompletedWindows(ctx, item.ID)
	if err != nil {
		t.Fatalf("completed windows: %v", err)
	}
	if len(done) != 3 {
		t.Fatalf("completed %d windows, want 3", len(done))
	}

	chunks, err := store.ChunksForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (5 sentences, size 2)", len(chunks))
	}
	if chunks[2].StartSeq != 4 || chunks[2].EndSeq != 5 {
		t.Fatalf("last chunk range = [%d, %d)", chunks[2].StartSeq, chunks[2].EndSeq)
	}
}

func TestExecuteRetriesMalformedRepliesStrictly(t *testing.T) {
	fake := &fakeSpeech{
		utterances: testUtterances(),
		failOnce: map[time.Duration]error{
			0: services.Wrap(services.ErrMalformed, "speech", "transcribe", "decode response", nil),
		},
	}
	stg, _, item := setupStage(t, fake)

	if err := stg.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	calls := fake.requests(0)
	if len(calls) != 2 {
		t.Fatalf("window 0 saw %d calls, want 2", len(calls))
	}
	if calls[0].Strict || !calls[1].Strict {
		t.Fatalf("strict flags = [%v %v], want [false true]", calls[0].Strict, calls[1].Strict)
	}
}

func TestExecuteTransientFailureEscalates(t *testing.T) {
	fake := &fakeSpeech{
		utterances: testUtterances(),
		failOnce: map[time.Duration]error{
			0: services.Wrap(services.ErrTransient, "speech", "transcribe", "timeout", nil),
		},
	}
	stg, _, item := setupStage(t, fake)

	err := stg.Execute(context.Background(), item)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure to surface, got %v", err)
	}
}

// blockingSpeech stalls the request starting at blockAt until its context is
// cancelled, and holds back the window-0 failure until that call is in
// flight.
type blockingSpeech struct {
	fakeSpeech
	blockAt  time.Duration
	entered  chan struct{}
	released chan struct{}
}

func (b *blockingSpeech) Transcribe(ctx context.Context, req speech.Request) ([]speech.Segment, error) {
	if req.Start == b.blockAt {
		close(b.entered)
		<-ctx.Done()
		close(b.released)
		return nil, services.Wrap(services.ErrTransient, "speech", "transcribe", "canceled", ctx.Err())
	}
	if req.Start == 0 {
		<-b.entered
	}
	return b.fakeSpeech.Transcribe(ctx, req)
}

func TestExecuteCancelsInflightWindowsOnFailure(t *testing.T) {
	fake := &blockingSpeech{
		fakeSpeech: fakeSpeech{
			utterances: testUtterances(),
			failAlways: map[time.Duration]error{
				0: services.Wrap(services.ErrTransient, "speech", "transcribe", "timeout", nil),
			},
		},
		blockAt:  580 * time.Second,
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	stg, _, item := setupStage(t, fake)

	if err := stg.Execute(context.Background(), item); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure to surface, got %v", err)
	}

	// Execute waits for its workers before returning, so by now the stalled
	// window must have been cancelled rather than left running.
	select {
	case <-fake.released:
	default:
		t.Fatal("in-flight window was not cancelled when the fold failed")
	}
}

func TestExecuteResumesFromCommittedPrefix(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "speech", "transcribe", "timeout", nil)
	fake := &fakeSpeech{
		utterances: testUtterances(),
		failAlways: map[time.Duration]error{1160 * time.Second: transient},
	}
	stg, store, item := setupStage(t, fake)
	ctx := context.Background()

	if err := stg.Execute(ctx, item); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected failure on last window, got %v", err)
	}

	done, err := store.CompletedWindows(ctx, item.ID)
	if err != nil {
		t.Fatalf("completed windows: %v", err)
	}
	if !done[0] || !done[1] || done[2] {
		t.Fatalf("committed windows = %v, want prefix {0, 1}", done)
	}

	// The retry only processes the missing window and must not duplicate
	// anything already merged.
	fake.mu.Lock()
	fake.failAlways = nil
	fake.calls = nil
	fake.mu.Unlock()

	if err := stg.Execute(ctx, item); err != nil {
		t.Fatalf("resumed execute: %v", err)
	}

	fake.mu.Lock()
	retryCalls := len(fake.calls)
	fake.mu.Unlock()
	if retryCalls != 1 {
		t.Fatalf("resume made %d speech calls, want 1", retryCalls)
	}

	sentences, err := store.SentencesForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("sentences: %v", err)
	}
	if len(sentences) != 5 {
		t.Fatalf("got %d sentences after resume, want 5", len(sentences))
	}
	for i, sentence := range sentences {
		if sentence.Seq != i {
			t.Fatalf("sequence gap after resume at position %d (seq %d)", i, sentence.Seq)
		}
	}
}

func TestPrepareValidatesItem(t *testing.T) {
	fake := &fakeSpeech{}
	stg, _, item := setupStage(t, fake)

	item.AudioURI = "  "
	if err := stg.Prepare(context.Background(), item); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure for missing audio uri, got %v", err)
	}

	item.AudioURI = "file:///a.wav"
	item.Duration = 0
	if err := stg.Prepare(context.Background(), item); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure for zero duration, got %v", err)
	}
}

package merge

import (
	"reflect"
	"testing"
	"time"

	"lingest/internal/plan"
	"lingest/internal/queue"
)

func testPolicy() Policy {
	return Policy{
		DedupThreshold: 0.80,
		FlagThreshold:  0.60,
		StartDelta:     2 * time.Second,
	}
}

// Two windows covering [0, 110s) with a 10s overlap at [50s, 60s).
func testWindows() (plan.Window, plan.Window) {
	first := plan.Window{Index: 0, Start: 0, End: 60 * time.Second}
	second := plan.Window{Index: 1, Start: 50 * time.Second, End: 110 * time.Second, Overlap: 10 * time.Second}
	return first, second
}

func at(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// foldAll runs both folds and returns the concatenated finalized timeline.
func foldAll(merger *Merger, first, second plan.Window, firstBatch, secondBatch []queue.ProvisionalSentence) []queue.Sentence {
	out := merger.Fold(first, &second, firstBatch)
	return append(out, merger.Fold(second, nil, secondBatch)...)
}

// checkTimeline fails the test unless start times are strictly increasing,
// ranges never overlap, and sequence numbers are gapless from 0.
func checkTimeline(t *testing.T, timeline []queue.Sentence) {
	t.Helper()
	for i, sentence := range timeline {
		if sentence.Seq != i {
			t.Errorf("seq at position %d = %d", i, sentence.Seq)
		}
		if sentence.End <= sentence.Start {
			t.Errorf("seq %d has empty range [%s, %s)", i, sentence.Start, sentence.End)
		}
		if i == 0 {
			continue
		}
		prev := timeline[i-1]
		if sentence.Start <= prev.Start {
			t.Errorf("start times not increasing: seq %d starts %s, seq %d starts %s",
				i-1, prev.Start, i, sentence.Start)
		}
		if sentence.Start < prev.End {
			t.Errorf("seq %d ends %s after seq %d starts %s", i-1, prev.End, i, sentence.Start)
		}
	}
}

func TestFoldDropsOverlapDuplicates(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(10), End: at(12), Transcript: "buenos dias", Translation: "good morning"},
			{Start: at(52), End: at(54), Transcript: "hello there my friend", Translation: "hola amigo mio"},
		},
		[]queue.ProvisionalSentence{
			// Same utterance as seen by the second window, slightly shifted.
			{Start: at(52.4), End: at(54.2), Transcript: "Hello there, my friend!", Translation: "hola amigo mio"},
			{Start: at(70), End: at(72), Transcript: "hasta luego", Translation: "see you later"},
		})

	if len(all) != 3 {
		t.Fatalf("timeline has %d sentences, want 3: %+v", len(all), all)
	}
	checkTimeline(t, all)
	// The earlier window's copy keeps its place and its window provenance.
	if all[1].Transcript != "hello there my friend" || all[1].WindowIndex != 0 {
		t.Fatalf("overlap survivor = %q from window %d, want first window's copy", all[1].Transcript, all[1].WindowIndex)
	}
	if all[2].Transcript != "hasta luego" {
		t.Fatalf("wrong final sentence: %q", all[2].Transcript)
	}
}

func TestFoldKeepsDistinctOverlapSentences(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(52), End: at(54), Transcript: "hello there", Translation: "hola"},
		},
		[]queue.ProvisionalSentence{
			// Different utterance at a nearby time must not collapse.
			{Start: at(53), End: at(55), Transcript: "goodbye now", Translation: "adios"},
		})

	if len(all) != 2 {
		t.Fatalf("timeline has %d sentences, want 2: %+v", len(all), all)
	}
	checkTimeline(t, all)
	if all[1].Transcript != "goodbye now" || all[1].Issue {
		t.Fatalf("distinct overlap sentence mishandled: %+v", all[1])
	}
	// The colliding ranges were resolved by clamping the earlier sentence.
	if all[0].End != at(53) {
		t.Fatalf("earlier sentence end = %s, want clamped to 53s", all[0].End)
	}
}

func TestFoldOrdersInterleavedOverlapSentences(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	// The second window's kept sentence starts between two of the first
	// window's sentences; the finalized timeline must interleave them.
	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(52), End: at(54), Transcript: "hello there", Translation: "hola"},
			{Start: at(58), End: at(59), Transcript: "one more thing", Translation: "una cosa mas"},
		},
		[]queue.ProvisionalSentence{
			{Start: at(53), End: at(55), Transcript: "goodbye now", Translation: "adios"},
		})

	if len(all) != 3 {
		t.Fatalf("timeline has %d sentences, want 3: %+v", len(all), all)
	}
	checkTimeline(t, all)
	want := []string{"hello there", "goodbye now", "one more thing"}
	for i, transcript := range want {
		if all[i].Transcript != transcript {
			t.Fatalf("position %d = %q, want %q", i, all[i].Transcript, transcript)
		}
	}
}

func TestFoldKeepsSentencesExtendingPastOverlap(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	// Identical text, but the second copy runs past the overlap region, so
	// only part of it was shared audio. It is not a dedup candidate and must
	// be appended.
	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(58), End: at(62), Transcript: "that is the whole story", Translation: "esa es toda la historia"},
		},
		[]queue.ProvisionalSentence{
			{Start: at(59), End: at(63), Transcript: "that is the whole story", Translation: "esa es toda la historia"},
		})

	if len(all) != 2 {
		t.Fatalf("sentence extending past the overlap region was dropped: %+v", all)
	}
	checkTimeline(t, all)
}

func TestFoldKeepsDuplicateTextWhenStartsDiverge(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	// Identical text but well outside the start delta; a genuine repetition
	// in speech, not a window artifact.
	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(50.5), End: at(52), Transcript: "si si claro", Translation: "yes yes of course"},
		},
		[]queue.ProvisionalSentence{
			{Start: at(56), End: at(57.5), Transcript: "si si claro", Translation: "yes yes of course"},
		})

	if len(all) != 2 {
		t.Fatalf("repeated utterance outside start delta was deduplicated: %+v", all)
	}
	checkTimeline(t, all)
}

func TestFoldFlagsNearMisses(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	// Token overlap of 0.75: inside the near-miss band, below dedup.
	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(52), End: at(54), Transcript: "the cat sat down", Translation: "el gato se sento"},
		},
		[]queue.ProvisionalSentence{
			{Start: at(52.5), End: at(54), Transcript: "the cat sat up", Translation: "el gato se levanto"},
		})

	if len(all) != 2 {
		t.Fatalf("near-miss was dropped instead of flagged: %+v", all)
	}
	checkTimeline(t, all)
	if all[0].Issue {
		t.Fatal("first window's copy should not be flagged")
	}
	if !all[1].Issue {
		t.Fatal("near-miss not flagged for review")
	}
}

func TestFoldCarriesQualityWarnings(t *testing.T) {
	first, _ := testWindows()
	merger := NewMerger(testPolicy(), 0)

	accepted := merger.Fold(first, nil, []queue.ProvisionalSentence{
		{Start: at(5), End: at(7), Transcript: "mumbled words", Translation: "palabras", QualityWarning: true},
	})
	if !accepted[0].Issue {
		t.Fatal("quality warning should flag the sentence")
	}
}

func TestFoldWithholdsOverlapTailUntilNextFold(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	accepted := merger.Fold(first, &second, []queue.ProvisionalSentence{
		{Start: at(10), End: at(12), Transcript: "uno", Translation: "one"},
		{Start: at(52), End: at(54), Transcript: "dos", Translation: "two"},
	})
	if len(accepted) != 1 || accepted[0].Transcript != "uno" {
		t.Fatalf("first fold finalized %+v, want only the pre-overlap sentence", accepted)
	}

	accepted = merger.Fold(second, nil, nil)
	if len(accepted) != 1 || accepted[0].Transcript != "dos" {
		t.Fatalf("second fold did not release the withheld tail: %+v", accepted)
	}
	if accepted[0].Seq != 1 || accepted[0].WindowIndex != 0 {
		t.Fatalf("released tail seq %d window %d, want seq 1 window 0", accepted[0].Seq, accepted[0].WindowIndex)
	}
}

func TestFoldIsDeterministic(t *testing.T) {
	first, second := testWindows()
	firstBatch := []queue.ProvisionalSentence{
		{Start: at(10), End: at(12), Transcript: "uno", Translation: "one"},
		{Start: at(52), End: at(54), Transcript: "dos tres cuatro", Translation: "two three four"},
	}
	secondBatch := []queue.ProvisionalSentence{
		{Start: at(52.2), End: at(54), Transcript: "dos tres cuatro", Translation: "two three four"},
		{Start: at(61), End: at(63), Transcript: "cinco", Translation: "five"},
	}

	run := func() []queue.Sentence {
		merger := NewMerger(testPolicy(), 0)
		return foldAll(merger, first, second, firstBatch, secondBatch)
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("folds diverged:\n%+v\n%+v", a, b)
	}
}

func TestSeedResumesComparisons(t *testing.T) {
	_, second := testWindows()

	// Simulate a resume: window 0's accepted sentences are already in the
	// store, window 1 has not been folded yet.
	merger := NewMerger(testPolicy(), 2)
	merger.Seed([]queue.Sentence{
		{Seq: 0, Start: at(10), End: at(12), Transcript: "buenos dias", WindowIndex: 0},
		{Seq: 1, Start: at(52), End: at(54), Transcript: "hello there my friend", WindowIndex: 0},
	}, 0)

	accepted := merger.Fold(second, nil, []queue.ProvisionalSentence{
		{Start: at(52.3), End: at(54), Transcript: "hello there my friend", Translation: "hola"},
		{Start: at(70), End: at(72), Transcript: "hasta luego", Translation: "bye"},
	})

	if len(accepted) != 1 {
		t.Fatalf("resume fold accepted %d sentences, want 1", len(accepted))
	}
	if accepted[0].Seq != 2 {
		t.Fatalf("resume fold seq = %d, want 2", accepted[0].Seq)
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	first, second := testWindows()
	merger := NewMerger(testPolicy(), 0)

	all := foldAll(merger, first, second,
		[]queue.ProvisionalSentence{
			{Start: at(1), End: at(2), Transcript: "a b c", Translation: "x"},
			{Start: at(3), End: at(4), Transcript: "d e f", Translation: "y"},
		},
		[]queue.ProvisionalSentence{
			{Start: at(61), End: at(62), Transcript: "g h i", Translation: "z"},
		})

	checkTimeline(t, all)
	if merger.NextSeq() != len(all) {
		t.Fatalf("next seq = %d, want %d", merger.NextSeq(), len(all))
	}
}

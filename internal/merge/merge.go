package merge

import (
	"sort"
	"time"

	"lingest/internal/plan"
	"lingest/internal/queue"
	"lingest/internal/textsim"
)

// Policy holds the tunable thresholds for overlap deduplication.
type Policy struct {
	// DedupThreshold is the similarity at or above which an overlap sentence
	// is treated as a duplicate of its predecessor-window copy.
	DedupThreshold float64
	// FlagThreshold is the lower bound of the near-miss band. A best match in
	// [FlagThreshold, DedupThreshold) keeps the sentence but flags it for
	// review.
	FlagThreshold float64
	// StartDelta is the maximum start-time difference for two sentences to be
	// considered copies of the same utterance.
	StartDelta time.Duration
}

// entry is one accepted sentence kept around for comparison against the next
// window's overlap region.
type entry struct {
	start       time.Duration
	transcript  string
	fingerprint uint64
}

// Merger folds per-window sentences into a single ordered timeline. Windows
// must be folded strictly in index order; duplicates in the overlap region
// are dropped in favour of the earlier window's copy. The fold is
// deterministic: the same windows and sentences always produce the same
// timeline.
//
// Each fold returns a finalized slice of the timeline with sequence numbers
// strictly increasing in start time and no two sentences overlapping. To keep
// those guarantees across window boundaries, sentences reaching into the next
// window's overlap region are held back and finalized together with that
// window's fold, once the dedup outcome for the shared region is known.
type Merger struct {
	policy  Policy
	nextSeq int
	// prev holds the sentences accepted from the previous fold, sorted by
	// start time. Only these can collide with the next window's overlap.
	prev []entry
	// pending is the tail of the previous fold held for the next one.
	pending []queue.Sentence
	// Frontier of the last finalized sentence.
	lastStart time.Duration
	lastEnd   time.Duration
	finalized bool
}

// NewMerger builds a merger starting sequence numbering at nextSeq.
func NewMerger(policy Policy, nextSeq int) *Merger {
	return &Merger{policy: policy, nextSeq: nextSeq}
}

// Seed primes the merger from already persisted sentences, used when resuming
// an interrupted run. The comparison set is rebuilt from the most recently
// folded window's live sentences; the frontier from all of them.
func (m *Merger) Seed(sentences []queue.Sentence, lastWindow int) {
	m.prev = m.prev[:0]
	m.pending = nil
	for _, sentence := range sentences {
		if sentence.Deleted {
			continue
		}
		if !m.finalized || sentence.Start > m.lastStart {
			m.lastStart = sentence.Start
		}
		if !m.finalized || sentence.End > m.lastEnd {
			m.lastEnd = sentence.End
		}
		m.finalized = true
		if sentence.WindowIndex != lastWindow {
			continue
		}
		m.prev = append(m.prev, entry{
			start:       sentence.Start,
			transcript:  sentence.Transcript,
			fingerprint: textsim.Fingerprint(sentence.Transcript),
		})
	}
	sort.Slice(m.prev, func(i, j int) bool { return m.prev[i].start < m.prev[j].start })
}

// SetNextSeq overrides the sequence counter, used together with Seed on
// resume.
func (m *Merger) SetNextSeq(next int) {
	m.nextSeq = next
}

// Fold merges one window's provisional sentences into the timeline and
// returns the finalized rows ready for persistence, ordered by start time
// with overlaps resolved. Provisional times must already be absolute. A
// sentence is a dedup candidate only when its time range falls entirely
// within the window's overlap region; everything else is kept
// unconditionally. Kept sentences reaching into next's overlap region are
// withheld from the return value and finalized by the following fold; pass
// next as nil for the last window.
func (m *Merger) Fold(window plan.Window, next *plan.Window, provisional []queue.ProvisionalSentence) []queue.Sentence {
	sorted := make([]queue.ProvisionalSentence, len(provisional))
	copy(sorted, provisional)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	kept := make([]queue.Sentence, 0, len(m.pending)+len(sorted))
	kept = append(kept, m.pending...)
	for _, candidate := range sorted {
		inOverlap := window.Overlap > 0 &&
			candidate.Start >= window.OverlapStart() &&
			candidate.End <= window.OverlapEnd()

		flagged := candidate.QualityWarning
		if inOverlap {
			best := m.bestOverlapMatch(candidate)
			if best >= m.policy.DedupThreshold {
				// Duplicate of the earlier window's copy; the earlier copy
				// always wins.
				continue
			}
			if best >= m.policy.FlagThreshold {
				flagged = true
			}
		}
		kept = append(kept, queue.Sentence{
			Start:       candidate.Start,
			End:         candidate.End,
			Transcript:  candidate.Transcript,
			Translation: candidate.Translation,
			Issue:       flagged,
			WindowIndex: window.Index,
		})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	m.prev = m.prev[:0]
	for _, sentence := range kept {
		m.prev = append(m.prev, entry{
			start:       sentence.Start,
			transcript:  sentence.Transcript,
			fingerprint: textsim.Fingerprint(sentence.Transcript),
		})
	}

	final := kept
	m.pending = nil
	if next != nil {
		holdStart := next.OverlapStart()
		split := len(kept)
		for i, sentence := range kept {
			if sentence.End > holdStart {
				split = i
				break
			}
		}
		final = kept[:split]
		m.pending = append([]queue.Sentence(nil), kept[split:]...)
	}

	m.finalize(final)
	return final
}

// finalize assigns sequence numbers and resolves transient conflicts left by
// the overlap regions: equal or regressing start times are nudged past the
// frontier by a millisecond, and a sentence's end is clamped to its
// successor's start.
func (m *Merger) finalize(final []queue.Sentence) {
	for i := range final {
		if (m.finalized || i > 0) && final[i].Start <= m.lastStart {
			final[i].Start = m.lastStart + time.Millisecond
		}
		if final[i].End <= final[i].Start {
			final[i].End = final[i].Start + time.Millisecond
		}
		m.lastStart = final[i].Start
		m.finalized = true
	}
	for i := range final {
		limit := final[i].End
		switch {
		case i+1 < len(final):
			limit = final[i+1].Start
		case len(m.pending) > 0:
			limit = m.pending[0].Start
		}
		if final[i].End > limit {
			final[i].End = limit
		}
		if final[i].End <= final[i].Start {
			final[i].End = final[i].Start + time.Millisecond
		}
		final[i].Seq = m.nextSeq
		m.nextSeq++
	}
	if len(final) > 0 {
		m.lastEnd = final[len(final)-1].End
	}
}

// bestOverlapMatch returns the highest similarity between the candidate and
// any previously accepted sentence starting within the allowed delta.
func (m *Merger) bestOverlapMatch(candidate queue.ProvisionalSentence) float64 {
	fingerprint := textsim.Fingerprint(candidate.Transcript)
	best := 0.0
	for _, prev := range m.prev {
		delta := candidate.Start - prev.start
		if delta < 0 {
			delta = -delta
		}
		if delta > m.policy.StartDelta {
			continue
		}
		score := textsim.ScoreFiltered(candidate.Transcript, fingerprint, prev.transcript, prev.fingerprint)
		if score > best {
			best = score
		}
	}
	return best
}

// NextSeq reports the sequence number the next accepted sentence will get.
func (m *Merger) NextSeq() int {
	return m.nextSeq
}

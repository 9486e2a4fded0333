package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a media item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusReviewed    Status = "reviewed"
	StatusExported    Status = "exported"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusTranscribed,
	StatusReviewed,
	StatusExported,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions is the full transition graph. processing -> pending is the
// lease-reclaim path; reviewed -> transcribed is the explicit reopen cycle.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusProcessing},
	StatusProcessing:  {StatusTranscribed, StatusPending},
	StatusTranscribed: {StatusReviewed},
	StatusReviewed:    {StatusExported, StatusTranscribed},
	StatusExported:    {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Item represents a media item persisted in SQLite.
type Item struct {
	ID              int64
	Title           string
	AudioURI        string
	Duration        time.Duration
	Status          Status
	NeedsRepair     bool
	FailureKind     string
	FailureMessage  string
	FailureTerminal bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// IsProcessing returns true when the item is claimed by a worker.
func (i Item) IsProcessing() bool {
	return i.Status == StatusProcessing
}

// HasFailure reports whether a failure cause is recorded for the item.
func (i Item) HasFailure() bool {
	return i.FailureMessage != ""
}

// Exportable reports whether downstream export may consume the item.
func (i Item) Exportable() bool {
	return (i.Status == StatusReviewed || i.Status == StatusExported) && !i.NeedsRepair
}

// ProvisionalSentence is one sentence as returned for a single window, with
// times already converted to absolute media time. It is owned by the window
// processor call that produced it until the merger consumes it.
type ProvisionalSentence struct {
	Index          int
	Start          time.Duration
	End            time.Duration
	Transcript     string
	Translation    string
	QualityWarning bool
}

// Sentence is the durable unit of the corpus. Seq is monotonic within a media
// item and stable once emitted to review; deletes leave a tombstone instead of
// renumbering. WindowIndex records which window produced the surviving copy.
type Sentence struct {
	ItemID      int64
	Seq         int
	Start       time.Duration
	End         time.Duration
	Transcript  string
	Translation string
	Issue       bool
	Reviewed    bool
	Deleted     bool
	WindowIndex int
}

// SentencePatch is a typed correction applied against the canonical sentence
// record. Nil fields are left untouched.
type SentencePatch struct {
	Transcript  *string
	Translation *string
	Start       *time.Duration
	End         *time.Duration
}

// IsZero reports whether the patch changes nothing.
func (p SentencePatch) IsZero() bool {
	return p.Transcript == nil && p.Translation == nil && p.Start == nil && p.End == nil
}

// ReviewChunk is a contiguous slice of sentence sequence numbers assigned to
// one human-review unit. Complete is derived from the underlying sentence
// rows on every read; it is never stored.
type ReviewChunk struct {
	ItemID   int64
	Index    int
	StartSeq int
	EndSeq   int // exclusive
	Complete bool
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total       int
	Pending     int
	Processing  int
	Transcribed int
	Reviewed    int
	Exported    int
	NeedsRepair int
	Failed      int
}

package api

import (
	"time"

	"lingest/internal/queue"
	"lingest/internal/workflow"
)

// Item describes a media item in a transport-friendly format. Durations and
// sentence times travel as milliseconds.
type Item struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	AudioURI        string `json:"audioUri"`
	DurationMS      int64  `json:"durationMs"`
	Status          string `json:"status"`
	NeedsRepair     bool   `json:"needsRepair"`
	FailureKind     string `json:"failureKind,omitempty"`
	FailureMessage  string `json:"failureMessage,omitempty"`
	FailureTerminal bool   `json:"failureTerminal,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// Sentence is one corpus sentence row.
type Sentence struct {
	Seq         int    `json:"seq"`
	StartMS     int64  `json:"startMs"`
	EndMS       int64  `json:"endMs"`
	Transcript  string `json:"transcript"`
	Translation string `json:"translation"`
	Issue       bool   `json:"issue"`
	Reviewed    bool   `json:"reviewed"`
	WindowIndex int    `json:"windowIndex"`
}

// Chunk is one review unit with derived completion.
type Chunk struct {
	Index    int  `json:"index"`
	StartSeq int  `json:"startSeq"`
	EndSeq   int  `json:"endSeq"`
	Complete bool `json:"complete"`
}

// StageHealth mirrors readiness reporting for the transcribe stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Status is the daemon status payload.
type Status struct {
	Running      bool           `json:"running"`
	QueueStats   map[string]int `json:"queueStats"`
	NeedsRepair  int            `json:"needsRepair"`
	Failed       int            `json:"failed"`
	Stuck        int            `json:"stuck"`
	Stage        StageHealth    `json:"stage"`
	QueueDBPath  string         `json:"queueDbPath,omitempty"`
	LockFilePath string         `json:"lockFilePath,omitempty"`
}

// ItemListResponse wraps the item list payload.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// SentenceListResponse wraps an item's sentence rows.
type SentenceListResponse struct {
	Sentences []Sentence `json:"sentences"`
}

// ChunkListResponse wraps an item's review chunks.
type ChunkListResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// SentencePatchRequest is a partial correction; nil fields stay untouched.
type SentencePatchRequest struct {
	Transcript  *string `json:"transcript"`
	Translation *string `json:"translation"`
	StartMS     *int64  `json:"startMs"`
	EndMS       *int64  `json:"endMs"`
}

// ReviewedRequest toggles a sentence's review mark. A missing body defaults
// to marking reviewed.
type ReviewedRequest struct {
	Reviewed *bool `json:"reviewed"`
}

// RepairRequest selects sentences for targeted repair; empty means every
// flagged sentence.
type RepairRequest struct {
	Indices []int `json:"indices"`
}

// RepairResponse reports a repair pass outcome.
type RepairResponse struct {
	Attempted int            `json:"attempted"`
	Repaired  int            `json:"repaired"`
	Failures  map[int]string `json:"failures,omitempty"`
}

// ClearResponse reports how many items a clear removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// AddItemRequest creates a new media item.
type AddItemRequest struct {
	Title           string `json:"title"`
	AudioURI        string `json:"audioUri"`
	DurationSeconds int64  `json:"durationSeconds"`
}

// FromItem converts a queue item for transport.
func FromItem(item *queue.Item) Item {
	out := Item{
		ID:              item.ID,
		Title:           item.Title,
		AudioURI:        item.AudioURI,
		DurationMS:      item.Duration.Milliseconds(),
		Status:          string(item.Status),
		NeedsRepair:     item.NeedsRepair,
		FailureKind:     item.FailureKind,
		FailureMessage:  item.FailureMessage,
		FailureTerminal: item.FailureTerminal,
	}
	if !item.CreatedAt.IsZero() {
		out.CreatedAt = item.CreatedAt.Format(time.RFC3339)
	}
	if !item.UpdatedAt.IsZero() {
		out.UpdatedAt = item.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

// FromItems converts a queue item slice.
func FromItems(items []*queue.Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, FromItem(item))
	}
	return out
}

// FromSentence converts a sentence row for transport.
func FromSentence(sentence queue.Sentence) Sentence {
	return Sentence{
		Seq:         sentence.Seq,
		StartMS:     sentence.Start.Milliseconds(),
		EndMS:       sentence.End.Milliseconds(),
		Transcript:  sentence.Transcript,
		Translation: sentence.Translation,
		Issue:       sentence.Issue,
		Reviewed:    sentence.Reviewed,
		WindowIndex: sentence.WindowIndex,
	}
}

// FromSentences converts a sentence slice.
func FromSentences(sentences []queue.Sentence) []Sentence {
	out := make([]Sentence, 0, len(sentences))
	for _, sentence := range sentences {
		out = append(out, FromSentence(sentence))
	}
	return out
}

// FromChunks converts review chunks.
func FromChunks(chunks []queue.ReviewChunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, Chunk{
			Index:    chunk.Index,
			StartSeq: chunk.StartSeq,
			EndSeq:   chunk.EndSeq,
			Complete: chunk.Complete,
		})
	}
	return out
}

// FromHealth converts the workflow health snapshot.
func FromHealth(health workflow.Health) Status {
	return Status{
		Running: health.Running,
		QueueStats: map[string]int{
			string(queue.StatusPending):     health.Queue.Pending,
			string(queue.StatusProcessing):  health.Queue.Processing,
			string(queue.StatusTranscribed): health.Queue.Transcribed,
			string(queue.StatusReviewed):    health.Queue.Reviewed,
			string(queue.StatusExported):    health.Queue.Exported,
		},
		NeedsRepair: health.Queue.NeedsRepair,
		Failed:      health.Queue.Failed,
		Stuck:       health.Stuck,
		Stage: StageHealth{
			Name:   health.Stage.Name,
			Ready:  health.Stage.Ready,
			Detail: health.Stage.Detail,
		},
	}
}

// Patch converts the transport patch into the store form.
func (r SentencePatchRequest) Patch() queue.SentencePatch {
	patch := queue.SentencePatch{
		Transcript:  r.Transcript,
		Translation: r.Translation,
	}
	if r.StartMS != nil {
		start := time.Duration(*r.StartMS) * time.Millisecond
		patch.Start = &start
	}
	if r.EndMS != nil {
		end := time.Duration(*r.EndMS) * time.Millisecond
		patch.End = &end
	}
	return patch
}

package plan

import (
	"fmt"
	"time"
)

// Window is a bounded time slice [Start, End) of a media item's audio that is
// submitted as one unit to the speech service. Overlap is the length of the
// region shared with the predecessor window; it is zero for the first window.
//
// Windows are ephemeral planning artifacts. They are recomputed on resume and
// never persisted beyond per-window completion markers.
type Window struct {
	Index   int
	Start   time.Duration
	End     time.Duration
	Overlap time.Duration
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// OverlapStart returns the absolute start of the region shared with the
// predecessor window. For the first window it equals Start.
func (w Window) OverlapStart() time.Duration {
	return w.Start
}

// OverlapEnd returns the absolute end of the region shared with the
// predecessor window.
func (w Window) OverlapEnd() time.Duration {
	return w.Start + w.Overlap
}

// Windows computes the ordered list of overlapping windows covering
// [0, total). Each window spans at most maxWindow; consecutive windows share
// overlap. When total fits inside a single window, one window covering the
// whole item is returned.
//
// The cursor advances by maxWindow-overlap per step. A trailing window whose
// new audio is shorter than the overlap would be almost entirely a repeat of
// its predecessor's tail and destabilize transcription, so the predecessor's
// end is extended to absorb it instead; the final window may therefore exceed
// maxWindow by less than overlap.
//
// The function is pure and deterministic: identical inputs always produce
// identical plans, which idempotent resume depends on.
func Windows(total, maxWindow, overlap time.Duration) ([]Window, error) {
	if total <= 0 {
		return nil, fmt.Errorf("plan: total duration must be positive, got %s", total)
	}
	if maxWindow <= 0 {
		return nil, fmt.Errorf("plan: max window duration must be positive, got %s", maxWindow)
	}
	if total <= maxWindow {
		return []Window{{Index: 0, Start: 0, End: total}}, nil
	}
	if overlap <= 0 || overlap >= maxWindow {
		return nil, fmt.Errorf("plan: overlap %s must satisfy 0 < overlap < max window %s", overlap, maxWindow)
	}

	step := maxWindow - overlap
	var windows []Window
	for cursor := time.Duration(0); cursor < total; cursor += step {
		if len(windows) > 0 && total-windows[len(windows)-1].End < overlap {
			// The remaining new audio is a sliver shorter than the overlap:
			// extend the previous window rather than emit one.
			windows[len(windows)-1].End = total
			break
		}
		end := cursor + maxWindow
		if end > total {
			end = total
		}
		ov := overlap
		if len(windows) == 0 {
			ov = 0
		}
		windows = append(windows, Window{Index: len(windows), Start: cursor, End: end, Overlap: ov})
		if end == total {
			break
		}
	}
	return windows, nil
}

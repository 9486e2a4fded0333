package plan_test

import (
	"reflect"
	"testing"
	"time"

	"lingest/internal/plan"
)

func TestWindowsSingleWhenTotalFits(t *testing.T) {
	windows, err := plan.Windows(5*time.Minute, 10*time.Minute, 20*time.Second)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected a single window, got %d", len(windows))
	}
	w := windows[0]
	if w.Start != 0 || w.End != 5*time.Minute || w.Overlap != 0 {
		t.Fatalf("unexpected window: %+v", w)
	}
}

func TestWindowsCoverWithoutGaps(t *testing.T) {
	total := 47*time.Minute + 13*time.Second
	maxWindow := 10 * time.Minute
	overlap := 20 * time.Second

	windows, err := plan.Windows(total, maxWindow, overlap)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if windows[0].Start != 0 {
		t.Fatalf("first window must start at 0, got %s", windows[0].Start)
	}
	if windows[len(windows)-1].End != total {
		t.Fatalf("last window must end at total %s, got %s", total, windows[len(windows)-1].End)
	}
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if cur.Index != i {
			t.Fatalf("window %d has index %d", i, cur.Index)
		}
		if cur.Start >= prev.End {
			t.Fatalf("gap between window %d (end %s) and window %d (start %s)", i-1, prev.End, i, cur.Start)
		}
		if cur.Overlap != overlap {
			t.Fatalf("window %d overlap = %s, want %s", i, cur.Overlap, overlap)
		}
		if prev.End-cur.Start != overlap {
			t.Fatalf("windows %d/%d share %s, want %s", i-1, i, prev.End-cur.Start, overlap)
		}
	}
}

func TestWindowsAbsorbTrailingSliver(t *testing.T) {
	// step = 8s; the naive plan ends with [16s, 18.5s), only 500ms of which is
	// new audio. That sliver must be absorbed into the previous window.
	total := 18500 * time.Millisecond
	windows, err := plan.Windows(total, 10*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d: %+v", len(windows), windows)
	}
	last := windows[len(windows)-1]
	if last.End != total {
		t.Fatalf("last window end = %s, want %s", last.End, total)
	}
	// The absorbing window grew past maxWindow by less than the overlap.
	if last.Duration() != 10500*time.Millisecond {
		t.Fatalf("last window duration = %s, want 10.5s", last.Duration())
	}
	if windows[0].End-last.Start != 2*time.Second {
		t.Fatalf("windows share %s, want the 2s overlap", windows[0].End-last.Start)
	}
}

func TestWindowsDeterministic(t *testing.T) {
	first, err := plan.Windows(93*time.Minute, 10*time.Minute, 20*time.Second)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	second, err := plan.Windows(93*time.Minute, 10*time.Minute, 20*time.Second)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs produced different plans")
	}
}

func TestWindowsRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name    string
		total   time.Duration
		max     time.Duration
		overlap time.Duration
	}{
		{"zero total", 0, time.Minute, time.Second},
		{"zero max", time.Minute, 0, time.Second},
		{"zero overlap", 10 * time.Minute, time.Minute, 0},
		{"overlap equals max", 10 * time.Minute, time.Minute, time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := plan.Windows(tc.total, tc.max, tc.overlap); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

package utils

import (
	"testing"
	"time"
)

func TestSplitWindows(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(20 * 24 * time.Hour)

	windows := SplitWindows(from, to, 7*24*time.Hour)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}

	if !windows[0].From.Equal(from) {
		t.Fatalf("first window must start at from, got %v", windows[0].From)
	}
	if !windows[2].To.Equal(to) {
		t.Fatalf("last window must end at to, got %v", windows[2].To)
	}

	for i := 1; i < len(windows); i++ {
		if !windows[i].From.Equal(windows[i-1].To) {
			t.Fatalf("windows %d and %d are not contiguous", i-1, i)
		}
	}

	if got := SplitWindows(to, from, time.Hour); got != nil {
		t.Fatalf("expected nil for inverted range, got %v", got)
	}
	if got := SplitWindows(from, to, 0); got != nil {
		t.Fatalf("expected nil for non-positive chunk, got %v", got)
	}
}

func TestMsRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	if got := MsToTime(TimeToMs(ts)); !got.Equal(ts) {
		t.Fatalf("round trip mismatch: %v != %v", got, ts)
	}
}

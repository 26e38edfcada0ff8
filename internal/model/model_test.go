package model

import (
	"sort"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestNewFrameID_Format(t *testing.T) {
	ts := time.Date(2026, 8, 1, 15, 30, 45, 123456000, time.UTC)
	id := NewFrameID(ts)
	if len(id) != 22 {
		t.Fatalf("frame_id length = %d, want 22: %q", len(id), id)
	}
	if id[8] != '_' || id[15] != '_' {
		t.Fatalf("frame_id underscores misplaced: %q", id)
	}
	want := "20260801_153045_123456"
	if id != want {
		t.Fatalf("frame_id = %q, want %q", id, want)
	}
}

func TestParseFrameIDTimestamp_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 1, 15, 30, 45, 123456000, time.UTC)
	id := NewFrameID(ts)
	got, err := ParseFrameIDTimestamp(id)
	if err != nil {
		t.Fatalf("ParseFrameIDTimestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, ts)
	}
}

// TestFrameIDLexOrderingEqualsTimeOrdering checks the universal invariant:
// frame_id lexicographic ordering equals timestamp ordering.
func TestFrameIDLexOrderingEqualsTimeOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 20).Draw(rt, "n")
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		times := make([]time.Time, n)
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			deltaMicros := rapid.Int64Range(0, 1_000_000_000).Draw(rt, "delta")
			times[i] = base.Add(time.Duration(deltaMicros) * time.Microsecond)
			ids[i] = NewFrameID(times[i])
		}

		byTime := append([]int(nil), indices(n)...)
		sort.SliceStable(byTime, func(a, b int) bool { return times[byTime[a]].Before(times[byTime[b]]) })

		byID := append([]int(nil), indices(n)...)
		sort.SliceStable(byID, func(a, b int) bool { return ids[byID[a]] < ids[byID[b]] })

		for i := range byTime {
			ta, tb := times[byTime[i]], times[byID[i]]
			if !ta.Equal(tb) {
				rt.Fatalf("ordering mismatch at %d: time-order gives %v, id-order gives %v", i, ta, tb)
			}
		}
	})
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestWindowKey_String(t *testing.T) {
	w := WindowFrame{AppName: "firefox", WindowTitle: "tab1", ProcessID: 12345}
	k := w.Key()
	if k.String() != "firefox::tab1::12345" {
		t.Fatalf("Key().String() = %q", k.String())
	}
}

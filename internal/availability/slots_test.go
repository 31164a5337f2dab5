package availability

import (
	"testing"
	"time"
)

func TestOverlaps_HalfOpen(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	a := Interval{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)}
	b := Interval{Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(11 * time.Hour)}

	if a.Overlaps(b) {
		t.Fatal("back-to-back intervals must not overlap")
	}
	c := Interval{Start: day.Add(10*time.Hour + 15*time.Minute), End: day.Add(10*time.Hour + 45*time.Minute)}
	if !a.Overlaps(c) {
		t.Fatal("expected overlap")
	}
}

func TestMerge_Coalesces(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	merged := Merge([]Interval{
		{Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
		{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		{Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10*time.Hour + 30*time.Minute)},
		// touching intervals coalesce too
		{Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(10*time.Hour + 45*time.Minute)},
		// inverted interval is dropped
		{Start: day.Add(14 * time.Hour), End: day.Add(13 * time.Hour)},
	})

	if len(merged) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d", len(merged))
	}
	if !merged[0].Start.Equal(day.Add(9*time.Hour)) || !merged[0].End.Equal(day.Add(10*time.Hour+45*time.Minute)) {
		t.Fatalf("unexpected first interval: %v", merged[0])
	}
	if !merged[1].Start.Equal(day.Add(11*time.Hour)) || !merged[1].End.Equal(day.Add(12*time.Hour)) {
		t.Fatalf("unexpected second interval: %v", merged[1])
	}
}

func TestSlots_FullDay(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(17 * time.Hour)

	slots := Slots(windowStart, windowEnd, 30*time.Minute, 15*time.Minute, nil, day)
	// Starts every 15 min from 09:00; last start that fits a 30-min visit is 16:30.
	if len(slots) != 31 {
		t.Fatalf("expected 31 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	last := slots[len(slots)-1]
	if !last.Start.Equal(day.Add(16*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected last slot 16:30, got %s", last.Start.Format(time.RFC3339))
	}
}

func TestSlots_SkipsBusyAndAllowsAdjacent(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(11 * time.Hour)
	busy := []Interval{
		{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)},
	}

	slots := Slots(windowStart, windowEnd, 30*time.Minute, 30*time.Minute, busy, day)
	want := []time.Time{
		day.Add(9 * time.Hour),
		day.Add(9*time.Hour + 30*time.Minute),
		day.Add(10*time.Hour + 30*time.Minute),
	}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) {
			t.Fatalf("slot %d: expected %s, got %s", i, w.Format(time.RFC3339), slots[i].Start.Format(time.RFC3339))
		}
	}
}

func TestSlots_SkipsPast(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := Slots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past; 09:45 remains.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Start.Format(time.RFC3339))
	}
}

func TestSlots_DurationLongerThanWindow(t *testing.T) {
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	slots := Slots(day.Add(9*time.Hour), day.Add(10*time.Hour), 2*time.Hour, 15*time.Minute, nil, day)
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

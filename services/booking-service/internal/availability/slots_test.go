package availability

import (
	"testing"
	"time"

	"github.com/bookwiselabs/bookwise/services/booking-service/internal/overlap"
)

func TestSlots_Basic(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	busy := []overlap.Booking{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := Slots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, 0, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestSlots_BufferShrinksAvailability(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	busy := []overlap.Booking{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	// With a 10 minute buffer every candidate pads into the 09:15-09:45
	// block: 09:00 pads to 09:25 and 09:45 pads back to 09:35.
	slots := Slots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, 10*time.Minute, busy, day)
	if len(slots) != 0 {
		t.Fatalf("expected no slots with buffer, got %d", len(slots))
	}
}

func TestSlots_SkipsPast(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := Slots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, 0, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestSlots_DegenerateWindows(t *testing.T) {
	day := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	if got := Slots(day, day, 15*time.Minute, 15*time.Minute, 0, nil, day); got != nil {
		t.Fatalf("empty window must yield no slots, got %v", got)
	}
	if got := Slots(day, day.Add(10*time.Minute), 15*time.Minute, 15*time.Minute, 0, nil, day); got != nil {
		t.Fatalf("window shorter than duration must yield no slots, got %v", got)
	}
}

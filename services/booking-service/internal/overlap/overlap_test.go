package overlap

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 12, h, m, 0, 0, time.UTC)
}

func TestOverlaps_Symmetry(t *testing.T) {
	a := Interval{Start: at(10, 0), End: at(11, 0)}
	b := Interval{Start: at(10, 30), End: at(11, 30)}
	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Fatal("overlap must be symmetric")
	}
	c := Interval{Start: at(12, 0), End: at(13, 0)}
	if a.Overlaps(c) || c.Overlaps(a) {
		t.Fatal("disjoint intervals must not overlap either way")
	}
}

func TestOverlaps_TouchingEndpointsAreFree(t *testing.T) {
	a := Interval{Start: at(9, 0), End: at(10, 0)}
	b := Interval{Start: at(10, 0), End: at(11, 0)}
	if a.Overlaps(b) {
		t.Fatal("a booking ending at 10:00 must not conflict with one starting at 10:00")
	}
}

func TestPad_BufferMakesNearMissesConflict(t *testing.T) {
	existing := []Booking{{ID: "b1", Start: at(9, 0), End: at(10, 0)}}
	candidate := Interval{Start: at(10, 10), End: at(11, 0)}

	if HasConflict(candidate, existing, Options{}) {
		t.Fatal("10 minute gap conflicts without a buffer")
	}
	if !HasConflict(candidate, existing, Options{Buffer: 15 * time.Minute}) {
		t.Fatal("10 minute gap must conflict with a 15 minute buffer")
	}
}

func TestPad_TouchingPaddedEndpointIsFree(t *testing.T) {
	existing := []Booking{{ID: "b1", Start: at(9, 0), End: at(10, 0)}}
	// Padded candidate starts exactly at the existing end.
	candidate := Interval{Start: at(10, 15), End: at(11, 0)}
	if HasConflict(candidate, existing, Options{Buffer: 15 * time.Minute}) {
		t.Fatal("padded start touching the existing end is not a conflict")
	}
}

func TestFirstConflict_ExcludeID(t *testing.T) {
	existing := []Booking{
		{ID: "self", Start: at(10, 0), End: at(11, 0)},
		{ID: "other", Start: at(10, 30), End: at(11, 30)},
	}
	candidate := Interval{Start: at(10, 0), End: at(11, 0)}

	got := FirstConflict(candidate, existing, Options{ExcludeID: "self"})
	if got == nil || got.ID != "other" {
		t.Fatalf("expected conflict with %q, got %+v", "other", got)
	}

	only := existing[:1]
	if HasConflict(candidate, only, Options{ExcludeID: "self"}) {
		t.Fatal("a booking must never conflict with itself")
	}
}

func TestFirstConflict_LocationScope(t *testing.T) {
	existing := []Booking{
		{ID: "elsewhere", LocationID: "loc-2", Start: at(10, 0), End: at(11, 0)},
	}
	candidate := Interval{Start: at(10, 0), End: at(11, 0)}

	if !HasConflict(candidate, existing, Options{}) {
		t.Fatal("worker scope compares across locations")
	}
	opts := Options{SameLocationOnly: true, LocationID: "loc-1"}
	if HasConflict(candidate, existing, opts) {
		t.Fatal("worker+location scope ignores bookings at other locations")
	}
	opts.LocationID = "loc-2"
	if !HasConflict(candidate, existing, opts) {
		t.Fatal("worker+location scope still catches same-location clashes")
	}
}

func TestOverlaps_CrossesMidnight(t *testing.T) {
	night := Interval{
		Start: time.Date(2026, 3, 12, 22, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 6, 0, 0, 0, time.UTC),
	}
	early := Interval{
		Start: time.Date(2026, 3, 13, 5, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 13, 7, 0, 0, 0, time.UTC),
	}
	if !night.Overlaps(early) {
		t.Fatal("absolute instants must catch overnight overlaps")
	}
}

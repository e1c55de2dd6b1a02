// Package overlap implements the interval arithmetic behind double-booking
// detection. All intervals are half-open [start, end) over absolute
// timezone-aware instants, so a slot that crosses midnight is just a longer
// interval and needs no special casing.
package overlap

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Pad widens the interval by buf on both ends, modeling transition time
// between bookings.
func (iv Interval) Pad(buf time.Duration) Interval {
	if buf <= 0 {
		return iv
	}
	return Interval{Start: iv.Start.Add(-buf), End: iv.End.Add(buf)}
}

// Overlaps reports whether two half-open intervals share at least one
// instant. Touching endpoints do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Booking is the slice of an appointment the detector needs.
type Booking struct {
	ID         string
	LocationID string
	Start      time.Time
	End        time.Time
}

type Options struct {
	// Buffer pads the candidate interval on both ends before comparison.
	Buffer time.Duration
	// SameLocationOnly restricts the comparison set to bookings sharing
	// LocationID (worker+location scope instead of worker scope).
	SameLocationOnly bool
	LocationID       string
	// ExcludeID removes the row being updated from its own comparison set.
	ExcludeID string
}

// FirstConflict returns the first booking that overlaps the padded
// candidate, or nil. Callers pass only active bookings for the worker under
// test; any conflict is fatal to the write, so ordering is irrelevant.
func FirstConflict(candidate Interval, existing []Booking, opts Options) *Booking {
	padded := candidate.Pad(opts.Buffer)
	for i := range existing {
		b := &existing[i]
		if opts.ExcludeID != "" && b.ID == opts.ExcludeID {
			continue
		}
		if opts.SameLocationOnly && b.LocationID != opts.LocationID {
			continue
		}
		if padded.Overlaps(Interval{Start: b.Start, End: b.End}) {
			return b
		}
	}
	return nil
}

func HasConflict(candidate Interval, existing []Booking, opts Options) bool {
	return FirstConflict(candidate, existing, opts) != nil
}

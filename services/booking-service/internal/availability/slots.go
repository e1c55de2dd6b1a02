package availability

import (
	"time"

	"github.com/bookwiselabs/bookwise/services/booking-service/internal/overlap"
)

// Slots returns slot start times within [windowStart, windowEnd) where a
// booking of length duration, padded by buffer on both ends, would not
// overlap any busy interval. Slots starting before now are skipped.
//
// All times are expected to be in the same location (timezone).
func Slots(windowStart, windowEnd time.Time, duration, step, buffer time.Duration, busy []overlap.Booking, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		candidate := overlap.Interval{Start: t, End: t.Add(duration)}
		if !overlap.HasConflict(candidate, busy, overlap.Options{Buffer: buffer}) {
			slots = append(slots, t)
		}
	}
	return slots
}

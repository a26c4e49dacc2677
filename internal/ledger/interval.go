package ledger

import "time"

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) share any instant: aStart < bEnd AND bStart < aEnd.
// Back-to-back slots (one ending exactly when the next starts) do not
// overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ValidateInterval rejects malformed slot bounds before anything touches
// the store.
func ValidateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return ErrInvalidInterval
	}
	if !start.Before(end) {
		return ErrInvalidInterval
	}
	return nil
}

// slotDate derives the indexing date for a slot from its start, in UTC.
func slotDate(start time.Time) time.Time {
	return start.UTC().Truncate(24 * time.Hour)
}

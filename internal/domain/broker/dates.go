package broker

import (
	"math"
	"time"
)

// WholeDaysBetween returns the calendar whole-day difference between two
// timestamps: both are truncated to midnight in their own location before
// comparing. This is not elapsed-seconds division; two timestamps one
// second apart across midnight are one whole day apart, and a DST shift
// never changes the count.
func WholeDaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	// Rounding absorbs the 23h/25h days that DST transitions produce.
	return int(math.Round(t.Sub(f).Hours() / 24))
}

// WithinLastDays reports whether ts falls within the trailing n calendar
// days of now, future timestamps included.
func WithinLastDays(ts, now time.Time, n int) bool {
	return WholeDaysBetween(ts, now) < n
}

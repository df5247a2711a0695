package weather

import (
	"math"
	"sort"
	"time"
)

// ClosestPastIndex returns the index of the latest timestamp that is not after
// now. times must be sorted ascending.
//
// When now precedes every timestamp, or times is empty, it returns (0, false).
// Callers are expected to treat ok=false as a fallback and must check for an
// empty slice before indexing.
func ClosestPastIndex(times []time.Time, now time.Time) (int, bool) {
	// First index strictly after now.
	after := sort.Search(len(times), func(i int) bool {
		return times[i].After(now)
	})
	if after == 0 {
		return 0, false
	}
	return after - 1, true
}

// TodayIndex returns the index of the entry in dates (YYYY-MM-DD, ascending)
// that equals today's date in today's location.
//
// If no entry matches, the result is clamped and ok is false: a today before
// the first date yields 0, a today after the last date yields the last index,
// and a today that falls into a gap yields the latest date before it.
func TodayIndex(dates []string, today time.Time) (int, bool) {
	if len(dates) == 0 {
		return 0, false
	}

	key := today.Format(DateLayout)
	for i, d := range dates {
		if d == key {
			return i, true
		}
	}

	// ISO dates order lexically.
	after := sort.SearchStrings(dates, key)
	if after == 0 {
		return 0, false
	}
	return after - 1, false
}

// Round rounds a temperature for display, half away from zero
// (20.5 -> 21, -0.5 -> -1).
func Round(v float64) int {
	return int(math.Round(v))
}

// CelsiusToFahrenheit converts a Celsius temperature to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

package benefit

import "time"

// =============================================================================
// WINDOW - The time boundary a guard or balance is computed over
// =============================================================================

// Window is a closed interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.DateOnly) + ", " + w.End.Format(time.DateOnly) + "]"
}

// TrailingMonths returns [now - months, now].
func TrailingMonths(now time.Time, months int) Window {
	return Window{Start: AddMonths(now, -months), End: now}
}

// CalendarYear returns the calendar year containing now, ending at now.
func CalendarYear(now time.Time) Window {
	return Window{
		Start: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()),
		End:   now,
	}
}

// =============================================================================
// MONTH ARITHMETIC
// =============================================================================

// AddMonths shifts t by n calendar months, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28/29, not Mar 3).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := daysIn(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// MonthsUntil returns the whole number of months, rounded up, from 'from'
// to 'to'. Zero when to is not after from.
func MonthsUntil(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	n := 0
	for AddMonths(from, n).Before(to) {
		n++
	}
	return n
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

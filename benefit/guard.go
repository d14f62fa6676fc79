package benefit

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// PERIODICITY GUARD - Cool-down between granted benefits
// =============================================================================

// Allowance is the guard's decision for one beneficiary, program and rule.
type Allowance struct {
	Allowed          bool
	Reason           string
	NextEligibleDate *time.Time
	Window           *Window
	Occurrences      int
}

// CheckPeriodAllowance decides whether a new benefit may be granted under
// rule at now, given the beneficiary's request history for the program.
//
// Only approved and paid requests dated inside [now - months, now] count,
// and each one only until its own date plus the period.
// When MaxOccurrences is reached the next eligible date is the blocking
// request's date advanced by the period.
//
// Pure: history is supplied by the caller, nothing is read or written.
func CheckPeriodAllowance(rule Rule, history []BenefitRequest, now time.Time) Allowance {
	period := rule.Period()
	if period == nil {
		return Allowance{Allowed: true, Reason: "rule has no recurrence interval"}
	}

	// Month-end clamping makes the window start approximate; a grant counts
	// until its own date plus the period, inclusive.
	window := TrailingMonths(now, period.Months)
	var granted []BenefitRequest
	for _, r := range history {
		if r.Status.Consumes() && window.Contains(r.RequestedAt) &&
			!now.After(AddMonths(r.RequestedAt, period.Months)) {
			granted = append(granted, r)
		}
	}

	max := period.Occurrences()
	if len(granted) < max {
		return Allowance{
			Allowed:     true,
			Reason:      fmt.Sprintf("%d of %d benefit(s) used in the last %d month(s)", len(granted), max, period.Months),
			Window:      &window,
			Occurrences: len(granted),
		}
	}

	// Most recent first; the max-th most recent must age out first.
	sort.SliceStable(granted, func(i, j int) bool {
		return granted[i].RequestedAt.After(granted[j].RequestedAt)
	})
	blocking := granted[max-1]
	next := AddMonths(blocking.RequestedAt, period.Months)

	return Allowance{
		Allowed:          false,
		Reason:           waitReason(blocking, now, next),
		NextEligibleDate: &next,
		Window:           &window,
		Occurrences:      len(granted),
	}
}

func waitReason(blocking BenefitRequest, now, next time.Time) string {
	wait := MonthsUntil(now, next)
	if wait == 0 {
		return fmt.Sprintf("benefit already granted on %s; a new request is allowed after %s",
			blocking.RequestedAt.Format(time.DateOnly), next.Format(time.DateOnly))
	}
	return fmt.Sprintf("benefit already granted on %s; a new request is allowed in %d month(s), on %s",
		blocking.RequestedAt.Format(time.DateOnly), wait, next.Format(time.DateOnly))
}

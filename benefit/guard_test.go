package benefit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grantedAt = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func periodRule(months, max int) Rule {
	return Rule{
		ID:        "r-period",
		Condition: Condition{Comparator: Between},
		Formula:   AreaBased{UnitValue: Dec("100")},
		Limit: &Limit{
			Kind:    LimitQuantity,
			Ceiling: Dec("10"),
			Period:  &Periodicity{Months: months, MaxOccurrences: max},
		},
	}
}

func grantedRequest(id RequestID, status Status, at time.Time) BenefitRequest {
	return BenefitRequest{ID: id, Status: status, RequestedAt: at, RequestedQuantity: DecPtr("1")}
}

func TestCheckPeriodAllowance_SixMonthCoolDown(t *testing.T) {
	// GIVEN: one approved request at T, 6-month period
	rule := periodRule(6, 0)
	history := []BenefitRequest{grantedRequest("req-1", StatusApproved, grantedAt)}

	// WHEN: T + 5 months
	a := CheckPeriodAllowance(rule, history, AddMonths(grantedAt, 5))

	// THEN: denied until T + 6 months
	assert.False(t, a.Allowed)
	require.NotNil(t, a.NextEligibleDate)
	assert.True(t, a.NextEligibleDate.Equal(time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)))
	assert.Contains(t, a.Reason, "2024-01-15")
	assert.Contains(t, a.Reason, "in 1 month(s)")
	assert.Equal(t, 1, a.Occurrences)

	// WHEN: T + 6 months + 1 day
	a = CheckPeriodAllowance(rule, history, AddMonths(grantedAt, 6).AddDate(0, 0, 1))

	// THEN
	assert.True(t, a.Allowed)
	assert.Nil(t, a.NextEligibleDate)
	assert.Equal(t, 0, a.Occurrences)
}

func TestCheckPeriodAllowance_WindowIsClosed(t *testing.T) {
	// Exactly T + 6 months: T is still the window's first instant.
	rule := periodRule(6, 0)
	history := []BenefitRequest{grantedRequest("req-1", StatusPaid, grantedAt)}

	a := CheckPeriodAllowance(rule, history, AddMonths(grantedAt, 6))

	assert.False(t, a.Allowed)
	require.NotNil(t, a.NextEligibleDate)
	assert.Contains(t, a.Reason, "allowed after 2024-07-15")
}

func TestCheckPeriodAllowance_OnlyGrantedRequestsCount(t *testing.T) {
	rule := periodRule(6, 0)
	now := AddMonths(grantedAt, 2)

	for _, status := range []Status{StatusPending, StatusUnderReview, StatusRejected, StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			history := []BenefitRequest{grantedRequest("req-1", status, grantedAt)}
			a := CheckPeriodAllowance(rule, history, now)
			assert.True(t, a.Allowed)
		})
	}
}

func TestCheckPeriodAllowance_MaxOccurrences(t *testing.T) {
	// GIVEN: up to 2 benefits per 12 months
	rule := periodRule(12, 2)
	first := grantedRequest("req-1", StatusPaid, grantedAt)
	second := grantedRequest("req-2", StatusApproved, AddMonths(grantedAt, 3))

	// WHEN: one used
	a := CheckPeriodAllowance(rule, []BenefitRequest{first}, AddMonths(grantedAt, 1))
	assert.True(t, a.Allowed)
	assert.Equal(t, 1, a.Occurrences)

	// WHEN: two used, listed newest first
	a = CheckPeriodAllowance(rule, []BenefitRequest{second, first}, AddMonths(grantedAt, 4))

	// THEN: the older one must age out
	assert.False(t, a.Allowed)
	require.NotNil(t, a.NextEligibleDate)
	assert.True(t, a.NextEligibleDate.Equal(AddMonths(grantedAt, 12)))
	assert.Equal(t, 2, a.Occurrences)
}

func TestCheckPeriodAllowance_NoPeriod(t *testing.T) {
	rule := periodRule(6, 0)
	rule.Limit.Period = nil
	history := []BenefitRequest{grantedRequest("req-1", StatusApproved, grantedAt)}

	a := CheckPeriodAllowance(rule, history, grantedAt.Add(time.Hour))

	assert.True(t, a.Allowed)
	assert.Nil(t, a.Window)
}

func TestCheckPeriodAllowance_MonthEndClamping(t *testing.T) {
	// Granted Aug 31; one month later is Sep 30, not Oct 1.
	at := time.Date(2023, 8, 31, 9, 0, 0, 0, time.UTC)
	rule := periodRule(1, 0)

	a := CheckPeriodAllowance(rule, []BenefitRequest{grantedRequest("req-1", StatusApproved, at)}, at.AddDate(0, 0, 10))

	require.NotNil(t, a.NextEligibleDate)
	assert.Equal(t, "2023-09-30", a.NextEligibleDate.Format(time.DateOnly))
}

func TestCheckPeriodAllowance_ClampedExpiryIsHonoured(t *testing.T) {
	// GIVEN: granted Aug 31; six months later clamps to Feb 29
	at := time.Date(2023, 8, 31, 9, 0, 0, 0, time.UTC)
	rule := periodRule(6, 0)
	history := []BenefitRequest{grantedRequest("req-1", StatusApproved, at)}

	// WHEN: the morning of Feb 29, before the grant's own expiry
	a := CheckPeriodAllowance(rule, history, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC))

	// THEN: still denied, eligible from 2024-02-29 09:00
	assert.False(t, a.Allowed)
	require.NotNil(t, a.NextEligibleDate)
	assert.True(t, a.NextEligibleDate.Equal(time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)))

	// WHEN: the evening of Feb 29, after the reported date
	a = CheckPeriodAllowance(rule, history, time.Date(2024, 2, 29, 20, 0, 0, 0, time.UTC))

	// THEN: allowed even though Aug 31 is inside the clamped trailing window
	assert.True(t, a.Allowed)
	assert.Equal(t, 0, a.Occurrences)
}

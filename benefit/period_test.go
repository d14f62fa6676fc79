package benefit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		n    int
		want time.Time
	}{
		{"plain", date(2024, 1, 15), 6, date(2024, 7, 15)},
		{"leap february", date(2024, 1, 31), 1, date(2024, 2, 29)},
		{"non-leap february", date(2023, 1, 31), 1, date(2023, 2, 28)},
		{"backwards clamps", date(2024, 3, 31), -1, date(2024, 2, 29)},
		{"across year", date(2024, 11, 30), 3, date(2025, 2, 28)},
		{"backwards across year", date(2024, 2, 10), -6, date(2023, 8, 10)},
		{"zero", date(2024, 5, 5), 0, date(2024, 5, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(AddMonths(tt.in, tt.n)), "got %s", AddMonths(tt.in, tt.n))
		})
	}
}

func TestAddMonths_KeepsClockTime(t *testing.T) {
	in := time.Date(2024, 1, 15, 13, 45, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 4, 15, 13, 45, 30, 0, time.UTC), AddMonths(in, 3))
}

func TestMonthsUntil(t *testing.T) {
	assert.Equal(t, 0, MonthsUntil(date(2024, 7, 15), date(2024, 7, 15)))
	assert.Equal(t, 0, MonthsUntil(date(2024, 8, 1), date(2024, 7, 15)))
	assert.Equal(t, 1, MonthsUntil(date(2024, 6, 15), date(2024, 7, 15)))
	assert.Equal(t, 2, MonthsUntil(date(2024, 6, 1), date(2024, 7, 15)))
}

func TestWindow(t *testing.T) {
	w := TrailingMonths(date(2024, 7, 15), 6)

	assert.Equal(t, date(2024, 1, 15), w.Start)
	assert.True(t, w.Contains(date(2024, 1, 15)))
	assert.True(t, w.Contains(date(2024, 7, 15)))
	assert.False(t, w.Contains(date(2024, 1, 14)))
	assert.False(t, w.Contains(date(2024, 7, 16)))
	assert.Equal(t, "[2024-01-15, 2024-07-15]", w.String())
}

func TestCalendarYear(t *testing.T) {
	now := time.Date(2024, 9, 3, 8, 0, 0, 0, time.UTC)
	w := CalendarYear(now)

	assert.Equal(t, date(2024, 1, 1), w.Start)
	assert.Equal(t, now, w.End)
	assert.False(t, w.Contains(date(2023, 12, 31)))
}

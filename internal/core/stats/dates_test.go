package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDayOfUsesLocalCalendarDay(t *testing.T) {
	taipei, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in UTC+8.
	instant := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	require.Equal(t, Day("2026-08-28"), DayOf(instant))
	require.Equal(t, Day("2026-08-29"), DayOf(instant.In(taipei)))
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2026-02-28")
	require.NoError(t, err)
	require.Equal(t, Day("2026-02-28"), day)

	_, err = ParseDay("2026-2-28")
	require.Error(t, err)

	_, err = ParseDay("yesterday")
	require.Error(t, err)
}

func TestWeekDaysCoversISOWeek(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want []Day
	}{
		{
			name: "mid-week saturday",
			now:  time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC), // Saturday
			want: []Day{
				"2026-08-24", "2026-08-25", "2026-08-26", "2026-08-27",
				"2026-08-28", "2026-08-29", "2026-08-30",
			},
		},
		{
			name: "sunday belongs to the preceding monday's week",
			now:  time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC), // Sunday
			want: []Day{
				"2026-08-24", "2026-08-25", "2026-08-26", "2026-08-27",
				"2026-08-28", "2026-08-29", "2026-08-30",
			},
		},
		{
			name: "monday starts a fresh week",
			now:  time.Date(2026, 8, 31, 0, 30, 0, 0, time.UTC), // Monday
			want: []Day{
				"2026-08-31", "2026-09-01", "2026-09-02", "2026-09-03",
				"2026-09-04", "2026-09-05", "2026-09-06",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, WeekDays(tt.now))
		})
	}
}

func TestMonthDaysStopsAtToday(t *testing.T) {
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	require.Equal(t, []Day{"2026-08-01", "2026-08-02", "2026-08-03"}, MonthDays(now))

	// First of the month yields a single day.
	first := time.Date(2026, 8, 1, 0, 0, 1, 0, time.UTC)
	require.Equal(t, []Day{"2026-08-01"}, MonthDays(first))
}

func TestLastNDaysMostRecentFirst(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.Equal(t, []Day{"2026-03-02", "2026-03-01", "2026-02-28"}, LastNDays(now, 3))
	require.Empty(t, LastNDays(now, 0))
}

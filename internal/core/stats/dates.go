package stats

import (
	"fmt"
	"time"
)

// Day is a calendar day in the deployment's local time zone, encoded
// YYYY-MM-DD. It is the date component of every counter key and every
// durable daily row.
type Day string

const dayLayout = "2006-01-02"

// DayOf returns the Day containing t, in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(dayLayout))
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(s), nil
}

// Time returns the midnight instant of the day in loc.
func (d Day) Time(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, string(d), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", d, err)
	}
	return t, nil
}

// WeekDays returns every day of the ISO week containing now
// (Monday through Sunday), in now's location.
func WeekDays(now time.Time) []Day {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	start := now.AddDate(0, 0, -(weekday - 1))
	days := make([]Day, 7)
	for i := range days {
		days[i] = DayOf(start.AddDate(0, 0, i))
	}
	return days
}

// MonthDays returns every day of the month containing now, from the
// first of the month through today. Future days carry no counts, so
// they are omitted.
func MonthDays(now time.Time) []Day {
	var days []Day
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for current.Month() == now.Month() && !current.After(now) {
		days = append(days, DayOf(current))
		current = current.AddDate(0, 0, 1)
	}
	return days
}

// LastNDays returns today and the n-1 preceding days, most recent first.
func LastNDays(now time.Time, n int) []Day {
	days := make([]Day, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, DayOf(now.AddDate(0, 0, -i)))
	}
	return days
}

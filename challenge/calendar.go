/*
calendar.go - Mapping between calendar dates and challenge days

PURPOSE:
  A challenge runs over a fixed, inclusive window of calendar dates.
  Each date inside the window is a numbered challenge day (1..N);
  every date outside the window is day 0.

EXAMPLE:
  cal := challenge.DefaultCalendar()            // 2025-12-01 .. 2025-12-05
  cal.DayOf(challenge.NewDate(2025, 12, 3))     // 3
  cal.DayOf(challenge.NewDate(2025, 11, 30))    // 0

SEE ALSO:
  - rules.go: Day-specific scoring (Power Play, streaks)
  - date.go: Date normalization
*/
package challenge

import (
	"fmt"
	"time"
)

// ChallengeDay is 0 for dates outside the challenge window, or 1..N inside.
type ChallengeDay int

// OutsideWindow is the day index for any date outside the challenge.
const OutsideWindow ChallengeDay = 0

// InWindow reports whether the day is a numbered challenge day.
func (d ChallengeDay) InWindow() bool { return d > OutsideWindow }

// Calendar holds the inclusive challenge window.
type Calendar struct {
	Start Date
	End   Date
}

// DefaultCalendar is the five-day December 2025 challenge.
func DefaultCalendar() Calendar {
	return Calendar{
		Start: NewDate(2025, time.December, 1),
		End:   NewDate(2025, time.December, 5),
	}
}

// NewCalendar validates the window boundaries.
func NewCalendar(start, end Date) (Calendar, error) {
	if start.IsZero() || end.IsZero() {
		return Calendar{}, fmt.Errorf("challenge window requires start and end dates")
	}
	if end.Before(start) {
		return Calendar{}, fmt.Errorf("challenge window ends (%s) before it starts (%s)", end, start)
	}
	return Calendar{Start: DateOf(start.Time), End: DateOf(end.Time)}, nil
}

// DayOf returns the challenge day for a date. Total and deterministic.
func (c Calendar) DayOf(d Date) ChallengeDay {
	d = DateOf(d.Time)
	if d.Before(c.Start) || d.After(c.End) {
		return OutsideWindow
	}
	return ChallengeDay(1 + DaysBetween(c.Start, d))
}

// Days is N, the number of in-window days.
func (c Calendar) Days() int {
	return DaysBetween(c.Start, c.End) + 1
}

// LastDay is the final numbered day of the challenge.
func (c Calendar) LastDay() ChallengeDay { return ChallengeDay(c.Days()) }

// DateFor is the inverse of DayOf for in-window days.
func (c Calendar) DateFor(day ChallengeDay) (Date, bool) {
	if !day.InWindow() || int(day) > c.Days() {
		return Date{}, false
	}
	return c.Start.AddDays(int(day) - 1), true
}

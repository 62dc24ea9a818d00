package challenge

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATE - Date-only UTC value (the single normalization boundary)
// =============================================================================

// DateLayout is the wire format for dates on the API surface.
const DateLayout = "2006-01-02"

// Date is a calendar date normalized to midnight UTC. All comparisons inside
// the engine operate on Date values; strings are parsed once at the edge.
type Date struct {
	Time time.Time
}

// NewDate builds a date-only value.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf normalizes an instant to its UTC calendar date.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return DateOf(t), nil
}

// ParseBatchDate accepts the formats seen in spreadsheet exports:
// YYYY-MM-DD and DD/MM/YYYY.
func ParseBatchDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		return ParseDate(s)
	}

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	d := NewDate(year, time.Month(month), day)
	// time.Date silently rolls 31/02 into March
	if d.Time.Day() != day || int(d.Time.Month()) != month {
		return Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return d, nil
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) String() string { return d.Time.Format(DateLayout) }

// DaysBetween returns the whole days from 'from' to 'to'.
func DaysBetween(from, to Date) int { return int(to.Time.Sub(from.Time).Hours() / 24) }

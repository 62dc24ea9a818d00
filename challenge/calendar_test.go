package challenge_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/step-league/challenge"
)

func dec(day int) challenge.Date {
	return challenge.NewDate(2025, time.December, day)
}

func TestCalendar_DayOf(t *testing.T) {
	cal := challenge.DefaultCalendar()

	tests := []struct {
		name string
		date challenge.Date
		want challenge.ChallengeDay
	}{
		{"first day", dec(1), 1},
		{"power play day", dec(3), 3},
		{"last day", dec(5), 5},
		{"day before start", challenge.NewDate(2025, time.November, 30), challenge.OutsideWindow},
		{"day after end", dec(6), challenge.OutsideWindow},
		{"next year", challenge.NewDate(2026, time.December, 1), challenge.OutsideWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.DayOf(tt.date))
		})
	}
}

func TestCalendar_DateFor(t *testing.T) {
	cal := challenge.DefaultCalendar()

	d, ok := cal.DateFor(4)
	require.True(t, ok)
	assert.Equal(t, dec(4), d)

	_, ok = cal.DateFor(0)
	assert.False(t, ok)
	_, ok = cal.DateFor(6)
	assert.False(t, ok)
}

func TestCalendar_Custom(t *testing.T) {
	cal, err := challenge.NewCalendar(challenge.NewDate(2026, time.March, 2), challenge.NewDate(2026, time.March, 8))
	require.NoError(t, err)
	assert.Equal(t, 7, cal.Days())
	assert.Equal(t, challenge.ChallengeDay(7), cal.LastDay())
	assert.Equal(t, challenge.ChallengeDay(1), cal.DayOf(challenge.NewDate(2026, time.March, 2)))

	_, err = challenge.NewCalendar(dec(5), dec(1))
	assert.Error(t, err, "end before start")
}

func TestParseDate(t *testing.T) {
	d, err := challenge.ParseDate("2025-12-03")
	require.NoError(t, err)
	assert.Equal(t, dec(3), d)
	assert.Equal(t, "2025-12-03", d.String())

	for _, bad := range []string{"", "12/03/2025", "2025-13-01", "yesterday"} {
		_, err := challenge.ParseDate(bad)
		assert.True(t, errors.Is(err, challenge.ErrMalformedDate), "input %q", bad)
	}
}

func TestParseBatchDate(t *testing.T) {
	d, err := challenge.ParseBatchDate("03/12/2025")
	require.NoError(t, err)
	assert.Equal(t, dec(3), d, "DD/MM/YYYY")

	d, err = challenge.ParseBatchDate(" 2025-12-04 ")
	require.NoError(t, err)
	assert.Equal(t, dec(4), d)

	for _, bad := range []string{"31/02/2025", "1/2", "aa/bb/cccc"} {
		_, err := challenge.ParseBatchDate(bad)
		assert.ErrorIs(t, err, challenge.ErrMalformedDate, "input %q", bad)
	}
}

func TestDateOf_NormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:00 on Dec 2 at UTC+5 is still Dec 1 in UTC
	instant := time.Date(2025, time.December, 2, 2, 0, 0, 0, loc)
	assert.Equal(t, dec(1), challenge.DateOf(instant))
}

package challenge

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DaySummary reports participation for one date. Averages are rounded to
// two decimal places.
type DaySummary struct {
	Date           Date
	ChallengeDay   ChallengeDay
	RosterSize     int
	Participants   int
	Completed      int
	TotalSteps     int
	AverageSteps   decimal.Decimal // over participants
	CompletionRate decimal.Decimal // percent of roster
}

// Summary computes participation stats from the stored rows for a date.
func (a *Aggregator) Summary(ctx context.Context, date Date) (DaySummary, error) {
	data, err := a.load(ctx, &date)
	if err != nil {
		return DaySummary{}, fmt.Errorf("summary for %s: %w", date, err)
	}

	s := DaySummary{
		Date:           date,
		ChallengeDay:   a.calendar.DayOf(date),
		RosterSize:     len(data.users),
		AverageSteps:   decimal.Zero,
		CompletionRate: decimal.Zero,
	}
	for _, u := range data.users {
		row, ok := data.today[u.ID]
		if !ok {
			continue
		}
		s.Participants++
		s.TotalSteps += row.Steps
		steps := row.Steps
		if a.rules.Completed(&steps) {
			s.Completed++
		}
	}

	if s.Participants > 0 {
		s.AverageSteps = decimal.NewFromInt(int64(s.TotalSteps)).
			Div(decimal.NewFromInt(int64(s.Participants))).
			Round(2)
	}
	if s.RosterSize > 0 {
		s.CompletionRate = decimal.NewFromInt(int64(s.Completed)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(s.RosterSize))).
			Round(2)
	}
	return s, nil
}

/*
rules.go - Steps to runs conversion and bonus rules

PURPOSE:
  Pure scoring functions. Stored score rows only ever carry BASE runs
  (tier mapping). Power Play doubling and streak bonuses are applied when
  a leaderboard is read, so the rule set can change without reingesting.

TIERS (upper bound inclusive, a threshold value belongs to the lower tier):
  0     - 5000   -> 0 runs
  5001  - 10000  -> 2 runs
  10001 - 15000  -> 4 runs
  15001 +        -> 6 runs

DAY RULES:
  Power Play:     base runs x2 on day 3
  3-day streak:   +10 once, on the last day of the FIRST completed 3-day window
  Full streak:    +20 on the final day when every challenge day is completed
  A day is completed when steps >= 10000.

SEE ALSO:
  - leaderboard.go: Applies these rules at read time
  - ingest.go: Stores base runs
*/
package challenge

import (
	"fmt"
)

// Tier maps an inclusive upper step bound to a run count. The last tier
// has UpTo == 0 and catches everything above the previous bound.
type Tier struct {
	UpTo int `yaml:"up_to"`
	Runs int `yaml:"runs"`
}

// Rules is the complete scoring rule set.
type Rules struct {
	Tiers               []Tier
	CompletionThreshold int
	PowerPlayDay        ChallengeDay
	PowerPlayMultiplier int
	ThreeDayBonus       int
	FullStreakBonus     int
}

// StreakWindow is the length of the short streak.
const StreakWindow = 3

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		Tiers: []Tier{
			{UpTo: 5000, Runs: 0},
			{UpTo: 10000, Runs: 2},
			{UpTo: 15000, Runs: 4},
			{UpTo: 0, Runs: 6},
		},
		CompletionThreshold: 10000,
		PowerPlayDay:        3,
		PowerPlayMultiplier: 2,
		ThreeDayBonus:       10,
		FullStreakBonus:     20,
	}
}

// Validate checks the tier table partitions [0, inf) in increasing order.
func (r Rules) Validate() error {
	if len(r.Tiers) == 0 {
		return fmt.Errorf("scoring rules need at least one tier")
	}
	prev := -1
	for i, t := range r.Tiers {
		last := i == len(r.Tiers)-1
		if last {
			if t.UpTo != 0 {
				return fmt.Errorf("last tier must be open-ended (up_to: 0), got %d", t.UpTo)
			}
			break
		}
		if t.UpTo <= prev {
			return fmt.Errorf("tier %d bound %d is not above previous bound %d", i, t.UpTo, prev)
		}
		prev = t.UpTo
	}
	if r.CompletionThreshold < 0 {
		return fmt.Errorf("completion threshold must be non-negative")
	}
	if r.PowerPlayMultiplier < 1 {
		return fmt.Errorf("power play multiplier must be at least 1")
	}
	return nil
}

// BaseRuns maps a step count to its tier's runs.
func (r Rules) BaseRuns(steps int) int {
	for i, t := range r.Tiers {
		if i == len(r.Tiers)-1 || steps <= t.UpTo {
			return t.Runs
		}
	}
	return 0
}

// DayMultiplier applies the Power Play multiplier on its day only.
func (r Rules) DayMultiplier(day ChallengeDay, baseRuns int) int {
	if day.InWindow() && day == r.PowerPlayDay {
		return baseRuns * r.PowerPlayMultiplier
	}
	return baseRuns
}

// Completed reports whether a day's steps reach the completion threshold.
// A nil step count (no data) is never completed.
func (r Rules) Completed(steps *int) bool {
	return steps != nil && *steps >= r.CompletionThreshold
}

// Bonus holds the streak bonuses earned on a single day.
type Bonus struct {
	ThreeDay   int
	FullStreak int
}

// Total is the sum of both bonuses.
func (b Bonus) Total() int { return b.ThreeDay + b.FullStreak }

// StreakBonus computes the bonuses earned on currentDay given the full
// completion history; completed[0] is day 1.
//
// The three-day bonus lands only on the last day of the first completed
// window. Later windows never award it again.
func (r Rules) StreakBonus(completed []bool, currentDay ChallengeDay) Bonus {
	var b Bonus
	if !currentDay.InWindow() {
		return b
	}

	if award, ok := firstStreakDay(completed); ok && award == currentDay {
		b.ThreeDay = r.ThreeDayBonus
	}

	n := len(completed)
	if n > 0 && int(currentDay) == n && allTrue(completed) {
		b.FullStreak = r.FullStreakBonus
	}
	return b
}

// FinalRuns applies the day multiplier then adds bonuses. Nil base runs (no
// data for the day) stay nil.
func (r Rules) FinalRuns(baseRuns *int, day ChallengeDay, bonus Bonus) *int {
	if baseRuns == nil {
		return nil
	}
	v := r.DayMultiplier(day, *baseRuns) + bonus.Total()
	return &v
}

func firstStreakDay(completed []bool) (ChallengeDay, bool) {
	for end := StreakWindow - 1; end < len(completed); end++ {
		if allTrue(completed[end-StreakWindow+1 : end+1]) {
			return ChallengeDay(end + 1), true
		}
	}
	return 0, false
}

func allTrue(xs []bool) bool {
	for _, x := range xs {
		if !x {
			return false
		}
	}
	return true
}

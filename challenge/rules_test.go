package challenge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/step-league/challenge"
)

func intp(v int) *int { return &v }

// =============================================================================
// TIER TABLE
// =============================================================================

func TestRules_BaseRuns_TierBoundaries(t *testing.T) {
	rules := challenge.DefaultRules()

	tests := []struct {
		steps int
		want  int
	}{
		{0, 0},
		{4999, 0},
		{5000, 0},
		{5001, 2},
		{9999, 2},
		{10000, 2},
		{10001, 4},
		{15000, 4},
		{15001, 6},
		{100000, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.BaseRuns(tt.steps), "steps=%d", tt.steps)
	}
}

func TestRules_Validate(t *testing.T) {
	require.NoError(t, challenge.DefaultRules().Validate())

	r := challenge.DefaultRules()
	r.Tiers = []challenge.Tier{{UpTo: 5000, Runs: 0}, {UpTo: 4000, Runs: 1}, {UpTo: 0, Runs: 2}}
	assert.Error(t, r.Validate(), "bounds must increase")

	r = challenge.DefaultRules()
	r.Tiers = []challenge.Tier{{UpTo: 5000, Runs: 0}}
	assert.Error(t, r.Validate(), "last tier must be open-ended")

	r = challenge.DefaultRules()
	r.PowerPlayMultiplier = 0
	assert.Error(t, r.Validate())

	r = challenge.DefaultRules()
	r.Tiers = nil
	assert.Error(t, r.Validate())
}

func TestRules_Completed(t *testing.T) {
	rules := challenge.DefaultRules()
	assert.False(t, rules.Completed(nil))
	assert.False(t, rules.Completed(intp(9999)))
	assert.True(t, rules.Completed(intp(10000)))
	assert.True(t, rules.Completed(intp(20000)))
}

// =============================================================================
// MULTIPLIER
// =============================================================================

func TestRules_DayMultiplier(t *testing.T) {
	rules := challenge.DefaultRules()
	assert.Equal(t, 8, rules.DayMultiplier(3, 4), "power play doubles")
	assert.Equal(t, 4, rules.DayMultiplier(2, 4))
	assert.Equal(t, 4, rules.DayMultiplier(challenge.OutsideWindow, 4), "day 0 never multiplied")
}

// =============================================================================
// STREAK BONUSES
// =============================================================================

func TestRules_StreakBonus_ThreeDayAwardedOnThirdDay(t *testing.T) {
	// GIVEN: Completed days 1-3, missed 4-5
	rules := challenge.DefaultRules()
	completed := []bool{true, true, true, false, false}

	// THEN: Bonus on day 3 only
	assert.Equal(t, challenge.Bonus{ThreeDay: 10}, rules.StreakBonus(completed, 3))
	assert.Equal(t, challenge.Bonus{}, rules.StreakBonus(completed, 2))
	assert.Equal(t, challenge.Bonus{}, rules.StreakBonus(completed, 4))
}

func TestRules_StreakBonus_AwardedOnceAcrossWindows(t *testing.T) {
	// GIVEN: Completed days 1-4, so windows 1-3 and 2-4 both qualify
	rules := challenge.DefaultRules()
	completed := []bool{true, true, true, true, false}

	// THEN: The three-day bonus appears exactly once, on day 3
	total := 0
	for day := challenge.ChallengeDay(1); day <= 5; day++ {
		total += rules.StreakBonus(completed, day).ThreeDay
	}
	assert.Equal(t, 10, total)
	assert.Zero(t, rules.StreakBonus(completed, 4).ThreeDay)
}

func TestRules_StreakBonus_LaterWindow(t *testing.T) {
	// GIVEN: Missed day 1, completed 2-4
	rules := challenge.DefaultRules()
	completed := []bool{false, true, true, true, false}

	// THEN: Bonus lands on day 4
	assert.Equal(t, challenge.Bonus{ThreeDay: 10}, rules.StreakBonus(completed, 4))
	assert.Equal(t, challenge.Bonus{}, rules.StreakBonus(completed, 3))
}

func TestRules_StreakBonus_FullStreak(t *testing.T) {
	// GIVEN: All five days completed
	rules := challenge.DefaultRules()
	completed := []bool{true, true, true, true, true}

	// THEN: Day 3 has the three-day bonus, day 5 the full-streak bonus
	assert.Equal(t, challenge.Bonus{ThreeDay: 10}, rules.StreakBonus(completed, 3))
	assert.Equal(t, challenge.Bonus{FullStreak: 20}, rules.StreakBonus(completed, 5))
	assert.Equal(t, 20, rules.StreakBonus(completed, 5).Total())
}

func TestRules_StreakBonus_FullStreakBrokenByOneDay(t *testing.T) {
	rules := challenge.DefaultRules()
	completed := []bool{true, true, true, true, false}
	assert.Zero(t, rules.StreakBonus(completed, 5).FullStreak)
}

func TestRules_StreakBonus_OutsideWindow(t *testing.T) {
	rules := challenge.DefaultRules()
	completed := []bool{true, true, true, true, true}
	assert.Equal(t, challenge.Bonus{}, rules.StreakBonus(completed, challenge.OutsideWindow))
}

// =============================================================================
// FINAL RUNS
// =============================================================================

func TestRules_FinalRuns(t *testing.T) {
	rules := challenge.DefaultRules()

	assert.Nil(t, rules.FinalRuns(nil, 3, challenge.Bonus{ThreeDay: 10}), "no data stays nil")

	// Power play day with three-day bonus: 4*2 + 10
	got := rules.FinalRuns(intp(4), 3, challenge.Bonus{ThreeDay: 10})
	require.NotNil(t, got)
	assert.Equal(t, 18, *got)

	// Day 5 full streak: 6 + 20
	got = rules.FinalRuns(intp(6), 5, challenge.Bonus{FullStreak: 20})
	require.NotNil(t, got)
	assert.Equal(t, 26, *got)

	// Zero base runs is a value, not nil
	got = rules.FinalRuns(intp(0), 1, challenge.Bonus{})
	require.NotNil(t, got)
	assert.Equal(t, 0, *got)
}

/*
leaderboard.go - Ranked individual and team boards, per day and aggregated

PURPOSE:
  Builds leaderboards on demand from stored BASE score rows. Enhanced runs
  (Power Play + streak bonuses) are recomputed on every read and never
  written back.

ALWAYS TOTAL:
  Every roster user appears on every individual board, and every team on
  every team board. Missing data is a nil value, never an error and never
  a zero.

SORT ORDER:
  Individual: runs desc, steps desc, user name asc (nil sorts last at
              each key independently)
  Team:       total runs desc, total steps desc, then roster order

CONSISTENCY:
  All queries for one board run inside a single Store.Snapshot so a board
  never mixes rows from before and after a concurrent ingest.

SEE ALSO:
  - rules.go: StreakBonus, FinalRuns
  - summary.go: Per-day participation stats
*/
package challenge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Aggregator reads scored rows and assembles leaderboards.
type Aggregator struct {
	store    Store
	calendar Calendar
	rules    Rules
	now      func() time.Time
}

func NewAggregator(store Store, calendar Calendar, rules Rules) *Aggregator {
	return &Aggregator{store: store, calendar: calendar, rules: rules, now: time.Now}
}

// history is one user's stored rows keyed by challenge day.
type history map[ChallengeDay]IndividualScoreRow

// boardData is everything a board needs, read in one snapshot.
type boardData struct {
	users   []User
	teams   []Team
	history map[UserID]history
	today   map[UserID]IndividualScoreRow
}

// =============================================================================
// STRING ENTRY POINTS - Fail only on malformed dates
// =============================================================================

func (a *Aggregator) IndividualForDate(ctx context.Context, date string) ([]IndividualEntry, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return a.Individual(ctx, d)
}

func (a *Aggregator) TeamForDate(ctx context.Context, date string) ([]TeamEntry, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return a.Team(ctx, d)
}

// =============================================================================
// PER-DAY BOARDS
// =============================================================================

// Individual returns the ranked board for one date, one entry per roster user.
func (a *Aggregator) Individual(ctx context.Context, date Date) ([]IndividualEntry, error) {
	data, err := a.load(ctx, &date)
	if err != nil {
		return nil, err
	}
	return a.individual(data, a.calendar.DayOf(date)), nil
}

// Team returns the ranked team board for one date, one entry per team.
func (a *Aggregator) Team(ctx context.Context, date Date) ([]TeamEntry, error) {
	data, err := a.load(ctx, &date)
	if err != nil {
		return nil, err
	}
	return teamBoard(data.teams, a.individual(data, a.calendar.DayOf(date))), nil
}

// Preview returns both boards for a date from the same snapshot.
func (a *Aggregator) Preview(ctx context.Context, date Date) (Preview, error) {
	data, err := a.load(ctx, &date)
	if err != nil {
		return Preview{}, err
	}
	day := a.calendar.DayOf(date)
	individual := a.individual(data, day)
	return Preview{
		Date:         date,
		ChallengeDay: day,
		Individual:   individual,
		Team:         teamBoard(data.teams, individual),
	}, nil
}

func (a *Aggregator) individual(data boardData, day ChallengeDay) []IndividualEntry {
	teamNames := teamNameIndex(data.teams)

	entries := make([]IndividualEntry, len(data.users))
	for i, u := range data.users {
		e := newIndividualEntry(u, teamNames)
		if row, ok := data.today[u.ID]; ok {
			steps, base := row.Steps, row.Runs
			bonus := a.rules.StreakBonus(a.completion(data.history[u.ID]), day)
			e.Steps = &steps
			e.Runs = a.rules.FinalRuns(&base, day, bonus)
		}
		entries[i] = e
	}

	sortIndividual(entries)
	return entries
}

// =============================================================================
// AGGREGATED BOARDS - Sum of what each user saw on each day
// =============================================================================

// AggregatedIndividual sums steps and enhanced runs over days 1..N.
func (a *Aggregator) AggregatedIndividual(ctx context.Context) ([]IndividualEntry, error) {
	data, err := a.load(ctx, nil)
	if err != nil {
		return nil, err
	}
	return a.aggregated(data), nil
}

// AggregatedTeam sums the aggregated individual board per team.
func (a *Aggregator) AggregatedTeam(ctx context.Context) ([]TeamEntry, error) {
	data, err := a.load(ctx, nil)
	if err != nil {
		return nil, err
	}
	return teamBoard(data.teams, a.aggregated(data)), nil
}

func (a *Aggregator) aggregated(data boardData) []IndividualEntry {
	teamNames := teamNameIndex(data.teams)

	entries := make([]IndividualEntry, len(data.users))
	for i, u := range data.users {
		e := newIndividualEntry(u, teamNames)
		h := data.history[u.ID]
		completed := a.completion(h)

		var steps, runs int
		days := 0
		for d := ChallengeDay(1); d <= a.calendar.LastDay(); d++ {
			row, ok := h[d]
			if !ok {
				continue
			}
			base := row.Runs
			final := a.rules.FinalRuns(&base, d, a.rules.StreakBonus(completed, d))
			steps += row.Steps
			runs += *final
			days++
		}
		if days > 0 {
			e.Steps = &steps
			e.Runs = &runs
		}
		entries[i] = e
	}

	sortIndividual(entries)
	return entries
}

// =============================================================================
// PUBLISH
// =============================================================================

// Publish confirms a day has score rows. Boards are visible as soon as a day
// is ingested, so this only verifies and reports.
func (a *Aggregator) Publish(ctx context.Context, date Date) (PublishReceipt, error) {
	day := a.calendar.DayOf(date)

	var (
		individual, team int
		active           *Upload
	)
	err := a.store.Snapshot(ctx, func(r Reader) error {
		var err error
		if individual, team, err = r.CountScores(ctx, day); err != nil {
			return err
		}
		active, err = r.ActiveUpload(ctx, day)
		return err
	})
	if err != nil {
		return PublishReceipt{}, fmt.Errorf("count scores for day %d: %w", day, err)
	}
	if individual == 0 && team == 0 {
		return PublishReceipt{}, fmt.Errorf("%w: %s (day %d)", ErrNothingToPublish, date, day)
	}

	receipt := PublishReceipt{
		Date:            date,
		ChallengeDay:    day,
		PublishedAt:     a.now().UTC(),
		IndividualCount: individual,
		TeamCount:       team,
	}
	if active != nil {
		receipt.UploadID = active.ID
	}
	return receipt, nil
}

// StoredTeamTotals returns the base team rows written at ingest for the
// date's challenge day. Unlike Team, it carries no multipliers or bonuses.
func (a *Aggregator) StoredTeamTotals(ctx context.Context, date Date) ([]TeamScoreRow, error) {
	day := a.calendar.DayOf(date)

	var rows []TeamScoreRow
	err := a.store.Snapshot(ctx, func(r Reader) error {
		var err error
		rows, err = r.TeamScores(ctx, day)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load team totals for day %d: %w", day, err)
	}
	return rows, nil
}

// =============================================================================
// LOADING
// =============================================================================

// load reads the roster, the full days-1..N history, and (when date is set)
// the rows for that date, in one snapshot.
func (a *Aggregator) load(ctx context.Context, date *Date) (boardData, error) {
	var (
		data boardData
		all  []IndividualScoreRow
		on   []IndividualScoreRow
	)

	err := a.store.Snapshot(ctx, func(r Reader) error {
		var err error
		if data.users, err = r.ListUsers(ctx); err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		if data.teams, err = r.ListTeams(ctx); err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		if all, err = r.IndividualScores(ctx, 1, a.calendar.LastDay()); err != nil {
			return fmt.Errorf("load score history: %w", err)
		}
		if date != nil {
			if on, err = r.IndividualScoresOn(ctx, *date); err != nil {
				return fmt.Errorf("load scores for %s: %w", date, err)
			}
		}
		return nil
	})
	if err != nil {
		return boardData{}, err
	}

	data.history = make(map[UserID]history)
	for _, row := range all {
		h, ok := data.history[row.UserID]
		if !ok {
			h = make(history)
			data.history[row.UserID] = h
		}
		h[row.ChallengeDay] = row
	}

	if date != nil {
		day := a.calendar.DayOf(*date)
		data.today = make(map[UserID]IndividualScoreRow, len(on))
		for _, row := range on {
			if row.ChallengeDay == day {
				data.today[row.UserID] = row
			}
		}
	}
	return data, nil
}

// completion is a user's completed flags for days 1..N.
func (a *Aggregator) completion(h history) []bool {
	out := make([]bool, a.calendar.Days())
	for i := range out {
		if row, ok := h[ChallengeDay(i+1)]; ok {
			steps := row.Steps
			out[i] = a.rules.Completed(&steps)
		}
	}
	return out
}

// =============================================================================
// TEAM BOARD
// =============================================================================

// teamBoard sums the non-nil entries of an individual board per team.
func teamBoard(teams []Team, individual []IndividualEntry) []TeamEntry {
	type total struct {
		steps, runs, members int
	}
	totals := make(map[TeamID]*total, len(teams))
	for _, t := range teams {
		totals[t.ID] = &total{}
	}

	for _, e := range individual {
		if e.Steps == nil || e.Runs == nil {
			continue
		}
		t, ok := totals[e.TeamID]
		if !ok {
			continue
		}
		t.steps += *e.Steps
		t.runs += *e.Runs
		t.members++
	}

	entries := make([]TeamEntry, len(teams))
	for i, team := range teams {
		e := TeamEntry{TeamID: team.ID, TeamName: team.Name}
		if t := totals[team.ID]; t.members > 0 {
			steps, runs := t.steps, t.runs
			e.TotalSteps = &steps
			e.TotalRuns = &runs
		}
		entries[i] = e
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := compareDesc(entries[i].TotalRuns, entries[j].TotalRuns); c != 0 {
			return c < 0
		}
		return compareDesc(entries[i].TotalSteps, entries[j].TotalSteps) < 0
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// =============================================================================
// HELPERS
// =============================================================================

func newIndividualEntry(u User, teamNames map[TeamID]string) IndividualEntry {
	name, ok := teamNames[u.TeamID]
	if !ok {
		name = UnknownTeamName
	}
	return IndividualEntry{UserID: u.ID, UserName: u.Name, TeamID: u.TeamID, TeamName: name}
}

func teamNameIndex(teams []Team) map[TeamID]string {
	out := make(map[TeamID]string, len(teams))
	for _, t := range teams {
		out[t.ID] = t.Name
	}
	return out
}

func sortIndividual(entries []IndividualEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := compareDesc(entries[i].Runs, entries[j].Runs); c != 0 {
			return c < 0
		}
		if c := compareDesc(entries[i].Steps, entries[j].Steps); c != 0 {
			return c < 0
		}
		return strings.Compare(entries[i].UserName, entries[j].UserName) < 0
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// compareDesc orders larger values first and nil after every value.
func compareDesc(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	}
	return 0
}

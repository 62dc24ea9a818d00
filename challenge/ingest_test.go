package challenge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/step-league/challenge"
	memstore "github.com/warp/step-league/challenge/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newMemory(t *testing.T) *memstore.Memory {
	m := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertTeams(ctx, []challenge.Team{
		{ID: "T1", Name: "Alpha"},
		{ID: "T2", Name: "Beta"},
		{ID: "T3", Name: "Gamma"},
	}))
	require.NoError(t, m.UpsertUsers(ctx, []challenge.User{
		{ID: "A", Name: "Ann", TeamID: "T1"},
		{ID: "B", Name: "Bob", TeamID: "T2"},
		{ID: "C", Name: "Cid", TeamID: "T1"},
		{ID: "D", Name: "Dee", TeamID: "T2"},
	}))
	return m
}

func newTestPipeline(m *memstore.Memory) *challenge.Pipeline {
	return challenge.NewPipeline(m, challenge.DefaultCalendar(), challenge.DefaultRules(), nil)
}

func row(user string, steps int, date challenge.Date) challenge.BatchRow {
	return challenge.BatchRow{UserID: challenge.UserID(user), Steps: steps, Date: date}
}

func batchOf(rows ...challenge.BatchRow) challenge.Batch {
	return challenge.Batch{FileName: "steps.xlsx", Rows: rows}
}

func uploads(t *testing.T, m *memstore.Memory) []challenge.UploadSummary {
	var out []challenge.UploadSummary
	require.NoError(t, m.Snapshot(context.Background(), func(r challenge.Reader) error {
		var err error
		out, err = r.ListUploads(context.Background())
		return err
	}))
	return out
}

func scoresFor(t *testing.T, m *memstore.Memory, day challenge.ChallengeDay) []challenge.IndividualScoreRow {
	var out []challenge.IndividualScoreRow
	require.NoError(t, m.Snapshot(context.Background(), func(r challenge.Reader) error {
		var err error
		out, err = r.IndividualScores(context.Background(), day, day)
		return err
	}))
	return out
}

func teamScoresFor(t *testing.T, m *memstore.Memory, day challenge.ChallengeDay) []challenge.TeamScoreRow {
	var out []challenge.TeamScoreRow
	require.NoError(t, m.Snapshot(context.Background(), func(r challenge.Reader) error {
		var err error
		out, err = r.TeamScores(context.Background(), day)
		return err
	}))
	return out
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestPipeline_Ingest_ScoresDay(t *testing.T) {
	// GIVEN: A=12000 on T1, B=4000 on T2, for 2025-12-01
	m := newMemory(t)
	ctx := context.Background()

	// WHEN: Ingesting the batch
	res, err := newTestPipeline(m).Ingest(ctx, batchOf(row("A", 12000, dec(1)), row("B", 4000, dec(1))))

	// THEN: Day 1 is scored with base runs
	require.NoError(t, err)
	assert.Equal(t, challenge.ChallengeDay(1), res.ChallengeDay)
	assert.Equal(t, dec(1), res.Date)
	assert.Equal(t, 2, res.RowsProcessed)

	scores := scoresFor(t, m, 1)
	require.Len(t, scores, 2)
	assert.Equal(t, challenge.IndividualScoreRow{UserID: "A", Date: dec(1), ChallengeDay: 1, Steps: 12000, Runs: 4}, scores[0])
	assert.Equal(t, challenge.IndividualScoreRow{UserID: "B", Date: dec(1), ChallengeDay: 1, Steps: 4000, Runs: 0}, scores[1])

	teams := teamScoresFor(t, m, 1)
	require.Len(t, teams, 2)
	assert.Equal(t, challenge.TeamID("T1"), teams[0].TeamID)
	assert.Equal(t, 12000, teams[0].TotalSteps)
	assert.Equal(t, 4, teams[0].TotalRuns)
	assert.Equal(t, 4000, teams[1].TotalSteps)

	ups := uploads(t, m)
	require.Len(t, ups, 1)
	assert.Equal(t, challenge.UploadActive, ups[0].Status)
	assert.Equal(t, "admin", ups[0].UploadedBy)
	assert.Equal(t, 2, ups[0].Records)
}

func TestPipeline_Ingest_PowerPlayDayStoresBaseRuns(t *testing.T) {
	// GIVEN: A batch for the power play day
	m := newMemory(t)

	_, err := newTestPipeline(m).Ingest(context.Background(), batchOf(row("A", 12000, dec(3))))
	require.NoError(t, err)

	// THEN: The multiplier is not persisted
	scores := scoresFor(t, m, 3)
	require.Len(t, scores, 1)
	assert.Equal(t, 4, scores[0].Runs)
}

func TestPipeline_Ingest_UsesFirstRowDate(t *testing.T) {
	// GIVEN: Rows with mixed dates, first row on day 2
	m := newMemory(t)

	res, err := newTestPipeline(m).Ingest(context.Background(), batchOf(
		row("A", 6000, dec(2)),
		row("B", 6000, dec(4)),
	))
	require.NoError(t, err)

	// THEN: The whole batch lands on day 2
	assert.Equal(t, challenge.ChallengeDay(2), res.ChallengeDay)
	scores := scoresFor(t, m, 2)
	require.Len(t, scores, 2)
	assert.Empty(t, scoresFor(t, m, 4))

	// AND: Every score row carries the batch date, not its own
	for _, s := range scores {
		assert.Equal(t, dec(2), s.Date, s.UserID)
	}

	// AND: B shows up on the day-2 board and the stored team row agrees with it
	board, err := challenge.NewAggregator(m, challenge.DefaultCalendar(), challenge.DefaultRules()).Individual(context.Background(), dec(2))
	require.NoError(t, err)
	for _, e := range board {
		if e.UserID == "B" {
			require.NotNil(t, e.Steps)
			assert.Equal(t, 6000, *e.Steps)
		}
	}
	for _, team := range teamScoresFor(t, m, 2) {
		assert.Equal(t, dec(2), team.Date)
	}
}

func TestPipeline_Ingest_SameTeamSumsMembers(t *testing.T) {
	// GIVEN: A=12000 and C=4000, both on T1, for 2025-12-01
	m := newMemory(t)

	// WHEN: Ingesting the batch
	_, err := newTestPipeline(m).Ingest(context.Background(), batchOf(row("A", 12000, dec(1)), row("C", 4000, dec(1))))
	require.NoError(t, err)

	// THEN: T1 totals both members' steps and base runs
	teams := teamScoresFor(t, m, 1)
	require.Len(t, teams, 1)
	assert.Equal(t, challenge.TeamScoreRow{TeamID: "T1", Date: dec(1), ChallengeDay: 1, TotalSteps: 16000, TotalRuns: 4}, teams[0])

	// AND: The team board shows the same totals
	board, err := challenge.NewAggregator(m, challenge.DefaultCalendar(), challenge.DefaultRules()).Team(context.Background(), dec(1))
	require.NoError(t, err)
	require.NotEmpty(t, board)
	assert.Equal(t, challenge.TeamID("T1"), board[0].TeamID)
	require.NotNil(t, board[0].TotalSteps)
	assert.Equal(t, 16000, *board[0].TotalSteps)
	assert.Equal(t, 4, *board[0].TotalRuns)
}

func TestPipeline_Ingest_OutsideWindowIsDayZero(t *testing.T) {
	m := newMemory(t)

	res, err := newTestPipeline(m).Ingest(context.Background(),
		batchOf(row("A", 12000, challenge.NewDate(2025, time.November, 28))))

	require.NoError(t, err)
	assert.Equal(t, challenge.OutsideWindow, res.ChallengeDay)
	assert.Len(t, scoresFor(t, m, 0), 1)
}

func TestPipeline_Ingest_DuplicateUserLastRowWins(t *testing.T) {
	// GIVEN: User A appears twice
	m := newMemory(t)

	res, err := newTestPipeline(m).Ingest(context.Background(), batchOf(
		row("A", 3000, dec(1)),
		row("B", 7000, dec(1)),
		row("A", 11000, dec(1)),
	))
	require.NoError(t, err)

	// THEN: Raw data keeps every row, scores keep the last one
	assert.Equal(t, 3, res.RowsProcessed)
	scores := scoresFor(t, m, 1)
	require.Len(t, scores, 2)
	assert.Equal(t, 11000, scores[0].Steps)
	assert.Equal(t, 4, scores[0].Runs)

	teams := teamScoresFor(t, m, 1)
	require.Len(t, teams, 2)
	assert.Equal(t, 11000, teams[0].TotalSteps, "team sums use deduplicated rows")

	ups := uploads(t, m)
	require.Len(t, ups, 1)
	assert.Equal(t, 3, ups[0].Records)
}

func TestPipeline_Ingest_CustomUploader(t *testing.T) {
	m := newMemory(t)
	b := batchOf(row("A", 1, dec(1)))
	b.UploadedBy = "ops@example.com"

	_, err := newTestPipeline(m).Ingest(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", uploads(t, m)[0].UploadedBy)
}

// =============================================================================
// LATEST UPLOAD WINS
// =============================================================================

func TestPipeline_Reingest_Replaces(t *testing.T) {
	// GIVEN: Day 1 ingested with A and B
	m := newMemory(t)
	p := newTestPipeline(m)
	ctx := context.Background()
	_, err := p.Ingest(ctx, batchOf(row("A", 12000, dec(1)), row("B", 4000, dec(1))))
	require.NoError(t, err)

	// WHEN: A corrected file for day 1 only lists B
	_, err = p.Ingest(ctx, batchOf(row("B", 16000, dec(1))))
	require.NoError(t, err)

	// THEN: A's row is gone, B is updated
	scores := scoresFor(t, m, 1)
	require.Len(t, scores, 1)
	assert.Equal(t, challenge.UserID("B"), scores[0].UserID)
	assert.Equal(t, 6, scores[0].Runs)

	// AND: Exactly one active upload; the old one is superseded with no rows
	ups := uploads(t, m)
	require.Len(t, ups, 2)
	assert.Equal(t, challenge.UploadActive, ups[0].Status)
	assert.Equal(t, challenge.UploadSuperseded, ups[1].Status)
	assert.Zero(t, ups[1].Records)

	teams := teamScoresFor(t, m, 1)
	require.Len(t, teams, 1)
	assert.Equal(t, challenge.TeamID("T2"), teams[0].TeamID)
}

// =============================================================================
// REJECTIONS - No mutation
// =============================================================================

func TestPipeline_Ingest_EmptyBatch(t *testing.T) {
	m := newMemory(t)
	_, err := newTestPipeline(m).Ingest(context.Background(), batchOf())
	assert.ErrorIs(t, err, challenge.ErrEmptyBatch)
	assert.True(t, challenge.IsClientError(err))
	assert.Empty(t, uploads(t, m))
}

func TestPipeline_Ingest_MissingFirstDate(t *testing.T) {
	m := newMemory(t)
	_, err := newTestPipeline(m).Ingest(context.Background(), batchOf(
		challenge.BatchRow{UserID: "A", Steps: 100},
	))
	assert.ErrorIs(t, err, challenge.ErrMalformedDate)
	assert.Empty(t, uploads(t, m))
}

func TestPipeline_Ingest_InvalidRows(t *testing.T) {
	m := newMemory(t)
	p := newTestPipeline(m)

	_, err := p.Ingest(context.Background(), batchOf(row("A", 100, dec(1)), row("B", -5, dec(1))))
	var rowErr *challenge.InvalidRowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 2, rowErr.Row)
	assert.ErrorIs(t, err, challenge.ErrInvalidBatch)

	_, err = p.Ingest(context.Background(), batchOf(row("A", 100, dec(1)), row(" ", 5, dec(1))))
	assert.ErrorIs(t, err, challenge.ErrInvalidBatch)

	assert.Empty(t, uploads(t, m))
}

func TestPipeline_Ingest_UnknownUsers_NoChange(t *testing.T) {
	// GIVEN: Day 1 already ingested
	m := newMemory(t)
	p := newTestPipeline(m)
	ctx := context.Background()
	_, err := p.Ingest(ctx, batchOf(row("A", 12000, dec(1))))
	require.NoError(t, err)

	// WHEN: A reupload names two unknown users
	_, err = p.Ingest(ctx, batchOf(row("Z2", 1, dec(1)), row("A", 1, dec(1)), row("Z1", 1, dec(1))))

	// THEN: Rejected with every unknown id, sorted
	var unknown *challenge.UnknownUserError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []challenge.UserID{"Z1", "Z2"}, unknown.IDs)
	assert.ErrorIs(t, err, challenge.ErrUnknownUser)
	assert.Contains(t, err.Error(), "Z1, Z2")

	// AND: Prior data is untouched
	scores := scoresFor(t, m, 1)
	require.Len(t, scores, 1)
	assert.Equal(t, 12000, scores[0].Steps)
	ups := uploads(t, m)
	require.Len(t, ups, 1)
	assert.Equal(t, challenge.UploadActive, ups[0].Status)
}

func TestPipeline_Ingest_StoreFailureRollsBack(t *testing.T) {
	// GIVEN: Day 1 ingested, and the store fails on the last write step
	m := newMemory(t)
	p := newTestPipeline(m)
	ctx := context.Background()
	_, err := p.Ingest(ctx, batchOf(row("A", 12000, dec(1)), row("B", 4000, dec(1))))
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	m.FailOn("UpsertTeamScores", diskFull)

	// WHEN: Reuploading day 1
	_, err = p.Ingest(ctx, batchOf(row("C", 20000, dec(1))))

	// THEN: A store failure is reported with its cause
	require.Error(t, err)
	assert.ErrorIs(t, err, challenge.ErrStoreFailure)
	assert.ErrorIs(t, err, diskFull)
	assert.False(t, challenge.IsClientError(err))

	// AND: The prior upload and its rows survive
	scores := scoresFor(t, m, 1)
	require.Len(t, scores, 2)
	ups := uploads(t, m)
	require.Len(t, ups, 1)
	assert.Equal(t, challenge.UploadActive, ups[0].Status)
	assert.Equal(t, 2, ups[0].Records)

	// AND: Once the fault clears, the same upload succeeds
	m.FailOn("UpsertTeamScores", nil)
	_, err = p.Ingest(ctx, batchOf(row("C", 20000, dec(1))))
	require.NoError(t, err)
	assert.Len(t, scoresFor(t, m, 1), 1)
}

/*
ingest.go - Batch ingestion with atomic replace-on-reupload

PURPOSE:
  Validates a parsed batch against the roster, then replaces everything
  stored for the batch's challenge day in one transaction.

LATEST UPLOAD WINS:
  Reuploading a day fully replaces that day's raw rows and score rows.
  The previous Upload record is kept with status "superseded"; its rows
  are gone. No row-level diffing.

ORDER OF OPERATIONS:
  1. Reject empty batches
  2. Challenge day from the FIRST row's date (other rows are trusted)
  3. Row validation (user id present, steps non-negative)
  4. Roster resolution - any unknown id rejects the whole batch
  5. Single transaction:
       supersede active upload -> delete day rows -> create upload ->
       insert raw rows -> upsert individual base scores -> upsert team sums

  Steps 1-4 never mutate. A failure in step 5 rolls everything back.

SEE ALSO:
  - store.go: Writer interface
  - rules.go: BaseRuns
  - batch/spool.go: Discards the source file after ingestion
*/
package challenge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultUploader is recorded when a batch has no uploader.
const DefaultUploader = "admin"

// Pipeline ingests batches into a Store.
type Pipeline struct {
	store    Store
	calendar Calendar
	rules    Rules
	log      *slog.Logger
	now      func() time.Time
}

// NewPipeline wires an ingestion pipeline. A nil logger discards output.
func NewPipeline(store Store, calendar Calendar, rules Rules, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		store:    store,
		calendar: calendar,
		rules:    rules,
		log:      logger.With(slog.String("component", "ingest")),
		now:      time.Now,
	}
}

// enrichedRow is a batch row joined with its roster entry.
type enrichedRow struct {
	BatchRow
	User     User
	TeamName string
}

// Ingest validates and persists a batch for one challenge day.
func (p *Pipeline) Ingest(ctx context.Context, batch Batch) (IngestResult, error) {
	if len(batch.Rows) == 0 {
		return IngestResult{}, ErrEmptyBatch
	}

	batchDate := batch.Rows[0].Date
	if batchDate.IsZero() {
		return IngestResult{}, fmt.Errorf("row 1: %w", ErrMalformedDate)
	}
	batchDate = DateOf(batchDate.Time)
	day := p.calendar.DayOf(batchDate)

	if err := validateRows(batch.Rows); err != nil {
		return IngestResult{}, err
	}

	enriched, err := p.enrich(ctx, batch.Rows)
	if err != nil {
		return IngestResult{}, err
	}

	log := p.log.With(
		slog.Int("challenge_day", int(day)),
		slog.String("date", batchDate.String()),
		slog.String("file", batch.FileName),
	)

	individual := individualRows(enriched, day, batchDate, p.rules)
	if len(individual) < len(enriched) {
		log.Warn("batch repeats users, last row wins for scores",
			slog.Int("rows", len(enriched)),
			slog.Int("users", len(individual)))
	}
	team := teamRows(enriched, individual, day, batchDate)

	uploader := strings.TrimSpace(batch.UploadedBy)
	if uploader == "" {
		uploader = DefaultUploader
	}

	var uploadID UploadID
	err = p.store.WithTx(ctx, func(w Writer) error {
		superseded, err := w.SupersedeActive(ctx, day)
		if err != nil {
			return err
		}

		deleted, err := w.DeleteDay(ctx, day)
		if err != nil {
			return err
		}

		uploadID, err = w.CreateUpload(ctx, Upload{
			FileName:     batch.FileName,
			UploadedBy:   uploader,
			UploadDate:   batchDate,
			UploadedAt:   p.now().UTC(),
			ChallengeDay: day,
			Status:       UploadActive,
		})
		if err != nil {
			return err
		}

		raw := make([]RawStepRecord, len(enriched))
		for i, r := range enriched {
			raw[i] = RawStepRecord{
				UserID:       r.UserID,
				Date:         DateOf(r.Date.Time),
				ChallengeDay: day,
				Steps:        r.Steps,
				Source:       SourceAdminUpload,
				UploadID:     uploadID,
			}
		}
		if err := w.InsertRawSteps(ctx, raw); err != nil {
			return err
		}
		if err := w.UpsertIndividualScores(ctx, individual); err != nil {
			return err
		}
		if err := w.UpsertTeamScores(ctx, team); err != nil {
			return err
		}

		log.Info("day replaced",
			slog.Int("superseded_uploads", superseded),
			slog.Int("deleted_raw", deleted.RawSteps),
			slog.Int("deleted_individual", deleted.Individual),
			slog.Int("deleted_team", deleted.Team),
			slog.Int64("upload_id", int64(uploadID)))
		return nil
	})
	if err != nil {
		log.Error("ingest rolled back", slog.Any("error", err))
		return IngestResult{}, wrapStore(err)
	}

	log.Info("upload ingested",
		slog.Int64("upload_id", int64(uploadID)),
		slog.Int("rows", len(enriched)),
		slog.Int("teams", len(team)))

	return IngestResult{
		UploadID:      uploadID,
		ChallengeDay:  day,
		Date:          batchDate,
		RowsProcessed: len(enriched),
	}, nil
}

func validateRows(rows []BatchRow) error {
	for i, r := range rows {
		if strings.TrimSpace(string(r.UserID)) == "" {
			return &InvalidRowError{Row: i + 1, Reason: "missing user_id"}
		}
		if r.Steps < 0 {
			return &InvalidRowError{Row: i + 1, Reason: "steps must be non-negative"}
		}
	}
	return nil
}

// enrich resolves every distinct user id and its team. Runs in a snapshot so
// a rejected batch never opens a write transaction.
func (p *Pipeline) enrich(ctx context.Context, rows []BatchRow) ([]enrichedRow, error) {
	ids := distinctUserIDs(rows)

	var (
		users map[UserID]User
		teams []Team
	)
	err := p.store.Snapshot(ctx, func(r Reader) error {
		var err error
		if users, err = r.LookupUsers(ctx, ids); err != nil {
			return err
		}
		teams, err = r.ListTeams(ctx)
		return err
	})
	if err != nil {
		return nil, wrapStore(err)
	}

	var missing []UserID
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		err := &UnknownUserError{IDs: missing}
		p.log.Warn("batch rejected", slog.String("reason", err.Error()))
		return nil, err
	}

	teamNames := make(map[TeamID]string, len(teams))
	for _, t := range teams {
		teamNames[t.ID] = t.Name
	}

	out := make([]enrichedRow, len(rows))
	for i, r := range rows {
		u := users[r.UserID]
		name, ok := teamNames[u.TeamID]
		if !ok {
			name = UnknownTeamName
			p.log.Warn("user team missing from roster",
				slog.String("user_id", string(u.ID)),
				slog.String("team_id", string(u.TeamID)))
		}
		out[i] = enrichedRow{BatchRow: r, User: u, TeamName: name}
	}
	return out, nil
}

func distinctUserIDs(rows []BatchRow) []UserID {
	seen := make(map[UserID]struct{}, len(rows))
	ids := make([]UserID, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		ids = append(ids, r.UserID)
	}
	return ids
}

// individualRows builds one base-score row per user; later rows for the
// same user replace earlier ones. Output keeps first-appearance order.
// Every row is stamped with the batch date so it lands on that day's board.
func individualRows(rows []enrichedRow, day ChallengeDay, date Date, rules Rules) []IndividualScoreRow {
	index := make(map[UserID]int, len(rows))
	out := make([]IndividualScoreRow, 0, len(rows))
	for _, r := range rows {
		row := IndividualScoreRow{
			UserID:       r.UserID,
			Date:         date,
			ChallengeDay: day,
			Steps:        r.Steps,
			Runs:         rules.BaseRuns(r.Steps),
		}
		if i, ok := index[r.UserID]; ok {
			out[i] = row
			continue
		}
		index[r.UserID] = len(out)
		out = append(out, row)
	}
	return out
}

// teamRows sums base steps and runs per team, ordered by team id.
func teamRows(rows []enrichedRow, scores []IndividualScoreRow, day ChallengeDay, date Date) []TeamScoreRow {
	teamOf := make(map[UserID]TeamID, len(rows))
	for _, r := range rows {
		teamOf[r.UserID] = r.User.TeamID
	}

	totals := make(map[TeamID]*TeamScoreRow)
	for _, s := range scores {
		id := teamOf[s.UserID]
		t, ok := totals[id]
		if !ok {
			t = &TeamScoreRow{TeamID: id, Date: date, ChallengeDay: day}
			totals[id] = t
		}
		t.TotalSteps += s.Steps
		t.TotalRuns += s.Runs
	}

	out := make([]TeamScoreRow, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}

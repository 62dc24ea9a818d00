/*
Package sqlite provides a SQLite-backed implementation of challenge.Store.

PURPOSE:
  Persists the roster, upload history, raw step rows, and base score rows.
  The engine receives a *Store explicitly; nothing here is global.

KEY TABLES:
  teams, users:            Roster (seeded via UpsertTeams/UpsertUsers)
  uploads:                 One row per ingested batch, active or superseded
  steps_raw:               As-uploaded rows, owned by an upload
  leaderboard_individual:  Base steps/runs keyed by (user_id, challenge_day)
  leaderboard_team:        Base totals keyed by (team_id, challenge_day)

INDEXES:
  - idx_uploads_one_active: Partial unique index, one active upload per day
  - idx_individual_date:    Per-date board reads (hot path)

CONCURRENCY:
  Two connection pools share the file. The write pool starts transactions
  with BEGIN IMMEDIATE (_txlock=immediate) and is guarded by the writer
  mutex, so two ingests never interleave. The read pool uses deferred
  transactions; Snapshot runs every read of a board inside one of them and
  takes no lock.

WAL MODE:
  File databases are opened with WAL so readers don't block on the writer
  and a deferred read transaction sees one consistent snapshot.
  ":memory:" databases are pinned to a single connection shared by both
  pools; each connection would otherwise see its own empty database.

USAGE:
  store, err := sqlite.New("./data/steps.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  pipeline := challenge.NewPipeline(store, cal, rules, logger)

MIGRATION:
  Versioned migrations (migrations.go) run on New(). The applied version is
  kept in store_meta.

SEE ALSO:
  - challenge/store.go: Interface definitions
  - challenge/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/step-league/challenge"
)

// Store implements challenge.Store using SQLite.
type Store struct {
	db     *sql.DB // writes, BEGIN IMMEDIATE
	readDB *sql.DB // snapshots, deferred
	mu     sync.Mutex
}

var _ challenge.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	const params = "?_foreign_keys=on&_busy_timeout=5000"
	inMemory := dbPath == ":memory:"

	dsn := dbPath + params + "&_txlock=immediate"
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, readDB: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if !inMemory {
		readDB, err := sql.Open("sqlite3", dbPath+params+"&_txlock=deferred")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}
		store.readDB = readDB
	}

	return store, nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var readErr error
	if s.readDB != s.db {
		readErr = s.readDB.Close()
	}
	return errors.Join(s.db.Close(), readErr)
}

// Ping checks the database connection. Backs the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONS (challenge.Store interface)
// =============================================================================

// WithTx executes fn within a write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(challenge.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Snapshot executes fn against a single deferred read transaction on the
// read pool. Snapshots run alongside each other and alongside WithTx.
func (s *Store) Snapshot(ctx context.Context, fn func(challenge.Reader) error) error {
	sqlTx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView implements challenge.Writer on an open transaction. Every query of
// a WithTx or Snapshot call goes through the same *sql.Tx.
type txView struct {
	tx *sql.Tx
}

// =============================================================================
// ROSTER
// =============================================================================

// UpsertTeams inserts teams or updates their names.
func (s *Store) UpsertTeams(ctx context.Context, teams []challenge.Team) error {
	return s.WithTx(ctx, func(w challenge.Writer) error {
		tx := w.(*txView).tx
		now := time.Now().UTC().Format(time.RFC3339)
		for _, t := range teams {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO teams (id, name, created_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					updated_at = excluded.updated_at
			`, string(t.ID), t.Name, now, now)
			if err != nil {
				return fmt.Errorf("failed to upsert team %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// UpsertUsers inserts users or updates their name and team.
func (s *Store) UpsertUsers(ctx context.Context, users []challenge.User) error {
	return s.WithTx(ctx, func(w challenge.Writer) error {
		tx := w.(*txView).tx
		now := time.Now().UTC().Format(time.RFC3339)
		for _, u := range users {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, name, team_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					team_id = excluded.team_id,
					updated_at = excluded.updated_at
			`, string(u.ID), u.Name, string(u.TeamID), now, now)
			if err != nil {
				return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

func (v *txView) ListUsers(ctx context.Context) ([]challenge.User, error) {
	rows, err := v.tx.QueryContext(ctx, `SELECT id, name, team_id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []challenge.User
	for rows.Next() {
		var u challenge.User
		var id, team string
		if err := rows.Scan(&id, &u.Name, &team); err != nil {
			return nil, err
		}
		u.ID, u.TeamID = challenge.UserID(id), challenge.TeamID(team)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (v *txView) ListTeams(ctx context.Context) ([]challenge.Team, error) {
	rows, err := v.tx.QueryContext(ctx, `SELECT id, name FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	var out []challenge.Team
	for rows.Next() {
		var t challenge.Team
		var id string
		if err := rows.Scan(&id, &t.Name); err != nil {
			return nil, err
		}
		t.ID = challenge.TeamID(id)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (v *txView) LookupUsers(ctx context.Context, ids []challenge.UserID) (map[challenge.UserID]challenge.User, error) {
	out := make(map[challenge.UserID]challenge.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	query := `SELECT id, name, team_id FROM users WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := v.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name, team string
		if err := rows.Scan(&id, &name, &team); err != nil {
			return nil, err
		}
		out[challenge.UserID(id)] = challenge.User{ID: challenge.UserID(id), Name: name, TeamID: challenge.TeamID(team)}
	}
	return out, rows.Err()
}

// =============================================================================
// SCORES
// =============================================================================

func (v *txView) IndividualScores(ctx context.Context, from, to challenge.ChallengeDay) ([]challenge.IndividualScoreRow, error) {
	return v.queryScores(ctx, `
		SELECT user_id, date, challenge_day, steps, runs
		FROM leaderboard_individual
		WHERE challenge_day >= ? AND challenge_day <= ?
		ORDER BY challenge_day, user_id
	`, int(from), int(to))
}

func (v *txView) IndividualScoresOn(ctx context.Context, d challenge.Date) ([]challenge.IndividualScoreRow, error) {
	return v.queryScores(ctx, `
		SELECT user_id, date, challenge_day, steps, runs
		FROM leaderboard_individual
		WHERE date = ?
		ORDER BY challenge_day, user_id
	`, d.String())
}

func (v *txView) queryScores(ctx context.Context, query string, args ...any) ([]challenge.IndividualScoreRow, error) {
	rows, err := v.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var out []challenge.IndividualScoreRow
	for rows.Next() {
		var r challenge.IndividualScoreRow
		var user, date string
		var day int
		if err := rows.Scan(&user, &date, &day, &r.Steps, &r.Runs); err != nil {
			return nil, err
		}
		if r.Date, err = challenge.ParseDate(date); err != nil {
			return nil, fmt.Errorf("stored score for %s: %w", user, err)
		}
		r.UserID, r.ChallengeDay = challenge.UserID(user), challenge.ChallengeDay(day)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (v *txView) CountScores(ctx context.Context, day challenge.ChallengeDay) (int, int, error) {
	var individual, team int
	err := v.tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leaderboard_individual WHERE challenge_day = ?),
			(SELECT COUNT(*) FROM leaderboard_team WHERE challenge_day = ?)
	`, int(day), int(day)).Scan(&individual, &team)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return individual, team, nil
}

func (v *txView) UpsertIndividualScores(ctx context.Context, rows []challenge.IndividualScoreRow) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		_, err := v.tx.ExecContext(ctx, `
			INSERT INTO leaderboard_individual (user_id, date, challenge_day, steps, runs, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, challenge_day) DO UPDATE SET
				date = excluded.date,
				steps = excluded.steps,
				runs = excluded.runs,
				updated_at = excluded.updated_at
		`, string(r.UserID), r.Date.String(), int(r.ChallengeDay), r.Steps, r.Runs, now)
		if err != nil {
			return fmt.Errorf("failed to upsert score for %s: %w", r.UserID, err)
		}
	}
	return nil
}

func (v *txView) UpsertTeamScores(ctx context.Context, rows []challenge.TeamScoreRow) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		_, err := v.tx.ExecContext(ctx, `
			INSERT INTO leaderboard_team (team_id, date, challenge_day, total_steps, total_runs, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(team_id, challenge_day) DO UPDATE SET
				date = excluded.date,
				total_steps = excluded.total_steps,
				total_runs = excluded.total_runs,
				updated_at = excluded.updated_at
		`, string(r.TeamID), r.Date.String(), int(r.ChallengeDay), r.TotalSteps, r.TotalRuns, now)
		if err != nil {
			return fmt.Errorf("failed to upsert team score for %s: %w", r.TeamID, err)
		}
	}
	return nil
}

// TeamScores returns stored team rows for a day. The leaderboard derives
// team totals from individual rows; these back admin inspection.
func (v *txView) TeamScores(ctx context.Context, day challenge.ChallengeDay) ([]challenge.TeamScoreRow, error) {
	rows, err := v.tx.QueryContext(ctx, `
		SELECT team_id, date, challenge_day, total_steps, total_runs
		FROM leaderboard_team
		WHERE challenge_day = ?
		ORDER BY team_id
	`, int(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query team scores: %w", err)
	}
	defer rows.Close()

	var out []challenge.TeamScoreRow
	for rows.Next() {
		var r challenge.TeamScoreRow
		var team, date string
		var d int
		if err := rows.Scan(&team, &date, &d, &r.TotalSteps, &r.TotalRuns); err != nil {
			return nil, err
		}
		if r.Date, err = challenge.ParseDate(date); err != nil {
			return nil, fmt.Errorf("stored team score for %s: %w", team, err)
		}
		r.TeamID, r.ChallengeDay = challenge.TeamID(team), challenge.ChallengeDay(d)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// UPLOADS
// =============================================================================

func (v *txView) ListUploads(ctx context.Context) ([]challenge.UploadSummary, error) {
	rows, err := v.tx.QueryContext(ctx, `
		SELECT u.id, u.file_name, u.uploaded_by, u.upload_date, u.uploaded_at,
		       u.challenge_day, u.status,
		       (SELECT COUNT(*) FROM steps_raw r WHERE r.upload_id = u.id)
		FROM uploads u
		ORDER BY u.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var out []challenge.UploadSummary
	for rows.Next() {
		var s challenge.UploadSummary
		if err := scanUpload(rows, &s.Upload, &s.Records); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (v *txView) ActiveUpload(ctx context.Context, day challenge.ChallengeDay) (*challenge.Upload, error) {
	row := v.tx.QueryRowContext(ctx, `
		SELECT id, file_name, uploaded_by, upload_date, uploaded_at, challenge_day, status
		FROM uploads
		WHERE challenge_day = ? AND status = 'active'
	`, int(day))

	var u challenge.Upload
	err := scanUpload(row, &u)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (v *txView) SupersedeActive(ctx context.Context, day challenge.ChallengeDay) (int, error) {
	res, err := v.tx.ExecContext(ctx,
		`UPDATE uploads SET status = 'superseded' WHERE challenge_day = ? AND status = 'active'`,
		int(day))
	if err != nil {
		return 0, fmt.Errorf("failed to supersede uploads: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (v *txView) DeleteDay(ctx context.Context, day challenge.ChallengeDay) (challenge.DeletedCounts, error) {
	var counts challenge.DeletedCounts
	targets := []struct {
		table string
		count *int
	}{
		{"steps_raw", &counts.RawSteps},
		{"leaderboard_individual", &counts.Individual},
		{"leaderboard_team", &counts.Team},
	}
	for _, t := range targets {
		res, err := v.tx.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE challenge_day = ?", int(day))
		if err != nil {
			return challenge.DeletedCounts{}, fmt.Errorf("failed to clear %s: %w", t.table, err)
		}
		n, _ := res.RowsAffected()
		*t.count = int(n)
	}
	return counts, nil
}

func (v *txView) CreateUpload(ctx context.Context, u challenge.Upload) (challenge.UploadID, error) {
	res, err := v.tx.ExecContext(ctx, `
		INSERT INTO uploads (file_name, uploaded_by, upload_date, uploaded_at, challenge_day, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.FileName, u.UploadedBy, u.UploadDate.String(), u.UploadedAt.UTC().Format(time.RFC3339Nano),
		int(u.ChallengeDay), string(u.Status))
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("day %d already has an active upload: %w", u.ChallengeDay, err)
		}
		return 0, fmt.Errorf("failed to create upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read upload id: %w", err)
	}
	return challenge.UploadID(id), nil
}

func (v *txView) InsertRawSteps(ctx context.Context, rows []challenge.RawStepRecord) error {
	stmt, err := v.tx.PrepareContext(ctx, `
		INSERT INTO steps_raw (user_id, date, challenge_day, steps, source, upload_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare raw insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, string(r.UserID), r.Date.String(), int(r.ChallengeDay),
			r.Steps, r.Source, int64(r.UploadID))
		if err != nil {
			return fmt.Errorf("failed to insert raw steps for %s: %w", r.UserID, err)
		}
	}
	return nil
}

func (v *txView) RawSteps(ctx context.Context, id challenge.UploadID) ([]challenge.RawStepRecord, error) {
	rows, err := v.tx.QueryContext(ctx, `
		SELECT user_id, date, challenge_day, steps, source, upload_id
		FROM steps_raw
		WHERE upload_id = ?
		ORDER BY id
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query raw steps: %w", err)
	}
	defer rows.Close()

	var out []challenge.RawStepRecord
	for rows.Next() {
		var r challenge.RawStepRecord
		var user, date string
		var day int
		var upload int64
		if err := rows.Scan(&user, &date, &day, &r.Steps, &r.Source, &upload); err != nil {
			return nil, err
		}
		if r.Date, err = challenge.ParseDate(date); err != nil {
			return nil, fmt.Errorf("stored raw row for %s: %w", user, err)
		}
		r.UserID, r.ChallengeDay, r.UploadID = challenge.UserID(user), challenge.ChallengeDay(day), challenge.UploadID(upload)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUpload reads the upload columns in table order, then any extra columns.
func scanUpload(row scanner, u *challenge.Upload, extra ...any) error {
	var id int64
	var uploadDate, uploadedAt, status string
	var day int
	dest := append([]any{&id, &u.FileName, &u.UploadedBy, &uploadDate, &uploadedAt, &day, &status}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}

	d, err := challenge.ParseDate(uploadDate)
	if err != nil {
		return fmt.Errorf("upload %d: %w", id, err)
	}
	u.ID = challenge.UploadID(id)
	u.UploadDate = d
	u.UploadedAt, _ = time.Parse(time.RFC3339Nano, uploadedAt)
	u.ChallengeDay = challenge.ChallengeDay(day)
	u.Status = challenge.UploadStatus(status)
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all challenge and roster data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(w challenge.Writer) error {
		tx := w.(*txView).tx
		tables := []string{"steps_raw", "leaderboard_individual", "leaderboard_team", "uploads", "users", "teams"}
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

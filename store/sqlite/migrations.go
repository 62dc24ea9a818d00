package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// schemaVersion is the latest migration New applies.
const schemaVersion = 2

var migrations = map[int]string{
	1: `
	-- Roster (seeded, read-only to the engine)
	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- team_id is not a foreign key: a user whose team is missing still ranks,
	-- shown under the placeholder team name.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		team_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_team ON users(team_id);
	`,

	2: `
	-- Upload history. Superseded uploads are kept, their rows are not.
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		uploaded_by TEXT NOT NULL,
		upload_date TEXT NOT NULL,
		uploaded_at TEXT NOT NULL,
		challenge_day INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'superseded'))
	);

	-- CRITICAL: at most one active upload per challenge day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_one_active
		ON uploads(challenge_day) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS steps_raw (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		challenge_day INTEGER NOT NULL,
		steps INTEGER NOT NULL CHECK (steps >= 0),
		source TEXT NOT NULL,
		upload_id INTEGER NOT NULL REFERENCES uploads(id)
	);

	CREATE INDEX IF NOT EXISTS idx_steps_raw_day ON steps_raw(challenge_day);
	CREATE INDEX IF NOT EXISTS idx_steps_raw_upload ON steps_raw(upload_id);

	-- Base scores only; multipliers and bonuses are applied on read.
	CREATE TABLE IF NOT EXISTS leaderboard_individual (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		challenge_day INTEGER NOT NULL,
		steps INTEGER NOT NULL,
		runs INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, challenge_day)
	);

	CREATE INDEX IF NOT EXISTS idx_individual_date ON leaderboard_individual(date);

	CREATE TABLE IF NOT EXISTS leaderboard_team (
		team_id TEXT NOT NULL,
		date TEXT NOT NULL,
		challenge_day INTEGER NOT NULL,
		total_steps INTEGER NOT NULL,
		total_runs INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(team_id, challenge_day)
	);
	`,
}

// migrate applies every migration after the recorded schema version, each in
// its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create store_meta: %w", err)
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return fmt.Errorf("missing migration for version %d", v)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", v, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO store_meta (key, value, updated_at) VALUES ('schema_version', ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			strconv.Itoa(v), time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}
	return nil
}

// currentVersion returns 0 when no version has been recorded.
func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// SchemaVersion reports the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.currentVersion(ctx)
}

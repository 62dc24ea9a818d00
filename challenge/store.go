/*
store.go - Persistence interface for the challenge engine

PURPOSE:
  Defines the boundary between the scoring engine and the relational store.
  The engine never holds a global database handle; a Store is passed to
  each component explicitly.

KEY INTERFACES:
  Reader:  Roster lookups and score/upload range queries
  Writer:  Reader plus the mutations used by the atomic day replace
  Store:   Transaction (WithTx) and consistent-read (Snapshot) entry points

ATOMIC DAY REPLACE:
  Ingestion runs supersede + delete + insert for one challenge day inside a
  single WithTx call. If fn returns an error nothing is committed, so the
  prior upload stays active and its scores stay intact.

ISOLATION:
  Implementations must serialize WithTx calls that touch the same day.
  Snapshot must not observe a half-committed WithTx.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (database/sql)
  - challenge/store/memory.go: In-memory for testing

SEE ALSO:
  - ingest.go: Uses Writer inside WithTx
  - leaderboard.go: Uses Reader inside Snapshot
*/
package challenge

import "context"

// =============================================================================
// READER
// =============================================================================

// Reader exposes read queries. Slices returned are owned by the caller.
type Reader interface {
	// ListUsers returns the full roster ordered by user id.
	ListUsers(ctx context.Context) ([]User, error)

	// ListTeams returns all teams ordered by team id.
	ListTeams(ctx context.Context) ([]Team, error)

	// LookupUsers returns the subset of ids present in the roster.
	LookupUsers(ctx context.Context, ids []UserID) (map[UserID]User, error)

	// IndividualScores returns rows with challenge day in [from, to].
	IndividualScores(ctx context.Context, from, to ChallengeDay) ([]IndividualScoreRow, error)

	// IndividualScoresOn returns rows whose date equals d.
	IndividualScoresOn(ctx context.Context, d Date) ([]IndividualScoreRow, error)

	// CountScores returns the individual and team row counts for a day.
	CountScores(ctx context.Context, day ChallengeDay) (individual, team int, err error)

	// TeamScores returns the stored team rows for a day, ordered by team id.
	TeamScores(ctx context.Context, day ChallengeDay) ([]TeamScoreRow, error)

	// ListUploads returns every upload, newest first, with raw row counts.
	ListUploads(ctx context.Context) ([]UploadSummary, error)

	// ActiveUpload returns the active upload for a day, or nil.
	ActiveUpload(ctx context.Context, day ChallengeDay) (*Upload, error)

	// RawSteps returns the raw rows owned by an upload.
	RawSteps(ctx context.Context, id UploadID) ([]RawStepRecord, error)
}

// =============================================================================
// WRITER - Only available inside WithTx
// =============================================================================

type Writer interface {
	Reader

	// SupersedeActive marks active uploads for the day as superseded.
	SupersedeActive(ctx context.Context, day ChallengeDay) (int, error)

	// DeleteDay removes raw, individual and team rows for the day.
	DeleteDay(ctx context.Context, day ChallengeDay) (DeletedCounts, error)

	// CreateUpload inserts an upload and returns its id.
	CreateUpload(ctx context.Context, u Upload) (UploadID, error)

	InsertRawSteps(ctx context.Context, rows []RawStepRecord) error

	// UpsertIndividualScores writes rows keyed by (user, challenge day).
	UpsertIndividualScores(ctx context.Context, rows []IndividualScoreRow) error

	// UpsertTeamScores writes rows keyed by (team, challenge day).
	UpsertTeamScores(ctx context.Context, rows []TeamScoreRow) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Writer) error) error

	// Snapshot executes fn against a consistent view of the data.
	Snapshot(ctx context.Context, fn func(Reader) error) error
}

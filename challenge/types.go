package challenge

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type TeamID string
type UploadID int64

// =============================================================================
// ROSTER - Static directory data, read-only to the engine
// =============================================================================

type User struct {
	ID     UserID
	Name   string
	TeamID TeamID
}

type Team struct {
	ID   TeamID
	Name string
}

// =============================================================================
// INGESTION INPUT
// =============================================================================

// BatchRow is one parsed spreadsheet row.
type BatchRow struct {
	UserID UserID
	Steps  int
	Date   Date
}

// Batch is a parsed upload ready for ingestion.
type Batch struct {
	FileName   string
	UploadedBy string // defaults to "admin"
	Rows       []BatchRow
}

// IngestResult summarizes a successful ingestion.
type IngestResult struct {
	UploadID      UploadID
	ChallengeDay  ChallengeDay
	Date          Date
	RowsProcessed int
}

// =============================================================================
// STORED RECORDS
// =============================================================================

type UploadStatus string

const (
	UploadActive     UploadStatus = "active"
	UploadSuperseded UploadStatus = "superseded"
)

// SourceAdminUpload tags raw rows that came from a batch file.
const SourceAdminUpload = "admin_upload"

// Upload is the record of one ingested batch. At most one Upload per
// challenge day is active.
type Upload struct {
	ID           UploadID
	FileName     string
	UploadedBy   string
	UploadDate   Date // the batch's date, not the wall clock
	UploadedAt   time.Time
	ChallengeDay ChallengeDay
	Status       UploadStatus
}

// UploadSummary is an Upload with its raw row count.
type UploadSummary struct {
	Upload
	Records int
}

// RawStepRecord is an as-uploaded step count, owned by one Upload.
type RawStepRecord struct {
	UserID       UserID
	Date         Date
	ChallengeDay ChallengeDay
	Steps        int
	Source       string
	UploadID     UploadID
}

// IndividualScoreRow holds BASE runs only. Multipliers and bonuses are
// derived at read time and never stored.
type IndividualScoreRow struct {
	UserID       UserID
	Date         Date
	ChallengeDay ChallengeDay
	Steps        int
	Runs         int
}

// TeamScoreRow holds base totals for a team on one day.
type TeamScoreRow struct {
	TeamID       TeamID
	Date         Date
	ChallengeDay ChallengeDay
	TotalSteps   int
	TotalRuns    int
}

// DeletedCounts reports what a day replacement removed.
type DeletedCounts struct {
	RawSteps   int
	Individual int
	Team       int
}

// =============================================================================
// LEADERBOARD OUTPUT (derived, never persisted)
// =============================================================================

// IndividualEntry is one ranked user. Steps and Runs are nil when the user
// has no data for the period; Runs are enhanced (multiplier + bonuses).
type IndividualEntry struct {
	Rank     int
	UserID   UserID
	UserName string
	TeamID   TeamID
	TeamName string
	Steps    *int
	Runs     *int
}

// TeamEntry is one ranked team. Totals are nil when no member contributed,
// which is distinct from contributions summing to zero.
type TeamEntry struct {
	Rank       int
	TeamID     TeamID
	TeamName   string
	TotalSteps *int
	TotalRuns  *int
}

// Preview bundles both boards for one date.
type Preview struct {
	Date         Date
	ChallengeDay ChallengeDay
	Individual   []IndividualEntry
	Team         []TeamEntry
}

// PublishReceipt confirms a day has leaderboard data.
type PublishReceipt struct {
	Date            Date
	ChallengeDay    ChallengeDay
	PublishedAt     time.Time
	IndividualCount int
	TeamCount       int
	UploadID        UploadID // active upload for the day
}

// UnknownTeamName is shown when a user's team is missing from the roster.
const UnknownTeamName = "Unknown Team"

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the challenge domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

NULLS:
  Steps and runs on board entries are pointers. A user or team without data
  for the period serializes as null, never as 0.

SEE ALSO:
  - handlers.go: Uses these types
  - challenge/types.go: Domain types these are built from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/step-league/batch"
	"github.com/warp/step-league/challenge"
)

// =============================================================================
// ROSTER
// =============================================================================

type UserDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
}

type TeamDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// LEADERBOARDS
// =============================================================================

// IndividualEntryDTO is one row of an individual board.
type IndividualEntryDTO struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Steps    *int   `json:"steps"`
	Runs     *int   `json:"runs"`
}

// TeamEntryDTO is one row of a team board.
type TeamEntryDTO struct {
	Rank       int    `json:"rank"`
	TeamID     string `json:"team_id"`
	TeamName   string `json:"team_name"`
	TotalSteps *int   `json:"total_steps"`
	TotalRuns  *int   `json:"total_runs"`
}

// PreviewDTO is the admin preview of both boards for a date.
type PreviewDTO struct {
	Date         string               `json:"date"`
	ChallengeDay int                  `json:"challenge_day"`
	Individual   []IndividualEntryDTO `json:"individual"`
	Team         []TeamEntryDTO       `json:"team"`
}

// =============================================================================
// ADMIN
// =============================================================================

// UploadResponse is returned after a batch file is ingested.
type UploadResponse struct {
	Message       string           `json:"message"`
	UploadID      int64            `json:"upload_id"`
	FileName      string           `json:"file_name"`
	Date          string           `json:"date"`
	ChallengeDay  int              `json:"challenge_day"`
	RowsProcessed int              `json:"rows_processed"`
	Skipped       []batch.RowError `json:"skipped,omitempty"`
}

// UploadDTO is one entry of the upload history.
type UploadDTO struct {
	ID           int64  `json:"id"`
	FileName     string `json:"file_name"`
	UploadedBy   string `json:"uploaded_by"`
	UploadDate   string `json:"upload_date"`
	UploadedAt   string `json:"uploaded_at"`
	ChallengeDay int    `json:"challenge_day"`
	Status       string `json:"status"`
	Records      int    `json:"records"`
}

// DailyStepsDTO is one stored score row for a date, joined with the roster.
type DailyStepsDTO struct {
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	TeamName     string `json:"team_name"`
	Date         string `json:"date"`
	ChallengeDay int    `json:"challenge_day"`
	Steps        int    `json:"steps"`
	Runs         int    `json:"runs"`
}

// TeamStepsDTO is one stored base team row for a date.
type TeamStepsDTO struct {
	TeamID       string `json:"team_id"`
	TeamName     string `json:"team_name"`
	Date         string `json:"date"`
	ChallengeDay int    `json:"challenge_day"`
	TotalSteps   int    `json:"total_steps"`
	TotalRuns    int    `json:"total_runs"`
}

// RawStepDTO is one row of an upload as it was ingested.
type RawStepDTO struct {
	UserID       string `json:"user_id"`
	Date         string `json:"date"`
	ChallengeDay int    `json:"challenge_day"`
	Steps        int    `json:"steps"`
	Source       string `json:"source"`
}

// SummaryDTO reports participation for a date.
type SummaryDTO struct {
	Date           string          `json:"date"`
	ChallengeDay   int             `json:"challenge_day"`
	RosterSize     int             `json:"roster_size"`
	Participants   int             `json:"participants"`
	Completed      int             `json:"completed"`
	TotalSteps     int             `json:"total_steps"`
	AverageSteps   decimal.Decimal `json:"average_steps"`
	CompletionRate decimal.Decimal `json:"completion_rate"`
}

// PublishRequest names the date to publish.
type PublishRequest struct {
	Date string `json:"date"`
}

// PublishResponse confirms a publish.
type PublishResponse struct {
	Message         string `json:"message"`
	Date            string `json:"date"`
	ChallengeDay    int    `json:"challenge_day"`
	PublishedAt     string `json:"published_at"`
	IndividualCount int    `json:"individual_count"`
	TeamCount       int    `json:"team_count"`
	UploadID        int64  `json:"upload_id,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toIndividualDTOs(entries []challenge.IndividualEntry) []IndividualEntryDTO {
	dtos := make([]IndividualEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = IndividualEntryDTO{
			Rank:     e.Rank,
			UserID:   string(e.UserID),
			UserName: e.UserName,
			TeamID:   string(e.TeamID),
			TeamName: e.TeamName,
			Steps:    e.Steps,
			Runs:     e.Runs,
		}
	}
	return dtos
}

func toTeamDTOs(entries []challenge.TeamEntry) []TeamEntryDTO {
	dtos := make([]TeamEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = TeamEntryDTO{
			Rank:       e.Rank,
			TeamID:     string(e.TeamID),
			TeamName:   e.TeamName,
			TotalSteps: e.TotalSteps,
			TotalRuns:  e.TotalRuns,
		}
	}
	return dtos
}

func toUploadDTO(u challenge.UploadSummary) UploadDTO {
	return UploadDTO{
		ID:           int64(u.ID),
		FileName:     u.FileName,
		UploadedBy:   u.UploadedBy,
		UploadDate:   u.UploadDate.String(),
		UploadedAt:   u.UploadedAt.UTC().Format(time.RFC3339),
		ChallengeDay: int(u.ChallengeDay),
		Status:       string(u.Status),
		Records:      u.Records,
	}
}

func toSummaryDTO(s challenge.DaySummary) SummaryDTO {
	return SummaryDTO{
		Date:           s.Date.String(),
		ChallengeDay:   int(s.ChallengeDay),
		RosterSize:     s.RosterSize,
		Participants:   s.Participants,
		Completed:      s.Completed,
		TotalSteps:     s.TotalSteps,
		AverageSteps:   s.AverageSteps,
		CompletionRate: s.CompletionRate,
	}
}

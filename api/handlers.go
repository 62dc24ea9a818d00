/*
handlers.go - HTTP API handlers for the step challenge

PURPOSE:
  Exposes the ingestion pipeline and leaderboard aggregator via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  the challenge package for everything else.

ENDPOINTS:
  Public:
    GET    /health                                 Store ping
    GET    /api/users                              Roster with team names
    GET    /api/teams                              Teams
    GET    /api/leaderboard/individual?date=       Individual board for a date
    GET    /api/leaderboard/team?date=             Team board for a date
    GET    /api/leaderboard/aggregated/individual  Whole-challenge individual board
    GET    /api/leaderboard/aggregated/team        Whole-challenge team board

  Admin:
    POST   /api/admin/upload                       Ingest a batch file (multipart "file")
    GET    /api/admin/uploads                      Upload history, newest first
    GET    /api/admin/uploads/{id}/rows            Raw rows owned by an upload
    GET    /api/admin/daily-steps?date=            Stored rows for a date
    GET    /api/admin/team-steps?date=             Stored base team totals for a date
    GET    /api/admin/leaderboard-preview?date=    Both boards for a date
    GET    /api/admin/summary?date=                Participation stats
    POST   /api/admin/publish                      Confirm a day has data

ERROR HANDLING:
  Errors are returned as JSON {error, details} with status:
  - 400: Empty or invalid batch, malformed date, missing columns
  - 404: Nothing to publish
  - 413: Upload too large
  - 422: Batch references users outside the roster
  - 500: Store failures

SECURITY NOTE:
  No authentication. Admin routes are open to anyone who can reach them.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/step-league/batch"
	"github.com/warp/step-league/challenge"
	"github.com/warp/step-league/metrics"
)

const (
	// multipartMemory caps how much of an upload is buffered in memory before
	// the multipart reader spills to temp files.
	multipartMemory = 8 << 20

	// multipartOverhead is the room left above the file size limit for part
	// headers, boundaries, and the other form fields.
	multipartOverhead = 64 << 10
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the handlers need: transactional access for
// reads plus a liveness check.
type Store interface {
	challenge.Store
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store   Store
	boards  *challenge.Aggregator
	spool   *batch.Spool
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHandler wires the handlers. m and logger may be nil.
func NewHandler(store Store, boards *challenge.Aggregator, spool *batch.Spool, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		store:   store,
		boards:  boards,
		spool:   spool,
		metrics: m,
		log:     logger.With(slog.String("component", "api")),
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health pings the store.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// ROSTER
// =============================================================================

// ListUsers returns the roster with team names.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		users []challenge.User
		teams []challenge.Team
	)
	err := h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		if users, err = rd.ListUsers(ctx); err != nil {
			return err
		}
		teams, err = rd.ListTeams(ctx)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to list users", err)
		return
	}

	names := teamNames(teams)
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = UserDTO{
			ID:       string(u.ID),
			Name:     u.Name,
			TeamID:   string(u.TeamID),
			TeamName: teamName(names, u.TeamID),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListTeams returns all teams.
// GET /api/teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var teams []challenge.Team
	err := h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		teams, err = rd.ListTeams(ctx)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to list teams", err)
		return
	}

	dtos := make([]TeamDTO, len(teams))
	for i, t := range teams {
		dtos[i] = TeamDTO{ID: string(t.ID), Name: t.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEADERBOARDS
// =============================================================================

// IndividualLeaderboard returns the individual board for ?date=YYYY-MM-DD.
// GET /api/leaderboard/individual
func (h *Handler) IndividualLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveBoard("individual")

	entries, err := h.boards.IndividualForDate(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Failed to build individual leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTOs(entries))
}

// TeamLeaderboard returns the team board for ?date=YYYY-MM-DD.
// GET /api/leaderboard/team
func (h *Handler) TeamLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveBoard("team")

	entries, err := h.boards.TeamForDate(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Failed to build team leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toTeamDTOs(entries))
}

// AggregatedIndividualLeaderboard sums every challenge day per user.
// GET /api/leaderboard/aggregated/individual
func (h *Handler) AggregatedIndividualLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveBoard("aggregated_individual")

	entries, err := h.boards.AggregatedIndividual(r.Context())
	if err != nil {
		h.fail(w, "Failed to build aggregated leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndividualDTOs(entries))
}

// AggregatedTeamLeaderboard sums every challenge day per team.
// GET /api/leaderboard/aggregated/team
func (h *Handler) AggregatedTeamLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveBoard("aggregated_team")

	entries, err := h.boards.AggregatedTeam(r.Context())
	if err != nil {
		h.fail(w, "Failed to build aggregated team leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toTeamDTOs(entries))
}

// =============================================================================
// ADMIN: UPLOADS
// =============================================================================

// Upload ingests a batch file from the multipart field "file". The optional
// form field "uploaded_by" names the uploader.
// POST /api/admin/upload
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if limit := h.spool.MaxBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if bodyTooLarge(r.Body, err) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large",
				fmt.Errorf("%w: %d bytes allowed", batch.ErrTooLarge, h.spool.MaxBytes()))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart request", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "No file uploaded", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid file field", err)
		return
	}
	defer file.Close()

	start := time.Now()
	out, err := h.spool.Accept(r.Context(), header.Filename, file, r.FormValue("uploaded_by"))
	h.metrics.ObserveIngest(err, out.Result.RowsProcessed, time.Since(start))
	if err != nil {
		if errors.Is(err, challenge.ErrEmptyBatch) && len(out.RowErrors) > 0 {
			writeErrorDetails(w, http.StatusBadRequest, "No valid rows in file", out.RowErrors)
			return
		}
		h.fail(w, "Failed to process file", err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Message:       "File processed successfully",
		UploadID:      int64(out.Result.UploadID),
		FileName:      header.Filename,
		Date:          out.Result.Date.String(),
		ChallengeDay:  int(out.Result.ChallengeDay),
		RowsProcessed: out.Result.RowsProcessed,
		Skipped:       out.RowErrors,
	})
}

// ListUploads returns the upload history.
// GET /api/admin/uploads
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var uploads []challenge.UploadSummary
	err := h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		uploads, err = rd.ListUploads(ctx)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to list uploads", err)
		return
	}

	dtos := make([]UploadDTO, len(uploads))
	for i, u := range uploads {
		dtos[i] = toUploadDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UploadRows returns the raw rows an upload still owns. Superseded uploads
// own none.
// GET /api/admin/uploads/{id}/rows
func (h *Handler) UploadRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid upload id", nil)
		return
	}

	var rows []challenge.RawStepRecord
	err = h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		rows, err = rd.RawSteps(ctx, challenge.UploadID(id))
		return err
	})
	if err != nil {
		h.fail(w, "Failed to load upload rows", err)
		return
	}

	dtos := make([]RawStepDTO, len(rows))
	for i, row := range rows {
		dtos[i] = RawStepDTO{
			UserID:       string(row.UserID),
			Date:         row.Date.String(),
			ChallengeDay: int(row.ChallengeDay),
			Steps:        row.Steps,
			Source:       row.Source,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TeamSteps lists the stored base team totals for ?date=.
// GET /api/admin/team-steps?date=
func (h *Handler) TeamSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date, err := challenge.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	rows, err := h.boards.StoredTeamTotals(ctx, date)
	if err != nil {
		h.fail(w, "Failed to load team steps", err)
		return
	}

	var teams []challenge.Team
	err = h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		teams, err = rd.ListTeams(ctx)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to load team steps", err)
		return
	}
	names := teamNames(teams)

	dtos := make([]TeamStepsDTO, len(rows))
	for i, row := range rows {
		dtos[i] = TeamStepsDTO{
			TeamID:       string(row.TeamID),
			TeamName:     teamName(names, row.TeamID),
			Date:         row.Date.String(),
			ChallengeDay: int(row.ChallengeDay),
			TotalSteps:   row.TotalSteps,
			TotalRuns:    row.TotalRuns,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DailySteps lists the stored score rows for ?date=, highest steps first.
// GET /api/admin/daily-steps
func (h *Handler) DailySteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date, err := challenge.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	var (
		rows  []challenge.IndividualScoreRow
		users []challenge.User
		teams []challenge.Team
	)
	err = h.store.Snapshot(ctx, func(rd challenge.Reader) error {
		var err error
		if rows, err = rd.IndividualScoresOn(ctx, date); err != nil {
			return err
		}
		if users, err = rd.ListUsers(ctx); err != nil {
			return err
		}
		teams, err = rd.ListTeams(ctx)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to load daily steps", err)
		return
	}

	byID := make(map[challenge.UserID]challenge.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	names := teamNames(teams)

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Steps != rows[j].Steps {
			return rows[i].Steps > rows[j].Steps
		}
		return rows[i].UserID < rows[j].UserID
	})

	dtos := make([]DailyStepsDTO, len(rows))
	for i, row := range rows {
		u := byID[row.UserID]
		dtos[i] = DailyStepsDTO{
			UserID:       string(row.UserID),
			UserName:     u.Name,
			TeamName:     teamName(names, u.TeamID),
			Date:         row.Date.String(),
			ChallengeDay: int(row.ChallengeDay),
			Steps:        row.Steps,
			Runs:         row.Runs,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN: LEADERBOARD
// =============================================================================

// Preview returns both boards for ?date= in one response.
// GET /api/admin/leaderboard-preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	date, err := challenge.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	p, err := h.boards.Preview(r.Context(), date)
	if err != nil {
		h.fail(w, "Failed to build preview", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewDTO{
		Date:         p.Date.String(),
		ChallengeDay: int(p.ChallengeDay),
		Individual:   toIndividualDTOs(p.Individual),
		Team:         toTeamDTOs(p.Team),
	})
}

// Summary returns participation stats for ?date=.
// GET /api/admin/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	date, err := challenge.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	s, err := h.boards.Summary(r.Context(), date)
	if err != nil {
		h.fail(w, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// Publish confirms the day for {"date": "YYYY-MM-DD"} has leaderboard data.
// POST /api/admin/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := challenge.ParseDate(req.Date)
	if err != nil {
		h.fail(w, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	receipt, err := h.boards.Publish(r.Context(), date)
	if err != nil {
		h.fail(w, "Failed to publish leaderboard", err)
		return
	}

	h.log.Info("leaderboard published",
		slog.String("date", receipt.Date.String()),
		slog.Int("challenge_day", int(receipt.ChallengeDay)))

	writeJSON(w, http.StatusOK, PublishResponse{
		Message:         "Leaderboard published",
		Date:            receipt.Date.String(),
		ChallengeDay:    int(receipt.ChallengeDay),
		PublishedAt:     receipt.PublishedAt.Format(time.RFC3339),
		IndividualCount: receipt.IndividualCount,
		TeamCount:       receipt.TeamCount,
		UploadID:        int64(receipt.UploadID),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// fail maps a domain error onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	var (
		unknown *challenge.UnknownUserError
		missing *batch.MissingColumnsError
	)
	switch {
	case errors.As(err, &unknown):
		ids := make([]string, len(unknown.IDs))
		for i, id := range unknown.IDs {
			ids[i] = string(id)
		}
		writeErrorDetails(w, http.StatusUnprocessableEntity, unknown.Error(), map[string]any{"user_ids": ids})
	case errors.As(err, &missing):
		writeErrorDetails(w, http.StatusBadRequest, missing.Error(), map[string]any{
			"missing":   missing.Missing,
			"available": missing.Available,
		})
	case errors.Is(err, batch.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, message, err)
	case challenge.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case challenge.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.log.Error(message, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// bodyTooLarge reports whether err came from a MaxBytesReader cutting the
// body off. The multipart reader does not always wrap the cause, so the body
// is asked again; a tripped MaxBytesReader keeps returning its error.
func bodyTooLarge(body io.Reader, err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	_, err = body.Read(make([]byte, 1))
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorDetails(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

func teamNames(teams []challenge.Team) map[challenge.TeamID]string {
	names := make(map[challenge.TeamID]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	return names
}

func teamName(names map[challenge.TeamID]string, id challenge.TeamID) string {
	if name, ok := names[id]; ok {
		return name
	}
	return challenge.UnknownTeamName
}

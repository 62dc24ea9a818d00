/*
errors.go - Centralized error types for the challenge engine

PURPOSE:
  All error types in one place. Callers branch with errors.Is / errors.As;
  the HTTP layer maps them onto status codes.

ERROR CATEGORIES:
  1. Validation errors - detected before any mutation, no side effects
     (ErrEmptyBatch, ErrInvalidBatch, ErrUnknownUser, ErrMalformedDate)
  2. Store errors - failures inside the atomic replace; fully rolled back
     (ErrStoreFailure)
  3. Read errors - ErrNothingToPublish for an empty day

SEE ALSO:
  - ingest.go: Produces validation and store errors
  - api/handlers.go: Maps errors onto HTTP statuses
*/
package challenge

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmptyBatch is returned when a batch has no rows.
	ErrEmptyBatch = errors.New("batch contains no rows")

	// ErrInvalidBatch is returned when a row violates a domain constraint.
	ErrInvalidBatch = errors.New("invalid batch row")

	// ErrUnknownUser is returned when a batch references ids outside the roster.
	ErrUnknownUser = errors.New("unknown user")

	// ErrMalformedDate is returned when a date cannot be normalized.
	ErrMalformedDate = errors.New("malformed date")

	// ErrStoreFailure wraps any failure during a transactional write.
	ErrStoreFailure = errors.New("store failure")

	// ErrNothingToPublish is returned when a day has no score rows.
	ErrNothingToPublish = errors.New("no leaderboard data for day")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownUserError names every id in the batch missing from the roster.
type UnknownUserError struct {
	IDs []UserID
}

func (e *UnknownUserError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("unknown user_id: %s", strings.Join(ids, ", "))
}

func (e *UnknownUserError) Unwrap() error {
	return ErrUnknownUser
}

// InvalidRowError describes a row that fails domain validation. Row is the
// 1-based position in the batch.
type InvalidRowError struct {
	Row    int
	Reason string
}

func (e *InvalidRowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *InvalidRowError) Unwrap() error {
	return ErrInvalidBatch
}

// storeError keeps both the sentinel and the cause visible to errors.Is.
type storeError struct {
	cause error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStoreFailure, e.cause)
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreFailure, e.cause}
}

// wrapStore marks err as a store failure unless it already is one.
func wrapStore(err error) error {
	if err == nil || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return &storeError{cause: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrInvalidBatch) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrMalformedDate)
}

// IsNotFound returns true if the error indicates missing data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNothingToPublish)
}

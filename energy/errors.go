/*
errors.go - Centralized error types for the monitoring engine

PURPOSE:
  All error types in one place. Every structured error unwraps to a
  sentinel so callers can branch with errors.Is and still read details
  with errors.As.

ERROR CATEGORIES:
  1. Reading errors - duplicate date, unknown id, meter regression
  2. Input errors   - missing or malformed fields
  3. Upstream errors - forecast / OCR provider failures or missing credentials

HTTP MAPPING (api/handlers.go):
  DuplicateDateError -> 409
  NotFoundError      -> 404
  RegressionError    -> 400
  ValidationError    -> 400
  UpstreamError      -> 502
  UnconfiguredError  -> 500
*/
package energy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateDate is returned when a reading already exists for the date.
	ErrDuplicateDate = errors.New("reading already exists for date")

	// ErrNotFound is returned when a reading id does not exist.
	ErrNotFound = errors.New("reading not found")

	// ErrRegression is returned when a cumulative meter value is below the
	// value of the chronologically previous reading.
	ErrRegression = errors.New("meter value below previous reading")

	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("invalid input")

	// ErrUpstream is returned when an external provider fails or answers
	// with something unusable.
	ErrUpstream = errors.New("upstream provider failed")

	// ErrUnconfigured is returned when a required external credential is missing.
	ErrUnconfigured = errors.New("not configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateDateError names the date that is already taken.
type DuplicateDateError struct {
	Date Date
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("a reading for %s already exists", e.Date)
}

func (e *DuplicateDateError) Unwrap() error { return ErrDuplicateDate }

// NotFoundError names the missing reading id.
type NotFoundError struct {
	ID ReadingID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reading %d not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RegressionError reports a meter value lower than its predecessor's.
// Minimum is the smallest acceptable value.
type RegressionError struct {
	Date         Date
	Got          float64
	Minimum      float64
	PreviousDate Date
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("meter_hp must be >= %v (reading of %s), got %v",
		e.Minimum, e.PreviousDate, e.Got)
}

func (e *RegressionError) Unwrap() error { return ErrRegression }

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UpstreamError wraps a failure of an external provider.
// Status is the provider's HTTP status, 0 for transport-level failures.
type UpstreamError struct {
	Service string
	Status  int
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

// UnconfiguredError names the missing credential or setting.
type UnconfiguredError struct {
	Setting string
}

func (e *UnconfiguredError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

func (e *UnconfiguredError) Unwrap() error { return ErrUnconfigured }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateDate) ||
		errors.Is(err, ErrRegression) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing reading.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

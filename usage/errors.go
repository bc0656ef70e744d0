/*
errors.go - Centralized error types for the usage loader

PURPOSE:
  All error types in one place for consistency and discoverability.
  Readers, the canonicalizer, the resolver and the stores wrap these
  with file and row context.

ERROR CATEGORIES:
  1. Document errors - the file cannot be read as a known report
  2. Row errors      - a cell cannot be converted (counts, enum values)
  3. Reference errors - the platform is not in the reference table
  4. Bulk errors     - staging copy or reconciliation failures

FILE ISOLATION:
  Every error returned while processing one file is fatal for that file
  only. The batch runner records it and moves on to the next file.
  A report that is already in the inventory ledger is NOT an error; the
  loader reports it as a skipped outcome.

SEE ALSO:
  - canonical.go: Row errors
  - resolver.go: Reference errors
  - bulk.go: Bulk errors
*/
package usage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnrecognizedFormat is returned when the first cell matches no known report layout.
	ErrUnrecognizedFormat = errors.New("unrecognized report format")

	// ErrMissingHeaderField is returned when a required header cell is blank.
	ErrMissingHeaderField = errors.New("missing header field")

	// ErrMalformedCount is returned when a monthly count is not a non-negative number.
	ErrMalformedCount = errors.New("malformed count")

	// ErrUnknownType is returned for access or metric type values outside the code tables.
	ErrUnknownType = errors.New("unknown access or metric type")

	// ErrInvalidPeriod is returned when a reporting period is unparseable,
	// ends before it begins, or spans more than one calendar year.
	ErrInvalidPeriod = errors.New("invalid reporting period")

	// ErrUnresolvedPlatform is returned when a row names a platform with no reference entry.
	ErrUnresolvedPlatform = errors.New("unresolved platform")

	// ErrOrphanMetric is returned when a staged metric has no resolved title after propagation.
	ErrOrphanMetric = errors.New("staged metric without resolved title")

	// ErrBulkCopy is returned when the staging bulk copy fails. Nothing is loaded.
	ErrBulkCopy = errors.New("bulk copy failed")

	// ErrBatchFailures is returned by batch runs in which at least one file failed.
	ErrBatchFailures = errors.New("one or more reports failed to load")

	// ErrNotFound is returned by query lookups for missing records.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingHeaderError names the header field and the cell it was expected in.
type MissingHeaderError struct {
	Field string
	Cell  string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("missing header field %s at %s", e.Field, e.Cell)
}

func (e *MissingHeaderError) Unwrap() error {
	return ErrMissingHeaderField
}

// MalformedCountError identifies the offending cell.
type MalformedCountError struct {
	Row   int
	Month string
	Value string
}

func (e *MalformedCountError) Error() string {
	return fmt.Sprintf("row %d: malformed count %q for %s", e.Row, e.Value, e.Month)
}

func (e *MalformedCountError) Unwrap() error {
	return ErrMalformedCount
}

// UnknownTypeError carries the value that did not match an access or metric code.
type UnknownTypeError struct {
	Kind  string // "access_type" or "metric_type"
	Value string
	Row   int
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("row %d: unknown %s %q", e.Row, e.Kind, e.Value)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}

// PeriodError describes why a reporting period was rejected.
type PeriodError struct {
	Value  string
	Reason string
}

func (e *PeriodError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid reporting period: %s", e.Reason)
	}
	return fmt.Sprintf("invalid reporting period %q: %s", e.Value, e.Reason)
}

func (e *PeriodError) Unwrap() error {
	return ErrInvalidPeriod
}

// UnresolvedPlatformError names the platform that was not found.
type UnresolvedPlatformError struct {
	Platform string
	Row      int
}

func (e *UnresolvedPlatformError) Error() string {
	return fmt.Sprintf("row %d: platform %q not found in platform reference", e.Row, e.Platform)
}

func (e *UnresolvedPlatformError) Unwrap() error {
	return ErrUnresolvedPlatform
}

// OrphanMetricError identifies the staged metric that lost its title link.
type OrphanMetricError struct {
	SourceFile string
	SourceRow  int
}

func (e *OrphanMetricError) Error() string {
	return fmt.Sprintf("%s row %d: staged metric has no resolved title", e.SourceFile, e.SourceRow)
}

func (e *OrphanMetricError) Unwrap() error {
	return ErrOrphanMetric
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFileFatal returns true for errors caused by the content of one source file.
func IsFileFatal(err error) bool {
	return errors.Is(err, ErrUnrecognizedFormat) ||
		errors.Is(err, ErrMissingHeaderField) ||
		errors.Is(err, ErrMalformedCount) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnresolvedPlatform)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

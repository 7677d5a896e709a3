package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/stacksync/internal/model"
)

// FetchError is returned when a metadata or checksum fetch keeps failing
// after the retry schedule is exhausted.
type FetchError struct {
	// Type is the migration type being read.
	Type model.MigrationType

	// Op names the failing call (e.g. "rows", "rows/range", "checksum").
	Op string

	// Attempts is the number of calls made, including the first.
	Attempts int

	// Err is the error from the last attempt.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s failed after %d attempts: %v", e.Op, e.Type, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ApplyError is returned when a batch cannot be applied even after it has
// been split down to a single record.
type ApplyError struct {
	Type     model.MigrationType
	Category model.Category

	// FirstID is the first id of the failing batch; Size its length.
	FirstID int64
	Size    int

	Err error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s %s batch (first id %d, size %d): %v", e.Type, e.Category, e.FirstID, e.Size, e.Err)
}

// Unwrap returns the underlying apply error.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError reports that a type's full checksum differs between
// the stacks after a final sync.
type ChecksumMismatchError struct {
	Type        model.MigrationType
	Source      string
	Destination string
}

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: source=%s destination=%s", e.Type, e.Source, e.Destination)
}

// StatusError reports a failure to change the destination's status.
type StatusError struct {
	// Target is the status that could not be set.
	Target model.StatusState
	Err    error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("set destination status to %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// OrderError reports a stack returning ids out of ascending order.
type OrderError struct {
	Type   model.MigrationType
	Side   string
	PrevID int64
	ID     int64
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	return fmt.Sprintf("%s returned %s id %d after %d: ids must be strictly ascending", e.Side, e.Type, e.ID, e.PrevID)
}

// IsFatal returns true if err aborts a pass: exhausted fetch retries,
// exhausted batch sub-division, a final-sync checksum mismatch, a status
// toggle failure or out-of-order ids.
// Uses errors.As to handle wrapped and joined errors.
func IsFatal(err error) bool {
	var (
		fe *FetchError
		ae *ApplyError
		ce *ChecksumMismatchError
		se *StatusError
		oe *OrderError
	)
	return errors.As(err, &fe) || errors.As(err, &ae) || errors.As(err, &ce) ||
		errors.As(err, &se) || errors.As(err, &oe)
}

// IsChecksumMismatch returns true if err is a final-sync checksum mismatch.
// Uses errors.As to handle wrapped errors.
func IsChecksumMismatch(err error) bool {
	var ce *ChecksumMismatchError
	return errors.As(err, &ce)
}

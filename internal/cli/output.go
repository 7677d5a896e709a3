package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/stacksync/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Migration or scenario failure (retries exhausted, checksum mismatch, etc.)
	ExitCommandError = 2 // Command error (bad flags, config or credentials)
)

// Error codes reported in JSON error responses.
const (
	CodeFetchFailed      = "E_FETCH_FAILED"      // metadata or checksum reads kept failing
	CodeApplyFailed      = "E_APPLY_FAILED"      // a single-record batch could not be applied
	CodeChecksumMismatch = "E_CHECKSUM_MISMATCH" // final sync found differing type checksums
	CodeStatusFailed     = "E_STATUS_FAILED"     // the destination status could not be changed
	CodeInterrupted      = "E_INTERRUPTED"       // cancelled by a signal
	CodeMigrationFailed  = "E_MIGRATION_FAILED"  // any other pass-aborting error
	CodeInternal         = "E_INTERNAL"          // local failures (spill files, output)
	CodeTestFailed       = "E_TEST_FAILED"       // one or more scenarios failed
)

// ErrorCode classifies an engine error for JSON output. A checksum
// mismatch wins over other errors joined with it.
func ErrorCode(err error) string {
	var (
		fe *engine.FetchError
		ae *engine.ApplyError
		se *engine.StatusError
	)
	switch {
	case engine.IsChecksumMismatch(err):
		return CodeChecksumMismatch
	case errors.Is(err, context.Canceled):
		return CodeInterrupted
	case errors.As(err, &se):
		return CodeStatusFailed
	case errors.As(err, &ae):
		return CodeApplyFailed
	case errors.As(err, &fe):
		return CodeFetchFailed
	case engine.IsFatal(err):
		return CodeMigrationFailed
	default:
		return CodeInternal
	}
}

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // one of the Code* constants
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

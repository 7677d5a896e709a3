package engine

import (
	"fmt"
	"time"
)

// DeltaMode selects how a type's delta is computed.
type DeltaMode string

const (
	// DeltaModeRanged partitions the id space with range checksums and only
	// merges the ranges that differ.
	DeltaModeRanged DeltaMode = "ranged"

	// DeltaModeFull merges the whole type without partitioning. Slower, but
	// used as the reference when checking partitioned results.
	DeltaModeFull DeltaMode = "full"
)

// Defaults for Options.
const (
	DefaultBatchSize        = 1000
	DefaultWorkers          = 1
	DefaultApplyTimeout     = 30 * time.Minute
	DefaultRetryDenominator = 4
	DefaultPollInterval     = 2 * time.Second
	DefaultMaxRetries       = 1

	// MaxDeferredErrors caps the apply failures collected when DeferErrors
	// is set. One more failure aborts the pass.
	MaxDeferredErrors = 10
)

// Options tunes a migration pass.
type Options struct {
	// BatchSize bounds metadata pages, merge ranges and apply batches.
	BatchSize int64

	// Workers is the apply pool size.
	Workers int

	// ApplyTimeout bounds a single ApplyBatch call. Zero disables it.
	ApplyTimeout time.Duration

	// RetryDenominator is the number of parts a failed batch is split into.
	RetryDenominator int

	// PollInterval is how often a running apply task's progress is logged.
	PollInterval time.Duration

	// DeferErrors keeps applying after a failure and reports all failures
	// (at most MaxDeferredErrors) at the end of the pass.
	DeferErrors bool

	// MaxRetries is the number of attempts made at the whole pass.
	MaxRetries int

	DeltaMode DeltaMode

	// SpillDir is the parent directory for per-pass spill directories.
	// Empty means os.TempDir().
	SpillDir string

	// RateLimit caps apply calls per second. Zero means unlimited.
	RateLimit float64

	// FinalSync forces the post-pass checksum comparison even when the
	// source is not read-only.
	FinalSync bool

	// DryRun computes deltas without touching the destination.
	DryRun bool
}

// DefaultOptions returns Options with all defaults filled in.
func DefaultOptions() Options {
	return Options{
		BatchSize:        DefaultBatchSize,
		Workers:          DefaultWorkers,
		ApplyTimeout:     DefaultApplyTimeout,
		RetryDenominator: DefaultRetryDenominator,
		PollInterval:     DefaultPollInterval,
		MaxRetries:       DefaultMaxRetries,
		DeltaMode:        DeltaModeRanged,
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize)
	}
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", o.Workers)
	}
	if o.RetryDenominator < 2 {
		return fmt.Errorf("retry denominator must be at least 2, got %d", o.RetryDenominator)
	}
	if o.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", o.MaxRetries)
	}
	if o.ApplyTimeout < 0 {
		return fmt.Errorf("apply timeout must not be negative")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	switch o.DeltaMode {
	case DeltaModeRanged, DeltaModeFull:
	default:
		return fmt.Errorf("unknown delta mode %q", o.DeltaMode)
	}
	return nil
}

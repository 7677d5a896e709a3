package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/stack"
)

// State is the driver's position in a migration.
type State string

const (
	StateIdle                 State = "IDLE"
	StateDestinationReadOnly  State = "DESTINATION_READONLY"
	StateMigrating            State = "MIGRATING"
	StateDestinationReadWrite State = "DESTINATION_READWRITE"
)

// ReadOnlyMessage is shown to destination users while a pass runs.
const ReadOnlyMessage = "Stack is read-only while a migration is in progress"

// statusTimeout bounds the restoring status call, which runs even after
// the pass context is cancelled.
const statusTimeout = time.Minute

// Result describes a finished Run.
type Result struct {
	// State is the last state reached.
	State State

	// Attempts is the number of passes started.
	Attempts int

	// FinalSync reports whether checksums were verified.
	FinalSync bool

	// Report is the last pass's report; nil if no pass got past counting.
	Report *PassReport
}

// Driver runs migration passes between a destination read-only flip and a
// guaranteed read-write restore.
//
// State machine:
//
//	IDLE → DESTINATION_READONLY → MIGRATING → DESTINATION_READWRITE
//
// A failed read-only flip stops in IDLE before any data moves.
type Driver struct {
	src     stack.Client
	dest    stack.Client
	orch    *Orchestrator
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	state   State
}

// NewDriver creates a driver. orchOpts are passed through to the
// orchestrator.
func NewDriver(src, dest stack.Client, opts Options, orchOpts ...OrchestratorOption) *Driver {
	orch := NewOrchestrator(src, dest, opts, orchOpts...)
	return &Driver{
		src:     src,
		dest:    dest,
		orch:    orch,
		opts:    opts,
		logger:  orch.logger,
		metrics: orch.metrics,
		state:   StateIdle,
	}
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// Run performs the migration. The destination is restored to READ_WRITE on
// every exit path once it was made read-only. A restore failure is returned
// only if the migration itself succeeded.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.State = d.state
		d.metrics.RecordPass(err == nil, time.Since(start))
	}()

	if d.opts.DryRun {
		d.state = StateMigrating
		res.Attempts = 1
		res.Report, err = d.orch.Run(ctx, false)
		return res, err
	}

	if err := d.setDestination(ctx, model.StatusReadOnly, ReadOnlyMessage); err != nil {
		return res, err
	}
	d.state = StateDestinationReadOnly

	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
		defer cancel()
		if rerr := d.setDestination(restoreCtx, model.StatusReadWrite, ""); rerr != nil {
			d.logger.Error("failed to restore destination to read-write", "error", rerr)
			if err == nil {
				err = rerr
			}
			return
		}
		d.state = StateDestinationReadWrite
	}()

	res.FinalSync = d.finalSync(ctx)
	d.state = StateMigrating

	for attempt := 1; attempt <= max(d.opts.MaxRetries, 1); attempt++ {
		res.Attempts = attempt
		d.logger.Info("starting pass", "attempt", attempt, "final_sync", res.FinalSync)

		res.Report, err = d.orch.Run(ctx, res.FinalSync)
		if err == nil {
			d.logger.Info("pass complete", "attempt", attempt)
			return res, nil
		}
		if ctx.Err() != nil {
			return res, err
		}
		// A mismatch after a completed pass is not transient.
		if IsChecksumMismatch(err) {
			d.logger.Error("final sync checksum mismatch, not retrying", "attempt", attempt, "error", err)
			return res, err
		}
		d.logger.Error("pass failed", "attempt", attempt, "max_retries", d.opts.MaxRetries, "error", err)
	}
	return res, err
}

// finalSync reports whether this pass must end with a checksum check:
// forced by options, or implied by a read-only source.
func (d *Driver) finalSync(ctx context.Context) bool {
	if d.opts.FinalSync {
		return true
	}
	status, err := d.src.GetStackStatus(ctx)
	if err != nil {
		d.logger.Warn("could not read source status, assuming not final sync", "error", err)
		return false
	}
	return status.Status == model.StatusReadOnly
}

func (d *Driver) setDestination(ctx context.Context, state model.StatusState, msg string) error {
	got, err := d.dest.SetStackStatus(ctx, model.StackStatus{Status: state, Message: msg})
	if err != nil {
		return &StatusError{Target: state, Err: err}
	}
	if got.Status != state {
		return &StatusError{Target: state, Err: errors.New("destination reported status " + string(got.Status))}
	}
	d.logger.Info("destination status set", "status", state)
	return nil
}

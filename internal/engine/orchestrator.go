package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/spill"
	"github.com/roach88/stacksync/internal/stack"
)

// Orchestrator runs one migration pass: it computes every type's delta and
// then applies deletes, creates and updates in dependency order.
//
// The orchestrator never changes stack status; see Driver.
type Orchestrator struct {
	src     stack.Client
	dest    stack.Client
	opts    Options
	retrier *Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer
	ids     IDGenerator
	newSalt func() string
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger for the orchestrator and everything it creates.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records pass metrics on m.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOutput sets where count tables are printed. Default: discarded.
func WithOutput(w io.Writer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.out = w
	}
}

// WithPassRetrier sets the retry policy for all stack reads.
func WithPassRetrier(r *Retrier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retrier = r
	}
}

// WithPassIDGenerator replaces the pass ID source. Default: UUIDv7Generator.
func WithPassIDGenerator(g IDGenerator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ids = g
	}
}

// WithSaltGenerator replaces the per-pass salt source (for tests).
func WithSaltGenerator(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newSalt = fn
	}
}

// NewOrchestrator creates an orchestrator for the given stacks.
func NewOrchestrator(src, dest stack.Client, opts Options, orchOpts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		src:     src,
		dest:    dest,
		opts:    opts,
		logger:  slog.Default(),
		out:     io.Discard,
		ids:     UUIDv7Generator{},
		newSalt: uuid.NewString,
	}
	for _, opt := range orchOpts {
		opt(o)
	}
	if o.retrier == nil {
		o.retrier = NewRetrier(WithRetryLogger(o.logger), WithRetryMetrics(o.metrics))
	}
	return o
}

// Run executes one pass. finalSync enables the per-type checksum
// comparison after apply. The returned report is non-nil whenever the
// start counts could be read, including on failure.
func (o *Orchestrator) Run(ctx context.Context, finalSync bool) (*PassReport, error) {
	report := &PassReport{PassID: o.ids.Generate(), FinalSync: finalSync}
	salt := o.newSalt()
	logger := o.logger.With("pass", report.PassID)

	srcCounts, destCounts, err := o.fetchCounts(ctx)
	if err != nil {
		return nil, err
	}
	report.StartCounts = BuildCountTable(srcCounts, destCounts)
	if err := report.StartCounts.Fprint(o.out, "Start counts:"); err != nil {
		return report, fmt.Errorf("print start counts: %w", err)
	}

	types, err := o.MigratableTypes(ctx)
	if err != nil {
		return report, err
	}
	tms := model.BuildTypesToMigrate(srcCounts, destCounts, types)

	dir, err := spill.NewPassDir(o.opts.SpillDir, report.PassID)
	if err != nil {
		return report, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove spill directory", "path", dir, "error", err)
		}
	}()

	deltas := make([]*DeltaData, 0, len(tms))
	defer func() {
		for _, dd := range deltas {
			dd.Remove(logger)
		}
	}()

	for _, tm := range tms {
		dd, err := o.ComputeDelta(ctx, tm, dir, salt)
		if err != nil {
			return report, err
		}
		deltas = append(deltas, dd)
		report.Types = append(report.Types, TypeReport{Type: tm.Type, Delta: dd.Counts})
	}

	delta, _ := report.Totals()
	logger.Info("deltas computed", "types", len(deltas), "create", delta.Create, "update", delta.Update, "delete", delta.Delete)

	if o.opts.DryRun {
		return report, nil
	}

	if err := o.apply(ctx, deltas, report); err != nil {
		return report, err
	}

	srcCounts, destCounts, err = o.fetchCounts(ctx)
	if err != nil {
		return report, err
	}
	report.EndCounts = BuildCountTable(srcCounts, destCounts)
	if err := report.EndCounts.Fprint(o.out, "End counts:"); err != nil {
		return report, fmt.Errorf("print end counts: %w", err)
	}

	if finalSync {
		if err := o.verifyChecksums(ctx, types); err != nil {
			return report, err
		}
		logger.Info("final sync checksums match", "types", len(types))
	}
	return report, nil
}

// Counts returns the side-by-side count table without migrating.
func (o *Orchestrator) Counts(ctx context.Context) (CountTable, error) {
	src, dest, err := o.fetchCounts(ctx)
	if err != nil {
		return nil, err
	}
	return BuildCountTable(src, dest), nil
}

// MigratableTypes returns the destination's primary types that the source
// also has, in destination order. Types missing on one side are skipped.
func (o *Orchestrator) MigratableTypes(ctx context.Context) ([]model.MigrationType, error) {
	var srcTypes, destTypes []model.MigrationType
	err := o.retrier.Do(ctx, "", SideSource, "primarytypes", func(ctx context.Context) error {
		var err error
		srcTypes, err = o.src.GetPrimaryTypes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = o.retrier.Do(ctx, "", SideDestination, "primarytypes", func(ctx context.Context) error {
		var err error
		destTypes, err = o.dest.GetPrimaryTypes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	types := model.IntersectTypes(destTypes, srcTypes)
	if skipped := len(destTypes) - len(types); skipped > 0 {
		o.logger.Info("skipping types missing on source", "count", skipped)
	}
	return types, nil
}

// ComputeDelta computes one type's delta into fresh spills under dir. The
// returned spills are sealed.
func (o *Orchestrator) ComputeDelta(ctx context.Context, tm model.TypeToMigrate, dir, salt string) (*DeltaData, error) {
	dd, err := NewDeltaData(dir, tm.Type, o.metrics)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			dd.Remove(o.logger)
		}
	}()

	var counts model.DeltaCounts
	switch o.opts.DeltaMode {
	case DeltaModeFull:
		counts, err = Merge(ctx,
			NewTypeIterator(ctx, o.src, tm.Type, o.opts.BatchSize, nil, o.iteratorOptions(SideSource)...),
			NewTypeIterator(ctx, o.dest, tm.Type, o.opts.BatchSize, nil, o.iteratorOptions(SideDestination)...),
			dd)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", tm.Type, err)
		}
	default:
		counts, err = o.computeRanged(ctx, tm, salt, dd)
		if err != nil {
			return nil, err
		}
	}

	dd.Counts = counts
	if err := dd.Seal(); err != nil {
		return nil, err
	}
	o.logger.Info("delta computed",
		"type", tm.Type,
		"create", counts.Create,
		"update", counts.Update,
		"delete", counts.Delete)
	ok = true
	return dd, nil
}

func (o *Orchestrator) computeRanged(ctx context.Context, tm model.TypeToMigrate, salt string, out Sink) (model.DeltaCounts, error) {
	var counts model.DeltaCounts

	finder := NewDeltaFinder(tm, o.src, o.dest, salt, o.opts.BatchSize, o.retrier).WithLogger(o.logger)
	ranges, err := finder.Find(ctx)
	if err != nil {
		return counts, fmt.Errorf("partition %s: %w", tm.Type, err)
	}

	// Ranges are disjoint; walking them by MinID keeps every spill in
	// ascending id order.
	for _, step := range rangeSteps(ranges) {
		r := step.rng
		switch step.cat {
		case model.CategoryCreate:
			it := NewRangeIterator(ctx, o.src, tm.Type, o.opts.BatchSize, r, nil, o.iteratorOptions(SideSource)...)
			n, err := CopyAll(ctx, it, out, model.CategoryCreate)
			if err != nil {
				return counts, fmt.Errorf("copy %s insert range %s: %w", tm.Type, r, err)
			}
			counts.Create += n
		case model.CategoryDelete:
			it := NewRangeIterator(ctx, o.dest, tm.Type, o.opts.BatchSize, r, nil, o.iteratorOptions(SideDestination)...)
			n, err := CopyAll(ctx, it, out, model.CategoryDelete)
			if err != nil {
				return counts, fmt.Errorf("copy %s delete range %s: %w", tm.Type, r, err)
			}
			counts.Delete += n
		default:
			c, err := Merge(ctx,
				NewRangeIterator(ctx, o.src, tm.Type, o.opts.BatchSize, r, nil, o.iteratorOptions(SideSource)...),
				NewRangeIterator(ctx, o.dest, tm.Type, o.opts.BatchSize, r, nil, o.iteratorOptions(SideDestination)...),
				out)
			if err != nil {
				return counts, fmt.Errorf("merge %s range %s: %w", tm.Type, r, err)
			}
			counts = counts.Add(c)
		}
	}
	return counts, nil
}

func (o *Orchestrator) iteratorOptions(side string) []IteratorOption {
	return []IteratorOption{WithRetrier(o.retrier), WithSide(side), WithIteratorMetrics(o.metrics)}
}

// applyStep is one (type, category) unit of the apply phase.
type applyStep struct {
	index int
	cat   model.Category
}

// applyOrder lists the apply steps for n types: deletes in reverse order,
// then creates forward, then updates forward.
func applyOrder(n int) []applyStep {
	steps := make([]applyStep, 0, 3*n)
	for i := n - 1; i >= 0; i-- {
		steps = append(steps, applyStep{index: i, cat: model.CategoryDelete})
	}
	for i := 0; i < n; i++ {
		steps = append(steps, applyStep{index: i, cat: model.CategoryCreate})
	}
	for i := 0; i < n; i++ {
		steps = append(steps, applyStep{index: i, cat: model.CategoryUpdate})
	}
	return steps
}

func (o *Orchestrator) apply(ctx context.Context, deltas []*DeltaData, report *PassReport) error {
	pool := NewWorkerPool(o.dest, o.opts, WithPoolLogger(o.logger), WithPoolMetrics(o.metrics))
	defer pool.Close()

	var deferred *multierror.Error
	for _, step := range applyOrder(len(deltas)) {
		dd := deltas[step.index]
		s := dd.Spill(step.cat)
		if s == nil || s.Count() == 0 {
			dd.RemoveSpill(step.cat, o.logger)
			continue
		}

		o.logger.Info("applying", "type", dd.Type, "category", step.cat, "count", s.Count())
		task := pool.Submit(ctx, s)
		err := o.await(task)
		applied := task.Progress().Current
		dd.RemoveSpill(step.cat, o.logger)

		tr := &report.Types[step.index]
		switch step.cat {
		case model.CategoryCreate:
			tr.Applied.Create += applied
		case model.CategoryUpdate:
			tr.Applied.Update += applied
		case model.CategoryDelete:
			tr.Applied.Delete += applied
		}

		if err == nil {
			continue
		}
		if !o.opts.DeferErrors || ctx.Err() != nil {
			return err
		}
		deferred = multierror.Append(deferred, err)
		o.logger.Error("apply failed, continuing", "type", dd.Type, "category", step.cat, "deferred", deferred.Len(), "error", err)
		if deferred.Len() > MaxDeferredErrors {
			return fmt.Errorf("more than %d deferred apply errors: %w", MaxDeferredErrors, deferred)
		}
	}
	return deferred.ErrorOrNil()
}

// await blocks until task finishes, logging its progress every poll
// interval. Tasks observe the pass context, so cancellation ends them.
func (o *Orchestrator) await(task *Task) error {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-task.Done():
			return task.Wait(context.Background())
		case <-ticker.C:
			snap := task.Progress()
			o.logger.Info("apply progress", "type", task.Type, "category", task.Category, "progress", snap.String())
		}
	}
}

func (o *Orchestrator) fetchCounts(ctx context.Context) (src, dest []model.TypeCount, err error) {
	err = o.retrier.Do(ctx, "", SideSource, "counts", func(ctx context.Context) error {
		var err error
		src, err = o.src.GetTypeCounts(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	err = o.retrier.Do(ctx, "", SideDestination, "counts", func(ctx context.Context) error {
		var err error
		dest, err = o.dest.GetTypeCounts(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return src, dest, nil
}

// verifyChecksums compares each type's full checksum on both stacks.
func (o *Orchestrator) verifyChecksums(ctx context.Context, types []model.MigrationType) error {
	var errs []error
	for _, t := range types {
		var srcSum, destSum string
		err := o.retrier.Do(ctx, t, SideSource, "checksum", func(ctx context.Context) error {
			var err error
			srcSum, err = o.src.GetChecksumForType(ctx, t)
			return err
		})
		if err != nil {
			return err
		}
		err = o.retrier.Do(ctx, t, SideDestination, "checksum", func(ctx context.Context) error {
			var err error
			destSum, err = o.dest.GetChecksumForType(ctx, t)
			return err
		})
		if err != nil {
			return err
		}
		if srcSum != destSum {
			o.logger.Error("checksum mismatch", "type", t, "source", srcSum, "destination", destSum)
			errs = append(errs, &ChecksumMismatchError{Type: t, Source: srcSum, Destination: destSum})
		}
	}
	return errors.Join(errs...)
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/spill"
	"github.com/roach88/stacksync/internal/stack"
)

// Task is the handle for one spill being applied.
type Task struct {
	Type     model.MigrationType
	Category model.Category

	progress *model.Progress
	done     chan struct{}
	err      error
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns a snapshot of the task's progress.
func (t *Task) Progress() model.Snapshot {
	return t.progress.Snapshot()
}

// WorkerPool applies spills to the destination on a bounded set of
// goroutines.
//
// Thread-safety: Submit and Close may be called from one goroutine; tasks
// run concurrently up to the pool size.
type WorkerPool struct {
	client           stack.Client
	group            errgroup.Group
	batchSize        int64
	applyTimeout     time.Duration
	retryDenominator int
	limiter          *rate.Limiter
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) {
		p.logger = l
	}
}

// WithPoolMetrics records applied records on m.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *WorkerPool) {
		p.metrics = m
	}
}

// NewWorkerPool creates a pool sized and tuned from opts.
func NewWorkerPool(client stack.Client, opts Options, poolOpts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		client:           client,
		batchSize:        opts.BatchSize,
		applyTimeout:     opts.ApplyTimeout,
		retryDenominator: opts.RetryDenominator,
		logger:           slog.Default(),
	}
	p.group.SetLimit(max(opts.Workers, 1))
	if opts.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if p.retryDenominator < 2 {
		p.retryDenominator = DefaultRetryDenominator
	}
	for _, opt := range poolOpts {
		opt(p)
	}
	return p
}

// Submit schedules s to be applied. It blocks while the pool is full. The
// spill must be sealed.
func (p *WorkerPool) Submit(ctx context.Context, s *spill.Spill) *Task {
	task := &Task{
		Type:     s.Type(),
		Category: s.Category(),
		progress: model.NewProgress(),
		done:     make(chan struct{}),
	}
	task.progress.SetTotal(s.Count())

	p.group.Go(func() error {
		defer close(task.done)
		p.metrics.TaskStarted()
		defer p.metrics.TaskFinished()

		task.err = p.applySpill(ctx, s, task.progress)
		// Task errors are reported on the handle; the group never fails.
		return nil
	})
	return task
}

// Close waits for all submitted tasks to finish.
func (p *WorkerPool) Close() {
	_ = p.group.Wait()
}

func (p *WorkerPool) applySpill(ctx context.Context, s *spill.Spill, progress *model.Progress) error {
	r, err := s.Reader(ctx)
	if err != nil {
		return fmt.Errorf("open %s %s spill: %w", s.Type(), s.Category(), err)
	}
	defer r.Close()

	for {
		batch, err := r.NextBatch(int(p.batchSize))
		if err != nil {
			return fmt.Errorf("read %s %s spill: %w", s.Type(), s.Category(), err)
		}
		if len(batch) == 0 {
			break
		}
		ids := make([]int64, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}
		if err := p.applyBatch(ctx, s.Type(), s.Category(), ids, progress); err != nil {
			return err
		}
	}
	progress.SetDone()
	return nil
}

// applyBatch applies ids. On failure the batch is split into
// retryDenominator parts that are applied in order; a failing single-id
// batch is an *ApplyError. progress counts what the destination reports
// as applied.
func (p *WorkerPool) applyBatch(ctx context.Context, t model.MigrationType, cat model.Category, ids []int64, progress *model.Progress) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.applyTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.applyTimeout)
	}
	start := time.Now()
	n, err := p.client.ApplyBatch(callCtx, t, cat, ids)
	cancel()

	if err == nil {
		if n != int64(len(ids)) {
			p.logger.Warn("destination applied a different number of records than sent",
				"type", t, "category", cat, "first_id", ids[0], "batch", len(ids), "count", n)
		}
		p.metrics.RecordApplied(string(t), string(cat), n, time.Since(start))
		progress.Increment(n)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(ids) == 1 {
		return &ApplyError{Type: t, Category: cat, FirstID: ids[0], Size: 1, Err: err}
	}

	p.logger.Warn("apply batch failed, splitting",
		"type", t,
		"category", cat,
		"first_id", ids[0],
		"size", len(ids),
		"parts", p.retryDenominator,
		"error", err)
	p.metrics.RecordBatchSplit(string(cat))

	for _, part := range splitIDs(ids, p.retryDenominator) {
		if err := p.applyBatch(ctx, t, cat, part, progress); err != nil {
			return err
		}
	}
	return nil
}

// splitIDs cuts ids into at most parts contiguous, non-empty chunks.
func splitIDs(ids []int64, parts int) [][]int64 {
	size := (len(ids) + parts - 1) / parts
	out := make([][]int64, 0, parts)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

package engine

import (
	"context"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/stack"
)

// Stack sides, used in logs, errors and metric labels.
const (
	SideSource      = "source"
	SideDestination = "destination"
)

// Iterator yields one type's records in strictly ascending id order.
//
// Next returns ok=false with a nil error once the sequence is exhausted.
// Iterators are single-consumer and not restartable.
type Iterator interface {
	Next() (rec model.RecordMetadata, ok bool, err error)
}

// pageFunc fetches the next page. last reports that no further page exists.
type pageFunc func(ctx context.Context) (page model.RowMetadataResult, last bool, err error)

// BackoffIterator pulls pages lazily from a stack, retrying failed fetches
// with the Retrier's schedule. It buffers at most one page.
type BackoffIterator struct {
	ctx      context.Context
	typ      model.MigrationType
	side     string
	op       string
	fetch    pageFunc
	retrier  *Retrier
	progress *model.Progress
	metrics  *metrics.Metrics

	buf    []model.RecordMetadata
	pos    int
	last   bool
	err    error
	prevID int64
	seen   bool
}

// IteratorOption configures a BackoffIterator.
type IteratorOption func(*BackoffIterator)

// WithRetrier sets the retry policy for page fetches.
func WithRetrier(r *Retrier) IteratorOption {
	return func(it *BackoffIterator) {
		it.retrier = r
	}
}

// WithSide labels the iterator with the stack side it reads from.
func WithSide(side string) IteratorOption {
	return func(it *BackoffIterator) {
		it.side = side
	}
}

// WithIteratorMetrics counts fetched records on m.
func WithIteratorMetrics(m *metrics.Metrics) IteratorOption {
	return func(it *BackoffIterator) {
		it.metrics = m
	}
}

// NewTypeIterator walks every record of a type using offset pagination.
// The sequence ends at the first empty page.
func NewTypeIterator(ctx context.Context, c stack.Client, t model.MigrationType, batchSize int64, progress *model.Progress, opts ...IteratorOption) *BackoffIterator {
	var offset int64
	fetch := func(ctx context.Context) (model.RowMetadataResult, bool, error) {
		page, err := c.GetRowMetadata(ctx, t, batchSize, offset)
		if err != nil {
			return model.RowMetadataResult{}, false, err
		}
		offset += int64(len(page.Records))
		return page, len(page.Records) == 0, nil
	}
	return newBackoffIterator(ctx, t, "rows", fetch, progress, opts)
}

// NewRangeIterator walks the records of a type inside rng. The range is
// read in id windows of at most batchSize ids, one call per window, so no
// single fetch exceeds the batch size.
func NewRangeIterator(ctx context.Context, c stack.Client, t model.MigrationType, batchSize int64, rng model.IDRange, progress *model.Progress, opts ...IteratorOption) *BackoffIterator {
	lo := rng.MinID
	fetch := func(ctx context.Context) (model.RowMetadataResult, bool, error) {
		hi := rng.MaxID
		if rng.MaxID-lo >= batchSize {
			hi = lo + batchSize - 1
		}
		page, err := c.GetRowMetadataByRange(ctx, t, lo, hi)
		if err != nil {
			return model.RowMetadataResult{}, false, err
		}
		last := hi >= rng.MaxID
		lo = hi + 1
		return page, last, nil
	}
	return newBackoffIterator(ctx, t, "rows/range", fetch, progress, opts)
}

func newBackoffIterator(ctx context.Context, t model.MigrationType, op string, fetch pageFunc, progress *model.Progress, opts []IteratorOption) *BackoffIterator {
	it := &BackoffIterator{
		ctx:      ctx,
		typ:      t,
		side:     SideSource,
		op:       op,
		fetch:    fetch,
		progress: progress,
	}
	for _, opt := range opts {
		opt(it)
	}
	if it.retrier == nil {
		it.retrier = NewRetrier()
	}
	if it.progress == nil {
		it.progress = model.NewProgress()
	}
	return it
}

// Next implements Iterator.
func (it *BackoffIterator) Next() (model.RecordMetadata, bool, error) {
	for it.pos >= len(it.buf) {
		if it.err != nil {
			return model.RecordMetadata{}, false, it.err
		}
		if it.last {
			return model.RecordMetadata{}, false, nil
		}
		if err := it.fill(); err != nil {
			it.err = err
			return model.RecordMetadata{}, false, err
		}
	}

	rec := it.buf[it.pos]
	it.pos++
	if it.seen && rec.ID <= it.prevID {
		it.err = &OrderError{Type: it.typ, Side: it.side, PrevID: it.prevID, ID: rec.ID}
		return model.RecordMetadata{}, false, it.err
	}
	it.prevID, it.seen = rec.ID, true
	it.progress.Increment(1)
	return rec, true, nil
}

// Progress returns the iterator's progress tracker.
func (it *BackoffIterator) Progress() *model.Progress {
	return it.progress
}

// fill replaces the buffer with the next page.
func (it *BackoffIterator) fill() error {
	var (
		page model.RowMetadataResult
		last bool
	)
	err := it.retrier.Do(it.ctx, it.typ, it.side, it.op, func(ctx context.Context) error {
		var err error
		page, last, err = it.fetch(ctx)
		return err
	})
	if err != nil {
		return err
	}

	it.buf, it.pos, it.last = page.Records, 0, last
	it.metrics.RecordFetched(it.side, string(it.typ), len(page.Records))
	if page.TotalCount > 0 {
		it.progress.SetTotal(page.TotalCount)
	}
	if last {
		it.progress.SetDone()
	}
	return nil
}

// SliceIterator yields records held in memory.
type SliceIterator struct {
	recs []model.RecordMetadata
	pos  int
}

// NewSliceIterator returns an Iterator over recs.
func NewSliceIterator(recs ...model.RecordMetadata) *SliceIterator {
	return &SliceIterator{recs: recs}
}

// Next implements Iterator.
func (s *SliceIterator) Next() (model.RecordMetadata, bool, error) {
	if s.pos >= len(s.recs) {
		return model.RecordMetadata{}, false, nil
	}
	rec := s.recs[s.pos]
	s.pos++
	return rec, true, nil
}

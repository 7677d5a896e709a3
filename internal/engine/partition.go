package engine

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/stack"
)

// DeltaFinder classifies one type's id space into ranges that only exist on
// the source (insert), ranges that only exist on the destination (delete)
// and ranges whose content differs (update, to be merged).
//
// Overlapping spans are compared with salted range checksums. A mismatching
// range larger than the batch size is bisected until each half either
// matches or fits in one batch.
type DeltaFinder struct {
	tm        model.TypeToMigrate
	src       stack.Client
	dest      stack.Client
	salt      string
	batchSize int64
	retrier   *Retrier
	logger    *slog.Logger

	checksumCalls int
}

// NewDeltaFinder creates a finder for one type. salt must be fresh per pass.
func NewDeltaFinder(tm model.TypeToMigrate, src, dest stack.Client, salt string, batchSize int64, retrier *Retrier) *DeltaFinder {
	if retrier == nil {
		retrier = NewRetrier()
	}
	return &DeltaFinder{
		tm:        tm,
		src:       src,
		dest:      dest,
		salt:      salt,
		batchSize: batchSize,
		retrier:   retrier,
		logger:    slog.Default(),
	}
}

// WithLogger sets the finder's logger.
func (f *DeltaFinder) WithLogger(l *slog.Logger) *DeltaFinder {
	f.logger = l
	return f
}

// ChecksumCalls returns the number of range comparisons made so far.
func (f *DeltaFinder) ChecksumCalls() int {
	return f.checksumCalls
}

// Find computes the delta ranges. Each list is in ascending id order.
func (f *DeltaFinder) Find(ctx context.Context) (model.DeltaRanges, error) {
	ranges := model.DeltaRanges{Type: f.tm.Type}

	srcSpan, srcOK := f.tm.SrcRange()
	destSpan, destOK := f.tm.DestRange()

	switch {
	case !srcOK && !destOK:
		return ranges, nil
	case !srcOK:
		ranges.DelRanges = append(ranges.DelRanges, destSpan)
		return ranges, nil
	case !destOK:
		ranges.InsRanges = append(ranges.InsRanges, srcSpan)
		return ranges, nil
	case srcSpan.MaxID < destSpan.MinID || destSpan.MaxID < srcSpan.MinID:
		ranges.InsRanges = append(ranges.InsRanges, srcSpan)
		ranges.DelRanges = append(ranges.DelRanges, destSpan)
		return ranges, nil
	}

	overlap := model.IDRange{
		MinID: max(srcSpan.MinID, destSpan.MinID),
		MaxID: min(srcSpan.MaxID, destSpan.MaxID),
	}

	// Below the overlap: only one side can have ids there.
	if srcSpan.MinID < overlap.MinID {
		ranges.InsRanges = append(ranges.InsRanges, model.IDRange{MinID: srcSpan.MinID, MaxID: overlap.MinID - 1})
	}
	if destSpan.MinID < overlap.MinID {
		ranges.DelRanges = append(ranges.DelRanges, model.IDRange{MinID: destSpan.MinID, MaxID: overlap.MinID - 1})
	}

	upd, err := f.compare(ctx, overlap, nil)
	if err != nil {
		return model.DeltaRanges{}, err
	}
	ranges.UpdRanges = upd

	// Above the overlap.
	if srcSpan.MaxID > overlap.MaxID {
		ranges.InsRanges = append(ranges.InsRanges, model.IDRange{MinID: overlap.MaxID + 1, MaxID: srcSpan.MaxID})
	}
	if destSpan.MaxID > overlap.MaxID {
		ranges.DelRanges = append(ranges.DelRanges, model.IDRange{MinID: overlap.MaxID + 1, MaxID: destSpan.MaxID})
	}

	f.logger.Debug("delta ranges computed",
		"type", f.tm.Type,
		"ins", len(ranges.InsRanges),
		"del", len(ranges.DelRanges),
		"upd", len(ranges.UpdRanges),
		"checksums", f.checksumCalls)
	return ranges, nil
}

// compare appends to out the sub-ranges of rng whose checksums differ,
// lower half first.
func (f *DeltaFinder) compare(ctx context.Context, rng model.IDRange, out []model.IDRange) ([]model.IDRange, error) {
	same, err := f.sameChecksum(ctx, rng)
	if err != nil {
		return nil, err
	}
	if same {
		return out, nil
	}
	if rng.Size() <= f.batchSize {
		return append(out, rng), nil
	}

	mid := rng.MinID + (rng.MaxID-rng.MinID)/2
	out, err = f.compare(ctx, model.IDRange{MinID: rng.MinID, MaxID: mid}, out)
	if err != nil {
		return nil, err
	}
	return f.compare(ctx, model.IDRange{MinID: mid + 1, MaxID: rng.MaxID}, out)
}

func (f *DeltaFinder) sameChecksum(ctx context.Context, rng model.IDRange) (bool, error) {
	f.checksumCalls++

	var srcSum, destSum string
	err := f.retrier.Do(ctx, f.tm.Type, SideSource, "checksum", func(ctx context.Context) error {
		var err error
		srcSum, err = f.src.GetChecksumForIDRange(ctx, f.tm.Type, f.salt, rng.MinID, rng.MaxID)
		return err
	})
	if err != nil {
		return false, err
	}
	err = f.retrier.Do(ctx, f.tm.Type, SideDestination, "checksum", func(ctx context.Context) error {
		var err error
		destSum, err = f.dest.GetChecksumForIDRange(ctx, f.tm.Type, f.salt, rng.MinID, rng.MaxID)
		return err
	})
	if err != nil {
		return false, err
	}
	return srcSum == destSum, nil
}

// rangeStep is one range of a DeltaRanges with what to do with it:
// create copies source records, delete copies destination records and
// update merges both sides.
type rangeStep struct {
	rng model.IDRange
	cat model.Category
}

// rangeSteps flattens dr into a single list ordered by MinID. The three
// lists of a DeltaFinder result never overlap.
func rangeSteps(dr model.DeltaRanges) []rangeStep {
	steps := make([]rangeStep, 0, len(dr.InsRanges)+len(dr.DelRanges)+len(dr.UpdRanges))
	for _, r := range dr.InsRanges {
		steps = append(steps, rangeStep{rng: r, cat: model.CategoryCreate})
	}
	for _, r := range dr.DelRanges {
		steps = append(steps, rangeStep{rng: r, cat: model.CategoryDelete})
	}
	for _, r := range dr.UpdRanges {
		steps = append(steps, rangeStep{rng: r, cat: model.CategoryUpdate})
	}
	slices.SortStableFunc(steps, func(a, b rangeStep) int {
		return cmp.Compare(a.rng.MinID, b.rng.MinID)
	})
	return steps
}

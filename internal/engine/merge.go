package engine

import (
	"context"
	"fmt"

	"github.com/roach88/stacksync/internal/model"
)

// Sink receives delta records. Records of one category arrive in the
// order they must be applied.
type Sink interface {
	Emit(ctx context.Context, cat model.Category, rec model.RecordMetadata) error
}

// Merge runs a two-cursor merge-join over source and dest and emits:
//   - create(source) for ids only on the source
//   - delete(dest) for ids only on the destination
//   - update(source) for ids on both sides with different etags
//
// Two nil etags are equal; nil never equals a non-nil etag. Memory use is
// the two cursors, whatever the iterators buffer aside.
func Merge(ctx context.Context, source, dest Iterator, out Sink) (model.DeltaCounts, error) {
	var counts model.DeltaCounts

	s, sOK, err := source.Next()
	if err != nil {
		return counts, fmt.Errorf("read source: %w", err)
	}
	d, dOK, err := dest.Next()
	if err != nil {
		return counts, fmt.Errorf("read destination: %w", err)
	}

	for sOK || dOK {
		switch {
		case sOK && (!dOK || s.ID < d.ID):
			if err := out.Emit(ctx, model.CategoryCreate, s); err != nil {
				return counts, err
			}
			counts.Create++
			if s, sOK, err = source.Next(); err != nil {
				return counts, fmt.Errorf("read source: %w", err)
			}

		case dOK && (!sOK || d.ID < s.ID):
			if err := out.Emit(ctx, model.CategoryDelete, d); err != nil {
				return counts, err
			}
			counts.Delete++
			if d, dOK, err = dest.Next(); err != nil {
				return counts, fmt.Errorf("read destination: %w", err)
			}

		default:
			if !s.SameEtag(d) {
				if err := out.Emit(ctx, model.CategoryUpdate, s); err != nil {
					return counts, err
				}
				counts.Update++
			}
			if s, sOK, err = source.Next(); err != nil {
				return counts, fmt.Errorf("read source: %w", err)
			}
			if d, dOK, err = dest.Next(); err != nil {
				return counts, fmt.Errorf("read destination: %w", err)
			}
		}
	}
	return counts, nil
}

// CopyAll emits every record of it under one category. Used for ranges that
// exist on one side only.
func CopyAll(ctx context.Context, it Iterator, out Sink, cat model.Category) (int64, error) {
	var n int64
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return n, fmt.Errorf("copy %s records: %w", cat, err)
		}
		if !ok {
			return n, nil
		}
		if err := out.Emit(ctx, cat, rec); err != nil {
			return n, err
		}
		n++
	}
}

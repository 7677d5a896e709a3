package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/spill"
)

// DeltaData holds one type's computed delta: a spill per category and the
// summed counts. It is the Sink Merge and CopyAll write into.
type DeltaData struct {
	Type   model.MigrationType
	Create *spill.Spill
	Update *spill.Spill
	Delete *spill.Spill
	Counts model.DeltaCounts

	metrics *metrics.Metrics
}

// NewDeltaData opens the three spills for t inside dir.
func NewDeltaData(dir string, t model.MigrationType, m *metrics.Metrics) (*DeltaData, error) {
	dd := &DeltaData{Type: t, metrics: m}
	for _, cat := range model.Categories {
		s, err := spill.Open(dir, t, cat)
		if err != nil {
			dd.Remove(slog.Default())
			return nil, fmt.Errorf("open %s spill for %s: %w", cat, t, err)
		}
		dd.set(cat, s)
	}
	return dd, nil
}

// Spill returns the spill holding one category.
func (d *DeltaData) Spill(cat model.Category) *spill.Spill {
	switch cat {
	case model.CategoryCreate:
		return d.Create
	case model.CategoryUpdate:
		return d.Update
	case model.CategoryDelete:
		return d.Delete
	}
	return nil
}

func (d *DeltaData) set(cat model.Category, s *spill.Spill) {
	switch cat {
	case model.CategoryCreate:
		d.Create = s
	case model.CategoryUpdate:
		d.Update = s
	case model.CategoryDelete:
		d.Delete = s
	}
}

// Emit implements Sink.
func (d *DeltaData) Emit(ctx context.Context, cat model.Category, rec model.RecordMetadata) error {
	s := d.Spill(cat)
	if s == nil {
		return fmt.Errorf("no %s spill for %s", cat, d.Type)
	}
	if err := s.Write(ctx, rec); err != nil {
		return fmt.Errorf("spill %s record %d: %w", cat, rec.ID, err)
	}
	d.metrics.RecordDelta(string(d.Type), string(cat))
	return nil
}

// Seal closes all three spills for writing.
func (d *DeltaData) Seal() error {
	var errs []error
	for _, cat := range model.Categories {
		if s := d.Spill(cat); s != nil {
			if err := s.Seal(); err != nil {
				errs = append(errs, fmt.Errorf("seal %s spill: %w", cat, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RemoveSpill deletes one category's spill. Failures are logged only.
func (d *DeltaData) RemoveSpill(cat model.Category, logger *slog.Logger) {
	s := d.Spill(cat)
	if s == nil {
		return
	}
	if err := s.Remove(); err != nil {
		logger.Warn("failed to remove spill", "type", d.Type, "category", cat, "path", s.Path(), "error", err)
	}
	d.set(cat, nil)
}

// Remove deletes all remaining spills.
func (d *DeltaData) Remove(logger *slog.Logger) {
	for _, cat := range model.Categories {
		d.RemoveSpill(cat, logger)
	}
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/spill"
	"github.com/roach88/stacksync/internal/testutil"
)

const (
	typePrincipal model.MigrationType = "PRINCIPAL"
	typeNode      model.MigrationType = "NODE"
	typeFile      model.MigrationType = "FILE_HANDLE"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTimer() *testutil.ImmediateTimer {
	return testutil.NewImmediateTimer()
}

// newTestRetrier returns a retrier whose waits complete at once.
func newTestRetrier() (*Retrier, *testutil.ImmediateTimer) {
	timer := newTestTimer()
	return NewRetrier(WithTimer(timer), WithRetryLogger(quietLogger())), timer
}

// newStacks returns a source and a destination wired for apply.
func newStacks(types ...model.MigrationType) (src, dest *testutil.MemStack) {
	src = testutil.NewMemStack("source", types...)
	dest = testutil.NewMemStack("destination", types...)
	dest.SetSource(src)
	return src, dest
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.BatchSize = 10
	opts.PollInterval = 10 * time.Millisecond
	opts.ApplyTimeout = 0
	opts.SpillDir = t.TempDir()
	return opts
}

func newTestOrchestrator(t *testing.T, src, dest *testutil.MemStack, opts Options) *Orchestrator {
	t.Helper()
	retrier, _ := newTestRetrier()
	return NewOrchestrator(src, dest, opts,
		WithLogger(quietLogger()),
		WithPassRetrier(retrier),
		WithSaltGenerator(testutil.FixedSalt("")))
}

// typeToMigrate builds the partition seed for t from both stacks' counts.
func typeToMigrate(t *testing.T, typ model.MigrationType, src, dest *testutil.MemStack) model.TypeToMigrate {
	t.Helper()
	ctx := context.Background()
	srcCounts, err := src.GetTypeCounts(ctx)
	require.NoError(t, err)
	destCounts, err := dest.GetTypeCounts(ctx)
	require.NoError(t, err)
	tms := model.BuildTypesToMigrate(srcCounts, destCounts, []model.MigrationType{typ})
	require.Len(t, tms, 1)
	return tms[0]
}

// newSealedSpill writes ids (etag "e") into a sealed spill.
func newSealedSpill(t *testing.T, typ model.MigrationType, cat model.Category, ids ...int64) *spill.Spill {
	t.Helper()
	s, err := spill.Open(t.TempDir(), typ, cat)
	require.NoError(t, err)
	t.Cleanup(func() { s.Remove() })
	for _, id := range ids {
		require.NoError(t, s.Write(context.Background(), model.Rec(id, "e")))
	}
	require.NoError(t, s.Seal())
	return s
}

// spillIDs reads the ids of a sealed spill in order.
func spillIDs(t *testing.T, s *spill.Spill) []int64 {
	t.Helper()
	r, err := s.Reader(context.Background())
	require.NoError(t, err)
	defer r.Close()

	var ids []int64
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		ids = append(ids, rec.ID)
	}
	require.NoError(t, r.Err())
	return ids
}

func idRange(lo, hi int64) []int64 {
	ids := make([]int64, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		ids = append(ids, id)
	}
	return ids
}

// fillRandom populates both stacks of one type with overlapping, partly
// divergent records. Etags include nil.
func fillRandom(rng *rand.Rand, typ model.MigrationType, src, dest *testutil.MemStack, n int) {
	etag := func() *string {
		switch rng.Intn(5) {
		case 0:
			return nil
		default:
			e := string(rune('a' + rng.Intn(3)))
			return &e
		}
	}
	for id := int64(1); id <= int64(n); id++ {
		switch rng.Intn(6) {
		case 0: // source only
			src.PutRecord(typ, model.RecordMetadata{ID: id, Etag: etag()})
		case 1: // destination only
			dest.PutRecord(typ, model.RecordMetadata{ID: id, Etag: etag()})
		case 2: // both, independent etags
			src.PutRecord(typ, model.RecordMetadata{ID: id, Etag: etag()})
			dest.PutRecord(typ, model.RecordMetadata{ID: id, Etag: etag()})
		case 3, 4: // both, identical
			e := etag()
			src.PutRecord(typ, model.RecordMetadata{ID: id, Etag: e})
			dest.PutRecord(typ, model.RecordMetadata{ID: id, Etag: e})
		}
	}
}

// collector is an in-memory Sink.
type collector struct {
	records map[model.Category][]model.RecordMetadata
}

func newCollector() *collector {
	return &collector{records: make(map[model.Category][]model.RecordMetadata)}
}

func (c *collector) Emit(_ context.Context, cat model.Category, rec model.RecordMetadata) error {
	c.records[cat] = append(c.records[cat], rec)
	return nil
}

func (c *collector) ids(cat model.Category) []int64 {
	var ids []int64
	for _, r := range c.records[cat] {
		ids = append(ids, r.ID)
	}
	return ids
}

package spill

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/roach88/stacksync/internal/model"
)

// createTestSpill opens a spill in a temp dir and removes it on cleanup.
func createTestSpill(t *testing.T, opts ...Option) *Spill {
	t.Helper()
	s, err := Open(t.TempDir(), "NODE", model.CategoryCreate, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Remove() })
	return s
}

func readAll(t *testing.T, s *Spill) []model.RecordMetadata {
	t.Helper()
	r, err := s.Reader(context.Background())
	if err != nil {
		t.Fatalf("Reader() failed: %v", err)
	}
	defer r.Close()

	var out []model.RecordMetadata
	for {
		rec, ok := r.Next()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reader error: %v", err)
	}
	return out
}

func TestOpen_CreatesFile(t *testing.T) {
	s := createTestSpill(t)

	if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
		t.Error("spill file was not created")
	}
	if s.Type() != "NODE" || s.Category() != model.CategoryCreate {
		t.Errorf("unexpected identity %s/%s", s.Type(), s.Category())
	}
}

func TestWrite_PreservesOrder(t *testing.T) {
	// Flush size smaller than the row count forces several commits.
	s := createTestSpill(t, WithFlushSize(3))
	ctx := context.Background()

	// Deliberately not id-sorted: the spill keeps write order, it does not sort.
	ids := []int64{5, 1, 9, 2, 8, 3, 7}
	for _, id := range ids {
		if err := s.Write(ctx, model.Rec(id, "e")); err != nil {
			t.Fatalf("Write(%d) failed: %v", id, err)
		}
	}
	if err := s.Seal(); err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	got := readAll(t, s)
	if len(got) != len(ids) {
		t.Fatalf("read %d rows, want %d", len(got), len(ids))
	}
	for i, rec := range got {
		if rec.ID != ids[i] {
			t.Errorf("row %d: id = %d, want %d", i, rec.ID, ids[i])
		}
	}
	if s.Count() != int64(len(ids)) {
		t.Errorf("Count() = %d, want %d", s.Count(), len(ids))
	}
}

func TestWrite_NullEtagRoundTrip(t *testing.T) {
	s := createTestSpill(t)
	ctx := context.Background()

	if err := s.Write(ctx, model.RecordMetadata{ID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, model.Rec(2, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.Seal(); err != nil {
		t.Fatal(err)
	}

	got := readAll(t, s)
	if got[0].Etag != nil {
		t.Errorf("row 1: etag = %q, want nil", *got[0].Etag)
	}
	if got[1].Etag == nil || *got[1].Etag != "" {
		t.Error("row 2: empty etag must stay distinct from nil")
	}
}

func TestWrite_AfterSeal(t *testing.T) {
	s := createTestSpill(t)
	if err := s.Seal(); err != nil {
		t.Fatal(err)
	}

	err := s.Write(context.Background(), model.Rec(1, "a"))
	if !errors.Is(err, ErrSealed) {
		t.Errorf("Write after Seal: err = %v, want ErrSealed", err)
	}
}

func TestReader_RequiresSeal(t *testing.T) {
	s := createTestSpill(t)
	if err := s.Write(context.Background(), model.Rec(1, "a")); err != nil {
		t.Fatal(err)
	}

	_, err := s.Reader(context.Background())
	if !errors.Is(err, ErrNotSealed) {
		t.Errorf("Reader before Seal: err = %v, want ErrNotSealed", err)
	}
}

func TestReader_NextBatch(t *testing.T) {
	s := createTestSpill(t)
	ctx := context.Background()
	for id := int64(1); id <= 7; id++ {
		if err := s.Write(ctx, model.Rec(id, "e")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Seal(); err != nil {
		t.Fatal(err)
	}

	r, err := s.Reader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var sizes []int
	for {
		batch, err := r.NextBatch(3)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) == 0 {
			break
		}
		sizes = append(sizes, len(batch))
	}
	want := []int{3, 3, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch sizes = %v, want %v", sizes, want)
		}
	}
}

func TestEmptySpill(t *testing.T) {
	s := createTestSpill(t)
	if err := s.Seal(); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, s); len(got) != 0 {
		t.Errorf("empty spill returned %d rows", len(got))
	}
}

func TestRemove_DeletesFiles(t *testing.T) {
	s, err := Open(t.TempDir(), "NODE", model.CategoryDelete)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(context.Background(), model.Rec(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Seal(); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	for _, p := range []string{s.Path(), s.Path() + "-wal", s.Path() + "-shm"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists after Remove", p)
		}
	}
}

func TestOpen_TruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir, "NODE", model.CategoryUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Write(ctx, model.Rec(1, "a")); err != nil {
		t.Fatal(err)
	}
	if err := s1.Seal(); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(dir, "NODE", model.CategoryUpdate)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Remove()
	if err := s2.Seal(); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, s2); len(got) != 0 {
		t.Errorf("reopened spill kept %d stale rows", len(got))
	}
}

func TestNewPassDir(t *testing.T) {
	parent := t.TempDir()
	dir, err := NewPassDir(parent, "pass-1")
	if err != nil {
		t.Fatalf("NewPassDir() failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("pass dir not created: %v", err)
	}
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	if c.Current() != 0 {
		t.Fatalf("new clock at %d", c.Current())
	}
	prev := int64(0)
	for i := 0; i < 100; i++ {
		n := c.Next()
		if n <= prev {
			t.Fatalf("Next() = %d after %d", n, prev)
		}
		prev = n
	}
	if c.Current() != 100 {
		t.Errorf("Current() = %d, want 100", c.Current())
	}
}

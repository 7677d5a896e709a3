package engine

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces pass identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 pass IDs. Spill
// directories and log lines of consecutive passes sort by start time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined pass IDs for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("pass-1", "pass-2")
//	gen.Generate() // "pass-1"
//	gen.Generate() // "pass-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed: the test ran more passes than it
// expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

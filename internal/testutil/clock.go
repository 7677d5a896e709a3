package testutil

import "sync"

// DeterministicClock numbers recorded apply calls starting at 1.
//
// Unlike spill.Clock it can be reset, so a stack reused across passes can
// restart its trace numbering.
//
// Thread-safety: all methods are safe for concurrent use.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new value.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last value handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset sets the clock back to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

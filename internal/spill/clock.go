package spill

import "sync/atomic"

// Clock stamps spill rows with their write order.
//
// Every written row gets a strictly increasing seq number from this clock,
// so reading ORDER BY seq reproduces the write order exactly.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// A spill has a single writer, so in practice only one goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
// After sealing a spill it equals the number of rows written.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

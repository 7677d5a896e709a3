package testutil

import (
	"sync"
	"time"
)

// ImmediateTimer is a backoff.Timer that fires at once and records every
// requested wait.
//
// Thread-safety: all methods are safe for concurrent use.
type ImmediateTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

// NewImmediateTimer creates a timer with no recorded waits.
func NewImmediateTimer() *ImmediateTimer {
	return &ImmediateTimer{c: make(chan time.Time, 1)}
}

// Start records d and fires immediately.
func (t *ImmediateTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

// Stop is a no-op.
func (t *ImmediateTimer) Stop() {}

// C returns the channel of the most recent Start.
func (t *ImmediateTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

// Waits returns the waits requested so far, in order.
func (t *ImmediateTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.waits))
	copy(out, t.waits)
	return out
}

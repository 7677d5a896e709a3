package model

import (
	"fmt"
	"sync"
)

// Progress tracks one running iterator or worker.
//
// Thread-safety: all methods are safe for concurrent use. The owner updates
// it while the orchestrator polls it for logging.
type Progress struct {
	mu      sync.Mutex
	current int64
	total   int64
	done    bool
	message string
}

// Snapshot is a point-in-time copy of a Progress.
type Snapshot struct {
	Current int64
	Total   int64
	Done    bool
	Message string
}

// NewProgress creates an empty progress tracker.
func NewProgress() *Progress {
	return &Progress{}
}

// Increment adds n to the current count.
func (p *Progress) Increment(n int64) {
	p.mu.Lock()
	p.current += n
	p.mu.Unlock()
}

// SetTotal records the expected total.
func (p *Progress) SetTotal(total int64) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
}

// SetMessage records a free-form status message.
func (p *Progress) SetMessage(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

// SetDone marks the tracked work as finished.
func (p *Progress) SetDone() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

// Snapshot returns a consistent copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Current: p.current, Total: p.total, Done: p.done, Message: p.message}
}

// String renders "current/total (pct%)".
func (s Snapshot) String() string {
	if s.Total <= 0 {
		return fmt.Sprintf("%d/?", s.Current)
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", s.Current, s.Total, float64(s.Current)*100/float64(s.Total))
}

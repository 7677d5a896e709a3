package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/stacksync/internal/metrics"
	"github.com/roach88/stacksync/internal/model"
)

// DefaultRetryDelays is the wait between consecutive fetch attempts: one
// second after the first failure, ten after the second. A third failure is
// final.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 10 * time.Second}

// scheduleBackOff walks a fixed list of delays, then stops.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

// NextBackOff implements backoff.BackOff.
func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

// Reset implements backoff.BackOff.
func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// Retrier runs stack calls with the fetch retry schedule.
//
// Thread-safety: a Retrier is immutable after construction; each Do call
// gets its own schedule.
type Retrier struct {
	delays  []time.Duration
	timer   backoff.Timer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryDelays replaces the delay schedule.
func WithRetryDelays(delays ...time.Duration) RetrierOption {
	return func(r *Retrier) {
		r.delays = delays
	}
}

// WithTimer replaces the timer used to wait between attempts (for tests).
func WithTimer(t backoff.Timer) RetrierOption {
	return func(r *Retrier) {
		r.timer = t
	}
}

// WithRetryLogger sets the logger used for retry notices.
func WithRetryLogger(l *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = l
	}
}

// WithRetryMetrics records retries on m.
func WithRetryMetrics(m *metrics.Metrics) RetrierOption {
	return func(r *Retrier) {
		r.metrics = m
	}
}

// NewRetrier creates a Retrier with DefaultRetryDelays.
func NewRetrier(opts ...RetrierOption) *Retrier {
	r := &Retrier{
		delays: DefaultRetryDelays,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts returns the number of calls made before giving up.
func (r *Retrier) MaxAttempts() int {
	return len(r.delays) + 1
}

// Do calls fn until it succeeds or the schedule runs out. Exhaustion returns
// a *FetchError wrapping the last failure. Context cancellation is returned
// as is and never retried.
func (r *Retrier) Do(ctx context.Context, t model.MigrationType, side, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.RecordFetchRetry(side)
		r.logger.Warn("fetch failed, retrying",
			"type", t,
			"side", side,
			"op", op,
			"attempt", attempts,
			"wait", wait,
			"error", err)
	}

	b := backoff.WithContext(&scheduleBackOff{delays: r.delays}, ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, r.timer)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	return &FetchError{Type: t, Op: side + " " + op, Attempts: attempts, Err: err}
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/stacksync/internal/engine"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

// DefaultSalt is the range checksum salt used when a scenario sets none.
const DefaultSalt = "test-salt"

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory stacks with a fixed salt,
// immediate retries and a single apply worker, so apply traces are
// reproducible.
//
// Execution flow:
// 1. Build the source and destination stacks
// 2. Inject failures
// 3. Run the migration driver
// 4. Evaluate assertions
//
// A driver failure is not an error of Run: it is recorded in Result.Err and
// checked by outcome assertions.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	src, dest, err := buildStacks(scenario)
	if err != nil {
		return nil, err
	}

	spillDir, err := os.MkdirTemp("", "stacksync-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create spill dir: %w", err)
	}
	defer os.RemoveAll(spillDir)

	opts := scenario.Options.EngineOptions(spillDir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenario runs
	salt := scenario.Salt
	if salt == "" {
		salt = DefaultSalt
	}

	retrier := engine.NewRetrier(
		engine.WithTimer(testutil.NewImmediateTimer()),
		engine.WithRetryLogger(logger),
	)
	driver := engine.NewDriver(src, dest, opts,
		engine.WithLogger(logger),
		engine.WithPassRetrier(retrier),
		engine.WithSaltGenerator(testutil.FixedSalt(salt)),
	)

	result := NewResult()
	result.Driver, result.Err = driver.Run(ctx)
	result.Trace = dest.Trace()
	result.StatusLog = dest.StatusLog()
	result.Source = src
	result.Destination = dest

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// buildStacks creates the scenario's stacks. The destination pulls created
// and updated records from the source.
func buildStacks(s *Scenario) (src, dest *testutil.MemStack, err error) {
	src = testutil.NewMemStack("source", s.Source.Types...)
	dest = testutil.NewMemStack("destination", s.Destination.Types...)
	dest.SetSource(src)

	for _, side := range []struct {
		stack    *testutil.MemStack
		spec     StackSpec
		failures map[string]int
	}{
		{src, s.Source, s.Failures.Source},
		{dest, s.Destination, s.Failures.Destination},
	} {
		for t, recs := range side.spec.Records {
			for _, r := range recs {
				rec, err := ParseRecord(r)
				if err != nil {
					return nil, nil, err
				}
				side.stack.PutRecord(t, rec)
			}
		}
		if side.spec.Status != "" && side.spec.Status != model.StatusReadWrite {
			side.stack.SetStatus(side.spec.Status)
		}
		for op, n := range side.failures {
			side.stack.FailNext(op, n)
		}
	}
	dest.FailApplyFor(s.Failures.ApplyIDs...)
	return src, dest, nil
}

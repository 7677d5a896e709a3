package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string               // Assertion type for categorization
	Expected string               // Human-readable expected outcome
	Actual   string               // Human-readable actual outcome
	Trace    []testutil.ApplyCall // Full apply trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nApply trace:\n")
		for _, call := range e.Trace {
			marker := ""
			if call.Failed {
				marker = " (failed)"
			}
			fmt.Fprintf(&buf, "  [%d] %s %s %v%s\n", call.Seq, call.Type, call.Category, call.IDs, marker)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertOutcome:
		return assertOutcome(r, a)
	case AssertConverged:
		return assertConverged(r, a)
	case AssertStatusLog:
		return assertStatusLog(r, a)
	case AssertDeltaCounts:
		return assertDeltaCounts(r, a)
	case AssertApplyCount:
		return assertApplyCount(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertOutcome(r *Result, a Assertion) error {
	if got := r.Outcome(); got != a.Outcome {
		actual := got
		if r.Err != nil {
			actual = fmt.Sprintf("%s: %v", got, r.Err)
		}
		return &AssertionError{Type: a.Type, Expected: a.Outcome, Actual: actual, Trace: r.Trace}
	}
	if a.ErrorContains != "" && (r.Err == nil || !strings.Contains(r.Err.Error(), a.ErrorContains)) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("error containing %q", a.ErrorContains),
			Actual:   fmt.Sprintf("%v", r.Err),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertConverged compares the destination's records with the source's,
// etags included.
func assertConverged(r *Result, a Assertion) error {
	types := a.RecordTypes
	if len(types) == 0 {
		types = model.IntersectTypes(r.Destination.Types(), r.Source.Types())
	}
	for _, t := range types {
		want := recordStrings(r.Source.Records(t))
		got := recordStrings(r.Destination.Records(t))
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s = %v", t, want),
				Actual:   fmt.Sprintf("%s = %v", t, got),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

func assertStatusLog(r *Result, a Assertion) error {
	if !slices.Equal(r.StatusLog, a.Statuses) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%v", a.Statuses),
			Actual:   fmt.Sprintf("%v", r.StatusLog),
		}
	}
	return nil
}

func assertDeltaCounts(r *Result, a Assertion) error {
	var got *model.DeltaCounts
	if r.Driver.Report != nil {
		for _, tr := range r.Driver.Report.Types {
			if tr.Type == a.RecordType {
				got = &tr.Delta
				break
			}
		}
	}
	if got == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s delta %s", a.RecordType, a.Delta),
			Actual:   "type not in pass report",
		}
	}
	if *got != *a.Delta {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s delta %s", a.RecordType, a.Delta),
			Actual:   fmt.Sprintf("%s delta %s", a.RecordType, got),
		}
	}
	return nil
}

func assertApplyCount(r *Result, a Assertion) error {
	count := 0
	for _, call := range r.Trace {
		if call.Type == a.RecordType && call.Category == a.Category && !call.Failed {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d successful %s %s calls", a.Count, a.RecordType, a.Category),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

func recordStrings(recs []model.RecordMetadata) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.String()
	}
	return out
}

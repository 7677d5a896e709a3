package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

// TraceSnapshot captures what a scenario did to the destination.
type TraceSnapshot struct {
	Scenario string               `yaml:"scenario"`
	Outcome  string               `yaml:"outcome"`
	Status   []model.StatusState  `yaml:"status,flow"`
	Trace    []testutil.ApplyCall `yaml:"trace"`
}

// Snapshot builds the trace snapshot of a result.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		Scenario: name,
		Outcome:  result.Outcome(),
		Status:   result.StatusLog,
		Trace:    result.Trace,
	}
}

// MarshalSnapshot renders a snapshot as YAML with two-space indentation.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its apply trace against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect assertion failures. Test
// failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(scenarioName, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessData = "../harness/testdata"

// copyScenario copies a harness scenario (and its golden file when withGolden
// is set) into dir/golden layout.
func copyScenario(t *testing.T, dir, name string, withGolden bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessData, "scenarios", name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))

	if !withGolden {
		return
	}
	golden, err := os.ReadFile(filepath.Join(harnessData, "golden", name+".golden"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", name+".golden"), golden, 0o644))
}

func runTestCommand(format string, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand("text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := runTestCommand("text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCommand("text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := runTestCommand("json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPassesWithGolden(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "overlap", true)
	copyScenario(t, dir, "batch_split", true)

	out, err := runTestCommand("text", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ overlap")
	assert.Contains(t, out, "✓ batch_split")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommandJSONResult(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "overlap", false)

	out, err := runTestCommand("json", dir)
	require.NoError(t, err)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 1, response.Data.Passed)
	require.Len(t, response.Data.Scenarios, 1)
	assert.Equal(t, "overlap", response.Data.Scenarios[0].Name)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "overlap", false)
	goldenDir := filepath.Join(t.TempDir(), "snapshots")

	out, err := runTestCommand("text", dir, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	written, err := os.ReadFile(filepath.Join(goldenDir, "overlap.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessData, "golden", "overlap.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// The regenerated golden now passes.
	_, err = runTestCommand("text", dir, "--golden-dir", goldenDir)
	require.NoError(t, err)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "overlap", false)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "overlap.golden"), []byte("scenario: overlap\n"), 0o644))

	out, err := runTestCommand("text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ overlap")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_counts
source:
  types: [NODE]
  records:
    NODE: ["1@a"]
destination:
  types: [NODE]
assertions:
  - type: delta_counts
    record_type: NODE
    delta: {create: 5}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_counts.yaml"), []byte(scenario), 0o644))

	out, err := runTestCommand("json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
	require.Len(t, response.Data.Scenarios, 1)
	assert.NotEmpty(t, response.Data.Scenarios[0].Errors)
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "overlap", false)
	copyScenario(t, dir, "dry_run", false)

	out, err := runTestCommand("text", dir, "--filter", "dry_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ dry_run")
	assert.NotContains(t, out, "overlap")
	assert.Contains(t, out, "1 total")
}

func TestTestHelpText(t *testing.T) {
	out, err := runTestCommand("text", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "--golden-dir")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "c.yaml"), nil, 0o644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2, "subdirectories are not searched")

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}

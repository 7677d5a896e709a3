package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stacksync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // directory of golden files (default <scenarios-dir>/golden)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run reconciliation scenarios against in-memory stacks",
		Long: `Run scenario files end to end against in-memory stacks.

Each scenario describes the contents of a source and a destination stack,
engine options and injected failures. The migration driver runs against
them and the scenario's assertions are checked. When a golden file exists
the destination's apply trace must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  stacksync test ./scenarios
  stacksync test ./scenarios --filter "batch_*"
  stacksync test ./scenarios --golden-dir ./golden --update
  stacksync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(scenariosDir, "golden")
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{
				Scenarios: []ScenarioResult{},
				Total:     0,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}

	for _, scenarioFile := range scenarioFiles {
		scenResult := runScenario(scenarioFile, goldenDir, opts, cmd)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles finds the YAML scenario files directly inside dir.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		if filter != "" {
			name := strings.TrimSuffix(e.Name(), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(scenarioFile, goldenDir string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	fail := func(name string, errs ...string) ScenarioResult {
		if opts.Format != "json" {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}
	pass := func(name, note string) ScenarioResult {
		if opts.Format != "json" {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s%s\n", name, note)
		}
		return ScenarioResult{Name: name, Pass: true}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return fail(filepath.Base(scenarioFile), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.RunContext(cmd.Context(), scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	snapshot, err := harness.MarshalSnapshot(harness.Snapshot(scenario.Name, result))
	if err != nil {
		return fail(scenario.Name, err.Error())
	}
	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to create golden directory: %v", err))
		}
		if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		if !result.Pass {
			return fail(scenario.Name, result.Errors...)
		}
		return pass(scenario.Name, " (golden updated)")
	}

	golden, err := os.ReadFile(goldenPath)
	switch {
	case os.IsNotExist(err):
		// No golden file - assertion-based validation only
	case err != nil:
		return fail(scenario.Name, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(golden, snapshot):
		return fail(scenario.Name, "apply trace does not match golden file (run with --update to regenerate)")
	}

	if !result.Pass {
		return fail(scenario.Name, result.Errors...)
	}
	return pass(scenario.Name, "")
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stacksync/internal/engine"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

// Scenario defines one reconciliation scenario: the contents of two stacks,
// the engine options, injected failures, and the assertions to check after
// the driver has run.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Source and Destination describe the two stacks.
	Source      StackSpec `yaml:"source"`
	Destination StackSpec `yaml:"destination"`

	// Options overrides the harness defaults.
	Options OptionsSpec `yaml:"options,omitempty"`

	// Failures injects stack errors.
	Failures FailureSpec `yaml:"failures,omitempty"`

	// Assertions validate the outcome, trace and final state.
	Assertions []Assertion `yaml:"assertions"`

	// Salt is the fixed range checksum salt. Defaults to "test-salt".
	Salt string `yaml:"salt,omitempty"`
}

// StackSpec describes one in-memory stack.
type StackSpec struct {
	// Types is the primary type list in dependency order.
	Types []model.MigrationType `yaml:"types"`

	// Status is the initial status. Defaults to READ_WRITE.
	Status model.StatusState `yaml:"status,omitempty"`

	// Records lists each type's records as "id@etag", or "id" for a
	// record with a null etag.
	Records map[model.MigrationType][]string `yaml:"records,omitempty"`
}

// OptionsSpec holds the engine options a scenario may override. Unset
// fields keep the harness defaults.
type OptionsSpec struct {
	BatchSize        int64  `yaml:"batch_size,omitempty"`
	RetryDenominator int    `yaml:"retry_denominator,omitempty"`
	MaxRetries       int    `yaml:"max_retries,omitempty"`
	DeltaMode        string `yaml:"delta_mode,omitempty"`
	DeferErrors      bool   `yaml:"defer_errors,omitempty"`
	FinalSync        bool   `yaml:"final_sync,omitempty"`
	DryRun           bool   `yaml:"dry_run,omitempty"`
}

// FailureSpec lists injected failures.
type FailureSpec struct {
	// ApplyIDs makes every destination apply call containing one of these
	// ids fail.
	ApplyIDs []int64 `yaml:"apply_ids,flow,omitempty"`

	// Source and Destination fail the next N calls of an operation, keyed
	// by operation name (e.g. "counts", "rows/range", "status/set").
	Source      map[string]int `yaml:"source,omitempty"`
	Destination map[string]int `yaml:"destination,omitempty"`
}

// Assertion validates one aspect of a scenario run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "outcome": the driver succeeded or failed (Outcome, ErrorContains)
	// - "converged": destination records equal the source's (RecordTypes, or all source types)
	// - "status_log": destination status changes (Statuses)
	// - "delta_counts": computed delta for one type (RecordType, Delta)
	// - "apply_count": successful apply calls for one type and category (RecordType, Category, Count)
	Type string `yaml:"type"`

	Outcome       string                `yaml:"outcome,omitempty"`
	ErrorContains string                `yaml:"error_contains,omitempty"`
	RecordType    model.MigrationType   `yaml:"record_type,omitempty"`
	RecordTypes   []model.MigrationType `yaml:"record_types,flow,omitempty"`
	Category      model.Category        `yaml:"category,omitempty"`
	Count         int                   `yaml:"count,omitempty"`
	Statuses      []model.StatusState   `yaml:"statuses,flow,omitempty"`
	Delta         *model.DeltaCounts    `yaml:"delta,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome     = "outcome"
	AssertConverged   = "converged"
	AssertStatusLog   = "status_log"
	AssertDeltaCounts = "delta_counts"
	AssertApplyCount  = "apply_count"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ParseRecord parses "id@etag" or "id".
func ParseRecord(s string) (model.RecordMetadata, error) {
	idPart, etag, hasEtag := strings.Cut(s, "@")
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return model.RecordMetadata{}, fmt.Errorf("record %q: invalid id", s)
	}
	if !hasEtag {
		return model.RecordMetadata{ID: id}, nil
	}
	return model.Rec(id, etag), nil
}

// EngineOptions returns the harness defaults with the scenario's overrides.
func (o OptionsSpec) EngineOptions(spillDir string) engine.Options {
	opts := engine.DefaultOptions()
	opts.BatchSize = 10
	opts.PollInterval = 10 * time.Millisecond
	opts.ApplyTimeout = 0
	opts.SpillDir = spillDir

	if o.BatchSize > 0 {
		opts.BatchSize = o.BatchSize
	}
	if o.RetryDenominator > 0 {
		opts.RetryDenominator = o.RetryDenominator
	}
	if o.MaxRetries > 0 {
		opts.MaxRetries = o.MaxRetries
	}
	if o.DeltaMode != "" {
		opts.DeltaMode = engine.DeltaMode(o.DeltaMode)
	}
	opts.DeferErrors = o.DeferErrors
	opts.FinalSync = o.FinalSync
	opts.DryRun = o.DryRun
	return opts
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Source.Types) == 0 {
		return fmt.Errorf("source.types is required and must be non-empty")
	}
	if len(s.Destination.Types) == 0 {
		return fmt.Errorf("destination.types is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for side, spec := range map[string]StackSpec{"source": s.Source, "destination": s.Destination} {
		if err := validateStack(side, spec); err != nil {
			return err
		}
	}
	for side, ops := range map[string]map[string]int{"source": s.Failures.Source, "destination": s.Failures.Destination} {
		for op, n := range ops {
			if !knownOps[op] {
				return fmt.Errorf("failures.%s: unknown operation %q", side, op)
			}
			if n < 0 {
				return fmt.Errorf("failures.%s.%s: count must be non-negative", side, op)
			}
		}
	}
	if err := s.Options.EngineOptions(os.TempDir()).Validate(); err != nil {
		return fmt.Errorf("options: %w", err)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

var knownOps = map[string]bool{
	testutil.OpRows:         true,
	testutil.OpRowsRange:    true,
	testutil.OpCounts:       true,
	testutil.OpPrimaryTypes: true,
	testutil.OpRangeSum:     true,
	testutil.OpTypeSum:      true,
	testutil.OpApply:        true,
	testutil.OpGetStatus:    true,
	testutil.OpSetStatus:    true,
}

func validateStack(side string, spec StackSpec) error {
	switch spec.Status {
	case "", model.StatusReadWrite, model.StatusReadOnly, model.StatusDown:
	default:
		return fmt.Errorf("%s.status: unknown status %q", side, spec.Status)
	}
	for t, recs := range spec.Records {
		prev := int64(0)
		for i, r := range recs {
			rec, err := ParseRecord(r)
			if err != nil {
				return fmt.Errorf("%s.records.%s[%d]: %w", side, t, i, err)
			}
			if rec.ID <= 0 {
				return fmt.Errorf("%s.records.%s[%d]: id must be positive", side, t, i)
			}
			if rec.ID <= prev {
				return fmt.Errorf("%s.records.%s[%d]: ids must be strictly ascending", side, t, i)
			}
			prev = rec.ID
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOutcome:
		if a.Outcome != OutcomeSuccess && a.Outcome != OutcomeFailure {
			return fmt.Errorf("assertions[%d]: outcome must be %q or %q", index, OutcomeSuccess, OutcomeFailure)
		}
	case AssertConverged:
	case AssertStatusLog:
		if a.Statuses == nil {
			return fmt.Errorf("assertions[%d]: statuses is required for status_log", index)
		}
	case AssertDeltaCounts:
		if a.RecordType == "" || a.Delta == nil {
			return fmt.Errorf("assertions[%d]: record_type and delta are required for delta_counts", index)
		}
	case AssertApplyCount:
		if a.RecordType == "" || a.Category == "" {
			return fmt.Errorf("assertions[%d]: record_type and category are required for apply_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for apply_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

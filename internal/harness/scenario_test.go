package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stacksync/internal/engine"
	"github.com/roach88/stacksync/internal/model"
)

const minimalScenario = `
name: minimal
description: smallest valid scenario
source:
  types: [NODE]
  records:
    NODE: ["1@a", "2"]
destination:
  types: [NODE]
assertions:
  - type: converged
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, []model.MigrationType{"NODE"}, s.Source.Types)
	assert.Equal(t, []string{"1@a", "2"}, s.Source.Records["NODE"])
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "flow_token: x\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing destination types",
			yaml:    "name: a\ndescription: b\nsource: {types: [NODE]}\nassertions: [{type: converged}]\n",
			wantErr: "destination.types is required",
		},
		{
			name:    "unsorted records",
			yaml:    "name: a\ndescription: b\nsource: {types: [NODE], records: {NODE: [\"2@a\", \"1@a\"]}}\ndestination: {types: [NODE]}\nassertions: [{type: converged}]\n",
			wantErr: "strictly ascending",
		},
		{
			name:    "bad record",
			yaml:    "name: a\ndescription: b\nsource: {types: [NODE], records: {NODE: [\"x@a\"]}}\ndestination: {types: [NODE]}\nassertions: [{type: converged}]\n",
			wantErr: "invalid id",
		},
		{
			name:    "unknown failure op",
			yaml:    minimalScenario + "failures: {source: {explode: 1}}\n",
			wantErr: `unknown operation "explode"`,
		},
		{
			name:    "bad options",
			yaml:    minimalScenario + "options: {retry_denominator: 1}\n",
			wantErr: "options:",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: a\ndescription: b\nsource: {types: [NODE]}\ndestination: {types: [NODE]}\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "outcome value",
			yaml:    "name: a\ndescription: b\nsource: {types: [NODE]}\ndestination: {types: [NODE]}\nassertions: [{type: outcome, outcome: maybe}]\n",
			wantErr: "outcome must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadScenarios_SortedByFileName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yaml"} {
		content := []byte(minimalScenario)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	scenarios, err := LoadScenarios(dir)
	require.NoError(t, err)
	assert.Len(t, scenarios, 2)
}

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord("12@abc")
	require.NoError(t, err)
	assert.Equal(t, model.Rec(12, "abc"), rec)

	rec, err = ParseRecord("7")
	require.NoError(t, err)
	assert.Nil(t, rec.Etag)

	rec, err = ParseRecord("8@")
	require.NoError(t, err)
	require.NotNil(t, rec.Etag)
	assert.Empty(t, *rec.Etag)
}

func TestOptionsSpec_EngineOptions(t *testing.T) {
	opts := OptionsSpec{BatchSize: 3, DeltaMode: "full", DeferErrors: true}.EngineOptions("/tmp/spills")

	assert.Equal(t, int64(3), opts.BatchSize)
	assert.Equal(t, engine.DeltaModeFull, opts.DeltaMode)
	assert.True(t, opts.DeferErrors)
	assert.Equal(t, "/tmp/spills", opts.SpillDir)
	assert.Equal(t, engine.DefaultOptions().RetryDenominator, opts.RetryDenominator)
	assert.NoError(t, opts.Validate())
}

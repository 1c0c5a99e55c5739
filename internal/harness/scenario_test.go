package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content next to a copy of the shared fixtures file.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()

	fixtures, err := os.ReadFile(filepath.Join("testdata", "scenarios", "fixtures", "events.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.yaml"), fixtures, 0644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalScenario = `
name: minimal
description: "Accept on first submission"
fixtures: events.yaml
steps:
  - process:
      source_id: in_1
      customer_tax_id: RO123456
    expect:
      status: completed
assertions:
  - type: submissions
    count: 1
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, minimalScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "events.yaml"), scenario.Fixtures)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, OpProcess, scenario.Steps[0].Op())
	assert.Equal(t, "in_1", scenario.Steps[0].Process.SourceID)
	assert.Equal(t, "completed", scenario.Steps[0].Expect.Status)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, minimalScenario+"assertion:\n  - type: submissions\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFixtures(t *testing.T) {
	path := writeScenario(t, `
name: missing
description: "Fixtures file does not exist"
fixtures: nope.yaml
steps:
  - sweep: true
assertions:
  - type: submissions
    count: 0
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixtures file not found")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: x
fixtures: events.yaml
steps: [{sweep: true}]
assertions: [{type: submissions}]
`,
			wantErr: "name is required",
		},
		{
			name: "no steps",
			content: `
name: x
description: x
fixtures: events.yaml
assertions: [{type: submissions}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "two operations in one step",
			content: `
name: x
description: x
fixtures: events.yaml
steps:
  - sweep: true
    retry: in_1
assertions: [{type: submissions}]
`,
			wantErr: "exactly one operation",
		},
		{
			name: "expect on sweep",
			content: `
name: x
description: x
fixtures: events.yaml
steps:
  - sweep: true
    expect: {status: completed}
assertions: [{type: submissions}]
`,
			wantErr: "expect is not valid for sweep",
		},
		{
			name: "bad duration",
			content: `
name: x
description: x
fixtures: events.yaml
steps: [{advance: soon}]
assertions: [{type: submissions}]
`,
			wantErr: "steps[0].advance",
		},
		{
			name: "unknown failure",
			content: `
name: x
description: x
fixtures: events.yaml
script: [{fail: meltdown}]
steps: [{sweep: true}]
assertions: [{type: submissions}]
`,
			wantErr: `unknown failure "meltdown"`,
		},
		{
			name: "retry_after without rate limit",
			content: `
name: x
description: x
fixtures: events.yaml
script: [{fail: transient, retry_after: 1m}]
steps: [{sweep: true}]
assertions: [{type: submissions}]
`,
			wantErr: "retry_after only applies to rate_limited",
		},
		{
			name: "assertion without source",
			content: `
name: x
description: x
fixtures: events.yaml
steps: [{sweep: true}]
assertions: [{type: final_state, expect: {status: completed}}]
`,
			wantErr: "source_id is required for final_state",
		},
		{
			name: "retry_task without present",
			content: `
name: x
description: x
fixtures: events.yaml
steps: [{sweep: true}]
assertions: [{type: retry_task, source_id: in_1}]
`,
			wantErr: "present is required",
		},
		{
			name: "unknown assertion",
			content: `
name: x
description: x
fixtures: events.yaml
steps: [{sweep: true}]
assertions: [{type: trace_contains, source_id: in_1}]
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStep_Op(t *testing.T) {
	assert.Equal(t, OpRetry, Step{Retry: "in_1"}.Op())
	assert.Equal(t, OpCancel, Step{Cancel: "in_1"}.Op())
	assert.Equal(t, OpCheck, Step{Check: "in_1"}.Op())
	assert.Equal(t, OpVerdict, Step{Verdict: &VerdictStep{}}.Op())
	assert.Equal(t, OpAdvance, Step{Advance: "1m"}.Op())
	assert.Equal(t, OpSweep, Step{Sweep: true}.Op())
	assert.Equal(t, "", Step{}.Op())
}

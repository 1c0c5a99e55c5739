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

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

func runScenariosCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"scenarios"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScenariosCommand_AllPass(t *testing.T) {
	out, err := runScenariosCmd(t, harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ timeout_then_retry")
	assert.Contains(t, out, "✓ cancel_retry")
	assert.Contains(t, out, "Summary: 6 passed, 0 failed, 6 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenariosCommand_Filter(t *testing.T) {
	out, err := runScenariosCmd(t, harnessScenarios, "--golden", harnessGolden, "--filter", "upload*")
	require.NoError(t, err)
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")
}

func TestScenariosCommand_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()

	out, err := runScenariosCmd(t, harnessScenarios, "--golden", golden, "--filter", "duplicate*", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ duplicate_skipped (golden updated)")

	_, err = os.Stat(filepath.Join(golden, "duplicate_skipped.golden"))
	require.NoError(t, err)
}

func TestScenariosCommand_GoldenMismatchFails(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "cancel_retry.golden"), []byte("{}\n"), 0644))

	out, err := runScenariosCmd(t, harnessScenarios, "--golden", golden, "--filter", "cancel*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ cancel_retry")
	assert.Contains(t, out, "run with --update to regenerate")
}

func TestScenariosCommand_JSON(t *testing.T) {
	out, err := runScenariosCmd(t, harnessScenarios, "--golden", harnessGolden, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Passed int `json:"passed"`
			Total  int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 6, resp.Data.Passed)
	assert.Equal(t, 6, resp.Data.Total)
}

func TestScenariosCommand_MissingDir(t *testing.T) {
	_, err := runScenariosCmd(t, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenariosCommand_Empty(t *testing.T) {
	out, err := runScenariosCmd(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

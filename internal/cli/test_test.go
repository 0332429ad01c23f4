package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: relay_chain
description: "A derived event re-enters matching and feeds the next rule"
processors: 2
rules: |
  rule: {
    a_first: {
      when: [{type: 1, as: "e"}]
      emit: {type: 2, attrs: {v: "e.v"}}
    }
    b_second: {
      when: [{type: 2, as: "e"}]
      emit: {type: 3, attrs: {v: "e.v"}}
    }
  }
events:
  - type: 1
    ts: 10
    attrs: { v: 7 }
  - type: 9
    ts: 11
    attrs: { v: 0 }
  - type: 1
    ts: 12
    attrs: { v: 8 }
assertions:
  - type: delivered_count
    count: 4
  - type: max_depth
    depth: 2
`

const failingScenario = `name: wrong_count
description: "Expects more events than the rule derives"
rules: |
  rule: r: {
    when: [{type: 1, as: "e"}]
    emit: {type: 2}
  }
events:
  - type: 1
    ts: 1
assertions:
  - type: delivered_count
    count: 5
`

// scenariosDir writes the named scenario files into a fresh directory.
func scenariosDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommandPasses(t *testing.T) {
	dir := scenariosDir(t, map[string]string{"relay_chain.yaml": passingScenario})

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ relay_chain")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFailure(t *testing.T) {
	dir := scenariosDir(t, map[string]string{
		"relay_chain.yaml": passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "delivered_count")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandJSON(t *testing.T) {
	dir := scenariosDir(t, map[string]string{
		"relay_chain.yaml": passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Error  *CLIError  `json:"error"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.True(t, resp.Data.Scenarios[0].Pass)
	assert.False(t, resp.Data.Scenarios[1].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[1].Errors)
}

func TestTestCommandGoldenFiles(t *testing.T) {
	dir := scenariosDir(t, map[string]string{"relay_chain.yaml": passingScenario})
	goldenPath := filepath.Join(dir, "golden", "relay_chain.golden")

	_, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	expected, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "relay_chain.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written), "same trace as the harness golden")

	_, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err, "matches its own golden file")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"stale":true}`), 0644))
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenariosDir(t, map[string]string{
		"relay_chain.yaml": passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir, "--filter", "relay*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong_count")
}

func TestTestCommandLoadFailure(t *testing.T) {
	dir := scenariosDir(t, map[string]string{"broken.yaml": "name: [unclosed"})

	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandMissingDirectory(t *testing.T) {
	_, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindScenarioFilesSkipsGolden(t *testing.T) {
	dir := scenariosDir(t, map[string]string{"a.yaml": "", "b.yml": "", "notes.md": ""})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "c.yaml"), nil, 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "x.golden"), goldenFilePath(filepath.Join("s", "x.yaml")))
}

package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePublishResult(t *testing.T, out string) PublishResult {
	t.Helper()
	var resp struct {
		Status string        `json:"status"`
		Data   PublishResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestPublishText(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewPublishCommand(&RootOptions{Format: "text"}), dir,
		"--type", "1", "--ts", "100", "--attrs", `{"v": 50}`)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Published event")
	assert.Contains(t, out, "Derived 2 event(s)")
	assert.Contains(t, out, "[1] type=2 depth=1 rule=forward {v=50}")
	assert.Contains(t, out, "[2] type=3 depth=2 rule=alert {level=high, v=50}")
}

func TestPublishJSON(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewPublishCommand(&RootOptions{Format: "json"}), dir,
		"--type", "1", "--ts", "100", "--attrs", `{"v": 50}`, "--processors", "2")
	require.NoError(t, err)

	r := decodePublishResult(t, out)
	assert.NotEmpty(t, r.EventID)
	assert.NotEmpty(t, r.Lineage)
	assert.Zero(t, r.Truncated)
	require.Len(t, r.Derived, 2)

	first, second := r.Derived[0], r.Derived[1]
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, 2, first.Type)
	assert.Equal(t, r.EventID, first.Parent)
	assert.Equal(t, int64(100), first.TS, "derived events keep the trigger timestamp")

	assert.Equal(t, 2, second.Depth)
	assert.Equal(t, "alert", second.Rule)
	assert.Equal(t, "high", second.Attrs["level"])
	assert.Equal(t, float64(50), second.Attrs["v"])
}

func TestPublishNoMatch(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewPublishCommand(&RootOptions{Format: "text"}), dir,
		"--type", "1", "--attrs", `{"v": 5}`)
	require.NoError(t, err)
	assert.Contains(t, out, "No events derived.")
}

func TestPublishRecursionBound(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewPublishCommand(&RootOptions{Format: "text"}), dir,
		"--type", "1", "--attrs", `{"v": 50}`, "--max-depth", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Derived 1 event(s)")
	assert.Contains(t, out, "! 1 event(s) hit the recursion bound")
}

func TestPublishInvalidInput(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing type", []string{dir}, "required flag"},
		{"bad json", []string{dir, "--type", "1", "--attrs", "{"}, "invalid --attrs JSON"},
		{"float attribute", []string{dir, "--type", "1", "--attrs", `{"v": 1.5}`}, "invalid event"},
		{"zero type", []string{dir, "--type", "0"}, "invalid event"},
		{"missing rules", []string{"/nonexistent/rules", "--type", "1"}, "failed to compile rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewPublishCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

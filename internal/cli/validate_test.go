package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gpucep/internal/compiler"
)

func TestValidateValidRules(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All 2 rule(s) valid")
}

func TestValidateValidRulesJSON(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Rules)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateReportsCyclesAsWarnings(t *testing.T) {
	dir := writeRulesDir(t, `
package rules

rule: {
	ping: {
		when: [{type: 1, as: "e"}]
		emit: {type: 2}
	}
	pong: {
		when: [{type: 2, as: "e"}]
		emit: {type: 1}
	}
}
`)

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err, "cycles are legal")
	assert.Contains(t, out, "✓ All 2 rule(s) valid")
	assert.Contains(t, out, "! Potential cycle detected")
}

func TestValidateExpressionErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
		wantText string
	}{
		{
			name:     "where does not parse",
			src:      "package rules\nrule: r: {when: [{type: 1, as: \"e\", where: \"v >\"}], emit: {type: 2}}\n",
			wantCode: compiler.ErrInvalidExpression,
			wantText: "rule r: when[0].where",
		},
		{
			name:     "emit references unknown alias",
			src:      "package rules\nrule: r: {when: [{type: 1, as: \"e\"}], emit: {type: 2, attrs: {v: \"z.v\"}}}\n",
			wantCode: compiler.ErrUndefinedAlias,
			wantText: "rule r: emit.attrs.v",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeRulesDir(t, tt.src)

			out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, tt.wantText)
			assert.Contains(t, out, tt.wantCode)
		})
	}
}

func TestValidateCompileErrorsJSON(t *testing.T) {
	dir := writeRulesDir(t, "package rules\nrule: {\n\tgood: {when: [{type: 1, as: \"e\"}], emit: {type: 2}}\n\tbad: when: [{type: 1, as: \"e\"}]\n}\n")

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Error  *CLIError        `json:"error"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Rules, "the rule that compiled is still counted")
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeInvalidEmit, resp.Data.Errors[0].Code)
	assert.Equal(t, ErrCodeInvalidEmit, resp.Error.Code)
}

func TestValidateMissingDirectory(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "/nonexistent/rules")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestValidateVerboseLogsToStderr(t *testing.T) {
	dir := writeRulesDir(t, alertRules)

	cmd := NewValidateCommand(&RootOptions{Format: "json", Verbose: true})
	out, stderr, err := executeWithStderr(t, cmd, dir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "stdout stays valid JSON")
	assert.Contains(t, stderr, "Validating rule: forward")
}

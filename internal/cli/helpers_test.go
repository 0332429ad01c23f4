package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// alertRules forwards type 1 events with v > 10 as type 2, and raises a
// type 3 alert for every type 2 event.
const alertRules = `
package rules

rule: {
	forward: {
		when: [{type: 1, as: "e", where: "v > 10"}]
		emit: {type: 2, attrs: {v: "e.v"}}
	}
	alert: {
		when: [{type: 2, as: "e"}]
		emit: {type: 3, attrs: {level: "\"high\"", v: "e.v"}}
	}
}
`

// alertEvents drives alertRules: one match, one filtered out, one with no
// consuming rule.
const alertEvents = `
- type: 1
  ts: 10
  attrs: { v: 50 }
- type: 1
  ts: 11
  attrs: { v: 5 }
- type: 9
  ts: 12
`

// writeRulesDir writes src as rules.cue in a fresh directory.
func writeRulesDir(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "rules")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(src), 0644))
	return dir
}

// writeFile writes content to name in a fresh directory and returns the path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	silence(cmd)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// executeWithStderr runs cmd like execute and also returns stderr.
func executeWithStderr(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	silence(cmd)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// silence matches what NewRootCommand sets, for subcommands run on their own.
func silence(cmd *cobra.Command) {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
}

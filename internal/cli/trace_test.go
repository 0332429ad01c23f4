package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/store"
)

// recordedDB runs the alert rules with --db and returns the database path.
func recordedDB(t *testing.T) string {
	t.Helper()
	dir := writeRulesDir(t, alertRules)
	events := writeFile(t, "events.yaml", alertEvents)
	dbPath := filepath.Join(t.TempDir(), "gpucep.db")

	_, err := execute(t, NewRunCommand(&RootOptions{Format: "json"}), dir, "--events", events, "--db", dbPath)
	require.NoError(t, err)
	return dbPath
}

func listedLineages(t *testing.T, dbPath string) []LineageSummary {
	t.Helper()
	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []LineageSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Data
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceListsLineages(t *testing.T) {
	dbPath := recordedDB(t)

	lineages := listedLineages(t, dbPath)
	require.Len(t, lineages, 1, "only the matching event derived anything")
	assert.Equal(t, 2, lineages[0].Events)
	assert.Equal(t, 2, lineages[0].MaxDepth)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 lineage(s)")
	assert.Contains(t, out, "events=2 max_depth=2")
}

func TestTraceEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No lineages recorded")
}

func TestTraceLineageText(t *testing.T) {
	dbPath := recordedDB(t)
	lineage := listedLineages(t, dbPath)[0].Lineage

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--lineage", lineage)
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for Lineage: "+lineage)
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "  [1] type=2 rule=forward {v=50}")
	assert.Contains(t, out, "    [2] type=3 rule=alert {level=high, v=50}", "depth 2 is indented")
	assert.Contains(t, out, "=== Provenance ===")
	assert.Contains(t, out, "-[alert]->")
	assert.Contains(t, out, "Total Events: 2")
	assert.Contains(t, out, "forward: 1")
}

func TestTraceLineageJSONWithTypeFilter(t *testing.T) {
	dbPath := recordedDB(t)
	lineage := listedLineages(t, dbPath)[0].Lineage

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "json"}),
		"--db", dbPath, "--lineage", lineage, "--type", "3")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	r := resp.Data
	require.Len(t, r.Timeline, 1)
	assert.Equal(t, 3, r.Timeline[0].Type)
	assert.Len(t, r.Provenance, 2, "provenance covers the whole lineage")
	assert.Equal(t, 2, r.Stats.TotalEvents)
	assert.Equal(t, r.Provenance[0].To, r.Provenance[1].From)
}

func TestTraceRuleFilter(t *testing.T) {
	dbPath := recordedDB(t)
	lineage := listedLineages(t, dbPath)[0].Lineage

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}),
		"--db", dbPath, "--lineage", lineage, "--rule", "forward")
	require.NoError(t, err)
	assert.Contains(t, out, "rule=forward")
	assert.NotContains(t, out, "type=3 rule=alert")
	assert.Contains(t, out, "Total Events: 2")

	out, err = execute(t, NewTraceCommand(&RootOptions{Format: "text"}),
		"--db", dbPath, "--lineage", lineage, "--rule", "forward", "--type", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "(no events)")
}

func TestTimelineFilter(t *testing.T) {
	assert.Nil(t, timelineFilter(&TraceOptions{Lineage: "lin"}))

	f := timelineFilter(&TraceOptions{Lineage: "lin", Type: 3, Rule: "r"})
	and, ok := f.(store.And)
	require.True(t, ok)
	assert.Len(t, and.Filters, 3)
}

func TestTraceUnknownLineage(t *testing.T) {
	dbPath := recordedDB(t)

	out, err := execute(t, NewTraceCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--lineage", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "No events found for lineage: missing")

	out, err = execute(t, NewTraceCommand(&RootOptions{Format: "json"}), "--db", dbPath, "--lineage", "missing")
	require.NoError(t, err)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Timeline)
	assert.NotNil(t, resp.Data.Stats.ByRule)
}

func TestBuildTraceResult(t *testing.T) {
	events := []*ir.PubPkt{
		{ID: "d1", Type: 2, Depth: 1, Seq: 1, RuleID: "r1", ParentID: "ext", Attributes: ir.IRObject{}},
		{ID: "d2", Type: 3, Depth: 2, Seq: 2, RuleID: "r2", ParentID: "d1", Attributes: ir.IRObject{"k": ir.IRInt(1)}},
		{ID: "d3", Type: 3, Depth: 2, Seq: 3, RuleID: "r2", ParentID: "d1", Attributes: ir.IRObject{}},
	}

	r := buildTraceResult("lin", events, events)
	assert.Len(t, r.Timeline, 3)
	assert.Equal(t, 2, r.Stats.MaxDepth)
	assert.Equal(t, map[string]int{"r1": 1, "r2": 2}, r.Stats.ByRule)
	assert.Equal(t, ProvenanceEdge{From: "ext", Rule: "r1", To: "d1"}, r.Provenance[0])

	filtered := buildTraceResult("lin", events, events[:1])
	require.Len(t, filtered.Timeline, 1)
	assert.Equal(t, "d1", filtered.Timeline[0].ID)
	assert.Equal(t, 3, filtered.Stats.TotalEvents)
}

func TestFormatTimelineEventVerbose(t *testing.T) {
	var buf bytes.Buffer
	formatTimelineEvent(&buf, TraceEvent{Seq: 4, Type: 2, Depth: 2, RuleID: "r", ID: "abc", ParentID: "p", Timestamp: 9}, true)

	out := buf.String()
	assert.Contains(t, out, "    [4] type=2 rule=r {}")
	assert.Contains(t, out, "ID: abc parent: p ts: 9")
}

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"empty", nil, "{}"},
		{"sorted keys", map[string]interface{}{"b": 2, "a": "x"}, "{a=x, b=2}"},
		{"nested", map[string]interface{}{"m": map[string]interface{}{"z": true}, "l": []interface{}{1, "y"}}, "{l=[1, y], m={z=true}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatArgs(tt.args))
		})
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789abcdef0123456789abcdef"))
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/gpucep/internal/ir"
)

// TraceSnapshot is what a golden file holds: the delivered trace and the
// engine counters of one scenario, as canonical JSON.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Summary      Summary      `json:"summary"`
	Trace        []TraceEvent `json:"trace"`
}

func NewTraceSnapshot(name string, r *Result) *TraceSnapshot {
	return &TraceSnapshot{ScenarioName: name, Summary: r.Summary, Trace: r.Trace}
}

// MarshalCanonical renders the snapshot with ir.MarshalCanonical, which
// only takes IR values, primitives and plain maps and slices of them.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	trace := make([]any, len(s.Trace))
	for i := range s.Trace {
		trace[i] = s.Trace[i].canonical()
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario_name": s.ScenarioName,
		"summary":       s.Summary.canonical(),
		"trace":         trace,
	})
}

func (ev TraceEvent) canonical() map[string]any {
	return map[string]any{
		"seq":        ev.Seq,
		"lineage":    ev.Lineage,
		"type":       ev.Type,
		"depth":      ev.Depth,
		"rule_id":    ev.RuleID,
		"parent_seq": ev.ParentSeq,
		"ts":         ev.Timestamp,
		"attrs":      ev.Attributes,
	}
}

func (s Summary) canonical() map[string]any {
	return map[string]any{
		"received":         s.Received,
		"dropped":          s.Dropped,
		"dispatches":       s.Dispatches,
		"delivered":        s.Delivered,
		"truncated":        s.Truncated,
		"max_depth":        s.MaxDepth,
		"recursion_needed": s.RecursionNeeded,
	}
}

// RunWithGolden runs scenario and checks its trace against
// testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden checks an existing result against its golden file. A
// mismatch fails t through goldie; the error is for marshal failures.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewTraceSnapshot(scenarioName, result).MarshalCanonical()
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenarioName, data)
	return nil
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/gpucep/internal/compiler"
	"github.com/roach88/gpucep/internal/engine"
	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/memory"
	"github.com/roach88/gpucep/internal/processor"
	"github.com/roach88/gpucep/internal/store"
	"github.com/roach88/gpucep/internal/testutil"
)

// LineagePrefix prefixes the deterministic lineage tokens of a scenario run:
// lin-0001, lin-0002, ...
const LineagePrefix = "lin"

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a real engine and CPU processor pool, with a
// fresh in-memory database recording every delivered event. Lineage tokens
// come from a sequence generator, so traces are reproducible.
//
// Execution flow:
// 1. Compile and validate the rules
// 2. Create store, processors and engine; install the rules
// 3. Publish each event in order
// 4. Read the trace back from the store and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	rules, err := compileScenarioRules(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	n := scenario.Processors
	if n == 0 {
		n = 1
	}
	pool := memory.NewPool()
	opts := []engine.EngineOption{
		engine.WithMemoryManager(pool),
		engine.WithLineageGenerator(testutil.NewSequenceGenerator(LineagePrefix)),
		engine.WithMaxLineageEvents(scenario.MaxLineageEvents),
	}
	if scenario.MaxDepth != nil {
		opts = append(opts, engine.WithMaxRecursionDepth(*scenario.MaxDepth))
	}
	eng, err := engine.New(processor.NewCPUPool(n, processor.WithMemoryManager(pool)), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	recorder := store.NewRecorder(st)
	eng.AddResultListener(recorder)

	ctx := context.Background()
	for i, r := range rules {
		if err := eng.ProcessRule(r); err != nil {
			return nil, fmt.Errorf("install rule %s: %w", r.ID, err)
		}
		if err := st.WriteRule(ctx, i, r); err != nil {
			return nil, err
		}
	}

	for i, step := range scenario.Events {
		attrs, err := convertAttrs(step.Attrs)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		ev, err := ir.NewPubPkt(ir.EventType(step.Type), step.TS, attrs)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if err := eng.ProcessPublishedEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	if failed := recorder.Failed(); failed > 0 {
		return nil, fmt.Errorf("%d delivered event(s) were not recorded", failed)
	}

	events, err := st.ReadEvents(ctx)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.Trace = buildTrace(events)

	stats := eng.Stats()
	result.Summary = Summary{
		Received:        stats.Received,
		Dropped:         stats.Dropped,
		Dispatches:      stats.Dispatches,
		Delivered:       int64(len(result.Trace)),
		Truncated:       stats.Truncated,
		MaxDepth:        stats.MaxDepth,
		RecursionNeeded: stats.RecursionNeeded,
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// compileScenarioRules compiles inline rules first, then rule files in order,
// and runs the static validator over the whole set.
func compileScenarioRules(s *Scenario) ([]*ir.RulePkt, error) {
	var rules []*ir.RulePkt
	if s.Rules != "" {
		compiled, err := compiler.CompileSource(s.Name+".cue", s.Rules)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rules: %w", err)
		}
		rules = append(rules, compiled...)
	}
	for _, path := range s.RuleFiles {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file: %w", err)
		}
		compiled, err := compiler.CompileSource(path, string(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s: %w", path, err)
		}
		rules = append(rules, compiled...)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("scenario %s defines no rules", s.Name)
	}

	if verrs := compiler.ValidateRules(rules); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("invalid rules: %w", errors.Join(errs...))
	}
	return rules, nil
}

// buildTrace converts logged events to trace entries, resolving parent IDs
// to seqs within each lineage.
func buildTrace(events []*ir.PubPkt) []TraceEvent {
	seqOf := make(map[string]int64, len(events))
	trace := make([]TraceEvent, 0, len(events))
	for _, ev := range events {
		seqOf[ev.Lineage+"/"+ev.ID] = ev.Seq
		trace = append(trace, TraceEvent{
			Seq:        ev.Seq,
			Lineage:    ev.Lineage,
			Type:       int(ev.Type),
			Depth:      ev.Depth,
			RuleID:     ev.RuleID,
			ParentSeq:  seqOf[ev.Lineage+"/"+ev.ParentID],
			Timestamp:  ev.Timestamp,
			Attributes: ev.Attributes,
		})
	}
	return trace
}

// convertAttrs converts a YAML-parsed map to ir.IRObject. Nulls and
// non-integral floats are rejected.
func convertAttrs(attrs map[string]interface{}) (ir.IRObject, error) {
	return ir.ObjectFromNative(attrs)
}

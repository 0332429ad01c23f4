// Package harness runs rule-matching scenarios against a real engine.
//
// A scenario installs rules, publishes external events one submission at a
// time and asserts on the derived events the engine delivered.
//
// # Scenario Format
//
//	name: relay_chain
//	description: "A derived event feeds the next rule"
//	processors: 2
//	max_depth: 4
//	rules: |
//	  rule: {
//	    first:  { when: [{type: 1, as: "e"}], emit: {type: 2, attrs: {v: "e.v"}} }
//	    second: { when: [{type: 2, as: "e"}], emit: {type: 3, attrs: {v: "e.v + 1"}} }
//	  }
//	events:
//	  - type: 1
//	    ts: 10
//	    attrs: { v: 1 }
//	assertions:
//	  - type: delivered_count
//	    count: 2
//	  - type: order
//	    types: [2, 3]
//
// # Assertion Types
//
//   - delivered_count: total derived events delivered
//   - delivered_type_count: delivered events of one type
//   - contains: a delivered event of a type carries the given attributes
//   - order: the first event of each listed type appears in order
//   - max_depth: deepest delivered event
//   - recursion_needed: whether some rule output feeds a rule input
//   - truncated: events cut off by the depth bound or lineage quota
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory SQLite store and a sequence lineage
// generator (lin-0001, lin-0002, ...), and the engine's logical clock starts
// at zero. The trace is read back from the store in seq order, so identical
// scenarios produce identical traces for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/relay_chain.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness

package engine

import "github.com/roach88/gpucep/internal/ir"

// DefaultMaxRecursionDepth bounds how many times a lineage re-enters
// matching. A derived event at a depth beyond it is delivered but not
// re-dispatched.
const DefaultMaxRecursionDepth = 5

// RecursionController decides whether a derived event re-enters matching.
//
// It holds no state beyond a snapshot of the engine's type sets, taken when
// the rule set changes. This is a depth bound, not a cycle detector: a rule
// set with a feedback loop runs until the bound cuts each lineage off.
type RecursionController struct {
	needed   bool
	inputs   map[ir.EventType]struct{}
	maxDepth int
}

// newRecursionController snapshots the given input set.
func newRecursionController(needed bool, inputs map[ir.EventType]int, maxDepth int) RecursionController {
	snap := make(map[ir.EventType]struct{}, len(inputs))
	for t := range inputs {
		snap[t] = struct{}{}
	}
	return RecursionController{needed: needed, inputs: snap, maxDepth: maxDepth}
}

// Needed reports whether any rule output feeds any rule input.
func (rc RecursionController) Needed() bool {
	return rc.needed
}

// MaxDepth returns the recursion bound.
func (rc RecursionController) MaxDepth() int {
	return rc.maxDepth
}

// feeds reports whether ev could match some installed rule.
func (rc RecursionController) feeds(ev *ir.PubPkt) bool {
	if !rc.needed {
		return false
	}
	_, ok := rc.inputs[ev.Type]
	return ok
}

// ShouldRedispatch reports whether ev, produced at the given depth, is
// dispatched again.
func (rc RecursionController) ShouldRedispatch(ev *ir.PubPkt, depth int) bool {
	return rc.feeds(ev) && depth <= rc.maxDepth
}

// Truncates reports whether ev would feed a rule but the depth bound stops it.
func (rc RecursionController) Truncates(ev *ir.PubPkt, depth int) bool {
	return rc.feeds(ev) && depth > rc.maxDepth
}

// workItem is one pending dispatch of a lineage.
type workItem struct {
	event *ir.PubPkt
	depth int
}

// workList is the FIFO of pending dispatches for one lineage. Processing it
// breadth-first replaces recursive dispatch calls: stack depth stays
// constant whatever the recursion bound.
type workList struct {
	items []workItem
}

func (w *workList) push(it workItem) {
	w.items = append(w.items, it)
}

func (w *workList) pop() (workItem, bool) {
	if len(w.items) == 0 {
		return workItem{}, false
	}
	it := w.items[0]
	w.items[0] = workItem{}
	w.items = w.items[1:]
	return it, true
}

func (w *workList) len() int {
	return len(w.items)
}

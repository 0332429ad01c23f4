package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/gpucep/internal/ir"
)

// CycleWarning names rules that can keep re-triggering each other through
// derived events. Cycles are legal: the recursion bound ends every lineage.
// A cycle whose where clauses eventually fail is cheap; one that always
// fires spends the whole bound on each submission.
type CycleWarning struct {
	Path    []string `json:"path"`  // e.g. ["a", "b", "a"]
	Rules   []string `json:"rules"` // install order
	Message string   `json:"message"`
	Level   string   `json:"level"` // always "warning"
}

// AnalyzeCycles reports every strongly connected component of the feed
// graph (r -> s when r emits a type any predicate of s consumes) that is
// larger than one rule or has a self edge. Warnings come in install order
// of their first member. A DAG yields an empty, non-nil slice.
func AnalyzeCycles(rules []*ir.RulePkt) []CycleWarning {
	g := newFeedGraph(rules)

	warnings := []CycleWarning{}
	for _, comp := range g.components() {
		if len(comp) == 1 && !g.hasEdge(comp[0], comp[0]) {
			continue
		}
		warnings = append(warnings, g.warning(comp))
	}
	return warnings
}

// feedGraph indexes rules by install position.
type feedGraph struct {
	ids   []string
	edges [][]int // ascending, deduplicated
}

func newFeedGraph(rules []*ir.RulePkt) *feedGraph {
	consumers := make(map[ir.EventType][]int)
	for i, r := range rules {
		for _, t := range r.InputTypes() {
			consumers[t] = append(consumers[t], i)
		}
	}

	g := &feedGraph{ids: make([]string, len(rules)), edges: make([][]int, len(rules))}
	for i, r := range rules {
		g.ids[i] = r.ID
		var out []int
		for _, t := range r.OutputTypes() {
			out = append(out, consumers[t]...)
		}
		slices.Sort(out)
		g.edges[i] = slices.Compact(out)
	}
	return g
}

func (g *feedGraph) hasEdge(from, to int) bool {
	_, ok := slices.BinarySearch(g.edges[from], to)
	return ok
}

// components runs Tarjan's algorithm from each node in install order. Each
// component comes back sorted, and the list is sorted by first member.
func (g *feedGraph) components() [][]int {
	n := len(g.ids)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var (
		next  int
		stack []int
		comps [][]int
		visit func(int)
	)
	visit = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			switch {
			case index[w] < 0:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		slices.Sort(comp)
		comps = append(comps, comp)
	}

	for v := range n {
		if index[v] < 0 {
			visit(v)
		}
	}
	slices.SortFunc(comps, func(a, b []int) int { return a[0] - b[0] })
	return comps
}

func (g *feedGraph) warning(comp []int) CycleWarning {
	rules := make([]string, len(comp))
	for i, v := range comp {
		rules[i] = g.ids[v]
	}

	if len(comp) == 1 {
		id := rules[0]
		return CycleWarning{
			Path:    []string{id, id},
			Rules:   rules,
			Message: fmt.Sprintf("Self-feeding rule detected: %s → %s", id, id),
			Level:   "warning",
		}
	}

	path := g.cyclePath(comp)
	return CycleWarning{
		Path:    path,
		Rules:   rules,
		Message: "Potential cycle detected: " + strings.Join(path, " → "),
		Level:   "warning",
	}
}

// cyclePath follows the lowest unvisited in-component edge from the first
// member until it can step back to the start.
func (g *feedGraph) cyclePath(comp []int) []string {
	start := comp[0]
	seen := map[int]bool{start: true}
	path := []string{g.ids[start]}

	for cur := start; ; {
		step := -1
		for _, w := range g.edges[cur] {
			if !slices.Contains(comp, w) {
				continue
			}
			if w == start || !seen[w] {
				step = w
				break
			}
		}
		if step < 0 {
			return path
		}
		path = append(path, g.ids[step])
		if step == start {
			return path
		}
		seen[step] = true
		cur = step
	}
}

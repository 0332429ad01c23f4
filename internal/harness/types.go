package harness

import "github.com/roach88/gpucep/internal/ir"

// TraceEvent is a delivered derived event as the store logged it. IDs are
// content hashes and would make golden files unreadable, so the parent is
// named by its Seq instead (0 when the parent is the published event).
type TraceEvent struct {
	Seq        int64       `json:"seq"`
	Lineage    string      `json:"lineage"`
	Type       int         `json:"type"`
	Depth      int         `json:"depth"`
	RuleID     string      `json:"rule_id"`
	ParentSeq  int64       `json:"parent_seq"`
	Timestamp  int64       `json:"ts"`
	Attributes ir.IRObject `json:"attrs"`
}

// Summary copies engine.Stats at the end of a run.
type Summary struct {
	Received        int64 `json:"received"`
	Dropped         int64 `json:"dropped"`
	Dispatches      int64 `json:"dispatches"`
	Delivered       int64 `json:"delivered"`
	Truncated       int64 `json:"truncated"`
	MaxDepth        int   `json:"max_depth"`
	RecursionNeeded bool  `json:"recursion_needed"`
}

// Result of one scenario. Pass is false as soon as one assertion fails;
// Errors then says which.
type Result struct {
	Pass    bool         `json:"pass"`
	Trace   []TraceEvent `json:"trace"` // seq order
	Summary Summary      `json:"summary"`
	Errors  []string     `json:"errors,omitempty"`
}

func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed assertion.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}

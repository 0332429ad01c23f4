package ir

import (
	"fmt"
	"slices"
)

// RulePkt is an installed detection rule.
//
// A rule waits for one event per predicate. The LAST predicate is the
// trigger: when an event matches it and every other predicate has a
// matching event no older than Within timestamp units, the rule emits an
// event of type Emit.Type.
//
// INVARIANT: InputTypes and OutputTypes never change once installed.
type RulePkt struct {
	ID         string      `json:"id"`
	Predicates []Predicate `json:"when"`
	Within     int64       `json:"within"`
	Emit       Emit        `json:"emit"`
}

// Predicate selects events of one type, optionally filtered by an
// expression over the event attributes.
type Predicate struct {
	Type  EventType `json:"type"`
	Alias string    `json:"as"`
	Where string    `json:"where,omitempty"`
}

// Emit describes the derived event. Attributes maps each output attribute
// name to an expression evaluated over the matched events (by alias).
type Emit struct {
	Type       EventType         `json:"type"`
	Attributes map[string]string `json:"attrs,omitempty"`
}

// InputTypes returns the distinct event types the rule consumes, sorted.
func (r *RulePkt) InputTypes() []EventType {
	out := make([]EventType, 0, len(r.Predicates))
	for _, p := range r.Predicates {
		if !slices.Contains(out, p.Type) {
			out = append(out, p.Type)
		}
	}
	slices.Sort(out)
	return out
}

// OutputTypes returns the event types the rule may emit.
func (r *RulePkt) OutputTypes() []EventType {
	return []EventType{r.Emit.Type}
}

// Consumes reports whether the rule has a predicate on the given type.
func (r *RulePkt) Consumes(t EventType) bool {
	for _, p := range r.Predicates {
		if p.Type == t {
			return true
		}
	}
	return false
}

// Trigger returns the trigger predicate (the last one).
func (r *RulePkt) Trigger() Predicate {
	return r.Predicates[len(r.Predicates)-1]
}

// RuleError describes a malformed rule.
type RuleError struct {
	RuleID  string
	Field   string
	Message string
}

func (e *RuleError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("rule %q: %s: %s", e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("rule %q: %s", e.RuleID, e.Message)
}

// Validate checks the structural invariants of a rule.
// Expression syntax is checked by the processor that compiles it.
func (r *RulePkt) Validate() error {
	if r.ID == "" {
		return &RuleError{Field: "id", Message: "rule ID is required"}
	}
	if len(r.Predicates) == 0 {
		return &RuleError{RuleID: r.ID, Field: "when", Message: "at least one predicate is required"}
	}
	if r.Within < 0 {
		return &RuleError{RuleID: r.ID, Field: "within", Message: fmt.Sprintf("window must not be negative, got %d", r.Within)}
	}
	if r.Emit.Type <= 0 {
		return &RuleError{RuleID: r.ID, Field: "emit.type", Message: "emit type must be a positive event type"}
	}

	aliases := make(map[string]bool, len(r.Predicates))
	for i, p := range r.Predicates {
		if p.Type <= 0 {
			return &RuleError{RuleID: r.ID, Field: fmt.Sprintf("when[%d].type", i), Message: "event type must be positive"}
		}
		if p.Alias == "" {
			return &RuleError{RuleID: r.ID, Field: fmt.Sprintf("when[%d].as", i), Message: "alias is required"}
		}
		if aliases[p.Alias] {
			return &RuleError{RuleID: r.ID, Field: fmt.Sprintf("when[%d].as", i), Message: fmt.Sprintf("duplicate alias %q", p.Alias)}
		}
		aliases[p.Alias] = true
	}

	// Contradictory type sets: an unconditional single-predicate rule fed by
	// its own output.
	if r.Trigger().Type == r.Emit.Type && len(r.Predicates) == 1 && r.Trigger().Where == "" {
		return &RuleError{RuleID: r.ID, Field: "emit.type", Message: "unconditional single-predicate rule emits its own trigger type"}
	}

	return nil
}

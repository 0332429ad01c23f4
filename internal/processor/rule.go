package processor

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/memory"
)

// compiledRule is a rule ready for evaluation plus its matching state.
type compiledRule struct {
	rule  *ir.RulePkt
	hash  string
	where []*vm.Program // per predicate, nil when unfiltered
	emit  []emitAttr    // sorted by name for deterministic evaluation

	// buffers[i] holds events matching predicate i (non-trigger predicates
	// only), oldest first.
	buffers     [][]*ir.PubPkt
	maxBuffered int
}

type emitAttr struct {
	name    string
	program *vm.Program
}

// compileRule compiles the rule's expressions.
func compileRule(r *ir.RulePkt, maxBuffered int) (*compiledRule, error) {
	hash, err := ir.RuleHash(r)
	if err != nil {
		return nil, err
	}

	cr := &compiledRule{
		rule:        r,
		hash:        hash,
		where:       make([]*vm.Program, len(r.Predicates)),
		buffers:     make([][]*ir.PubPkt, len(r.Predicates)),
		maxBuffered: maxBuffered,
	}

	for i, p := range r.Predicates {
		if p.Where == "" {
			continue
		}
		program, err := expr.Compile(p.Where, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, &ir.RuleError{
				RuleID:  r.ID,
				Field:   fmt.Sprintf("when[%d].where", i),
				Message: err.Error(),
			}
		}
		cr.where[i] = program
	}

	names := make([]string, 0, len(r.Emit.Attributes))
	for name := range r.Emit.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		program, err := expr.Compile(r.Emit.Attributes[name], expr.AllowUndefinedVariables())
		if err != nil {
			return nil, &ir.RuleError{
				RuleID:  r.ID,
				Field:   fmt.Sprintf("emit.attrs.%s", name),
				Message: err.Error(),
			}
		}
		cr.emit = append(cr.emit, emitAttr{name: name, program: program})
	}

	return cr, nil
}

// matches reports whether ev satisfies predicate i.
func (cr *compiledRule) matches(i int, ev *ir.PubPkt, env map[string]any) (bool, error) {
	if cr.rule.Predicates[i].Type != ev.Type {
		return false, nil
	}
	if cr.where[i] == nil {
		return true, nil
	}
	out, err := vm.Run(cr.where[i], env)
	if err != nil {
		return false, fmt.Errorf("rule %s: when[%d]: %w", cr.rule.ID, i, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// process runs one event through the rule's state machine.
//
// The trigger predicate is checked against the state as it was before ev
// arrived; ev is buffered for the other predicates afterwards.
func (cr *compiledRule) process(ev *ir.PubPkt, mm memory.Manager) ([]ir.Derivation, error) {
	if !cr.rule.Consumes(ev.Type) {
		return nil, nil
	}

	env := ev.Attributes.Native()
	cr.expire(ev.Timestamp, mm)

	var out []ir.Derivation
	last := len(cr.rule.Predicates) - 1

	ok, err := cr.matches(last, ev, env)
	if err != nil {
		return nil, err
	}
	if ok {
		if d, fired, err := cr.fire(ev); err != nil {
			return nil, err
		} else if fired {
			out = append(out, d)
		}
	}

	for i := 0; i < last; i++ {
		ok, err := cr.matches(i, ev, env)
		if err != nil {
			return out, err
		}
		if ok {
			cr.buffer(i, ev, mm)
		}
	}

	return out, nil
}

// fire assembles a derivation if every non-trigger predicate has a match
// inside the window. The most recent match is selected for each predicate.
func (cr *compiledRule) fire(trigger *ir.PubPkt) (ir.Derivation, bool, error) {
	preds := cr.rule.Predicates
	last := len(preds) - 1

	bound := make(map[string]any, len(preds))
	bound[preds[last].Alias] = trigger.Attributes.Native()

	for i := 0; i < last; i++ {
		match := cr.latest(i, trigger.Timestamp)
		if match == nil {
			return ir.Derivation{}, false, nil
		}
		bound[preds[i].Alias] = match.Attributes.Native()
	}

	attrs := make(ir.IRObject, len(cr.emit))
	for _, a := range cr.emit {
		out, err := vm.Run(a.program, bound)
		if err != nil {
			return ir.Derivation{}, false, fmt.Errorf("rule %s: emit.attrs.%s: %w", cr.rule.ID, a.name, err)
		}
		if out == nil {
			continue
		}
		val, err := ir.FromNative(out)
		if err != nil {
			return ir.Derivation{}, false, fmt.Errorf("rule %s: emit.attrs.%s: %w", cr.rule.ID, a.name, err)
		}
		attrs[a.name] = val
	}

	return ir.Derivation{
		RuleID:     cr.rule.ID,
		Type:       cr.rule.Emit.Type,
		Timestamp:  trigger.Timestamp,
		Attributes: attrs,
	}, true, nil
}

// latest returns the newest buffered event for predicate i that is not
// newer than ts and lies within the window.
func (cr *compiledRule) latest(i int, ts int64) *ir.PubPkt {
	buf := cr.buffers[i]
	for j := len(buf) - 1; j >= 0; j-- {
		ev := buf[j]
		if ev.Timestamp > ts {
			continue
		}
		if ts-ev.Timestamp > cr.rule.Within {
			return nil
		}
		return ev
	}
	return nil
}

func (cr *compiledRule) buffer(i int, ev *ir.PubPkt, mm memory.Manager) {
	mm.Retain(ev)
	cr.buffers[i] = append(cr.buffers[i], ev)
	if cr.maxBuffered > 0 && len(cr.buffers[i]) > cr.maxBuffered {
		mm.Release(cr.buffers[i][0])
		cr.buffers[i][0] = nil
		cr.buffers[i] = cr.buffers[i][1:]
	}
}

// expire releases buffered events that fell out of the window relative to now.
func (cr *compiledRule) expire(now int64, mm memory.Manager) {
	for i, buf := range cr.buffers {
		n := 0
		for n < len(buf) && now-buf[n].Timestamp > cr.rule.Within {
			mm.Release(buf[n])
			buf[n] = nil
			n++
		}
		if n > 0 {
			cr.buffers[i] = buf[n:]
		}
	}
}

// reset releases all buffered events.
func (cr *compiledRule) reset(mm memory.Manager) {
	for i, buf := range cr.buffers {
		for _, ev := range buf {
			mm.Release(ev)
		}
		cr.buffers[i] = nil
	}
}

// buffered returns the number of events held for predicate i.
func (cr *compiledRule) buffered(i int) int {
	return len(cr.buffers[i])
}

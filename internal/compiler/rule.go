package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/gpucep/internal/ir"
)

// CompileRule parses a CUE value into a RulePkt.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "fire": { ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."fire"`)))
//
// CompileRule checks the shape of the definition only; ir.RulePkt.Validate
// and the processor check the rest.
func CompileRule(v cue.Value) (*ir.RulePkt, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.RulePkt{}

	// `rule: "fire": { ... }` → id is "fire"
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	withinVal := v.LookupPath(cue.ParsePath("within"))
	if withinVal.Exists() {
		within, err := withinVal.Int64()
		if err != nil {
			return nil, fieldError(withinVal, "within", "within must be an integer")
		}
		rule.Within = within
	}

	var err error
	rule.Predicates, err = parsePredicates(v)
	if err != nil {
		return nil, err
	}

	rule.Emit, err = parseEmit(v)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// parsePredicates extracts the ordered when list.
func parsePredicates(v cue.Value) ([]ir.Predicate, error) {
	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return nil, fieldError(v, "when", "when list is required")
	}

	iter, err := whenVal.List()
	if err != nil {
		return nil, fieldError(whenVal, "when", "when must be a list of predicates")
	}

	var preds []ir.Predicate
	for i := 0; iter.Next(); i++ {
		p, err := parsePredicate(iter.Value(), i)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	if len(preds) == 0 {
		return nil, fieldError(whenVal, "when", "at least one predicate is required")
	}
	return preds, nil
}

func parsePredicate(v cue.Value, i int) (ir.Predicate, error) {
	field := fmt.Sprintf("when[%d]", i)

	typ, err := requiredType(v, field)
	if err != nil {
		return ir.Predicate{}, err
	}

	aliasVal := v.LookupPath(cue.ParsePath("as"))
	if !aliasVal.Exists() {
		return ir.Predicate{}, fieldError(v, field+".as", "predicate requires an 'as' alias")
	}
	alias, err := aliasVal.String()
	if err != nil {
		return ir.Predicate{}, formatCUEError(err)
	}

	p := ir.Predicate{Type: typ, Alias: alias}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		where, err := whereVal.String()
		if err != nil {
			return ir.Predicate{}, fieldError(whereVal, field+".where", "where must be an expression string")
		}
		p.Where = where
	}

	return p, nil
}

// parseEmit extracts the emit clause.
func parseEmit(v cue.Value) (ir.Emit, error) {
	emitVal := v.LookupPath(cue.ParsePath("emit"))
	if !emitVal.Exists() {
		return ir.Emit{}, fieldError(v, "emit", "emit clause is required")
	}

	typ, err := requiredType(emitVal, "emit")
	if err != nil {
		return ir.Emit{}, err
	}
	emit := ir.Emit{Type: typ}

	attrsVal := emitVal.LookupPath(cue.ParsePath("attrs"))
	if attrsVal.Exists() {
		iter, err := attrsVal.Fields()
		if err != nil {
			return emit, formatCUEError(err)
		}

		emit.Attributes = make(map[string]string)
		for iter.Next() {
			name := iter.Label()
			expression, err := iter.Value().String()
			if err != nil {
				return emit, fieldError(iter.Value(), "emit.attrs."+name, "attribute value must be an expression string")
			}
			emit.Attributes[name] = expression
		}
	}

	return emit, nil
}

// requiredType reads the integer type field of a predicate or emit clause.
func requiredType(v cue.Value, field string) (ir.EventType, error) {
	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return 0, fieldError(v, field+".type", "type is required")
	}
	n, err := typeVal.Int64()
	if err != nil {
		return 0, fieldError(typeVal, field+".type", "type must be an integer event type")
	}
	return ir.EventType(n), nil
}

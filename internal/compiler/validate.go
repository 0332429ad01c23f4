package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"

	"github.com/roach88/gpucep/internal/ir"
)

// Validation error codes (E120-E129)
const (
	ErrInvalidRule       = "E120" // structural rule error
	ErrDuplicateRuleID   = "E121" // rule ID declared twice
	ErrInvalidExpression = "E122" // where or emit expression does not compile
	ErrUndefinedAlias    = "E123" // emit expression references an unknown alias
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("[%s] rule %s: %s: %s", e.Code, e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateRules checks a rule set the way the engine would at install time,
// plus alias checks the engine leaves to runtime.
// Returns all errors found (does not fail-fast).
func ValidateRules(rules []*ir.RulePkt) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rules))

	for _, r := range rules {
		if seen[r.ID] {
			errs = append(errs, ValidationError{
				RuleID:  r.ID,
				Field:   "id",
				Message: "duplicate rule ID",
				Code:    ErrDuplicateRuleID,
			})
			continue
		}
		seen[r.ID] = true
		errs = append(errs, validateRule(r)...)
	}

	return errs
}

func validateRule(r *ir.RulePkt) []ValidationError {
	if err := r.Validate(); err != nil {
		ve := ValidationError{RuleID: r.ID, Message: err.Error(), Code: ErrInvalidRule}
		var re *ir.RuleError
		if errors.As(err, &re) {
			ve.Field = re.Field
			ve.Message = re.Message
		}
		return []ValidationError{ve}
	}

	var errs []ValidationError

	// E122: where expressions see the event attributes as top-level names.
	for i, p := range r.Predicates {
		if p.Where == "" {
			continue
		}
		if _, err := expr.Compile(p.Where, expr.AsBool(), expr.AllowUndefinedVariables()); err != nil {
			errs = append(errs, ValidationError{
				RuleID:  r.ID,
				Field:   fmt.Sprintf("when[%d].where", i),
				Message: err.Error(),
				Code:    ErrInvalidExpression,
			})
		}
	}

	// E122/E123: emit expressions see only the predicate aliases.
	env := make(map[string]any, len(r.Predicates))
	for _, p := range r.Predicates {
		env[p.Alias] = map[string]any{}
	}

	names := make([]string, 0, len(r.Emit.Attributes))
	for name := range r.Emit.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		src := r.Emit.Attributes[name]
		field := fmt.Sprintf("emit.attrs.%s", name)
		if _, err := expr.Compile(src, expr.AllowUndefinedVariables()); err != nil {
			errs = append(errs, ValidationError{
				RuleID:  r.ID,
				Field:   field,
				Message: err.Error(),
				Code:    ErrInvalidExpression,
			})
			continue
		}
		if _, err := expr.Compile(src, expr.Env(env)); err != nil {
			errs = append(errs, ValidationError{
				RuleID:  r.ID,
				Field:   field,
				Message: fmt.Sprintf("expression %q references an undefined alias: %v", src, err),
				Code:    ErrUndefinedAlias,
			})
		}
	}

	return errs
}

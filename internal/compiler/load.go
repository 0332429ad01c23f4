package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/gpucep/internal/ir"
)

// RuleError wraps a compile failure with the rule it came from.
type RuleError struct {
	Label string
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule.%s: %v", e.Label, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// CompileRules compiles every entry under the top-level `rule` struct, in
// label order. With failFast it stops at the first error; otherwise it
// returns every rule that compiled plus all errors.
func CompileRules(value cue.Value, failFast bool) ([]*ir.RulePkt, []error) {
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	rulesVal := value.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		rules []*ir.RulePkt
		errs  []error
	)
	for iter.Next() {
		rule, err := CompileRule(iter.Value())
		if err != nil {
			errs = append(errs, &RuleError{Label: iter.Label(), Err: err})
			if failFast {
				return rules, errs
			}
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

// CompileSource compiles rules from CUE source text.
func CompileSource(filename, src string) ([]*ir.RulePkt, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename(filename))
	rules, errs := CompileRules(value, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return rules, nil
}

// LoadValue loads the CUE package in dir and builds its value.
func LoadValue(dir string) (cue.Value, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return cue.Value{}, fmt.Errorf("rules directory: %w", err)
	}
	if !info.IsDir() {
		return cue.Value{}, fmt.Errorf("not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return value, nil
}

// LoadRules loads and compiles every rule of the CUE package in dir.
// It fails on the first error.
func LoadRules(dir string) ([]*ir.RulePkt, error) {
	value, err := LoadValue(dir)
	if err != nil {
		return nil, err
	}
	rules, errs := CompileRules(value, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules found in %s", dir)
	}
	return rules, nil
}

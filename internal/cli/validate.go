package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/compiler"
)

// ValidationResult is the validate command's report. Cycles are warnings:
// the recursion bound stops them at run time.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Rules    int                        `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate rules without running them",
		Long: `Validate the CUE rules of a directory without starting an engine.

Checks rule shape, expression syntax and alias references, and reports
rule cycles as warnings. Cycles are legal: the engine cuts every lineage
off at the recursion depth bound.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, errs := LoadRules(rulesDir, LoadModeCollectAll)
	if loaded == nil {
		return reportLoadFailure(f, errs)
	}

	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, rulesDir)
	for _, r := range loaded.Rules {
		f.VerboseLog("Validating rule: %s", r.ID)
	}

	result := ValidationResult{
		Rules:    len(loaded.Rules),
		Warnings: compiler.AnalyzeCycles(loaded.Rules),
	}
	for _, err := range errs {
		le := asLoadError(err, ErrCodeGeneric)
		result.Errors = append(result.Errors, compiler.ValidationError{
			Field:   "load",
			Message: le.Error(),
			Code:    le.Code,
		})
	}
	result.Errors = append(result.Errors, compiler.ValidateRules(loaded.Rules)...)
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return reportValidationErrors(f, result)
	}
	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s All %d rule(s) valid\n", passMark, result.Rules)
	for _, w := range result.Warnings {
		fmt.Fprintf(f.Writer, "%s %s\n", warnMark, w.Message)
	}
	return nil
}

// reportValidationErrors exits with ExitFailure: the directory loaded, its
// rules are wrong.
func reportValidationErrors(f *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if f.JSON() {
		first := result.Errors[0]
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintf(f.Writer, "%s Validation failed\n\n", failMark)
	for _, e := range result.Errors {
		if e.RuleID != "" {
			fmt.Fprintf(f.Writer, "rule %s: %s\n", e.RuleID, e.Field)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return failed
}

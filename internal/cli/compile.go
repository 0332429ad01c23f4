package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/ir"
)

type CompileOptions struct {
	*RootOptions
	Output string
}

// CompiledRule pairs a rule with the content hash the store records for it.
type CompiledRule struct {
	Hash string      `json:"hash"`
	Rule *ir.RulePkt `json:"rule"`
}

// CompilationResult lists the compiled rules in install order.
type CompilationResult struct {
	IRVersion string         `json:"ir_version"`
	Rules     []CompiledRule `json:"rules"`
}

func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile CUE rules to IR",
		Long: `Compile the CUE rules of a directory to their IR form.

Each rule is listed in install order with its content hash, the same hash
the store records for installed rules.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	return cmd
}

func runCompile(opts *CompileOptions, rulesDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	loaded, errs := LoadRules(rulesDir, LoadModeCollectAll)
	if loaded == nil {
		return reportLoadFailure(f, errs)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, rulesDir)
	if len(errs) > 0 {
		return reportCompileErrors(f, errs)
	}

	result := &CompilationResult{IRVersion: ir.IRVersion, Rules: make([]CompiledRule, 0, len(loaded.Rules))}
	for _, r := range loaded.Rules {
		f.VerboseLog("Compiling rule: %s", r.ID)
		hash, err := ir.RuleHash(r)
		if err != nil {
			return compileFailure(f, ErrCodeGeneric, fmt.Sprintf("rule %s: %v", r.ID, err))
		}
		result.Rules = append(result.Rules, CompiledRule{Hash: hash, Rule: r})
	}

	if opts.Output != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			err = os.WriteFile(opts.Output, data, 0o644)
		}
		if err != nil {
			return compileFailure(f, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s Compiled %d rule(s)\n\n", passMark, len(result.Rules))
	for _, cr := range result.Rules {
		r := cr.Rule
		fmt.Fprintf(f.Writer, "  %s: %v → %d", r.ID, r.InputTypes(), r.Emit.Type)
		if r.Within > 0 {
			fmt.Fprintf(f.Writer, " within %d", r.Within)
		}
		fmt.Fprintln(f.Writer)
	}
	fmt.Fprintln(f.Writer)
	if opts.Output != "" {
		fmt.Fprintf(f.Writer, "Wrote IR to %s\n", opts.Output)
	}
	return nil
}

func compileFailure(f *OutputFormatter, code, message string) error {
	_ = f.Error(code, message, nil)
	return NewExitError(ExitCommandError, code+": "+message)
}

// reportCompileErrors lists every rule that failed to compile. JSON output
// carries the first error in the envelope and all of them in data.
func reportCompileErrors(f *OutputFormatter, errs []error) error {
	failed := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	coded := make([]*LoadError, len(errs))
	for i, err := range errs {
		coded[i] = asLoadError(err, ErrCodeGeneric)
	}

	if f.JSON() {
		all := make([]CLIError, len(coded))
		for i, le := range coded {
			all[i] = CLIError{Code: le.Code, Message: le.Message}
		}
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(CLIResponse{Status: "error", Error: &all[0], Data: all}); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintf(f.Writer, "%s Compilation failed\n\n", failMark)
	for _, le := range coded {
		if le.Pos.IsValid() {
			fmt.Fprintf(f.Writer, "%s:%d:%d\n", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column())
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", le.Code, le.Message)
	}
	return failed
}

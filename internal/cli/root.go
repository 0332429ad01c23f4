package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/ir"
)

// RootOptions are the persistent flags every subcommand sees.
type RootOptions struct {
	Verbose bool
	Format  string
}

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// NewRootCommand assembles the gpucep command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:     "gpucep",
		Short:   "gpucep - parallel complex event processing",
		Version: ir.EngineVersion,
		Long: `gpucep matches published events against CUE rules on a pool of processor
units. Events a rule derives are published again, level by level, until no
rule consumes them or they pass the recursion bound.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	root.AddCommand(
		NewCompileCommand(opts),
		NewValidateCommand(opts),
		NewRunCommand(opts),
		NewPublishCommand(opts),
		NewTestCommand(opts),
		NewTraceCommand(opts),
	)
	return root
}

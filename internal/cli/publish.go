package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/engine"
	"github.com/roach88/gpucep/internal/listener"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Type       int
	TS         int64
	Attrs      string
	Processors int
	MaxDepth   int

	// LineageGenerator allows overriding the lineage token generator (for testing).
	LineageGenerator engine.LineageGenerator
}

// PublishResult lists what one published event derived.
type PublishResult struct {
	EventID   string          `json:"event_id"`
	Lineage   string          `json:"lineage,omitempty"`
	Derived   []DerivedOutput `json:"derived"`
	Truncated int64           `json:"truncated"`
}

// DerivedOutput is a derived event in publish output.
type DerivedOutput struct {
	Seq    int64                  `json:"seq"`
	Type   int                    `json:"type"`
	TS     int64                  `json:"ts"`
	Depth  int                    `json:"depth"`
	Rule   string                 `json:"rule"`
	Parent string                 `json:"parent"`
	Attrs  map[string]interface{} `json:"attrs"`
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish <rules-dir>",
		Short: "Publish one event and print what it derives",
		Long: `Publish a single event against the rules of a directory.

The event is processed synchronously, including recursive derivations, and
every derived event is printed in delivery order.

Example:
  gpucep publish ./rules --type 1 --ts 100 --attrs '{"area":"north","value":50}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return publishEvent(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Type, "type", 0, "event type (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().Int64Var(&opts.TS, "ts", 0, "event timestamp")
	cmd.Flags().StringVar(&opts.Attrs, "attrs", "{}", "event attributes as JSON")
	cmd.Flags().IntVar(&opts.Processors, "processors", 1, "number of processor units")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", engine.DefaultMaxRecursionDepth, "recursion depth bound")

	return cmd
}

func publishEvent(opts *PublishOptions, rulesDir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := newFormatter(opts.RootOptions, cmd)

	var attrs map[string]interface{}
	if err := json.Unmarshal([]byte(opts.Attrs), &attrs); err != nil {
		return WrapExitError(ExitCommandError, "invalid --attrs JSON", err)
	}
	ev, err := EventInput{Type: opts.Type, TS: opts.TS, Attrs: attrs}.Event()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid event", err)
	}

	rules, err := compileRules(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile rules", err)
	}

	engineOpts := []engine.EngineOption{engine.WithMaxRecursionDepth(opts.MaxDepth)}
	if opts.LineageGenerator != nil {
		engineOpts = append(engineOpts, engine.WithLineageGenerator(opts.LineageGenerator))
	}
	eng, err := newEngine(opts.Processors, rules, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer eng.Close()

	collector := listener.NewCollector()
	eng.AddResultListener(collector)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := eng.ProcessPublishedEvent(ctx, ev); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	result := PublishResult{
		EventID:   ev.ID,
		Derived:   make([]DerivedOutput, 0, collector.Count()),
		Truncated: eng.Stats().Truncated,
	}
	for _, d := range collector.Events() {
		result.Lineage = d.Lineage
		result.Derived = append(result.Derived, DerivedOutput{
			Seq:    d.Seq,
			Type:   int(d.Type),
			TS:     d.Timestamp,
			Depth:  d.Depth,
			Rule:   d.RuleID,
			Parent: d.ParentID,
			Attrs:  d.Attributes.Native(),
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Published event %s (type=%d)\n", passMark, truncateID(ev.ID), opts.Type)
	if len(result.Derived) == 0 {
		fmt.Fprintln(w, "No events derived.")
		return nil
	}
	fmt.Fprintf(w, "\nDerived %d event(s) in lineage %s:\n", len(result.Derived), result.Lineage)
	for _, d := range result.Derived {
		fmt.Fprintf(w, "  [%d] type=%d depth=%d rule=%s %s\n", d.Seq, d.Type, d.Depth, d.Rule, formatArgs(d.Attrs))
	}
	if result.Truncated > 0 {
		fmt.Fprintf(w, "\n%s %d event(s) hit the recursion bound\n", warnMark, result.Truncated)
	}
	return nil
}

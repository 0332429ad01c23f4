package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gpucep/internal/ir"
	"github.com/roach88/gpucep/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Lineage  string
	Type     int    // optional - filter timeline to one event type
	Rule     string // optional - filter timeline to one rule
}

// TraceEvent represents a single derived event in the trace timeline.
type TraceEvent struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	Type       int            `json:"type"`
	Depth      int            `json:"depth"`
	RuleID     string         `json:"rule_id"`
	ParentID   string         `json:"parent_id"`
	Timestamp  int64          `json:"ts"`
	Attributes map[string]any `json:"attrs,omitempty"`
}

// ProvenanceEdge represents a causal relationship in the lineage tree.
type ProvenanceEdge struct {
	From string `json:"from"` // Parent event ID; the external event for depth 1
	Rule string `json:"rule"`
	To   string `json:"to"`
}

// TraceResult holds the complete trace output for one lineage.
type TraceResult struct {
	Lineage    string           `json:"lineage"`
	Timeline   []TraceEvent     `json:"timeline"`
	Provenance []ProvenanceEdge `json:"provenance"`
	Stats      TraceStats       `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	MaxDepth    int            `json:"max_depth"`
	ByRule      map[string]int `json:"by_rule"`
}

// LineageSummary is one row of the lineage listing.
type LineageSummary struct {
	Lineage  string `json:"lineage"`
	Events   int    `json:"events"`
	MaxDepth int    `json:"max_depth"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the derived events of a lineage",
		Long: `Show the derived events recorded for one external submission.

Without --lineage, lists every recorded lineage with its event count.
With --lineage, shows:
- Timeline: derived events in seq order, indented by recursion depth
- Provenance: which rule derived each event from which parent
- Stats: event count, deepest event and events per rule

Examples:
  gpucep trace --db ./gpucep.db
  gpucep trace --db ./gpucep.db --lineage 0190a1b2-...
  gpucep trace --db ./gpucep.db --lineage 0190a1b2-... --type 3 --format json
  gpucep trace --db ./gpucep.db --lineage 0190a1b2-... --rule fire`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Lineage, "lineage", "", "lineage token to trace")
	cmd.Flags().IntVar(&opts.Type, "type", 0, "filter timeline to one event type")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "filter timeline to one rule")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Lineage == "" {
		return listLineages(ctx, st, opts, cmd)
	}

	events, err := st.ReadLineage(ctx, opts.Lineage)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read lineage", err)
	}

	if len(events) == 0 {
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceResult{
				Lineage:    opts.Lineage,
				Timeline:   []TraceEvent{},
				Provenance: []ProvenanceEdge{},
				Stats:      TraceStats{ByRule: map[string]int{}},
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for lineage: %s\n", opts.Lineage)
		return nil
	}

	timeline := events
	if filter := timelineFilter(opts); filter != nil {
		timeline, err = st.QueryEvents(ctx, filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to filter lineage", err)
		}
	}

	result := buildTraceResult(opts.Lineage, events, timeline)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// timelineFilter narrows the lineage to the --type and --rule flags, or
// returns nil when neither is set.
func timelineFilter(opts *TraceOptions) store.Filter {
	if opts.Type == 0 && opts.Rule == "" {
		return nil
	}
	and := store.And{Filters: []store.Filter{store.ByLineage(opts.Lineage)}}
	if opts.Type != 0 {
		and.Filters = append(and.Filters, store.ByType(ir.EventType(opts.Type)))
	}
	if opts.Rule != "" {
		and.Filters = append(and.Filters, store.ByRule(opts.Rule))
	}
	return and
}

// buildTraceResult converts stored events into a trace. Provenance and
// stats cover every event of the lineage; the timeline shows only the
// given subset.
func buildTraceResult(lineage string, events, timeline []*ir.PubPkt) TraceResult {
	result := TraceResult{
		Lineage:    lineage,
		Timeline:   make([]TraceEvent, 0, len(timeline)),
		Provenance: make([]ProvenanceEdge, 0, len(events)),
		Stats:      TraceStats{ByRule: map[string]int{}},
	}

	for _, ev := range events {
		result.Provenance = append(result.Provenance, ProvenanceEdge{
			From: ev.ParentID,
			Rule: ev.RuleID,
			To:   ev.ID,
		})
		result.Stats.TotalEvents++
		result.Stats.ByRule[ev.RuleID]++
		if ev.Depth > result.Stats.MaxDepth {
			result.Stats.MaxDepth = ev.Depth
		}
	}

	for _, ev := range timeline {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:        ev.Seq,
			ID:         ev.ID,
			Type:       int(ev.Type),
			Depth:      ev.Depth,
			RuleID:     ev.RuleID,
			ParentID:   ev.ParentID,
			Timestamp:  ev.Timestamp,
			Attributes: ev.Attributes.Native(),
		})
	}

	return result
}

// listLineages prints every recorded lineage in submission order.
func listLineages(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	tokens, err := st.Lineages(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list lineages", err)
	}

	summaries := make([]LineageSummary, 0, len(tokens))
	for _, token := range tokens {
		events, err := st.ReadLineage(ctx, token)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read lineage", err)
		}
		s := LineageSummary{Lineage: token, Events: len(events)}
		for _, ev := range events {
			s.MaxDepth = max(s.MaxDepth, ev.Depth)
		}
		summaries = append(summaries, s)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, summaries)
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No lineages recorded")
		return nil
	}
	fmt.Fprintf(w, "%d lineage(s)\n\n", len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(w, "  %s  events=%d max_depth=%d\n", s.Lineage, s.Events, s.MaxDepth)
	}
	return nil
}

func outputTraceJSON(cmd *cobra.Command, data any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: data})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Lineage: %s\n\n", result.Lineage)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Provenance ===")
	for _, edge := range result.Provenance {
		fmt.Fprintf(w, "  %s -[%s]-> %s\n", truncateID(edge.From), edge.Rule, truncateID(edge.To))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Max Depth:    %d\n", result.Stats.MaxDepth)

	for _, r := range slices.Sorted(maps.Keys(result.Stats.ByRule)) {
		fmt.Fprintf(w, "  %s: %d\n", r, result.Stats.ByRule[r])
	}

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	indent := strings.Repeat("  ", max(ev.Depth-1, 0))
	fmt.Fprintf(w, "  %s[%d] type=%d rule=%s %s\n", indent, ev.Seq, ev.Type, ev.RuleID, formatArgs(ev.Attributes))
	if verbose {
		fmt.Fprintf(w, "  %s     ID: %s parent: %s ts: %d\n", indent, truncateID(ev.ID), truncateID(ev.ParentID), ev.Timestamp)
	}
}

// formatArgs renders attributes as {k=v, ...} in key order.
func formatArgs(args map[string]any) string {
	parts := make([]string, 0, len(args))
	for _, k := range slices.Sorted(maps.Keys(args)) {
		parts = append(parts, k+"="+formatValue(args[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID keeps the ends of a content hash: abcdefgh...stuvwxyz.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

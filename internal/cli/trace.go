package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	FlowToken string
	Action    string // optional - filter to specific action
	Pending   bool
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq        int64       `json:"seq"`
	Type       string      `json:"type"` // "invocation" or "completion"
	ID         string      `json:"id"`
	ActionURI  string      `json:"action_uri,omitempty"`
	Args       ir.IRObject `json:"args,omitempty"`
	OutputCase string      `json:"output_case,omitempty"`
	Result     ir.IRObject `json:"result,omitempty"`
	SyncID     string      `json:"sync_id,omitempty"`
}

// ProvenanceEdge represents a causal relationship in the provenance graph.
type ProvenanceEdge struct {
	FromCompletion string `json:"from_completion"`
	SyncRule       string `json:"sync_rule"`
	ToInvocation   string `json:"to_invocation"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	FlowToken  string           `json:"flow_token"`
	Timeline   []TraceEvent     `json:"timeline"`
	Provenance []ProvenanceEdge `json:"provenance"`
	Stats      TraceStats       `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int  `json:"total_events"`
	Invocations int  `json:"invocations"`
	Completions int  `json:"completions"`
	SyncFirings int  `json:"sync_firings"`
	IsComplete  bool `json:"is_complete"`
}

// FlowList is the output of trace without --flow.
type FlowList struct {
	Flows   []string `json:"flows"`
	Pending bool     `json:"pending_only"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show what happened in a flow",
		Long: `Read the event log and show the causal history of a flow.

Each request starts a flow. The trace lists its invocations and
completions in order, and for every invocation produced by a sync rule
the completion that triggered it.

Without --flow the known flow tokens are listed; --pending restricts the
list to flows with invocations that never completed.

Examples:
  hobbysync trace
  hobbysync trace --pending
  hobbysync trace --flow 0192f0c4-7d1e-7c3a-9b1e-6f0a2d4c8e11
  hobbysync trace --flow 0192f0c4-7d1e-7c3a-9b1e-6f0a2d4c8e11 --action UserProfile.setName
  hobbysync trace --db ./hobbysync.db --flow 0192f0c4-7d1e-7c3a-9b1e-6f0a2d4c8e11 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token to trace")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to specific action URI")
	cmd.Flags().BoolVar(&opts.Pending, "pending", false, "list only flows with unfinished invocations")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Database == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		opts.Database = cfg.Database.Path
	}
	out.VerboseLog("Reading %s", opts.Database)

	st, err := store.Open(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	if opts.FlowToken == "" {
		return listFlows(ctx, out, st, opts.Pending)
	}

	events, err := st.ReplayFlow(ctx, opts.FlowToken)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeDatabase, "failed to replay flow", err)
	}

	if len(events) == 0 {
		if out.JSON() {
			return out.Success(TraceResult{
				FlowToken:  opts.FlowToken,
				Timeline:   []TraceEvent{},
				Provenance: []ProvenanceEdge{},
			})
		}
		fmt.Fprintf(out.Writer, "No events found for flow: %s\n", opts.FlowToken)
		return nil
	}

	provenance, err := buildProvenance(ctx, st, events)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeDatabase, "failed to build provenance", err)
	}
	pending, err := st.GetPendingInvocations(ctx, opts.FlowToken)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeDatabase, "failed to read pending invocations", err)
	}

	timeline := buildTimeline(events, opts.Action)
	result := TraceResult{
		FlowToken:  opts.FlowToken,
		Timeline:   timeline,
		Provenance: provenance,
		Stats: TraceStats{
			TotalEvents: len(timeline),
			SyncFirings: len(provenance),
			IsComplete:  len(pending) == 0,
		},
	}
	for _, ev := range events {
		if ev.Type == store.EventInvocation {
			result.Stats.Invocations++
		} else {
			result.Stats.Completions++
		}
	}

	if out.JSON() {
		return out.Success(result)
	}
	outputTraceText(out, result)
	return nil
}

func listFlows(ctx context.Context, out *OutputFormatter, st *store.Store, pending bool) error {
	var (
		flows []string
		err   error
	)
	if pending {
		flows, err = st.FindIncompleteFlows(ctx)
	} else {
		flows, err = st.ListFlowTokens(ctx)
	}
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeDatabase, "failed to list flows", err)
	}
	if flows == nil {
		flows = []string{}
	}

	if out.JSON() {
		return out.Success(FlowList{Flows: flows, Pending: pending})
	}
	if len(flows) == 0 {
		if pending {
			fmt.Fprintln(out.Writer, "No pending flows.")
		} else {
			fmt.Fprintln(out.Writer, "No flows recorded.")
		}
		return nil
	}
	for _, f := range flows {
		fmt.Fprintln(out.Writer, f)
	}
	return nil
}

// buildTimeline converts store events to trace timeline events.
// When actionFilter is set, only invocations of that action and their
// completions are kept.
func buildTimeline(events []store.FlowEvent, actionFilter string) []TraceEvent {
	timeline := []TraceEvent{}
	actions := make(map[string]string) // invocation id -> action

	for _, event := range events {
		switch event.Type {
		case store.EventInvocation:
			inv := event.Invocation
			if inv == nil {
				continue
			}
			actions[inv.ID] = string(inv.ActionURI)
			if actionFilter != "" && string(inv.ActionURI) != actionFilter {
				continue
			}
			timeline = append(timeline, TraceEvent{
				Seq:       event.Seq,
				Type:      "invocation",
				ID:        inv.ID,
				ActionURI: string(inv.ActionURI),
				Args:      inv.Args,
				SyncID:    event.SyncID,
			})

		case store.EventCompletion:
			comp := event.Completion
			if comp == nil {
				continue
			}
			action := actions[comp.InvocationID]
			if actionFilter != "" && action != actionFilter {
				continue
			}
			timeline = append(timeline, TraceEvent{
				Seq:        event.Seq,
				Type:       "completion",
				ID:         comp.ID,
				ActionURI:  action,
				OutputCase: comp.OutputCase,
				Result:     comp.Result,
			})
		}
	}
	return timeline
}

// buildProvenance lists, for every rule-produced invocation, the
// completion and rule that caused it.
func buildProvenance(ctx context.Context, st *store.Store, events []store.FlowEvent) ([]ProvenanceEdge, error) {
	edges := []ProvenanceEdge{}
	for _, ev := range events {
		if ev.Type != store.EventInvocation {
			continue
		}
		prov, err := st.ReadProvenance(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range prov {
			edges = append(edges, ProvenanceEdge{
				FromCompletion: p.CompletionID,
				SyncRule:       p.SyncID,
				ToInvocation:   ev.ID,
			})
		}
	}
	return edges, nil
}

func outputTraceText(out *OutputFormatter, result TraceResult) {
	w := out.Writer
	fmt.Fprintf(w, "Flow: %s\n", result.FlowToken)
	fmt.Fprintf(w, "Events: %d (%d invocations, %d completions, %d sync firings)\n",
		result.Stats.TotalEvents, result.Stats.Invocations, result.Stats.Completions, result.Stats.SyncFirings)
	if result.Stats.IsComplete {
		fmt.Fprintln(w, "Status: complete")
	} else {
		fmt.Fprintln(w, "Status: pending")
	}

	fmt.Fprintln(w, "\nTimeline:")
	for _, ev := range result.Timeline {
		switch ev.Type {
		case "invocation":
			line := fmt.Sprintf("  [%d] → %s %s", ev.Seq, ev.ActionURI, compactJSON(ev.Args))
			if ev.SyncID != "" {
				line += fmt.Sprintf("  (via %s)", ev.SyncID)
			}
			fmt.Fprintln(w, line)
		case "completion":
			fmt.Fprintf(w, "  [%d] ← %s %s %s\n", ev.Seq, ev.ActionURI, ev.OutputCase, compactJSON(ev.Result))
		}
		if out.Verbose {
			fmt.Fprintf(w, "        id=%s\n", ev.ID)
		}
	}

	if len(result.Provenance) > 0 {
		fmt.Fprintln(w, "\nProvenance:")
		for _, edge := range result.Provenance {
			fmt.Fprintf(w, "  %s --[%s]--> %s\n", shortID(edge.FromCompletion), edge.SyncRule, shortID(edge.ToInvocation))
		}
	}
}

func compactJSON(obj ir.IRObject) string {
	if obj == nil {
		return "{}"
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

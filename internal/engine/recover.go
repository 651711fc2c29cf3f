package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hobbysync/internal/ir"
)

// Recover re-schedules invocations that were persisted without a
// completion, for example because the process died while they ran. The
// clock resumes after the highest seq in the log. It must be called
// before Run and returns the number of invocations re-scheduled.
//
// Firings are idempotent per (completion, sync, binding), so rules that
// fire again for an already-processed completion write nothing.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	last, err := e.store.GetLastSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	e.clock.AdvanceTo(last)

	flows, err := e.store.FindIncompleteFlows(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	n := 0
	for _, token := range flows {
		invs, comps, err := e.store.ReadFlow(ctx, token)
		if err != nil {
			return n, fmt.Errorf("recover flow %s: %w", token, err)
		}
		pending, err := e.store.GetPendingInvocations(ctx, token)
		if err != nil {
			return n, fmt.Errorf("recover flow %s: %w", token, err)
		}

		f := e.flow(token)
		f.history = pairRecords(invs, comps)
		for _, inv := range pending {
			e.addOutstanding(token, 1)
			if !e.queue.Enqueue(Event{Type: EventTypeInvocation, Invocation: &inv, Persisted: true}) {
				e.addOutstanding(token, -1)
				return n, ErrStopped
			}
			n++
		}
		slog.Info("flow recovered", "flow_token", token, "pending", len(pending), "history", len(f.history))
	}
	return n, nil
}

// pairRecords joins completions to their invocations, in completion order.
func pairRecords(invs []ir.Invocation, comps []ir.Completion) []ir.Record {
	byID := make(map[string]ir.Invocation, len(invs))
	for _, inv := range invs {
		byID[inv.ID] = inv
	}
	recs := make([]ir.Record, 0, len(comps))
	for _, c := range comps {
		if inv, ok := byID[c.InvocationID]; ok {
			recs = append(recs, ir.Record{Invocation: inv, Completion: c})
		}
	}
	return recs
}

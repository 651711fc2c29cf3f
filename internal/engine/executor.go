package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/metrics"
)

// execute runs one action on the worker pool and reports the result to
// the Run loop. The completion itself is stamped and written by the loop.
func (e *Engine) execute(ctx context.Context, inv ir.Invocation) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	start := time.Now()
	result := e.invoke(ctx, inv)
	<-e.sem

	elapsed := time.Since(start)
	metrics.ActionDuration.WithLabelValues(string(inv.ActionURI)).Observe(elapsed.Seconds())
	if !e.queue.Enqueue(Event{Type: EventTypeCompletion, Invocation: &inv, Result: result, Elapsed: elapsed}) {
		slog.Warn("engine stopped before completion was recorded", "invocation_id", inv.ID, "action", inv.ActionURI)
	}
}

// invoke calls the action. Failures other than domain errors, panics
// included, are logged and recorded as a generic error result.
func (e *Engine) invoke(ctx context.Context, inv ir.Invocation) (result ir.IRObject) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("action panicked", "action", inv.ActionURI, "invocation_id", inv.ID, "panic", fmt.Sprint(r))
			result = concept.ErrorResult(internalErrorMessage)
		}
	}()

	res, err := e.registry.Invoke(concept.WithFlow(ctx, inv.FlowToken), inv.ActionURI, inv.Args)
	if err != nil {
		slog.Error("action failed", "action", inv.ActionURI, "invocation_id", inv.ID, "flow_token", inv.FlowToken, "error", err)
		return concept.ErrorResult(internalErrorMessage)
	}
	return res
}

// evaluateSyncs matches every rule, in declaration order, against the
// newest record of a flow and fires the surviving frames. Failures of one
// rule are logged and do not stop the others.
func (e *Engine) evaluateSyncs(ctx context.Context, f *flowState, rec ir.Record, history []ir.Record) {
	token := rec.Invocation.FlowToken
	for _, rule := range e.syncs {
		whenFrames := matchWhen(rule.When, rec, history)
		if len(whenFrames) == 0 {
			continue
		}
		slog.Debug("sync rule matched", "sync_id", rule.ID, "completion_id", rec.Completion.ID, "frames", len(whenFrames))

		var frames []ir.IRObject
		for _, wf := range whenFrames {
			out, err := e.executeWhere(ctx, rule.Where, wf)
			if err != nil {
				slog.Error("where clause failed", "sync_id", rule.ID, "flow_token", token, "error", err)
				continue
			}
			frames = append(frames, out...)
		}

		seen := make(map[string]bool, len(frames))
		for _, frame := range frames {
			hash, err := ir.BindingHash(frame)
			if err != nil {
				slog.Error("binding hash failed", "sync_id", rule.ID, "error", err)
				continue
			}
			if seen[hash] {
				continue
			}
			seen[hash] = true

			if err := e.fire(ctx, f, rule, rec.Completion, token, frame, hash); err != nil {
				if code := CodeOf(err); code != "" {
					metrics.EngineErrorsTotal.WithLabelValues(string(code)).Inc()
				}
				if IsCycleError(err) {
					slog.Warn("sync firing skipped", "sync_id", rule.ID, "flow_token", token, "error", err)
					continue
				}
				slog.Error("sync firing failed", "sync_id", rule.ID, "completion_id", rec.Completion.ID, "error", err)
			}
		}
	}
}

// fire instantiates the then actions for one frame and writes the firing,
// its invocations and their provenance in one transaction. Writing a
// firing whose key already exists is a no-op.
func (e *Engine) fire(ctx context.Context, f *flowState, rule ir.SyncRule, comp ir.Completion, token string, frame ir.IRObject, hash string) error {
	if e.cycleDetector.WouldCycle(token, rule.ID, hash) {
		return NewCycleError(token, rule.ID, hash)
	}

	firing := ir.SyncFiring{
		CompletionID: comp.ID,
		SyncID:       rule.ID,
		BindingHash:  hash,
		Seq:          e.clock.Next(),
	}
	invs := make([]ir.Invocation, 0, len(rule.Then))
	for _, then := range rule.Then {
		args, err := instantiateObject(then.Args, frame)
		if err != nil {
			return NewBindingError(token, rule.ID, fmt.Errorf("%s: %w", then.Action, err))
		}
		inv, err := e.newInvocation(token, then.Action, args)
		if err != nil {
			return err
		}
		invs = append(invs, inv)
	}

	_, inserted, err := e.store.WriteSyncFiringAtomic(ctx, firing, invs)
	if err != nil {
		return fmt.Errorf("atomic sync firing: %w", err)
	}
	if !inserted {
		slog.Debug("sync already fired, skipping", "sync_id", rule.ID, "completion_id", comp.ID, "binding_hash", hash)
		return nil
	}

	e.cycleDetector.Record(token, rule.ID, hash)
	metrics.SyncFiringsTotal.WithLabelValues(rule.ID).Inc()
	slog.Info("sync fired", "sync_id", rule.ID, "completion_id", comp.ID, "flow_token", token, "invocations", len(invs))

	for _, inv := range invs {
		e.addOutstanding(token, 1)
		f.pending = append(f.pending, inv)
	}
	return nil
}

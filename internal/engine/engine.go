package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/metrics"
	"github.com/roach88/hobbysync/internal/store"
)

// DefaultMaxSteps bounds the completions one flow may process.
const DefaultMaxSteps = 1000

// DefaultWorkers bounds the actions running at once across all flows.
const DefaultWorkers = 8

// internalErrorMessage is the result recorded when an action fails with
// something other than a domain error.
const internalErrorMessage = "An internal error occurred."

// Engine is the single-writer sync engine.
//
// Submit and Dispatch may be called from any goroutine; they only enqueue.
// Run owns all flow state: it persists events, schedules actions on the
// worker pool, matches rules on every completion and writes firings.
// Within a flow actions run one at a time in FIFO order, so a flow's log
// is deterministic even though different flows run concurrently.
type Engine struct {
	store         *store.Store
	registry      *concept.Registry
	clock         *Clock
	syncs         []ir.SyncRule // declaration order
	queue         *eventQueue
	flowGen       FlowTokenGenerator
	cycleDetector *CycleDetector
	maxSteps      int
	workers       int

	// Owned by the Run goroutine.
	flows  map[string]*flowState
	quotas map[string]*QuotaEnforcer
	sem    chan struct{}
	runCtx context.Context

	mu          sync.Mutex
	outstanding map[string]int // flow -> invocations not yet completed
	invWaiters  map[string][]chan dispatchResult
	flowWaiters map[string][]chan struct{}
}

// dispatchResult is what a Dispatch caller receives.
type dispatchResult struct {
	comp ir.Completion
	err  error
}

// flowState is the Run loop's view of one active flow.
type flowState struct {
	pending []ir.Invocation
	running bool
	history []ir.Record
	aborted bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the per-flow completion quota.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithWorkers sets the size of the action worker pool.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock replaces the logical clock, e.g. to resume after a known seq.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine. Rules are evaluated in the order given and must
// only reference actions and queries present in the registry.
func New(s *store.Store, registry *concept.Registry, syncs []ir.SyncRule, flowGen FlowTokenGenerator, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:         s,
		registry:      registry,
		clock:         NewClock(),
		queue:         newEventQueue(),
		flowGen:       flowGen,
		cycleDetector: NewCycleDetector(),
		maxSteps:      DefaultMaxSteps,
		workers:       DefaultWorkers,
		flows:         make(map[string]*flowState),
		quotas:        make(map[string]*QuotaEnforcer),
		outstanding:   make(map[string]int),
		invWaiters:    make(map[string][]chan dispatchResult),
		flowWaiters:   make(map[string][]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = make(chan struct{}, e.workers)
	if err := e.RegisterSyncs(syncs); err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterSyncs replaces the rule set. It rejects duplicate ids and
// references to unregistered actions or queries. Call it before Run.
func (e *Engine) RegisterSyncs(syncs []ir.SyncRule) error {
	seen := make(map[string]bool, len(syncs))
	for _, rule := range syncs {
		if seen[rule.ID] {
			return fmt.Errorf("duplicate sync ID: %s", rule.ID)
		}
		seen[rule.ID] = true

		for _, p := range rule.When {
			if !e.registry.HasAction(p.Action) {
				return NewMissingActionError(rule.ID, string(p.Action))
			}
		}
		for _, w := range rule.Where {
			if !w.IsCollect() && !e.registry.HasQuery(w.Query) {
				return NewMissingActionError(rule.ID, string(w.Query))
			}
		}
		for _, t := range rule.Then {
			if !e.registry.HasAction(t.Action) {
				return NewMissingActionError(rule.ID, string(t.Action))
			}
		}
	}
	e.syncs = append([]ir.SyncRule(nil), syncs...)
	return nil
}

// Syncs returns the rules in evaluation order.
func (e *Engine) Syncs() []ir.SyncRule {
	return e.syncs
}

func (e *Engine) Clock() *Clock {
	return e.clock
}

func (e *Engine) Registry() *concept.Registry {
	return e.registry
}

// NewFlow mints a flow token for an external request.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// Submit enqueues a root invocation on flow and returns it.
func (e *Engine) Submit(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Invocation, error) {
	inv, err := e.newInvocation(flow, action, args)
	if err != nil {
		return ir.Invocation{}, err
	}
	if err := e.enqueue(ctx, inv); err != nil {
		return ir.Invocation{}, err
	}
	return inv, nil
}

// Dispatch submits an invocation and waits until its completion has been
// processed, including the rule firings it caused.
func (e *Engine) Dispatch(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Completion, error) {
	inv, err := e.newInvocation(flow, action, args)
	if err != nil {
		return ir.Completion{}, err
	}

	ch := make(chan dispatchResult, 1)
	e.mu.Lock()
	e.invWaiters[inv.ID] = append(e.invWaiters[inv.ID], ch)
	e.mu.Unlock()

	if err := e.enqueue(ctx, inv); err != nil {
		e.dropInvWaiter(inv.ID, ch)
		return ir.Completion{}, err
	}

	select {
	case res := <-ch:
		return res.comp, res.err
	case <-ctx.Done():
		e.dropInvWaiter(inv.ID, ch)
		return ir.Completion{}, ctx.Err()
	}
}

// WaitFlow blocks until flow has nothing pending or running.
func (e *Engine) WaitFlow(ctx context.Context, flow string) error {
	e.mu.Lock()
	if e.outstanding[flow] == 0 {
		e.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.flowWaiters[flow] = append(e.flowWaiters[flow], ch)
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs a concept query outside of any flow.
func (e *Engine) Query(ctx context.Context, query ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error) {
	return e.registry.Query(ctx, query, args)
}

func (e *Engine) newInvocation(flow string, action ir.ActionRef, args ir.IRObject) (ir.Invocation, error) {
	if flow == "" {
		return ir.Invocation{}, fmt.Errorf("flow token is required")
	}
	if !e.registry.HasAction(action) {
		return ir.Invocation{}, NewMissingActionError("", string(action))
	}
	if args == nil {
		args = ir.IRObject{}
	}
	seq := e.clock.Next()
	id, err := ir.InvocationID(flow, string(action), args, seq)
	if err != nil {
		return ir.Invocation{}, fmt.Errorf("compute invocation ID: %w", err)
	}
	return ir.Invocation{
		ID:            id,
		FlowToken:     flow,
		ActionURI:     action,
		Args:          args,
		Seq:           seq,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}, nil
}

func (e *Engine) enqueue(ctx context.Context, inv ir.Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.addOutstanding(inv.FlowToken, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeInvocation, Invocation: &inv}) {
		e.addOutstanding(inv.FlowToken, -1)
		return ErrStopped
	}
	return nil
}

// Run is the event loop. It returns when ctx is cancelled or Stop is called.
// Event failures are logged and the loop keeps going.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "syncs", len(e.syncs), "workers", e.workers, "max_steps", e.maxSteps)
	e.runCtx = ctx

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			metrics.EngineQueueDepth.Set(float64(e.QueueLen()))
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processEvent(ctx context.Context, event Event) error {
	if event.Invocation == nil {
		return fmt.Errorf("event %d missing invocation", event.Type)
	}
	switch event.Type {
	case EventTypeInvocation:
		return e.processInvocation(ctx, *event.Invocation, event.Persisted)
	case EventTypeCompletion:
		return e.processCompletion(ctx, *event.Invocation, event.Result)
	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (e *Engine) flow(token string) *flowState {
	f, ok := e.flows[token]
	if !ok {
		f = &flowState{}
		e.flows[token] = f
	}
	return f
}

// processInvocation persists a root invocation and schedules it.
func (e *Engine) processInvocation(ctx context.Context, inv ir.Invocation, persisted bool) error {
	if !persisted {
		if err := e.store.WriteInvocation(ctx, inv); err != nil {
			e.addOutstanding(inv.FlowToken, -1)
			err = fmt.Errorf("write invocation %s: %w", inv.ID, err)
			e.failInvocation(inv.ID, err)
			return err
		}
	}
	slog.Debug("invocation accepted", "id", inv.ID, "action", inv.ActionURI, "flow", inv.FlowToken, "seq", inv.Seq)

	f := e.flow(inv.FlowToken)
	f.pending = append(f.pending, inv)
	e.startNext(inv.FlowToken, f)
	return nil
}

// startNext hands the flow's next pending invocation to a worker unless
// one is already running.
func (e *Engine) startNext(token string, f *flowState) {
	if f.running || len(f.pending) == 0 {
		return
	}
	inv := f.pending[0]
	f.pending = f.pending[1:]
	f.running = true
	go e.execute(e.workCtx(), inv)
}

func (e *Engine) workCtx() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// processCompletion records a finished action, evaluates rules against it
// and moves the flow forward.
func (e *Engine) processCompletion(ctx context.Context, inv ir.Invocation, result ir.IRObject) error {
	f := e.flow(inv.FlowToken)
	f.running = false
	defer e.finishInvocation(inv.FlowToken, f)

	comp, err := e.complete(ctx, inv, result)
	if err != nil {
		e.failInvocation(inv.ID, err)
		return err
	}
	rec := ir.Record{Invocation: inv, Completion: comp}
	history := f.history
	f.history = append(f.history, rec)

	if !f.aborted {
		quota := e.quotaFor(inv.FlowToken)
		if err := quota.Check(inv.FlowToken); err != nil {
			slog.Error("max steps quota exceeded",
				"flow_token", inv.FlowToken,
				"completion_id", comp.ID,
				"steps", quota.Current(),
				"limit", e.maxSteps,
			)
			metrics.EngineErrorsTotal.WithLabelValues(string(ErrCodeQuotaExceeded)).Inc()
			e.abortFlow(ctx, inv.FlowToken, f)
		} else {
			e.evaluateSyncs(ctx, f, rec, history)
		}
	}

	e.notifyInvocation(comp)
	return nil
}

// complete writes the completion of inv.
func (e *Engine) complete(ctx context.Context, inv ir.Invocation, result ir.IRObject) (ir.Completion, error) {
	if result == nil {
		result = ir.IRObject{}
	}
	outputCase := ir.OutputCaseFor(result)
	seq := e.clock.Next()
	id, err := ir.CompletionID(inv.ID, outputCase, result, seq)
	if err != nil {
		return ir.Completion{}, fmt.Errorf("compute completion ID: %w", err)
	}
	comp := ir.Completion{ID: id, InvocationID: inv.ID, OutputCase: outputCase, Result: result, Seq: seq}
	if err := e.store.WriteCompletion(ctx, comp); err != nil {
		return ir.Completion{}, fmt.Errorf("write completion %s: %w", comp.ID, err)
	}
	metrics.InvocationsTotal.WithLabelValues(string(inv.ActionURI), outputCase).Inc()
	slog.Debug("completion written", "id", comp.ID, "action", inv.ActionURI, "output_case", outputCase, "flow", inv.FlowToken)
	return comp, nil
}

// abortFlow drops the flow's pending invocations. Each gets an error
// completion so its waiters return and recovery does not revive it.
func (e *Engine) abortFlow(ctx context.Context, token string, f *flowState) {
	f.aborted = true
	dropped := f.pending
	f.pending = nil
	msg := NewQuotaError(token, e.quotaFor(token).Current(), e.maxSteps).Message
	for _, inv := range dropped {
		comp, err := e.complete(ctx, inv, concept.ErrorResult(msg))
		if err != nil {
			slog.Error("abort flow: write completion", "invocation_id", inv.ID, "error", err)
			e.failInvocation(inv.ID, err)
		} else {
			e.notifyInvocation(comp)
		}
		e.addOutstanding(token, -1)
	}
}

// finishInvocation accounts for one completed invocation and either
// starts the next one or, at quiescence, releases the flow.
func (e *Engine) finishInvocation(token string, f *flowState) {
	e.startNext(token, f)
	if e.addOutstanding(token, -1) == 0 && !f.running && len(f.pending) == 0 {
		delete(e.flows, token)
		e.CleanupFlow(token)
	}
}

func (e *Engine) quotaFor(token string) *QuotaEnforcer {
	q, ok := e.quotas[token]
	if !ok {
		q = NewQuotaEnforcer(e.maxSteps)
		e.quotas[token] = q
	}
	return q
}

// CleanupFlow releases the quota and cycle history of a quiescent flow.
func (e *Engine) CleanupFlow(token string) {
	delete(e.quotas, token)
	e.cycleDetector.Clear(token)
}

// addOutstanding adjusts the flow's outstanding count and wakes WaitFlow
// callers when it drops to zero. It returns the new count.
func (e *Engine) addOutstanding(token string, delta int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.outstanding[token]
	n := before + delta
	if n <= 0 {
		delete(e.outstanding, token)
		n = 0
	} else {
		e.outstanding[token] = n
	}

	switch {
	case before == 0 && n > 0:
		metrics.FlowsActive.Inc()
	case before > 0 && n == 0:
		metrics.FlowsActive.Dec()
		for _, ch := range e.flowWaiters[token] {
			close(ch)
		}
		delete(e.flowWaiters, token)
	}
	return n
}

func (e *Engine) notifyInvocation(comp ir.Completion) {
	e.mu.Lock()
	waiters := e.invWaiters[comp.InvocationID]
	delete(e.invWaiters, comp.InvocationID)
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- dispatchResult{comp: comp}
	}
}

// failInvocation releases Dispatch callers of an invocation that will
// never get a completion.
func (e *Engine) failInvocation(id string, err error) {
	e.mu.Lock()
	waiters := e.invWaiters[id]
	delete(e.invWaiters, id)
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- dispatchResult{err: err}
	}
}

func (e *Engine) dropInvWaiter(id string, ch chan dispatchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws := e.invWaiters[id]
	for i, w := range ws {
		if w == ch {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(e.invWaiters, id)
	} else {
		e.invWaiters[id] = ws
	}
}

// ActiveFlows returns the number of flows with outstanding work.
func (e *Engine) ActiveFlows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.outstanding)
}

func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// QueueLen reports how many events are waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func logEventError(event Event, err error) {
	attrs := []any{"error", err, "event_type", event.Type}
	if inv := event.Invocation; inv != nil {
		attrs = append(attrs,
			"invocation_id", inv.ID,
			"flow_token", inv.FlowToken,
			"action_uri", inv.ActionURI,
			"seq", inv.Seq,
		)
	}
	if code := CodeOf(err); code != "" {
		metrics.EngineErrorsTotal.WithLabelValues(string(code)).Inc()
	}
	slog.Error("event processing failed", attrs...)
}

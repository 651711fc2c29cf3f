package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/hobbysync/internal/app"
	"github.com/roach88/hobbysync/internal/concepts/passwordauth"
	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/config"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/llm"
	"github.com/roach88/hobbysync/internal/store"
	"github.com/roach88/hobbysync/internal/testutil"
)

// Harness executes the steps of one scenario against one App.
type Harness struct {
	app    *app.App
	vars   map[string]ir.IRValue
	result *Result
	logger *slog.Logger
}

// Run executes a scenario in a fresh temporary database and returns the
// result. An error means the scenario could not be run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "hobbysync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	a, err := openApp(ctx, scenario, dir)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Engine.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
		a.Close()
	}()

	h := &Harness{
		app:    a,
		vars:   make(map[string]ir.IRValue),
		result: NewResult(),
		logger: slog.Default().With("scenario", scenario.Name),
	}

	for i, step := range scenario.Setup {
		if err := h.runStep(ctx, fmt.Sprintf("setup[%d] %s", i, step.Label()), step); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}
	for i, step := range scenario.Flow {
		if err := h.runStep(ctx, fmt.Sprintf("flow[%d] %s", i, step.Label()), step); err != nil {
			return nil, fmt.Errorf("failed to execute flow: %w", err)
		}
	}

	if err := h.collectTrace(ctx, a.Store); err != nil {
		return nil, err
	}

	actx := &AssertionContext{DB: a.Store.DB(), Ctx: ctx, Vars: h.vars}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func openApp(ctx context.Context, scenario *Scenario, dir string) (*app.App, error) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "scenario.db")
	cfg.Database.SessionDir = ""
	cfg.Engine.SyncDir = scenario.Syncs
	cfg.Server.RequestTimeout = scenario.Timeout
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultTimeout
	}

	var model llm.Client
	if scenario.LLM != nil {
		scripted := &testutil.ScriptedLLM{Replies: append([]string(nil), scenario.LLM.Replies...)}
		if scenario.LLM.Error != "" {
			scripted.Err = errors.New(scenario.LLM.Error)
		}
		model = scripted
	}

	a, err := app.Open(ctx, cfg,
		app.WithEnv(testutil.Env("id")),
		app.WithLLM(model),
		app.WithFlowTokens(testutil.NewSequentialFlows("flow")),
		app.WithPasswordOptions(passwordauth.WithBcryptCost(bcrypt.MinCost)),
	)
	if err != nil {
		return nil, fmt.Errorf("open scenario app: %w", err)
	}
	return a, nil
}

// runStep executes one step, waits for its flow to settle and checks it.
func (h *Harness) runStep(ctx context.Context, label string, step FlowStep) error {
	args, err := h.resolveObject(step.Args)
	if err != nil {
		return fmt.Errorf("%s: args: %w", label, err)
	}

	var out StepResult
	if step.Request != "" {
		out, err = h.request(ctx, step.Request, args)
	} else {
		out, err = h.invoke(ctx, ir.ActionRef(step.Invoke), args)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if err := h.app.Engine.WaitFlow(ctx, out.Flow); err != nil {
		return fmt.Errorf("%s: wait for flow %s: %w", label, out.Flow, err)
	}
	h.result.Steps = append(h.result.Steps, out)

	h.check(label, step.Expect, out)
	h.save(label, step.Save, out)

	h.logger.Debug("step completed", "step", label, "flow", out.Flow, "timed_out", out.TimedOut)
	return nil
}

func (h *Harness) request(ctx context.Context, path string, args ir.IRObject) (StepResult, error) {
	eng, reqs := h.app.Engine, h.app.Requests
	flow := eng.NewFlow()

	body := args.Clone()
	body["path"] = ir.IRString(path)

	reqs.Expect(flow)
	if _, err := eng.Submit(ctx, flow, ir.ActionRef(requesting.Name+".request"), body); err != nil {
		reqs.Forget(flow)
		return StepResult{}, err
	}

	resp, err := reqs.Wait(ctx, flow)
	if errors.Is(err, requesting.ErrTimeout) {
		return StepResult{Flow: flow, TimedOut: true}, nil
	}
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Flow: flow, Response: resp}, nil
}

func (h *Harness) invoke(ctx context.Context, action ir.ActionRef, args ir.IRObject) (StepResult, error) {
	eng := h.app.Engine
	if !eng.Registry().HasAction(action) {
		return StepResult{}, fmt.Errorf("unknown action %s", action)
	}
	flow := eng.NewFlow()
	comp, err := eng.Dispatch(ctx, flow, action, args)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Flow: flow, Response: comp.Result}, nil
}

func (h *Harness) check(label string, expect *ExpectClause, out StepResult) {
	if expect == nil {
		if out.TimedOut {
			h.result.AddError(fmt.Sprintf("%s: no response within the timeout", label))
		}
		return
	}
	if expect.Timeout != out.TimedOut {
		if out.TimedOut {
			h.result.AddError(fmt.Sprintf("%s: no response within the timeout", label))
		} else {
			h.result.AddError(fmt.Sprintf("%s: expected a timeout, got %s", label, formatObject(out.Response)))
		}
		return
	}
	if out.TimedOut {
		return
	}

	if expect.Case != "" {
		if got := ir.OutputCaseFor(out.Response); got != expect.Case {
			h.result.AddError(fmt.Sprintf("%s: expected case %s, got %s: %s", label, expect.Case, got, formatObject(out.Response)))
		}
	}
	if expect.Result != nil {
		want, err := h.resolveObject(expect.Result)
		if err != nil {
			h.result.AddError(fmt.Sprintf("%s: expect.result: %v", label, err))
			return
		}
		if diff := subsetDiff(out.Response, want); diff != "" {
			h.result.AddError(fmt.Sprintf("%s: %s in %s", label, diff, formatObject(out.Response)))
		}
	}
}

func (h *Harness) save(label string, save map[string]string, out StepResult) {
	for name, field := range save {
		v, ok := out.Response[field]
		if !ok {
			h.result.AddError(fmt.Sprintf("%s: cannot save %s: field %q missing from %s", label, name, field, formatObject(out.Response)))
			continue
		}
		h.vars[name] = v
	}
}

// collectTrace reads every flow back from the log.
func (h *Harness) collectTrace(ctx context.Context, st *store.Store) error {
	flows, err := st.ListFlowTokens(ctx)
	if err != nil {
		return fmt.Errorf("list flows: %w", err)
	}
	for _, flow := range flows {
		events, err := st.ReplayFlow(ctx, flow)
		if err != nil {
			return err
		}
		actions := make(map[string]string)
		for _, ev := range events {
			switch ev.Type {
			case store.EventInvocation:
				inv := ev.Invocation
				actions[inv.ID] = string(inv.ActionURI)
				h.result.AddInvocationTrace(flow, string(inv.ActionURI), inv.Args, ev.SyncID, inv.Seq)
			case store.EventCompletion:
				comp := ev.Completion
				h.result.AddCompletionTrace(flow, actions[comp.InvocationID], comp.OutputCase, comp.Result, comp.Seq)
			}
		}
	}
	return nil
}

func (h *Harness) resolveObject(m map[string]any) (ir.IRObject, error) {
	return resolveObject(m, h.vars)
}

// resolveObject converts YAML values to IR, replacing "$name" strings with
// saved variables.
func resolveObject(m map[string]any, vars map[string]ir.IRValue) (ir.IRObject, error) {
	obj := make(ir.IRObject, len(m))
	for k, v := range m {
		x, err := resolveValue(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		obj[k] = x
	}
	return obj, nil
}

func resolveValue(v any, vars map[string]ir.IRValue) (ir.IRValue, error) {
	switch val := v.(type) {
	case string:
		if name, ok := strings.CutPrefix(val, "$"); ok && name != "" {
			x, ok := vars[name]
			if !ok {
				return nil, fmt.Errorf("undefined variable $%s", name)
			}
			return x, nil
		}
		return ir.IRString(val), nil
	case []any:
		arr := make(ir.IRArray, len(val))
		for i, elem := range val {
			x, err := resolveValue(elem, vars)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = x
		}
		return arr, nil
	case map[string]any:
		return resolveObject(val, vars)
	default:
		return ir.FromGo(v)
	}
}

// subsetDiff describes the first field of want that obj lacks or holds a
// different value for; "" when obj contains want.
func subsetDiff(obj, want ir.IRObject) string {
	for _, k := range want.SortedKeys() {
		got, ok := obj[k]
		if !ok {
			return fmt.Sprintf("missing field %q", k)
		}
		if !ir.Equal(got, want[k]) {
			return fmt.Sprintf("field %q = %s, want %s", k, formatValue(got), formatValue(want[k]))
		}
	}
	return ""
}

func formatObject(obj ir.IRObject) string {
	return formatValue(obj)
}

func formatValue(v ir.IRValue) string {
	data, err := ir.MarshalIRValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/store"
	"github.com/roach88/hobbysync/internal/testutil"
)

// greeter is a small in-memory concept for exercising the engine.
type greeter struct {
	friends map[string][]string
}

func (g *greeter) Name() string { return "Greeter" }

func (g *greeter) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"hello": func(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
			name := concept.Str(args, "name")
			if name == "" {
				return nil, concept.Errorf("Name is required.")
			}
			return ir.O("greeting", "hi "+name), nil
		},
		"record": func(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
			return ir.IRObject{}, nil
		},
		"count": func(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
			n, _ := args["n"].(ir.IRInt)
			return ir.O("next", int64(n)+1), nil
		},
		"fail": func(context.Context, ir.IRObject) (ir.IRObject, error) {
			return nil, errors.New("disk full")
		},
		"explode": func(context.Context, ir.IRObject) (ir.IRObject, error) {
			panic("boom")
		},
	}
}

func (g *greeter) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_friends": func(_ context.Context, args ir.IRObject) ([]ir.IRObject, error) {
			name := concept.Str(args, "name")
			rows := []ir.IRObject{}
			for _, f := range g.friends[name] {
				rows = append(rows, ir.O("friend", f))
			}
			return rows, nil
		},
		"_lonely": func(_ context.Context, args ir.IRObject) ([]ir.IRObject, error) {
			return nil, concept.Errorf("nobody home")
		},
	}
}

type harness struct {
	t        *testing.T
	store    *store.Store
	engine   *Engine
	requests *requesting.Concept
}

func newTestEngine(t *testing.T, syncs []ir.SyncRule, opts ...Option) *harness {
	t.Helper()
	s := testutil.OpenStore(t)
	return newTestEngineOn(t, s, syncs, opts...)
}

func newTestEngineOn(t *testing.T, s *store.Store, syncs []ir.SyncRule, opts ...Option) *harness {
	t.Helper()
	req := requesting.New(time.Second)
	g := &greeter{friends: map[string][]string{
		"ada": {"charles", "mary"},
	}}
	reg, err := concept.NewRegistry(g, req)
	require.NoError(t, err)

	e, err := New(s, reg, syncs, testutil.NewSequentialFlows("flow"), opts...)
	require.NoError(t, err)
	return &harness{t: t, store: s, engine: e, requests: req}
}

// start runs the engine until the test ends.
func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	h.t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) dispatch(flow, action string, args ir.IRObject) ir.Completion {
	h.t.Helper()
	comp, err := h.engine.Dispatch(h.ctx(), flow, ir.ActionRef(action), args)
	require.NoError(h.t, err)
	require.NoError(h.t, h.engine.WaitFlow(h.ctx(), flow))
	return comp
}

// actions lists the flow's invocations as "Action args" lines in seq order.
func (h *harness) actions(flow string) []string {
	h.t.Helper()
	invs, _, err := h.store.ReadFlow(context.Background(), flow)
	require.NoError(h.t, err)
	out := make([]string, len(invs))
	for i, inv := range invs {
		data, err := ir.MarshalCanonical(inv.Args)
		require.NoError(h.t, err)
		out[i] = fmt.Sprintf("%s %s", inv.ActionURI, data)
	}
	return out
}

func (h *harness) results(flow string) []ir.IRObject {
	h.t.Helper()
	_, comps, err := h.store.ReadFlow(context.Background(), flow)
	require.NoError(h.t, err)
	out := make([]ir.IRObject, len(comps))
	for i, c := range comps {
		out[i] = c.Result
	}
	return out
}

package engine

import (
	"context"
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

// executeWhere refines one when-frame through the rule's where steps and
// returns the surviving frames. Query steps may multiply frames (one per
// unifying row) or drop them; collect steps fold them.
func (e *Engine) executeWhere(ctx context.Context, steps []ir.WhereStep, frame ir.IRObject) ([]ir.IRObject, error) {
	frames := []ir.IRObject{frame}
	for i, step := range steps {
		if step.IsCollect() {
			frames = collectFrames(step, frames, frame)
			continue
		}

		var next []ir.IRObject
		for _, f := range frames {
			input, err := instantiateObject(step.Input, f)
			if err != nil {
				return nil, fmt.Errorf("where[%d] %s input: %w", i, step.Query, err)
			}
			rows, err := e.registry.Query(ctx, step.Query, input)
			if err != nil {
				return nil, fmt.Errorf("where[%d] %s: %w", i, step.Query, err)
			}
			matched := false
			for _, row := range rows {
				if nf, ok := unifyResult(step.Output, row, f); ok {
					next = append(next, nf)
					matched = true
				}
			}
			if !matched && step.Optional {
				next = append(next, f)
			}
		}
		frames = next
	}
	return frames, nil
}

// collectFrames groups frames by every variable except the collected ones
// and binds step.As to the list of collected objects of each group, keyed
// by variable name. With no frames left, the frame that entered the where
// clause survives with an empty list.
func collectFrames(step ir.WhereStep, frames []ir.IRObject, entry ir.IRObject) []ir.IRObject {
	if len(frames) == 0 {
		out := dropVars(entry, step.Collect)
		out[step.As] = ir.IRArray{}
		return []ir.IRObject{out}
	}

	type group struct {
		base  ir.IRObject
		items ir.IRArray
	}
	var order []string
	groups := make(map[string]*group)
	for _, f := range frames {
		base := dropVars(f, step.Collect)
		key := ir.MustBindingHash(base)
		g, ok := groups[key]
		if !ok {
			g = &group{base: base, items: ir.IRArray{}}
			groups[key] = g
			order = append(order, key)
		}
		item := ir.IRObject{}
		for _, name := range step.Collect {
			if v, bound := f[name]; bound {
				item[name] = v
			}
		}
		g.items = append(g.items, item)
	}

	out := make([]ir.IRObject, 0, len(order))
	for _, key := range order {
		g := groups[key]
		f := g.base
		f[step.As] = g.items
		out = append(out, f)
	}
	return out
}

func dropVars(frame ir.IRObject, names []string) ir.IRObject {
	out := frame.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

package engine

import (
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

// unify matches value against pattern, extending frame. String leaves of
// the form "$name" are variables: unbound ones bind, bound ones must be
// equal. Object patterns are partial (every pattern key must be present
// in the value). Array patterns match element-wise. The frame is only
// modified on success.
func unify(pattern, value ir.IRValue, frame ir.IRObject) (ir.IRObject, bool) {
	out := frame.Clone()
	if !unifyInto(pattern, value, out) {
		return nil, false
	}
	return out, true
}

func unifyInto(pattern, value ir.IRValue, frame ir.IRObject) bool {
	if name, ok := ir.VarName(pattern); ok {
		if bound, exists := frame[name]; exists {
			return ir.Equal(bound, value)
		}
		frame[name] = value
		return true
	}

	switch p := pattern.(type) {
	case ir.IRObject:
		v, ok := value.(ir.IRObject)
		if !ok {
			return false
		}
		for _, k := range p.SortedKeys() {
			field, present := v[k]
			if !present || !unifyInto(p[k], field, frame) {
				return false
			}
		}
		return true
	case ir.IRArray:
		v, ok := value.(ir.IRArray)
		if !ok || len(v) != len(p) {
			return false
		}
		for i := range p {
			if !unifyInto(p[i], v[i], frame) {
				return false
			}
		}
		return true
	default:
		return ir.Equal(pattern, value)
	}
}

// unifyResult matches an action result or query row. A pattern that does
// not mention "error" never matches a result carrying one.
func unifyResult(pattern, result ir.IRObject, frame ir.IRObject) (ir.IRObject, bool) {
	if result.Has("error") && !pattern.Has("error") {
		return nil, false
	}
	if pattern == nil {
		pattern = ir.IRObject{}
	}
	return unify(pattern, result, frame)
}

// matchPattern matches one when pattern against a completed record.
func matchPattern(p ir.ActionPattern, rec ir.Record, frame ir.IRObject) (ir.IRObject, bool) {
	if p.Action != rec.Invocation.ActionURI {
		return nil, false
	}
	input := p.Input
	if input == nil {
		input = ir.IRObject{}
	}
	f, ok := unify(input, rec.Invocation.Args, frame)
	if !ok {
		return nil, false
	}
	return unifyResult(p.Output, rec.Completion.Result, f)
}

// matchWhen returns every frame under which the rule's when patterns are
// satisfied with the latest record among them. The latest record fills
// one pattern naming its action; the remaining patterns are matched in
// declaration order against earlier records of the flow, each record used
// at most once per frame. Frames are returned in a deterministic order
// and are not deduplicated.
func matchWhen(when []ir.ActionPattern, latest ir.Record, history []ir.Record) []ir.IRObject {
	var frames []ir.IRObject
	for i, p := range when {
		f, ok := matchPattern(p, latest, ir.IRObject{})
		if !ok {
			continue
		}
		rest := make([]ir.ActionPattern, 0, len(when)-1)
		rest = append(rest, when[:i]...)
		rest = append(rest, when[i+1:]...)
		frames = matchRest(rest, history, make([]bool, len(history)), f, frames)
	}
	return frames
}

func matchRest(patterns []ir.ActionPattern, history []ir.Record, used []bool, frame ir.IRObject, acc []ir.IRObject) []ir.IRObject {
	if len(patterns) == 0 {
		return append(acc, frame)
	}
	for j, rec := range history {
		if used[j] {
			continue
		}
		f, ok := matchPattern(patterns[0], rec, frame)
		if !ok {
			continue
		}
		used[j] = true
		acc = matchRest(patterns[1:], history, used, f, acc)
		used[j] = false
	}
	return acc
}

// instantiate builds a value from a template, substituting "$name" leaves.
func instantiate(template ir.IRValue, frame ir.IRObject) (ir.IRValue, error) {
	if name, ok := ir.VarName(template); ok {
		v, bound := frame[name]
		if !bound {
			return nil, fmt.Errorf("variable $%s is not bound", name)
		}
		return v, nil
	}

	switch t := template.(type) {
	case ir.IRObject:
		out := make(ir.IRObject, len(t))
		for k, v := range t {
			iv, err := instantiate(v, frame)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = iv
		}
		return out, nil
	case ir.IRArray:
		out := make(ir.IRArray, len(t))
		for i, v := range t {
			iv, err := instantiate(v, frame)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = iv
		}
		return out, nil
	default:
		return template, nil
	}
}

// instantiateObject is instantiate for argument templates.
func instantiateObject(template ir.IRObject, frame ir.IRObject) (ir.IRObject, error) {
	if template == nil {
		return ir.IRObject{}, nil
	}
	v, err := instantiate(template, frame)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}

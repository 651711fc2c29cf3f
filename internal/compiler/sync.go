package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/hobbysync/internal/ir"
)

// CompileSyncs compiles every rule under the top-level "sync" field of v,
// in declaration order. A value without a "sync" field yields no rules.
func CompileSyncs(v cue.Value) ([]ir.SyncRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	syncsVal := v.LookupPath(cue.ParsePath("sync"))
	if !syncsVal.Exists() {
		return nil, nil
	}

	iter, err := syncsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var rules []ir.SyncRule
	for iter.Next() {
		rule, err := CompileSync(iter.Value())
		if err != nil {
			return rules, err
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// CompileSync parses a CUE value into a SyncRule.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the sync struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`sync: LoginRequest: { when: [...], then: [...] }`)
//	rule, err := CompileSync(v.LookupPath(cue.ParsePath("sync.LoginRequest")))
//
// Patterns and templates are plain CUE structs; a string leaf "$name" is
// the variable name.
func CompileSync(v cue.Value) (*ir.SyncRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.SyncRule{}

	// The ID may be quoted in CUE, extract it
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	rule.When, err = parseWhen(v)
	if err != nil {
		return nil, err
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		rule.Where, err = parseWhere(whereVal)
		if err != nil {
			return nil, err
		}
	}

	rule.Then, err = parseThen(v)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// parseWhen extracts the when patterns (required, non-empty list).
func parseWhen(v cue.Value) ([]ir.ActionPattern, error) {
	items, err := requiredList(v, "when")
	if err != nil {
		return nil, err
	}

	patterns := make([]ir.ActionPattern, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("when[%d]", i)
		action, err := stringField(item, field, "action", true)
		if err != nil {
			return nil, err
		}
		input, err := objectField(item, field, "input")
		if err != nil {
			return nil, err
		}
		output, err := objectField(item, field, "output")
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, ir.ActionPattern{
			Action: ir.ActionRef(action),
			Input:  input,
			Output: output,
		})
	}
	return patterns, nil
}

// parseWhere extracts the where steps. Each step is either a query
// ({query, input, output, optional}) or a collect ({collect, as}).
func parseWhere(v cue.Value) ([]ir.WhereStep, error) {
	if v.Kind() != cue.ListKind {
		return nil, &CompileError{Field: "where", Message: "where must be a list of steps", Pos: v.Pos()}
	}
	items, err := listValues(v)
	if err != nil {
		return nil, err
	}

	steps := make([]ir.WhereStep, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("where[%d]", i)
		if item.LookupPath(cue.ParsePath("collect")).Exists() {
			step, err := parseCollect(item, field)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
			continue
		}

		query, err := stringField(item, field, "query", true)
		if err != nil {
			return nil, err
		}
		step := ir.WhereStep{Query: ir.ActionRef(query)}
		if step.Input, err = objectField(item, field, "input"); err != nil {
			return nil, err
		}
		if step.Output, err = objectField(item, field, "output"); err != nil {
			return nil, err
		}
		if optVal := item.LookupPath(cue.ParsePath("optional")); optVal.Exists() {
			opt, err := optVal.Bool()
			if err != nil {
				return nil, &CompileError{Field: field + ".optional", Message: "optional must be a bool", Pos: optVal.Pos()}
			}
			step.Optional = opt
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseCollect(item cue.Value, field string) (ir.WhereStep, error) {
	collectVal := item.LookupPath(cue.ParsePath("collect"))
	vars, err := listValues(collectVal)
	if err != nil {
		return ir.WhereStep{}, &CompileError{Field: field + ".collect", Message: "collect must be a list of variables", Pos: collectVal.Pos()}
	}

	step := ir.WhereStep{}
	for j, varVal := range vars {
		s, err := varVal.String()
		name, ok := ir.ParseVar(s)
		if err != nil || !ok {
			return ir.WhereStep{}, &CompileError{
				Field:   fmt.Sprintf("%s.collect[%d]", field, j),
				Message: "collect entries must be variables like \"$name\"",
				Pos:     varVal.Pos(),
			}
		}
		step.Collect = append(step.Collect, name)
	}

	as, err := stringField(item, field, "as", true)
	if err != nil {
		return ir.WhereStep{}, err
	}
	name, ok := ir.ParseVar(as)
	if !ok {
		return ir.WhereStep{}, &CompileError{
			Field:   field + ".as",
			Message: fmt.Sprintf("as must be a variable like \"$name\", got %q", as),
			Pos:     item.LookupPath(cue.ParsePath("as")).Pos(),
		}
	}
	step.As = name
	return step, nil
}

// parseThen extracts the then actions (required, non-empty list).
func parseThen(v cue.Value) ([]ir.ThenAction, error) {
	items, err := requiredList(v, "then")
	if err != nil {
		return nil, err
	}

	actions := make([]ir.ThenAction, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("then[%d]", i)
		action, err := stringField(item, field, "action", true)
		if err != nil {
			return nil, err
		}
		args, err := objectField(item, field, "args")
		if err != nil {
			return nil, err
		}
		if args == nil {
			args = ir.IRObject{}
		}
		actions = append(actions, ir.ThenAction{Action: ir.ActionRef(action), Args: args})
	}
	return actions, nil
}

func requiredList(v cue.Value, name string) ([]cue.Value, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return nil, &CompileError{
			Field:   name,
			Message: fmt.Sprintf("%s clause is required", name),
			Pos:     v.Pos(),
		}
	}
	if val.Kind() != cue.ListKind {
		return nil, &CompileError{Field: name, Message: fmt.Sprintf("%s must be a list", name), Pos: val.Pos()}
	}
	items, err := listValues(val)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &CompileError{
			Field:   name,
			Message: fmt.Sprintf("%s requires at least one entry", name),
			Pos:     val.Pos(),
		}
	}
	return items, nil
}

func listValues(v cue.Value) ([]cue.Value, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []cue.Value
	for iter.Next() {
		out = append(out, iter.Value())
	}
	return out, nil
}

func stringField(v cue.Value, field, name string, required bool) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		if required {
			return "", &CompileError{
				Field:   field + "." + name,
				Message: fmt.Sprintf("%s requires '%s' field", field, name),
				Pos:     v.Pos(),
			}
		}
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{
			Field:   field + "." + name,
			Message: fmt.Sprintf("%s must be a string", name),
			Pos:     val.Pos(),
		}
	}
	return s, nil
}

// objectField converts an optional struct field to an IRObject; a missing
// field yields nil.
func objectField(v cue.Value, field, name string) (ir.IRObject, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return nil, nil
	}
	if val.Kind() != cue.StructKind {
		return nil, &CompileError{
			Field:   field + "." + name,
			Message: fmt.Sprintf("%s must be a struct", name),
			Pos:     val.Pos(),
		}
	}
	converted, err := toIR(val, field+"."+name)
	if err != nil {
		return nil, err
	}
	return converted.(ir.IRObject), nil
}

// toIR converts a concrete CUE value. Floats are rejected: IR numbers are
// integers only.
func toIR(v cue.Value, field string) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.IRInt(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.FloatKind:
		return nil, &CompileError{Field: field, Message: "float values are not supported, use int", Pos: v.Pos()}
	case cue.ListKind:
		items, err := listValues(v)
		if err != nil {
			return nil, err
		}
		arr := make(ir.IRArray, 0, len(items))
		for i, item := range items {
			elem, err := toIR(item, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			key := iter.Label()
			elem, err := toIR(iter.Value(), field+"."+key)
			if err != nil {
				return nil, err
			}
			obj[key] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}
}

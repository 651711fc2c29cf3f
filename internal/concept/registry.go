package concept

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/hobbysync/internal/ir"
)

// ErrUnknownAction is returned for a reference no registered concept serves.
var ErrUnknownAction = errors.New("unknown action")

// Registry resolves "Concept.action" references.
type Registry struct {
	concepts map[string]Concept
}

// NewRegistry registers the given concepts.
func NewRegistry(concepts ...Concept) (*Registry, error) {
	r := &Registry{concepts: make(map[string]Concept)}
	for _, c := range concepts {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a concept. Names must be unique and query names must
// start with an underscore while action names must not.
func (r *Registry) Register(c Concept) error {
	name := c.Name()
	if _, dup := r.concepts[name]; dup {
		return fmt.Errorf("concept %q already registered", name)
	}
	for a := range c.Actions() {
		if ir.ActionRef(name + "." + a).IsQuery() {
			return fmt.Errorf("concept %q: action %q must not start with '_'", name, a)
		}
	}
	for q := range c.Queries() {
		if !ir.ActionRef(name + "." + q).IsQuery() {
			return fmt.Errorf("concept %q: query %q must start with '_'", name, q)
		}
	}
	r.concepts[name] = c
	return nil
}

// Names returns concept names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.concepts))
	for n := range r.concepts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Refs lists every action and query reference in sorted order.
func (r *Registry) Refs() []ir.ActionRef {
	var refs []ir.ActionRef
	for _, name := range r.Names() {
		c := r.concepts[name]
		for a := range c.Actions() {
			refs = append(refs, ir.ActionRef(name+"."+a))
		}
		for q := range c.Queries() {
			refs = append(refs, ir.ActionRef(name+"."+q))
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

func (r *Registry) action(ref ir.ActionRef) (Action, bool) {
	c, ok := r.concepts[ref.Concept()]
	if !ok {
		return nil, false
	}
	a, ok := c.Actions()[ref.Name()]
	return a, ok
}

func (r *Registry) query(ref ir.ActionRef) (Query, bool) {
	c, ok := r.concepts[ref.Concept()]
	if !ok {
		return nil, false
	}
	q, ok := c.Queries()[ref.Name()]
	return q, ok
}

// HasAction reports whether ref names a registered action.
func (r *Registry) HasAction(ref ir.ActionRef) bool {
	_, ok := r.action(ref)
	return ok
}

// HasQuery reports whether ref names a registered query.
func (r *Registry) HasQuery(ref ir.ActionRef) bool {
	_, ok := r.query(ref)
	return ok
}

// Invoke runs an action. A domain error becomes an {error} result with a
// nil error; any other failure is returned as is.
func (r *Registry) Invoke(ctx context.Context, ref ir.ActionRef, args ir.IRObject) (ir.IRObject, error) {
	a, ok := r.action(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, ref)
	}
	if args == nil {
		args = ir.IRObject{}
	}
	result, err := a(ctx, args)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return ErrorResult(de.Message), nil
		}
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	if result == nil {
		result = ir.IRObject{}
	}
	return result, nil
}

// Query runs a query. Domain errors are returned as a single {error} row.
func (r *Registry) Query(ctx context.Context, ref ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error) {
	q, ok := r.query(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, ref)
	}
	if args == nil {
		args = ir.IRObject{}
	}
	rows, err := q(ctx, args)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return []ir.IRObject{ErrorResult(de.Message)}, nil
		}
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	if rows == nil {
		rows = []ir.IRObject{}
	}
	return rows, nil
}

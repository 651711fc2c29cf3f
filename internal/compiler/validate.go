package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/hobbysync/internal/ir"
)

// Validation error codes (E110-E119)
const (
	ErrUnsupportedIRType      = "E100" // unsupported IR type for validation
	ErrInvalidActionRef       = "E110" // invalid action reference format
	ErrInvalidWhereClause     = "E112" // invalid where step
	ErrInvalidThenClause      = "E113" // invalid then action
	ErrUndefinedBoundVariable = "E114" // variable used before it is bound
	ErrMissingSyncClause      = "E115" // missing required clause
	ErrUnregisteredAction     = "E116" // no concept provides the action (checked by the CLI)
	ErrDuplicateSyncID        = "E117" // two rules share an ID
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	SyncID  string `json:"sync_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.SyncID != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.SyncID, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled rules. It accepts a SyncRule (or pointer)
// or a rule set, and returns all errors found rather than the first.
func Validate(v any) []ValidationError {
	switch rules := v.(type) {
	case *ir.SyncRule:
		return validateSyncRule(rules)
	case ir.SyncRule:
		return validateSyncRule(&rules)
	case []ir.SyncRule:
		return validateRuleSet(rules)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateRuleSet(rules []ir.SyncRule) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		if seen[rules[i].ID] {
			errs = append(errs, ValidationError{
				SyncID:  rules[i].ID,
				Field:   "id",
				Message: "duplicate sync ID",
				Code:    ErrDuplicateSyncID,
			})
		}
		seen[rules[i].ID] = true
		errs = append(errs, validateSyncRule(&rules[i])...)
	}
	return errs
}

// validateSyncRule checks reference formats and that every variable is
// bound before use. Variables are bound by when patterns and query
// outputs; a collect unbinds the collected variables and binds its list.
func validateSyncRule(rule *ir.SyncRule) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			SyncID:  rule.ID,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if len(rule.When) == 0 {
		add("when", ErrMissingSyncClause, "at least one when pattern is required")
	}
	if len(rule.Then) == 0 {
		add("then", ErrMissingSyncClause, "at least one then action is required")
	}

	bound := make(map[string]bool)
	for i, p := range rule.When {
		if !isValidActionRef(string(p.Action)) {
			add(fmt.Sprintf("when[%d].action", i), ErrInvalidActionRef,
				"invalid action reference %q, expected format \"Concept.action\"", p.Action)
		}
		for _, name := range ir.Vars(p.Input, nil) {
			bound[name] = true
		}
		for _, name := range ir.Vars(p.Output, nil) {
			bound[name] = true
		}
	}

	for i, step := range rule.Where {
		field := fmt.Sprintf("where[%d]", i)
		if step.IsCollect() {
			if len(step.Collect) == 0 {
				add(field+".collect", ErrInvalidWhereClause, "collect requires at least one variable")
			}
			for _, name := range step.Collect {
				if !bound[name] {
					add(field+".collect", ErrUndefinedBoundVariable, "undefined variable $%s", name)
				}
				delete(bound, name)
			}
			bound[step.As] = true
			continue
		}

		if !isValidQueryRef(string(step.Query)) {
			add(field+".query", ErrInvalidWhereClause,
				"invalid query reference %q, expected format \"Concept._query\"", step.Query)
		}
		for _, name := range ir.Vars(step.Input, nil) {
			if !bound[name] {
				add(field+".input", ErrUndefinedBoundVariable, "undefined variable $%s", name)
			}
		}
		for _, name := range ir.Vars(step.Output, nil) {
			bound[name] = true
		}
	}

	for i, t := range rule.Then {
		field := fmt.Sprintf("then[%d]", i)
		if !isValidActionRef(string(t.Action)) {
			add(field+".action", ErrInvalidThenClause,
				"invalid action reference %q, expected format \"Concept.action\"", t.Action)
		}
		for _, name := range ir.Vars(t.Args, nil) {
			if !bound[name] {
				add(field+".args", ErrUndefinedBoundVariable, "undefined variable $%s", name)
			}
		}
	}

	return errs
}

// actionRefPattern matches "Concept.action" format.
// Concept starts with uppercase letter, action starts with lowercase letter.
var actionRefPattern = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*\.[a-z][a-zA-Z0-9]*$`)

// queryRefPattern matches "Concept._query" format.
var queryRefPattern = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*\._[a-zA-Z][a-zA-Z0-9]*$`)

func isValidActionRef(ref string) bool {
	return actionRefPattern.MatchString(ref)
}

func isValidQueryRef(ref string) bool {
	return queryRefPattern.MatchString(ref)
}

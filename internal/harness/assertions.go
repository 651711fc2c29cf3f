package harness

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/hobbysync/internal/ir"
)

// validIdentifier guards table and column names, which cannot be bound
// as query parameters.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		n := 0
		for _, event := range e.Trace {
			if event.Type != "invocation" {
				continue
			}
			n++
			fmt.Fprintf(&buf, "  [%d] %s %s %s", n, event.Flow, event.ActionURI, formatObject(event.Args))
			if event.SyncID != "" {
				fmt.Fprintf(&buf, " (%s)", event.SyncID)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to state and saved variables.
type AssertionContext struct {
	DB   *sql.DB
	Ctx  context.Context
	Vars map[string]ir.IRValue
}

// EvaluateAssertions returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	var vars map[string]ir.IRValue
	if actx != nil {
		vars = actx.Vars
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion, vars)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion, vars)
		case AssertFinalState:
			if actx == nil || actx.DB == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.DB, assertion, vars)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// matchingInvocations counts invocations of the action whose args contain
// want.
func matchingInvocations(trace []TraceEvent, action string, want ir.IRObject) int {
	n := 0
	for _, event := range trace {
		if event.Type == "invocation" && event.ActionURI == action && subsetDiff(event.Args, want) == "" {
			n++
		}
	}
	return n
}

func assertTraceContains(trace []TraceEvent, assertion Assertion, vars map[string]ir.IRValue) error {
	want, err := resolveObject(assertion.Args, vars)
	if err != nil {
		return fmt.Errorf("trace_contains %s: %w", assertion.Action, err)
	}
	if matchingInvocations(trace, assertion.Action, want) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %s", assertion.Action, formatObject(want)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the actions are
// in order. Other actions may come in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != "invocation" {
			continue
		}
		if _, seen := positions[event.ActionURI]; !seen {
			positions[event.ActionURI] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion, vars map[string]ir.IRValue) error {
	want, err := resolveObject(assertion.Args, vars)
	if err != nil {
		return fmt.Errorf("trace_count %s: %w", assertion.Action, err)
	}
	count := matchingInvocations(trace, assertion.Action, want)
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState selects exactly one row of a concept table and checks
// the expected columns.
func assertFinalState(ctx context.Context, db *sql.DB, assertion Assertion, vars map[string]ir.IRValue) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	where, err := resolveObject(assertion.Where, vars)
	if err != nil {
		return fmt.Errorf("final_state %s where: %w", assertion.Table, err)
	}
	expect, err := resolveObject(assertion.Expect, vars)
	if err != nil {
		return fmt.Errorf("final_state %s expect: %w", assertion.Table, err)
	}

	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := db.QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}

	for _, key := range expect.SortedKeys() {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expect[key], got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %s", key, formatValue(expect[key])),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause returns a parameterized conjunction over sorted keys.
func buildWhereClause(where ir.IRObject) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := where.SortedKeys()
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func toSQLValue(v ir.IRValue) any {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return int64(val)
	case ir.IRBool:
		if val {
			return int64(1)
		}
		return int64(0)
	case ir.IRNull:
		return nil
	default:
		return formatValue(v)
	}
}

func formatWhereClause(where ir.IRObject) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := where.SortedKeys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(where[k])))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected IR value with a column value as
// returned by the SQLite driver. Booleans are stored as 0/1.
func stateValuesEqual(expected ir.IRValue, actual any) bool {
	switch exp := expected.(type) {
	case ir.IRNull:
		return actual == nil
	case ir.IRString:
		switch got := actual.(type) {
		case string:
			return string(exp) == got
		case []byte:
			return string(exp) == string(got)
		}
	case ir.IRInt:
		if got, ok := actual.(int64); ok {
			return int64(exp) == got
		}
	case ir.IRBool:
		switch got := actual.(type) {
		case bool:
			return bool(exp) == got
		case int64:
			return bool(exp) == (got != 0)
		}
	}
	return false
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

const invocationCols = `id, flow_token, action_uri, args, seq, engine_version, ir_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (ir.Invocation, error) {
	var inv ir.Invocation
	var action, args string
	if err := row.Scan(&inv.ID, &inv.FlowToken, &action, &args, &inv.Seq, &inv.EngineVersion, &inv.IRVersion); err != nil {
		return ir.Invocation{}, err
	}
	inv.ActionURI = ir.ActionRef(action)
	obj, err := unmarshalObject(args)
	if err != nil {
		return ir.Invocation{}, fmt.Errorf("invocation %s args: %w", inv.ID, err)
	}
	inv.Args = obj
	return inv, nil
}

func scanCompletion(row scanner) (ir.Completion, error) {
	var comp ir.Completion
	var result string
	if err := row.Scan(&comp.ID, &comp.InvocationID, &comp.OutputCase, &result, &comp.Seq); err != nil {
		return ir.Completion{}, err
	}
	obj, err := unmarshalObject(result)
	if err != nil {
		return ir.Completion{}, fmt.Errorf("completion %s result: %w", comp.ID, err)
	}
	comp.Result = obj
	return comp, nil
}

func (s *Store) queryInvocations(ctx context.Context, query string, args ...any) ([]ir.Invocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	out := []ir.Invocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return out, nil
}

func (s *Store) queryCompletions(ctx context.Context, query string, args ...any) ([]ir.Completion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	out := []ir.Completion{}
	for rows.Next() {
		comp, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out = append(out, comp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completions: %w", err)
	}
	return out, nil
}

// ReadFlow returns a flow's invocations and completions ordered by seq.
// Both slices are empty (not nil) for an unknown flow.
func (s *Store) ReadFlow(ctx context.Context, flowToken string) ([]ir.Invocation, []ir.Completion, error) {
	invs, err := s.queryInvocations(ctx, `
		SELECT `+invocationCols+` FROM invocations
		WHERE flow_token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC`, flowToken)
	if err != nil {
		return nil, nil, err
	}
	comps, err := s.queryCompletions(ctx, `
		SELECT c.id, c.invocation_id, c.output_case, c.result, c.seq
		FROM completions c
		JOIN invocations i ON c.invocation_id = i.id
		WHERE i.flow_token = ?
		ORDER BY c.seq ASC, c.id COLLATE BINARY ASC`, flowToken)
	if err != nil {
		return nil, nil, err
	}
	return invs, comps, nil
}

// ReadInvocation returns sql.ErrNoRows when id is unknown.
func (s *Store) ReadInvocation(ctx context.Context, id string) (ir.Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationCols+` FROM invocations WHERE id = ?`, id)
	return scanInvocation(row)
}

// ReadCompletion returns sql.ErrNoRows when id is unknown.
func (s *Store) ReadCompletion(ctx context.Context, id string) (ir.Completion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invocation_id, output_case, result, seq
		FROM completions WHERE id = ?`, id)
	return scanCompletion(row)
}

// ReadCompletionFor returns the completion of an invocation, if any.
func (s *Store) ReadCompletionFor(ctx context.Context, invocationID string) (ir.Completion, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invocation_id, output_case, result, seq
		FROM completions WHERE invocation_id = ?`, invocationID)
	comp, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return ir.Completion{}, false, nil
	}
	if err != nil {
		return ir.Completion{}, false, fmt.Errorf("read completion for %s: %w", invocationID, err)
	}
	return comp, true, nil
}

// ReadSyncFiringsForCompletion lists the rules a completion fired.
func (s *Store) ReadSyncFiringsForCompletion(ctx context.Context, completionID string) ([]ir.SyncFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, completion_id, sync_id, binding_hash, seq
		FROM sync_firings
		WHERE completion_id = ?
		ORDER BY seq ASC, id ASC`, completionID)
	if err != nil {
		return nil, fmt.Errorf("query sync firings: %w", err)
	}
	defer rows.Close()

	out := []ir.SyncFiring{}
	for rows.Next() {
		var f ir.SyncFiring
		if err := rows.Scan(&f.ID, &f.CompletionID, &f.SyncID, &f.BindingHash, &f.Seq); err != nil {
			return nil, fmt.Errorf("scan sync firing: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Provenance names the firing that produced an invocation.
type Provenance struct {
	SyncID       string
	CompletionID string
	BindingHash  string
}

// ReadProvenance returns how an invocation came to be. Root invocations
// (submitted from outside the engine) have no provenance.
func (s *Store) ReadProvenance(ctx context.Context, invocationID string) ([]Provenance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.sync_id, f.completion_id, f.binding_hash
		FROM provenance_edges p
		JOIN sync_firings f ON p.sync_firing_id = f.id
		WHERE p.invocation_id = ?
		ORDER BY f.seq ASC, f.id ASC`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	out := []Provenance{}
	for rows.Next() {
		var p Provenance
		if err := rows.Scan(&p.SyncID, &p.CompletionID, &p.BindingHash); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReadTriggered returns the invocations produced by firings of a completion.
func (s *Store) ReadTriggered(ctx context.Context, completionID string) ([]ir.Invocation, error) {
	return s.queryInvocations(ctx, `
		SELECT i.id, i.flow_token, i.action_uri, i.args, i.seq, i.engine_version, i.ir_version
		FROM invocations i
		JOIN provenance_edges p ON p.invocation_id = i.id
		JOIN sync_firings f ON p.sync_firing_id = f.id
		WHERE f.completion_id = ?
		ORDER BY i.seq ASC, i.id COLLATE BINARY ASC`, completionID)
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

const insertInvocationSQL = `
	INSERT INTO invocations
	(id, flow_token, action_uri, args, seq, engine_version, ir_version)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertInvocation(ctx context.Context, db execer, inv ir.Invocation) error {
	args, err := marshalObject(inv.Args)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, insertInvocationSQL,
		inv.ID, inv.FlowToken, string(inv.ActionURI), args, inv.Seq,
		inv.EngineVersion, inv.IRVersion)
	return err
}

// WriteInvocation appends an invocation. Writing the same id twice is a no-op.
func (s *Store) WriteInvocation(ctx context.Context, inv ir.Invocation) error {
	if err := insertInvocation(ctx, s.db, inv); err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}
	return nil
}

// WriteCompletion appends a completion. An invocation has at most one
// completion; a second write for it is silently ignored.
func (s *Store) WriteCompletion(ctx context.Context, comp ir.Completion) error {
	result, err := marshalObject(comp.Result)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO completions (id, invocation_id, output_case, result, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		comp.ID, comp.InvocationID, comp.OutputCase, result, comp.Seq)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	return nil
}

// WriteSyncFiringAtomic claims a firing slot and, only if the slot was
// free, writes the invocations it produced together with their provenance
// edges, all in one transaction.
//
// inserted is false when (completion_id, sync_id, binding_hash) already
// existed; nothing else is written in that case.
func (s *Store) WriteSyncFiringAtomic(ctx context.Context, firing ir.SyncFiring, invs []ir.Invocation) (firingID int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("sync firing: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_firings (completion_id, sync_id, binding_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(completion_id, sync_id, binding_hash) DO NOTHING`,
		firing.CompletionID, firing.SyncID, firing.BindingHash, firing.Seq)
	if err != nil {
		return 0, false, fmt.Errorf("sync firing: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sync firing: rows affected: %w", err)
	}

	if n == 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM sync_firings
			WHERE completion_id = ? AND sync_id = ? AND binding_hash = ?`,
			firing.CompletionID, firing.SyncID, firing.BindingHash).Scan(&firingID)
		if err != nil {
			return 0, false, fmt.Errorf("sync firing: select existing: %w", err)
		}
		return firingID, false, tx.Commit()
	}

	firingID, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("sync firing: last insert id: %w", err)
	}

	for _, inv := range invs {
		if err := insertInvocation(ctx, tx, inv); err != nil {
			return 0, false, fmt.Errorf("sync firing: invocation %s: %w", inv.ActionURI, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO provenance_edges (sync_firing_id, invocation_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING`, firingID, inv.ID)
		if err != nil {
			return 0, false, fmt.Errorf("sync firing: provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("sync firing: commit: %w", err)
	}
	return firingID, true, nil
}

// HasFiring reports whether the firing key exists.
func (s *Store) HasFiring(ctx context.Context, completionID, syncID, bindingHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_firings
		WHERE completion_id = ? AND sync_id = ? AND binding_hash = ?`,
		completionID, syncID, bindingHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check firing: %w", err)
	}
	return count > 0, nil
}

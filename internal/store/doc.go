// Package store is the SQLite-backed event log of the sync engine.
//
// Four append-only tables:
//   - invocations: actions requested within a flow
//   - completions: the single result of each invocation
//   - sync_firings: one row per (completion, sync, binding hash)
//   - provenance_edges: firing -> invocations it produced
//
// Ordering is always by the logical clock (seq), ties broken by id, so a
// flow reads back identically on every replay.
//
// Concepts keep their own tables in the same database; they receive the
// shared *sql.DB through DB and create their schema with ApplySchema.
package store

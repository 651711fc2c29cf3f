package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/ir"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testInvocation(flow, action string, args ir.IRObject, seq int64) ir.Invocation {
	id, err := ir.InvocationID(flow, action, args, seq)
	if err != nil {
		panic(err)
	}
	return ir.Invocation{
		ID:            id,
		FlowToken:     flow,
		ActionURI:     ir.ActionRef(action),
		Args:          args,
		Seq:           seq,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}

func testCompletion(inv ir.Invocation, result ir.IRObject, seq int64) ir.Completion {
	oc := ir.OutputCaseFor(result)
	id, err := ir.CompletionID(inv.ID, oc, result, seq)
	if err != nil {
		panic(err)
	}
	return ir.Completion{ID: id, InvocationID: inv.ID, OutputCase: oc, Result: result, Seq: seq}
}

func TestOpenAppliesPragmasAndVersion(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	s1, err := Open(path)
	require.NoError(t, err)
	inv := testInvocation("f1", "Sessioning.start", ir.O("user", "u1"), 1)
	require.NoError(t, s1.WriteInvocation(context.Background(), inv))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.ReadInvocation(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv, got)
}

func TestWriteAndReadFlow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	req := testInvocation("f1", "Requesting.request", ir.O("path", "/PasswordAuthentication/register", "username", "ada"), 1)
	require.NoError(t, s.WriteInvocation(ctx, req))
	reqDone := testCompletion(req, ir.O("request", "f1"), 2)
	require.NoError(t, s.WriteCompletion(ctx, reqDone))

	other := testInvocation("f2", "Requesting.request", ir.O("path", "/x"), 3)
	require.NoError(t, s.WriteInvocation(ctx, other))

	invs, comps, err := s.ReadFlow(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	require.Len(t, comps, 1)
	assert.Equal(t, req, invs[0])
	assert.Equal(t, reqDone, comps[0])

	invs, comps, err = s.ReadFlow(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, invs)
	assert.Empty(t, invs)
	assert.Empty(t, comps)
}

func TestWritesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	inv := testInvocation("f1", "Sessioning.start", ir.O("user", "u1"), 1)
	require.NoError(t, s.WriteInvocation(ctx, inv))
	require.NoError(t, s.WriteInvocation(ctx, inv))

	first := testCompletion(inv, ir.O("session", "s1"), 2)
	require.NoError(t, s.WriteCompletion(ctx, first))
	// A second completion for the same invocation is ignored.
	second := testCompletion(inv, ir.O("session", "s2"), 3)
	require.NoError(t, s.WriteCompletion(ctx, second))

	got, ok, err := s.ReadCompletionFor(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestCompletionRequiresInvocation(t *testing.T) {
	s := openTestStore(t)
	orphan := ir.Completion{ID: "c1", InvocationID: "nope", OutputCase: ir.OutputSuccess, Result: ir.IRObject{}, Seq: 1}
	assert.Error(t, s.WriteCompletion(context.Background(), orphan))
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ReadInvocation(ctx, "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, ok, err := s.ReadCompletionFor(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplySchema(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ddl := `CREATE TABLE IF NOT EXISTS widgets (id TEXT PRIMARY KEY)`
	require.NoError(t, s.ApplySchema(ctx, ddl))
	require.NoError(t, s.ApplySchema(ctx, ddl))
	_, err := s.DB().ExecContext(ctx, `INSERT INTO widgets (id) VALUES ('w1')`)
	require.NoError(t, err)
}

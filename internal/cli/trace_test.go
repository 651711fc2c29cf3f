package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/store"
)

func newInvocation(t *testing.T, flow, action string, args ir.IRObject, seq int64) ir.Invocation {
	t.Helper()
	id, err := ir.InvocationID(flow, action, args, seq)
	require.NoError(t, err)
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

func newCompletion(t *testing.T, inv ir.Invocation, result ir.IRObject, seq int64) ir.Completion {
	t.Helper()
	oc := ir.OutputCaseFor(result)
	id, err := ir.CompletionID(inv.ID, oc, result, seq)
	require.NoError(t, err)
	return ir.Completion{ID: id, InvocationID: inv.ID, OutputCase: oc, Result: result, Seq: seq}
}

// seedTraceDB records a finished registration flow "f1" and a flow "f2"
// whose only invocation never completed.
func seedTraceDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	req := newInvocation(t, "f1", "Requesting.request", ir.O("path", "/PasswordAuthentication/register", "username", "ada"), 1)
	require.NoError(t, st.WriteInvocation(ctx, req))
	reqDone := newCompletion(t, req, ir.O("request", "f1"), 2)
	require.NoError(t, st.WriteCompletion(ctx, reqDone))

	register := newInvocation(t, "f1", "PasswordAuthentication.register", ir.O("username", "ada", "password", "password1"), 3)
	_, _, err = st.WriteSyncFiringAtomic(ctx, ir.SyncFiring{
		CompletionID: reqDone.ID,
		SyncID:       "RegisterRequest",
		BindingHash:  ir.MustBindingHash(ir.O("request", "f1")),
		Seq:          3,
	}, []ir.Invocation{register})
	require.NoError(t, err)
	regDone := newCompletion(t, register, ir.O("user", "u1"), 4)
	require.NoError(t, st.WriteCompletion(ctx, regDone))

	respond := newInvocation(t, "f1", "Requesting.respond", ir.O("request", "f1", "user", "u1"), 5)
	_, _, err = st.WriteSyncFiringAtomic(ctx, ir.SyncFiring{
		CompletionID: regDone.ID,
		SyncID:       "RegisterResponseSuccess",
		BindingHash:  ir.MustBindingHash(ir.O("user", "u1")),
		Seq:          5,
	}, []ir.Invocation{respond})
	require.NoError(t, err)
	require.NoError(t, st.WriteCompletion(ctx, newCompletion(t, respond, ir.O("request", "f1"), 6)))

	stuck := newInvocation(t, "f2", "Requesting.request", ir.O("path", "/logout"), 7)
	require.NoError(t, st.WriteInvocation(ctx, stuck))

	return dbPath
}

func executeTrace(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceFlowText(t *testing.T) {
	dbPath := seedTraceDB(t)

	output, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--flow", "f1")
	require.NoError(t, err)

	assert.Contains(t, output, "Flow: f1")
	assert.Contains(t, output, "Events: 6 (3 invocations, 3 completions, 2 sync firings)")
	assert.Contains(t, output, "Status: complete")
	assert.Contains(t, output, "→ PasswordAuthentication.register")
	assert.Contains(t, output, "(via RegisterRequest)")
	assert.Contains(t, output, `← PasswordAuthentication.register Success {"user":"u1"}`)
	assert.Contains(t, output, "--[RegisterResponseSuccess]-->")
}

func TestTraceFlowJSON(t *testing.T) {
	dbPath := seedTraceDB(t)

	output, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", dbPath, "--flow", "f1")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)

	result := resp.Data
	assert.Equal(t, "f1", result.FlowToken)
	require.Len(t, result.Timeline, 6)
	assert.Equal(t, "Requesting.request", result.Timeline[0].ActionURI)
	assert.Empty(t, result.Timeline[0].SyncID)
	assert.Equal(t, "completion", result.Timeline[3].Type)
	assert.Equal(t, "PasswordAuthentication.register", result.Timeline[3].ActionURI)
	assert.Equal(t, ir.O("user", "u1"), result.Timeline[3].Result)

	require.Len(t, result.Provenance, 2)
	assert.Equal(t, "RegisterRequest", result.Provenance[0].SyncRule)
	assert.Equal(t, result.Timeline[1].ID, result.Provenance[0].FromCompletion)
	assert.Equal(t, result.Timeline[2].ID, result.Provenance[0].ToInvocation)
	assert.True(t, result.Stats.IsComplete)
}

func TestTraceActionFilter(t *testing.T) {
	dbPath := seedTraceDB(t)

	output, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", dbPath, "--flow", "f1", "--action", "Requesting.respond")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data.Timeline, 2)
	for _, ev := range resp.Data.Timeline {
		assert.Equal(t, "Requesting.respond", ev.ActionURI)
	}
	assert.Equal(t, 6, resp.Data.Stats.Invocations+resp.Data.Stats.Completions)
}

func TestTracePendingFlow(t *testing.T) {
	dbPath := seedTraceDB(t)

	output, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--flow", "f2")
	require.NoError(t, err)
	assert.Contains(t, output, "Status: pending")
}

func TestTraceListFlows(t *testing.T) {
	dbPath := seedTraceDB(t)

	output, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "f1\nf2\n", output)

	output, err = executeTrace(t, &RootOptions{Format: "json"}, "--db", dbPath, "--pending")
	require.NoError(t, err)
	var resp struct {
		Data FlowList `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, []string{"f2"}, resp.Data.Flows)
	assert.True(t, resp.Data.Pending)
}

func TestTraceEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	output, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--flow", "nonexistent-flow")
	require.NoError(t, err)
	assert.Contains(t, output, "No events found for flow: nonexistent-flow")

	output, err = executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--pending")
	require.NoError(t, err)
	assert.Equal(t, "No pending flows.\n", output)
}

func TestTraceDatabaseFromConfig(t *testing.T) {
	dbPath := seedTraceDB(t)
	cfgPath := filepath.Join(t.TempDir(), "hobbysync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("database:\n  path: %s\n", dbPath)), 0o644))

	output, err := executeTrace(t, &RootOptions{Format: "text", ConfigPath: cfgPath})
	require.NoError(t, err)
	assert.Contains(t, output, "f1")
}

func TestTraceErrors(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", "/nonexistent/path/test.db", "--flow", "f1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")

	_, err = executeTrace(t, &RootOptions{Format: "text", ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load configuration")
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/ir"
)

func record(action string, args, result ir.IRObject) ir.Record {
	return ir.Record{
		Invocation: ir.Invocation{ActionURI: ir.ActionRef(action), Args: args},
		Completion: ir.Completion{OutputCase: ir.OutputCaseFor(result), Result: result},
	}
}

func TestUnify(t *testing.T) {
	tests := []struct {
		name    string
		pattern ir.IRValue
		value   ir.IRValue
		frame   ir.IRObject
		want    ir.IRObject
		ok      bool
	}{
		{"binds variable", ir.IRString("$x"), ir.IRString("a"), ir.O(), ir.O("x", "a"), true},
		{"bound variable equal", ir.IRString("$x"), ir.IRString("a"), ir.O("x", "a"), ir.O("x", "a"), true},
		{"bound variable differs", ir.IRString("$x"), ir.IRString("b"), ir.O("x", "a"), nil, false},
		{"literal equal", ir.IRInt(3), ir.IRInt(3), ir.O(), ir.O(), true},
		{"literal differs", ir.IRString("a"), ir.IRString("b"), ir.O(), nil, false},
		{"partial object", ir.O("a", "$a"), ir.O("a", 1, "b", 2), ir.O(), ir.O("a", 1), true},
		{"missing key", ir.O("c", "$c"), ir.O("a", 1), ir.O(), nil, false},
		{"nested", ir.O("user", ir.O("id", "$id")), ir.O("user", ir.O("id", "u1", "name", "ada")), ir.O(), ir.O("id", "u1"), true},
		{"array element-wise", ir.IRArray{ir.IRString("$a"), ir.IRString("$b")}, ir.IRArray{ir.IRInt(1), ir.IRInt(2)}, ir.O(), ir.O("a", 1, "b", 2), true},
		{"array length", ir.IRArray{ir.IRString("$a")}, ir.IRArray{ir.IRInt(1), ir.IRInt(2)}, ir.O(), nil, false},
		{"same var twice", ir.O("a", "$x", "b", "$x"), ir.O("a", 1, "b", 2), ir.O(), nil, false},
		{"variable binds whole object", ir.IRString("$v"), ir.O("k", true), ir.O(), ir.O("v", ir.O("k", true)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := unify(tt.pattern, tt.value, tt.frame)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, ir.Equal(tt.want, got), "got %v", got)
			}
		})
	}
}

func TestUnifyLeavesFrameUntouchedOnFailure(t *testing.T) {
	frame := ir.O("x", "a")
	_, ok := unify(ir.O("y", "$y", "z", "nope"), ir.O("y", 1, "z", "other"), frame)
	assert.False(t, ok)
	assert.Equal(t, ir.O("x", "a"), frame)
}

func TestUnifyResultErrorGuard(t *testing.T) {
	failed := ir.O("error", "Invalid credentials.")

	_, ok := unifyResult(ir.O(), failed, ir.O())
	assert.False(t, ok, "empty pattern must not match an error")

	_, ok = unifyResult(nil, failed, ir.O())
	assert.False(t, ok)

	f, ok := unifyResult(ir.O("error", "$error"), failed, ir.O())
	require.True(t, ok)
	assert.Equal(t, ir.O("error", "Invalid credentials."), f)

	_, ok = unifyResult(nil, ir.O("user", "u1"), ir.O())
	assert.True(t, ok)
}

func TestMatchWhenSinglePattern(t *testing.T) {
	when := []ir.ActionPattern{{
		Action: "PasswordAuthentication.register",
		Input:  ir.O("username", "$username"),
		Output: ir.O("user", "$user"),
	}}
	latest := record("PasswordAuthentication.register", ir.O("username", "ada", "password", "pw"), ir.O("user", "u1"))

	frames := matchWhen(when, latest, nil)
	require.Len(t, frames, 1)
	assert.Equal(t, ir.O("username", "ada", "user", "u1"), frames[0])

	other := record("Sessioning.start", ir.O("user", "u1"), ir.O("session", "s1"))
	assert.Empty(t, matchWhen(when, other, nil))
}

func TestMatchWhenJoinsHistory(t *testing.T) {
	when := []ir.ActionPattern{
		{Action: "Requesting.request", Input: ir.O("path", "/login"), Output: ir.O("request", "$request")},
		{Action: "PasswordAuthentication.authenticate", Output: ir.O("user", "$user")},
	}
	req := record("Requesting.request", ir.O("path", "/login"), ir.O("request", "f1"))
	auth := record("PasswordAuthentication.authenticate", ir.O("username", "ada"), ir.O("user", "u1"))

	frames := matchWhen(when, auth, []ir.Record{req})
	require.Len(t, frames, 1)
	assert.Equal(t, ir.O("request", "f1", "user", "u1"), frames[0])

	assert.Empty(t, matchWhen(when, req, nil), "authenticate has not completed yet")
}

func TestMatchWhenLatestMustParticipate(t *testing.T) {
	when := []ir.ActionPattern{{Action: "Requesting.request", Output: ir.O("request", "$request")}}
	old := record("Requesting.request", ir.O(), ir.O("request", "f1"))
	latest := record("Sessioning.start", ir.O(), ir.O("session", "s1"))
	assert.Empty(t, matchWhen(when, latest, []ir.Record{old}))
}

func TestMatchWhenUsesEachRecordOnce(t *testing.T) {
	when := []ir.ActionPattern{
		{Action: "Greeter.record", Input: ir.O("msg", "$a")},
		{Action: "Greeter.record", Input: ir.O("msg", "$b")},
	}
	only := record("Greeter.record", ir.O("msg", "x"), ir.O())
	assert.Empty(t, matchWhen(when, only, nil))

	earlier := record("Greeter.record", ir.O("msg", "y"), ir.O())
	frames := matchWhen(when, only, []ir.Record{earlier})
	require.Len(t, frames, 2)
	assert.Equal(t, ir.O("a", "x", "b", "y"), frames[0])
	assert.Equal(t, ir.O("a", "y", "b", "x"), frames[1])
}

func TestMatchWhenSharedVariablesJoin(t *testing.T) {
	when := []ir.ActionPattern{
		{Action: "Requesting.request", Input: ir.O("session", "$session"), Output: ir.O("request", "$request")},
		{Action: "Sessioning._getUser", Input: ir.O("session", "$session"), Output: ir.O("user", "$user")},
	}
	reqA := record("Requesting.request", ir.O("session", "s1"), ir.O("request", "f1"))
	reqB := record("Requesting.request", ir.O("session", "s2"), ir.O("request", "f1"))
	lookup := record("Sessioning._getUser", ir.O("session", "s2"), ir.O("user", "u2"))

	frames := matchWhen(when, lookup, []ir.Record{reqA, reqB})
	require.Len(t, frames, 1)
	assert.Equal(t, ir.O("session", "s2", "request", "f1", "user", "u2"), frames[0])
}

func TestInstantiate(t *testing.T) {
	frame := ir.O("user", "u1", "tags", ir.IRArray{ir.IRString("a")})
	got, err := instantiateObject(ir.O(
		"user", "$user",
		"nested", ir.O("tags", "$tags", "fixed", true),
		"list", ir.IRArray{ir.IRString("$user"), ir.IRInt(2)},
		"plain", "literal",
	), frame)
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.O(
		"user", "u1",
		"nested", ir.O("tags", ir.IRArray{ir.IRString("a")}, "fixed", true),
		"list", ir.IRArray{ir.IRString("u1"), ir.IRInt(2)},
		"plain", "literal",
	), got))

	_, err = instantiateObject(ir.O("x", "$missing"), frame)
	assert.ErrorContains(t, err, "$missing is not bound")

	empty, err := instantiateObject(nil, frame)
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{}, empty)
}

func TestCollectFrames(t *testing.T) {
	step := ir.WhereStep{Collect: []string{"step", "done"}, As: "steps"}
	frames := []ir.IRObject{
		ir.O("goal", "g1", "step", "s1", "done", false),
		ir.O("goal", "g1", "step", "s2", "done", true),
		ir.O("goal", "g2", "step", "s3", "done", false),
	}

	out := collectFrames(step, frames, ir.O("goal", "ignored"))
	require.Len(t, out, 2)
	assert.True(t, ir.Equal(ir.O("goal", "g1", "steps", ir.IRArray{
		ir.O("step", "s1", "done", false),
		ir.O("step", "s2", "done", true),
	}), out[0]))
	assert.True(t, ir.Equal(ir.O("goal", "g2", "steps", ir.IRArray{
		ir.O("step", "s3", "done", false),
	}), out[1]))
}

func TestCollectFramesEmpty(t *testing.T) {
	step := ir.WhereStep{Collect: []string{"step"}, As: "steps"}
	out := collectFrames(step, nil, ir.O("user", "u1"))
	require.Len(t, out, 1)
	assert.True(t, ir.Equal(ir.O("user", "u1", "steps", ir.IRArray{}), out[0]))
}

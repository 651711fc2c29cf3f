package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationIDDeterministic(t *testing.T) {
	args := O("username", "ada", "password", "correct-horse")
	id1, err := InvocationID("flow-1", "PasswordAuthentication.register", args, 1)
	require.NoError(t, err)
	id2, err := InvocationID("flow-1", "PasswordAuthentication.register", args.Clone(), 1)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestInvocationIDInputsMatter(t *testing.T) {
	args := O("user", "u1")
	base, _ := InvocationID("flow-1", "Sessioning.start", args, 1)
	for name, other := range map[string]func() (string, error){
		"flow":   func() (string, error) { return InvocationID("flow-2", "Sessioning.start", args, 1) },
		"action": func() (string, error) { return InvocationID("flow-1", "Sessioning.end", args, 1) },
		"args":   func() (string, error) { return InvocationID("flow-1", "Sessioning.start", O("user", "u2"), 1) },
		"seq":    func() (string, error) { return InvocationID("flow-1", "Sessioning.start", args, 2) },
	} {
		id, err := other()
		require.NoError(t, err, name)
		assert.NotEqual(t, base, id, name)
	}
}

func TestCompletionIDAndDomains(t *testing.T) {
	result := O("session", "s1")
	c1, err := CompletionID("inv-1", OutputSuccess, result, 2)
	require.NoError(t, err)
	c2, err := CompletionID("inv-1", OutputError, result, 2)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)

	// Same payload under different domains must not collide.
	payload, err := MarshalCanonical(result)
	require.NoError(t, err)
	assert.NotEqual(t, hashWithDomain(DomainBinding, payload), hashWithDomain(DomainCompletion, payload))
}

func TestBindingHashIgnoresKeyOrder(t *testing.T) {
	a := IRObject{"user": IRString("u1"), "request": IRString("r1")}
	b := IRObject{"request": IRString("r1"), "user": IRString("u1")}
	assert.Equal(t, MustBindingHash(a), MustBindingHash(b))
}

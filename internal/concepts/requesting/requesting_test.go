package requesting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
)

func TestRequestRespondWait(t *testing.T) {
	c := New(time.Second)
	reg, err := concept.NewRegistry(c)
	require.NoError(t, err)
	ctx := concept.WithFlow(context.Background(), "flow-1")

	c.Expect("flow-1")
	res, err := reg.Invoke(ctx, Name+".request", ir.O("path", "/PasswordAuthentication/register", "username", "ada"))
	require.NoError(t, err)
	assert.Equal(t, ir.O("request", "flow-1"), res)

	res, err = reg.Invoke(ctx, Name+".respond", ir.O("request", "flow-1", "user", "u1"))
	require.NoError(t, err)
	assert.Equal(t, ir.O("request", "flow-1"), res)

	peek, ok := c.Response("flow-1")
	require.True(t, ok)
	assert.Equal(t, ir.O("user", "u1"), peek)

	body, err := c.Wait(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, ir.O("user", "u1"), body)

	_, ok = c.Response("flow-1")
	assert.False(t, ok, "answered requests are forgotten after Wait")
}

func TestRespondErrors(t *testing.T) {
	c := New(time.Second)
	reg, err := concept.NewRegistry(c)
	require.NoError(t, err)
	ctx := concept.WithFlow(context.Background(), "flow-1")

	res, err := reg.Invoke(ctx, Name+".respond", ir.O("request", "ghost"))
	require.NoError(t, err)
	assert.Equal(t, concept.ErrorResult("Request ghost not found."), res)

	_, err = reg.Invoke(ctx, Name+".request", ir.O("path", "/x"))
	require.NoError(t, err)
	_, err = reg.Invoke(ctx, Name+".respond", ir.O("request", "flow-1", "msg", "first"))
	require.NoError(t, err)
	res, err = reg.Invoke(ctx, Name+".respond", ir.O("request", "flow-1", "msg", "second"))
	require.NoError(t, err)
	assert.Equal(t, concept.ErrorResult("Request flow-1 was already answered."), res)

	body, ok := c.Response("flow-1")
	require.True(t, ok)
	assert.Equal(t, ir.O("msg", "first"), body)
}

func TestRequestNeedsPathAndFlow(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultTimeout, c.Timeout())
	reg, err := concept.NewRegistry(c)
	require.NoError(t, err)

	res, err := reg.Invoke(concept.WithFlow(context.Background(), "f"), Name+".request", ir.O())
	require.NoError(t, err)
	assert.Equal(t, concept.ErrorResult("Request path is required."), res)

	_, err = reg.Invoke(context.Background(), Name+".request", ir.O("path", "/x"))
	assert.Error(t, err)
}

func TestWaitTimesOut(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Expect("slow")

	_, err := c.Wait(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTimeout)

	// A late respond finds nothing to answer.
	res, err := c.respond(context.Background(), ir.O("request", "slow"))
	assert.Nil(t, res)
	assert.True(t, concept.IsError(err))
}

func TestWaitHonoursContext(t *testing.T) {
	c := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Wait(ctx, "flow-9")
	assert.ErrorIs(t, err, context.Canceled)
}

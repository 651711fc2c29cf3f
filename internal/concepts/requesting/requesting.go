// Package requesting bridges HTTP requests and the sync engine. An
// incoming request becomes a Requesting.request action whose id is the
// flow token; rules answer it with Requesting.respond, and the HTTP
// handler blocked in Wait receives the response body.
package requesting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
)

const Name = "Requesting"

// DefaultTimeout is how long a caller waits for a response.
const DefaultTimeout = 10 * time.Second

// TimeoutMessage is the body of a timed-out request.
const TimeoutMessage = "Request timed out."

// ErrTimeout is returned by Wait when no response arrived in time.
var ErrTimeout = errors.New("request timed out")

type pending struct {
	ch       chan ir.IRObject
	answered bool
}

// Concept tracks open requests. It holds no persistent state; the
// request and respond invocations themselves are in the engine log.
type Concept struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

func New(timeout time.Duration) *Concept {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Concept{timeout: timeout, pending: make(map[string]*pending)}
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"request": c.request,
		"respond": c.respond,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{}
}

// Timeout is the configured wait limit.
func (c *Concept) Timeout() time.Duration {
	return c.timeout
}

// Expect opens a request before it is submitted, so a response that
// arrives before the caller starts waiting is not lost.
func (c *Concept) Expect(request string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open(request)
}

func (c *Concept) open(request string) *pending {
	p, ok := c.pending[request]
	if !ok {
		p = &pending{ch: make(chan ir.IRObject, 1)}
		c.pending[request] = p
	}
	return p
}

// Wait blocks until the request is answered, the timeout passes or ctx
// ends. The request is forgotten afterwards either way.
func (c *Concept) Wait(ctx context.Context, request string) (ir.IRObject, error) {
	c.mu.Lock()
	p := c.open(request)
	c.mu.Unlock()
	defer c.Forget(request)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case body := <-p.ch:
		return body, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Response returns the answer of a request without waiting.
func (c *Concept) Response(request string) (ir.IRObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[request]
	if !ok || !p.answered {
		return nil, false
	}
	select {
	case body := <-p.ch:
		p.ch <- body
		return body, true
	default:
		return nil, false
	}
}

// Forget drops a request.
func (c *Concept) Forget(request string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, request)
}

// request opens the flow's request. Its fields are matched by rules; the
// result only carries the request id.
func (c *Concept) request(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	flow, ok := concept.FlowFrom(ctx)
	if !ok {
		return nil, errors.New("request outside of a flow")
	}
	if concept.Str(args, "path") == "" {
		return nil, concept.Errorf("Request path is required.")
	}
	c.mu.Lock()
	c.open(flow)
	c.mu.Unlock()
	return ir.O("request", flow), nil
}

// respond answers a request with every argument except "request".
func (c *Concept) respond(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
	request := concept.Str(args, "request")

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[request]
	if !ok {
		return nil, concept.Errorf("Request %s not found.", request)
	}
	if p.answered {
		return nil, concept.Errorf("Request %s was already answered.", request)
	}
	body := args.Clone()
	delete(body, "request")
	p.answered = true
	p.ch <- body
	return ir.O("request", request), nil
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/concepts/requesting"
	"github.com/roach88/hobbysync/internal/ir"
)

// fakeEngine answers every submitted request through the Requesting
// concept with the reply function.
type fakeEngine struct {
	mu        sync.Mutex
	submitted []ir.IRObject
	reply     func(args ir.IRObject) ir.IRObject
	submitErr error
	requests  *requesting.Concept
	n         int
}

func (f *fakeEngine) NewFlow() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "flow-" + strconv.Itoa(f.n)
}

func (f *fakeEngine) Submit(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Invocation, error) {
	if f.submitErr != nil {
		return ir.Invocation{}, f.submitErr
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, args)
	f.mu.Unlock()

	if f.reply != nil {
		body := f.reply(args)
		go func() {
			respond := f.requests.Actions()["respond"]
			_, _ = respond(concept.WithFlow(context.Background(), flow), body.Merge(ir.O("request", flow)))
		}()
	}
	return ir.Invocation{FlowToken: flow, ActionURI: action, Args: args}, nil
}

func (f *fakeEngine) Dispatch(_ context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ir.Completion, error) {
	if action == "Greeter.fail" {
		return ir.Completion{}, errors.New("boom")
	}
	return ir.Completion{Result: ir.O("action", string(action), "flow", flow, "name", concept.Str(args, "name"))}, nil
}

func (f *fakeEngine) Query(_ context.Context, query ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error) {
	return []ir.IRObject{ir.O("query", string(query))}, nil
}

func newTestServer(t *testing.T, timeout time.Duration, opts Options) (*fakeEngine, *httptest.Server) {
	t.Helper()
	req := requesting.New(timeout)
	eng := &fakeEngine{requests: req}
	srv := httptest.NewServer(NewServer(eng, req, opts).Handler())
	t.Cleanup(srv.Close)
	return eng, srv
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestRequestRoundTrip(t *testing.T) {
	eng, srv := newTestServer(t, time.Second, Options{})
	eng.reply = func(args ir.IRObject) ir.IRObject {
		return ir.O("echo", concept.Str(args, "name"))
	}

	status, body := post(t, srv.URL+"/api/Greeter/hello", `{"name":"ada","path":"/spoofed"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"echo":"ada"}`, body)

	require.Len(t, eng.submitted, 1)
	assert.Equal(t, ir.IRString("/Greeter/hello"), eng.submitted[0]["path"])
}

func TestEmptyBodyIsEmptyObject(t *testing.T) {
	eng, srv := newTestServer(t, time.Second, Options{})
	eng.reply = func(ir.IRObject) ir.IRObject { return ir.IRObject{} }

	status, body := post(t, srv.URL+"/api/logout", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{}`, body)
	assert.Equal(t, ir.O("path", "/logout"), eng.submitted[0])
}

func TestRequestTimeout(t *testing.T) {
	_, srv := newTestServer(t, 50*time.Millisecond, Options{})
	status, body := post(t, srv.URL+"/api/UserProfile/setName", `{}`)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.JSONEq(t, `{"error":"Request timed out."}`, body)
}

func TestSubmitFailureIsInternalError(t *testing.T) {
	eng, srv := newTestServer(t, time.Second, Options{})
	eng.submitErr = errors.New("engine stopped")
	status, body := post(t, srv.URL+"/api/x", `{}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"An internal server error occurred."}`, body)
}

func TestInvalidBodies(t *testing.T) {
	_, srv := newTestServer(t, time.Second, Options{})
	for _, body := range []string{`{bad`, `[1,2]`, `{"x": 1.5}`, `{"a":1} {"b":2}`} {
		status, _ := post(t, srv.URL+"/api/x", body)
		assert.Equal(t, http.StatusBadRequest, status, body)
	}
}

func TestBodyTooLarge(t *testing.T) {
	_, srv := newTestServer(t, time.Second, Options{MaxBodyBytes: 16})
	status, _ := post(t, srv.URL+"/api/x", `{"name":"a very long value"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPassthrough(t *testing.T) {
	eng, srv := newTestServer(t, time.Second, Options{
		BaseURL:     "/v1/",
		Passthrough: []string{"Greeter/hello", "/Greeter/_friends", "/Greeter/fail", "/nested/route/x"},
	})

	status, body := post(t, srv.URL+"/v1/Greeter/hello", `{"name":"bo"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"action":"Greeter.hello","flow":"flow-1","name":"bo"}`, body)

	status, body = post(t, srv.URL+"/v1/Greeter/_friends", `{}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"query":"Greeter._friends"}]`, body)

	status, _ = post(t, srv.URL+"/v1/Greeter/fail", `{}`)
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = post(t, srv.URL+"/v1/nested/route/x", `{}`)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Empty(t, eng.submitted, "passthrough routes never become requests")
}

func TestRootAndHealth(t *testing.T) {
	_, srv := newTestServer(t, time.Second, Options{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "Concept Server is running.", string(data))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestRateLimit(t *testing.T) {
	eng, srv := newTestServer(t, time.Second, Options{RateLimitRequests: 2, RateLimitWindow: time.Minute})
	eng.reply = func(ir.IRObject) ir.IRObject { return ir.IRObject{} }

	for i := 0; i < 2; i++ {
		status, _ := post(t, srv.URL+"/api/x", `{}`)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := post(t, srv.URL+"/api/x", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.JSONEq(t, `{"error":"Too many requests."}`, body)

	// Outside the limited group.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package harness

import (
	"github.com/roach88/hobbysync/internal/ir"
)

// TraceEvent is one entry of the engine log as seen by a scenario.
type TraceEvent struct {
	Type       string      `json:"type"` // "invocation" or "completion"
	Flow       string      `json:"flow"`
	ActionURI  string      `json:"action_uri,omitempty"`
	Args       ir.IRObject `json:"args,omitempty"`
	SyncID     string      `json:"sync_id,omitempty"`
	OutputCase string      `json:"output_case,omitempty"`
	Result     ir.IRObject `json:"result,omitempty"`
	Seq        int64       `json:"seq"`
}

// StepResult is what a single flow step produced.
type StepResult struct {
	Flow     string      `json:"flow"`
	Response ir.IRObject `json:"response,omitempty"`
	TimedOut bool        `json:"timed_out,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every invocation and completion of every flow, flows in
	// order of first appearance.
	Trace []TraceEvent `json:"trace"`

	Steps []StepResult `json:"steps"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace appends an invocation.
func (r *Result) AddInvocationTrace(flow, actionURI string, args ir.IRObject, syncID string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      "invocation",
		Flow:      flow,
		ActionURI: actionURI,
		Args:      args,
		SyncID:    syncID,
		Seq:       seq,
	})
}

// AddCompletionTrace appends a completion.
func (r *Result) AddCompletionTrace(flow, actionURI, outputCase string, result ir.IRObject, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:       "completion",
		Flow:       flow,
		ActionURI:  actionURI,
		OutputCase: outputCase,
		Result:     result,
		Seq:        seq,
	})
}

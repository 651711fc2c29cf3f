package concept

import "context"

type flowKey struct{}

// WithFlow attaches the flow token of the running invocation.
func WithFlow(ctx context.Context, flow string) context.Context {
	return context.WithValue(ctx, flowKey{}, flow)
}

// FlowFrom returns the flow token set by WithFlow.
func FlowFrom(ctx context.Context) (string, bool) {
	flow, ok := ctx.Value(flowKey{}).(string)
	return flow, ok && flow != ""
}

// Package engine runs concept actions and the sync rules that connect them.
//
// Every external request gets a flow token. Actions submitted on a flow
// are persisted as invocations, executed one at a time per flow on a
// bounded worker pool, and their results persisted as completions. Each
// completion is matched against the rules in declaration order:
//
//	when   patterns over completed actions of the flow bind variables
//	where  queries refine or multiply the resulting frames; collect folds them
//	then   actions are instantiated per frame and appended to the flow
//
// The loop repeats until the flow is quiescent. All store writes and rule
// evaluation happen on the single Run goroutine, and all ordering comes
// from the logical Clock, so a flow's log is reproducible.
//
// Termination is guarded twice: a (sync, binding) pair fires at most once
// per flow (CycleDetector) and a flow processes at most MaxSteps
// completions (QuotaEnforcer). Firings are keyed by (completion, sync,
// binding hash) in the store, which makes recovery after a crash safe.
package engine

package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Submit and Dispatch after the engine stopped.
var ErrStopped = errors.New("engine stopped")

// RuntimeError is an error detected while evaluating rules.
type RuntimeError struct {
	Code        RuntimeErrorCode
	Message     string
	FlowToken   string
	SyncID      string
	BindingHash string
	Details     map[string]string
}

// RuntimeErrorCode categorizes runtime errors. Codes are stable and used
// as metric labels.
type RuntimeErrorCode string

const (
	// ErrCodeCycleDetected: the same (sync, binding) would fire twice in a flow.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeQuotaExceeded: the flow processed more than MaxSteps completions.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeMissingAction: a rule or submission names an unregistered action.
	ErrCodeMissingAction RuntimeErrorCode = "MISSING_ACTION"

	// ErrCodeInvalidBinding: a template references a variable the frame lacks.
	ErrCodeInvalidBinding RuntimeErrorCode = "INVALID_BINDING"
)

func (e *RuntimeError) Error() string {
	if e.FlowToken != "" && e.SyncID != "" {
		return fmt.Sprintf("%s: %s (flow=%s, sync=%s)", e.Code, e.Message, e.FlowToken, e.SyncID)
	}
	if e.FlowToken != "" {
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowToken)
	}
	if e.SyncID != "" {
		return fmt.Sprintf("%s: %s (sync=%s)", e.Code, e.Message, e.SyncID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of a wrapped RuntimeError, or "" if there is none.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	if IsStepsExceededError(err) {
		return ErrCodeQuotaExceeded
	}
	return ""
}

func IsCycleError(err error) bool {
	return CodeOf(err) == ErrCodeCycleDetected
}

// IsQuotaError matches both RuntimeError quota codes and StepsExceededError.
func IsQuotaError(err error) bool {
	return CodeOf(err) == ErrCodeQuotaExceeded
}

func IsMissingActionError(err error) bool {
	return CodeOf(err) == ErrCodeMissingAction
}

func NewCycleError(flowToken, syncID, bindingHash string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeCycleDetected,
		Message:     "sync rule would fire same binding twice in flow",
		FlowToken:   flowToken,
		SyncID:      syncID,
		BindingHash: bindingHash,
	}
}

func NewQuotaError(flowToken string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("flow exceeded max steps (%d > %d)", steps, maxSteps),
		FlowToken: flowToken,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", steps),
			"max_steps": fmt.Sprintf("%d", maxSteps),
		},
	}
}

func NewMissingActionError(syncID, ref string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMissingAction,
		Message: fmt.Sprintf("%s is not registered", ref),
		SyncID:  syncID,
	}
}

func NewBindingError(flowToken, syncID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInvalidBinding,
		Message:   err.Error(),
		FlowToken: flowToken,
		SyncID:    syncID,
	}
}

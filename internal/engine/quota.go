package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts the completions a flow has processed. The cycle
// detector catches A -> B -> A; the quota catches long distinct chains.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is passed.
func (q *QuotaEnforcer) Check(flowToken string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{FlowToken: flowToken, Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

func (q *QuotaEnforcer) Current() int  { return q.current }
func (q *QuotaEnforcer) MaxSteps() int { return q.maxSteps }

// StepsExceededError aborts a flow. Unlike a cycle, which only skips one
// firing, it drops all of the flow's pending work.
type StepsExceededError struct {
	FlowToken string
	Steps     int
	Limit     int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit",
		e.FlowToken, e.Steps, e.Limit)
}

func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

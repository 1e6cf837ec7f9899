package intake

import (
	"fmt"
	"net/http"
)

// Step is a pipeline state.
type Step string

// Pipeline states, in execution order.
const (
	StepNormalizing Step = "normalizing"
	StepResolving   Step = "resolving"
	StepDelegating  Step = "delegating"
	StepDispatching Step = "dispatching"
	StepBranching   Step = "branching"
	StepFinalizing  Step = "finalizing"
	stepDone        Step = "done"
)

// Public error codes reported to the trigger caller.
const (
	CodeInvalidPayload   = "invalid_payload"
	CodeStoreUnavailable = "store_unavailable"
	CodeLockUnavailable  = "lock_unavailable"
	CodeDecisionTimeout  = "decision_timeout"
	CodeDecisionFailed   = "decision_failed"
	CodeDispatchFailed   = "dispatch_failed"
)

var codeStatus = map[string]int{
	CodeInvalidPayload:   http.StatusBadRequest,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
	CodeLockUnavailable:  http.StatusServiceUnavailable,
	CodeDecisionTimeout:  http.StatusGatewayTimeout,
	CodeDecisionFailed:   http.StatusBadGateway,
	CodeDispatchFailed:   http.StatusBadGateway,
}

var codeMessage = map[string]string{
	CodeInvalidPayload:   "Invalid webhook payload",
	CodeStoreUnavailable: "Conversation store unavailable",
	CodeLockUnavailable:  "Conversation is busy, retry later",
	CodeDecisionTimeout:  "Decision service timed out",
	CodeDecisionFailed:   "Decision service failed",
	CodeDispatchFailed:   "Reply could not be sent",
}

// StepError is a pipeline failure tagged with the step that failed and the
// public error code.
type StepError struct {
	Step Step
	Code string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Code, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the trigger caller receives.
func (e *StepError) HTTPStatus() int {
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func stepError(step Step, code string, err error) *StepError {
	return &StepError{Step: step, Code: code, Err: err}
}

package orange

import (
	"errors"
	"fmt"
)

// StepError is the failure of one scripted portal request.
type StepError struct {
	Step       string
	StatusCode int
	Reason     string
	Err        error
}

func (e *StepError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("step %s: %v", e.Step, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("step %s: HTTP %d: %s", e.Step, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("step %s: HTTP %d", e.Step, e.StatusCode)
	}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AuthenticationError wraps a failure of the cold-start login sequence.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("orange authentication: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SessionError wraps a failure of a scripted step on an authenticated session.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("orange session: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step error carried by err, if any.
func FailedStep(err error) (*StepError, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr, true
	}
	return nil, false
}

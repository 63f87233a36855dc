package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrStepFailed matches every *StepError via errors.Is.
	ErrStepFailed = errors.New("workflow step failed")

	// ErrAlreadyRunning is returned by Run when a run is active.
	ErrAlreadyRunning = errors.New("a removal run is already active")
)

// StepError is a fatal failure of one workflow step. Message is shown to
// the user; Err carries the underlying cause when there is one.
type StepError struct {
	Step    string
	Message string
	Err     error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrStepFailed
}

func stepErr(step, msg string) *StepError {
	return &StepError{Step: step, Message: msg}
}

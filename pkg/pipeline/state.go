package pipeline

import (
	"errors"
	"fmt"
)

type State string

const (
	StateReceived        State = "RECEIVED"
	StateMatched         State = "MATCHED"
	StateFiltered        State = "FILTERED"
	StateNegationChecked State = "NEGATION_CHECKED"
	StateCodeResolved    State = "CODE_RESOLVED"
	StateScored          State = "SCORED"
	StateGrouped         State = "GROUPED"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// ErrInvalidConfig is returned before any matching when options are
// malformed.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// StepError reports the state whose step failed.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

package deploy

import (
	"errors"
	"fmt"
)

// ErrNoRevisionFound is returned by Rollback when neither the argument, the
// revision pointer, the run history nor a backup names a revision.
var ErrNoRevisionFound = errors.New("no revision found to roll back to")

// StepFailure is returned when a fail-fast step aborts a run.
type StepFailure struct {
	Step string
	Err  error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

package environment

import (
	"errors"
	"fmt"
)

var (
	ErrNotRepository = errors.New("directory exists but is not a git repository")
	ErrRefNotFound   = errors.New("ref not found")
	ErrNoRepository  = errors.New("no repository configured")
)

// SyncError reports a failed or refused sync. Op names the git stage that
// failed: inspect, clone, fetch, resolve, checkout, pull or revision.
type SyncError struct {
	Env string
	Op  string
	Ref Ref
	Err error
}

func (e *SyncError) Error() string {
	if e.Ref.IsZero() {
		return fmt.Sprintf("sync %s: %s: %v", e.Env, e.Op, e.Err)
	}
	return fmt.Sprintf("sync %s (%s): %s: %v", e.Env, e.Ref, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

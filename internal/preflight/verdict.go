package preflight

import (
	"fmt"
	"strings"
)

// Failure is one named check result. Check groups related failures (tool,
// config, secret, disk, port, tree, health) and Name identifies the subject.
type Failure struct {
	Check   string
	Name    string
	Message string
}

func (f Failure) String() string {
	if f.Name == "" {
		return fmt.Sprintf("%s: %s", f.Check, f.Message)
	}
	return fmt.Sprintf("%s %s: %s", f.Check, f.Name, f.Message)
}

// Verdict collects every failure and warning of one validation pass.
type Verdict struct {
	Env      string
	OK       bool
	Failures []Failure
	Warnings []Failure
}

// Err returns a *ValidationError when the verdict is not OK.
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return &ValidationError{Env: v.Env, Failures: v.Failures}
}

// ValidationError lists every hard check that failed.
type ValidationError struct {
	Env      string
	Failures []Failure
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		lines[i] = "  - " + f.String()
	}
	return fmt.Sprintf("preflight for %s failed with %d error(s):\n%s", e.Env, len(e.Failures), strings.Join(lines, "\n"))
}

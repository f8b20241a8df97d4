package deploy

import (
	"fmt"
	"time"

	"github.com/ameistad/shipyard/internal/backup"
)

// Target selects which parts of the environment a deploy touches.
type Target string

const (
	TargetAll       Target = "all"
	TargetDashboard Target = "dashboard"
	TargetBackend   Target = "backend"
)

// ParseTarget accepts "", all, dashboard and backend.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "", TargetAll:
		return TargetAll, nil
	case TargetDashboard, TargetBackend:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown deploy target %q (expected all, dashboard or backend)", s)
	}
}

func (t Target) includesDashboard() bool { return t == TargetAll || t == TargetDashboard }
func (t Target) includesBackend() bool   { return t == TargetAll || t == TargetBackend }

type Options struct {
	SkipTests      bool
	SkipPull       bool
	DryRun         bool
	NonInteractive bool
	// Force skips the preflight liveness probe of the running service.
	Force bool
}

type Kind string

const (
	KindDeploy   Kind = "deploy"
	KindRollback Kind = "rollback"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPlanned  Status = "planned"
	StatusSuccess  Status = "success"
	StatusWarnings Status = "succeeded_with_warnings"
	StatusFailed   Status = "failed"
	// StatusAborted means the run stopped before anything was mutated.
	StatusAborted Status = "aborted"
)

// Succeeded reports whether the run completed its fail-fast steps.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusWarnings
}

type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type StepResult struct {
	Name     string
	Status   StepStatus
	Detail   string
	Duration time.Duration
}

// Run is the record of one deploy or rollback invocation. Steps are kept in
// execution order.
type Run struct {
	ID         string
	Env        string
	Kind       Kind
	Target     Target
	Revision   string
	Status     Status
	FailedStep string
	Steps      []StepResult
	Warnings   []string
	Backup     *backup.Artifact
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Step returns the result recorded for name.
func (r Run) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// ShortRevision is the abbreviated revision shown to operators.
func ShortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

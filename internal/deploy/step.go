package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/logging"
)

// Step is one unit of the pipeline. A failing step aborts the run unless it
// is BestEffort, in which case the run ends with warnings.
type Step struct {
	Name       string
	BestEffort bool
	// Skip holds the reason the step will not run. Empty means it runs.
	Skip string
	// Commands is what the step will execute, shown in plans.
	Commands []string
	Run      func(ctx context.Context) (string, error)
}

// PlannedStep is a Step as shown by a dry run.
type PlannedStep struct {
	Name       string
	BestEffort bool
	Skip       string
	Commands   []string
}

type Plan struct {
	Env    string
	Kind   Kind
	Target Target
	Steps  []PlannedStep
}

func planOf(envName string, kind Kind, target Target, steps []Step) Plan {
	plan := Plan{Env: envName, Kind: kind, Target: target}
	for _, s := range steps {
		plan.Steps = append(plan.Steps, PlannedStep{
			Name:       s.Name,
			BestEffort: s.BestEffort,
			Skip:       s.Skip,
			Commands:   s.Commands,
		})
	}
	return plan
}

// Lines renders the plan for display, one line per step.
func (p Plan) Lines() []string {
	lines := make([]string, 0, len(p.Steps))
	for i, s := range p.Steps {
		line := fmt.Sprintf("%d. %s", i+1, s.Name)
		switch {
		case s.Skip != "":
			line += " (skipped: " + s.Skip + ")"
		case s.BestEffort:
			line += " (best effort)"
		}
		if s.Skip == "" && len(s.Commands) > 0 {
			line += ": " + strings.Join(s.Commands, " && ")
		}
		lines = append(lines, line)
	}
	return lines
}

// execute runs steps in order. It stops at the first failing step that is
// not best effort; every later step is recorded as skipped.
func execute(ctx context.Context, steps []Step, timeout time.Duration) ([]StepResult, *StepFailure, []string) {
	logger := logging.FromContext(ctx)
	results := make([]StepResult, 0, len(steps))
	var failure *StepFailure
	var warnings []string

	for _, step := range steps {
		if failure != nil {
			results = append(results, StepResult{Name: step.Name, Status: StepSkipped, Detail: "not run: " + failure.Step + " failed"})
			continue
		}
		if step.Skip != "" {
			logger.Info("step skipped", "step", step.Name, "reason", step.Skip)
			results = append(results, StepResult{Name: step.Name, Status: StepSkipped, Detail: step.Skip})
			continue
		}

		logger.Info("step started", "step", step.Name)
		stepCtx := ctx
		cancel := func() {}
		if timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		start := time.Now()
		detail, err := step.Run(stepCtx)
		cancel()
		result := StepResult{Name: step.Name, Status: StepOK, Detail: detail, Duration: time.Since(start)}

		if err != nil {
			result.Status = StepFailed
			result.Detail = helpers.Truncate(err.Error(), 500)
			if step.BestEffort {
				logger.Warn("best-effort step failed", "step", step.Name, "error", err)
				warnings = append(warnings, fmt.Sprintf("%s: %v", step.Name, err))
			} else {
				logger.Error("step failed", "step", step.Name, "error", err)
				failure = &StepFailure{Step: step.Name, Err: err}
			}
		} else {
			logger.Info("step finished", "step", step.Name, "duration", result.Duration.Round(time.Millisecond))
		}
		results = append(results, result)
	}
	return results, failure, warnings
}

// Package deploy runs the ordered build and release pipeline for an
// environment and records every run.
package deploy

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/backup"
	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/health"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/lock"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/preflight"
	"github.com/ameistad/shipyard/internal/proxy"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/oklog/ulid"
)

const (
	StepPreflight      = "preflight"
	StepBackup         = "backup"
	StepSync           = "sync"
	StepCheckout       = "checkout"
	StepDashboard      = "dashboard"
	StepMigrate        = "backend-migrate"
	StepTests          = "backend-tests"
	StepSecondaryTests = "backend-secondary-tests"
	StepRestart        = "backend-restart"
	StepProxy          = "proxy"
	StepVerify         = "verify"
)

type Resolver interface {
	Sync(ctx context.Context, envName string, ref environment.Ref, opts environment.SyncOptions) (environment.Revision, error)
	Current(ctx context.Context, envName string) (environment.Revision, error)
}

type Validator interface {
	Validate(ctx context.Context, envName string, opts preflight.Options) (preflight.Verdict, error)
}

type Backups interface {
	Backup(ctx context.Context, envName string) (backup.Artifact, error)
	Latest(envName string) (backup.Artifact, bool, error)
}

type ProxyApplier interface {
	Apply(ctx context.Context, env config.Environment) (proxy.Result, error)
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Resolver  Resolver
	Validator Validator
	Backups   Backups
	Proxy     ProxyApplier
	Runner    runner.Runner
	Notifier  notify.Notifier
	History   History
	// LogOptions shape the per-run log file. The zero value logs text at
	// info level to stderr.
	LogOptions logging.Options
}

type Orchestrator struct {
	cfg *config.Config
	Dependencies
	client *http.Client
	now    func() time.Time
}

func New(cfg *config.Config, deps Dependencies) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		Dependencies: deps,
		client:       health.NewHTTPClient(),
		now:          time.Now,
	}
}

// NewRunID returns a sortable unique run identifier.
func NewRunID(t time.Time) string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), rand.Reader).String())
}

// Plan returns the steps a deploy would run without running any of them.
func (o *Orchestrator) Plan(envName string, target Target, opts Options) (Plan, error) {
	env, err := o.cfg.Environment(envName)
	if err != nil {
		return Plan{}, err
	}
	return planOf(env.Name, KindDeploy, target, o.pipeline(env, target, opts, nil)), nil
}

// Deploy runs the pipeline for target. A dry run returns the plan as a run
// in the planned state and touches nothing.
func (o *Orchestrator) Deploy(ctx context.Context, envName string, target Target, opts Options) (Run, error) {
	env, err := o.cfg.Environment(envName)
	if err != nil {
		return Run{}, err
	}
	if opts.DryRun {
		return o.planned(env, KindDeploy, target, o.pipeline(env, target, opts, nil)), nil
	}
	return o.run(ctx, env, KindDeploy, target, opts, nil)
}

func (o *Orchestrator) planned(env config.Environment, kind Kind, target Target, steps []Step) Run {
	run := Run{Env: env.Name, Kind: kind, Target: target, Status: StatusPlanned, StartedAt: o.now()}
	for _, s := range planOf(env.Name, kind, target, steps).Steps {
		detail := strings.Join(s.Commands, " && ")
		if s.Skip != "" {
			detail = s.Skip
		}
		run.Steps = append(run.Steps, StepResult{Name: s.Name, Status: StepSkipped, Detail: detail})
	}
	return run
}

// run executes preflight, backup and the pipeline under the environment
// lock. When checkout is set the source step checks out that revision
// instead of syncing the configured branch.
func (o *Orchestrator) run(ctx context.Context, env config.Environment, kind Kind, target Target, opts Options, checkout *environment.Ref) (Run, error) {
	fileLock, err := lock.Acquire(o.cfg.LocksDir(), env.Name)
	if err != nil {
		return Run{}, err
	}
	defer fileLock.Release()

	run := Run{
		ID:        NewRunID(o.now()),
		Env:       env.Name,
		Kind:      kind,
		Target:    target,
		Status:    StatusRunning,
		StartedAt: o.now(),
	}

	if removed, err := logging.CleanOldLogs(o.cfg.LogsDir(), o.cfg.Log.RetentionDays); err != nil {
		logging.FromContext(ctx).Warn("failed to clean old run logs", "error", err)
	} else if removed > 0 {
		logging.FromContext(ctx).Debug("removed old run logs", "count", removed)
	}

	runLog, err := logging.OpenRunLog(o.cfg.LogsDir(), run.ID)
	if err != nil {
		return Run{}, fmt.Errorf("failed to open run log: %w", err)
	}
	defer runLog.Close()
	run.LogPath = runLog.Path

	logger, err := logging.Tee(o.LogOptions, runLog)
	if err != nil {
		return Run{}, err
	}
	logger = logger.With("env", env.Name, "run", run.ID)
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("run started", "kind", kind, "target", target)

	o.notify(ctx, startedMessage(run))

	preflightResult, err := o.preflight(ctx, env, opts, &run)
	run.Steps = append(run.Steps, preflightResult)
	if err != nil {
		return o.finish(ctx, run, StatusAborted, &StepFailure{Step: StepPreflight, Err: err})
	}

	start := time.Now()
	artifact, err := o.Backups.Backup(ctx, env.Name)
	backupResult := StepResult{Name: StepBackup, Status: StepOK, Duration: time.Since(start)}
	if err != nil {
		backupResult.Status = StepFailed
		backupResult.Detail = err.Error()
		run.Steps = append(run.Steps, backupResult)
		return o.finish(ctx, run, StatusAborted, &StepFailure{Step: StepBackup, Err: err})
	}
	run.Backup = &artifact
	backupResult.Detail = artifact.Dir
	if artifact.Degraded {
		backupResult.Detail += " (degraded: " + artifact.DumpError + ")"
		run.Warnings = append(run.Warnings, "backup is degraded: database dump failed")
	}
	run.Steps = append(run.Steps, backupResult)

	results, failure, warnings := execute(ctx, o.pipeline(env, target, opts, &pipelineState{run: &run, checkout: checkout, output: runLog}), env.StepTimeout)
	run.Steps = append(run.Steps, results...)
	run.Warnings = append(run.Warnings, warnings...)

	if failure != nil {
		return o.finish(ctx, run, StatusFailed, failure)
	}
	if run.Revision == "" {
		if rev, err := o.Resolver.Current(ctx, env.Name); err == nil {
			run.Revision = rev.Full
		}
	}
	if len(warnings) > 0 {
		return o.finish(ctx, run, StatusWarnings, nil)
	}
	return o.finish(ctx, run, StatusSuccess, nil)
}

func (o *Orchestrator) preflight(ctx context.Context, env config.Environment, opts Options, run *Run) (StepResult, error) {
	start := time.Now()
	result := StepResult{Name: StepPreflight, Status: StepOK}
	verdict, err := o.Validator.Validate(ctx, env.Name, preflight.Options{ForceSkipHealth: opts.Force})
	result.Duration = time.Since(start)
	if err == nil {
		err = verdict.Err()
	}
	for _, w := range verdict.Warnings {
		run.Warnings = append(run.Warnings, w.String())
	}
	if err != nil {
		result.Status = StepFailed
		result.Detail = err.Error()
		return result, err
	}
	result.Detail = fmt.Sprintf("%d warning(s)", len(verdict.Warnings))
	return result, nil
}

// finish records the outcome, moves the revision pointer on success and
// sends the closing notification.
func (o *Orchestrator) finish(ctx context.Context, run Run, status Status, failure *StepFailure) (Run, error) {
	logger := logging.FromContext(ctx)
	run.Status = status
	run.FinishedAt = o.now()
	if failure != nil {
		run.FailedStep = failure.Step
	}

	if status.Succeeded() && run.Revision != "" {
		if err := kvstore.NewPointer(o.cfg.RevisionFile(run.Env)).Write(run.Revision); err != nil {
			logger.Error("failed to write revision pointer", "error", err)
			run.Warnings = append(run.Warnings, "revision pointer not updated: "+err.Error())
			if status == StatusSuccess {
				run.Status = StatusWarnings
			}
		}
	}

	o.record(ctx, run, failure)

	switch {
	case failure != nil:
		logger.Error("run failed", "step", failure.Step, "error", failure.Err)
		o.notify(ctx, failedMessage(run, failure))
		return run, failure
	case run.Status == StatusWarnings:
		logger.Warn("run finished with warnings", "revision", ShortRevision(run.Revision), "warnings", len(run.Warnings))
		o.notify(ctx, warningsMessage(run))
	default:
		logger.Info("run finished", "revision", ShortRevision(run.Revision))
		o.notify(ctx, succeededMessage(run))
	}
	return run, nil
}

func (o *Orchestrator) notify(ctx context.Context, msg notify.Message) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Send(ctx, msg); err != nil {
		logging.FromContext(ctx).Warn("failed to deliver notification", "title", msg.Title, "error", err)
	}
}

// pipelineState carries values between steps of one run. A nil state means
// the pipeline is only being planned.
type pipelineState struct {
	run      *Run
	checkout *environment.Ref
	// output receives the output of step commands.
	output io.Writer
}

func (o *Orchestrator) pipeline(env config.Environment, target Target, opts Options, state *pipelineState) []Step {
	var checkout *environment.Ref
	var output io.Writer = io.Discard
	if state != nil {
		checkout = state.checkout
		if state.output != nil {
			output = state.output
		}
	}
	setRevision := func(rev environment.Revision) {
		if state != nil {
			state.run.Revision = rev.Full
		}
	}

	var steps []Step
	if checkout != nil {
		ref := *checkout
		steps = append(steps, Step{
			Name:     StepCheckout,
			Commands: []string{"git checkout --detach " + ref.Name()},
			Run: func(ctx context.Context) (string, error) {
				rev, err := o.Resolver.Sync(ctx, env.Name, ref, environment.SyncOptions{SkipPull: true})
				if err != nil {
					return "", err
				}
				setRevision(rev)
				return rev.Short, nil
			},
		})
	} else {
		sync := Step{
			Name:     StepSync,
			Commands: []string{fmt.Sprintf("git fetch %s && git checkout %s", env.Remote, env.Branch)},
			Run: func(ctx context.Context) (string, error) {
				rev, err := o.Resolver.Sync(ctx, env.Name, environment.Ref{}, environment.SyncOptions{})
				if err != nil {
					return "", err
				}
				setRevision(rev)
				if rev.Cloned {
					return "cloned " + rev.Short, nil
				}
				return rev.Short, nil
			},
		}
		if opts.SkipPull {
			sync.Skip = "--skip-pull"
		}
		steps = append(steps, sync)
	}

	dashboard := o.commandStep(StepDashboard, env, output, env.Dashboard.Dir, env.Dashboard.Commands)
	if !target.includesDashboard() {
		dashboard.Skip = "target is " + string(target)
	}
	steps = append(steps, dashboard)

	backendSteps := []Step{
		o.commandStep(StepMigrate, env, output, env.Backend.Dir, env.Backend.Migrate),
		o.commandStep(StepTests, env, output, env.Backend.Dir, env.Backend.Tests),
		o.commandStep(StepSecondaryTests, env, output, env.Backend.Dir, env.Backend.SecondaryTests),
		o.commandStep(StepRestart, env, output, env.Backend.Dir, env.Backend.Restart),
	}
	backendSteps[2].BestEffort = true
	for i := range backendSteps {
		switch {
		case !target.includesBackend():
			backendSteps[i].Skip = "target is " + string(target)
		case opts.SkipTests && (backendSteps[i].Name == StepTests || backendSteps[i].Name == StepSecondaryTests):
			backendSteps[i].Skip = "--skip-tests"
		}
	}
	steps = append(steps, backendSteps...)

	proxyStep := Step{
		Name:     StepProxy,
		Commands: []string{"render " + env.Proxy.ConfigPath},
		Run: func(ctx context.Context) (string, error) {
			result, err := o.Proxy.Apply(ctx, env)
			if err != nil {
				return "", err
			}
			if !result.Changed {
				return "unchanged", nil
			}
			return "applied and reloaded", nil
		},
	}
	if !env.Proxy.Enabled() {
		proxyStep.Skip = "no proxy configured"
	}
	steps = append(steps, proxyStep)

	checks := verifyTargets(env)
	verify := Step{
		Name:       StepVerify,
		BestEffort: true,
		Run: func(ctx context.Context) (string, error) {
			return o.verify(ctx, checks)
		},
	}
	for _, t := range checks {
		verify.Commands = append(verify.Commands, "GET "+t.URL)
	}
	if len(checks) == 0 {
		verify.Skip = "no health or public URLs configured"
	}
	steps = append(steps, verify)
	return steps
}

// commandStep runs commands in order inside dir, stopping at the first
// failure. Output goes to the run log prefixed with the step name.
func (o *Orchestrator) commandStep(name string, env config.Environment, output io.Writer, dir string, commands []string) Step {
	step := Step{Name: name, Commands: commands}
	if len(commands) == 0 {
		step.Skip = "nothing configured"
		return step
	}
	workDir := env.Path(dir)
	step.Run = func(ctx context.Context) (string, error) {
		out := helpers.NewPrefixWriter(output, "["+name+"] ")
		defer out.Flush()
		for _, script := range commands {
			cmd := runner.Shell(script, workDir)
			cmd.Output = out
			if _, err := o.Runner.Run(ctx, cmd); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%d command(s)", len(commands)), nil
	}
	return step
}

func verifyTargets(env config.Environment) []config.Target {
	var targets []config.Target
	if env.HealthURL != "" {
		targets = append(targets, config.Target{Name: "local", URL: env.HealthURL, ExpectedStatus: []int{200}})
	}
	for _, u := range env.PublicURLs {
		targets = append(targets, config.Target{URL: u})
	}
	return targets
}

func (o *Orchestrator) verify(ctx context.Context, targets []config.Target) (string, error) {
	results := health.CheckTargets(ctx, o.client, targets, o.cfg.Probe.Timeout, o.cfg.Probe.Concurrency)
	var failing []string
	for _, r := range results {
		if !r.OK() {
			failing = append(failing, r.Describe())
		}
	}
	if len(failing) > 0 {
		return "", errors.New(strings.Join(failing, "; "))
	}
	return fmt.Sprintf("%d check(s) passed", len(results)), nil
}

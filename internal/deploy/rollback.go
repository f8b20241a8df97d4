package deploy

import (
	"context"
	"fmt"

	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/kvstore"
	"github.com/ameistad/shipyard/internal/logging"
)

// RevisionSource names where a rollback revision came from.
type RevisionSource string

const (
	SourceArgument RevisionSource = "argument"
	SourcePointer  RevisionSource = "revision pointer"
	SourceHistory  RevisionSource = "run history"
	SourceBackup   RevisionSource = "backup"
)

// ResolveRollbackRevision picks the revision a rollback restores: the
// explicit argument, else the revision pointer, else the last successful
// run, else the newest backup. It reads state only.
func (o *Orchestrator) ResolveRollbackRevision(envName, revision string) (string, RevisionSource, error) {
	if revision != "" {
		return revision, SourceArgument, nil
	}

	rev, ok, err := kvstore.NewPointer(o.cfg.RevisionFile(envName)).Read()
	if err != nil {
		return "", "", fmt.Errorf("failed to read revision pointer: %w", err)
	}
	if ok {
		return rev, SourcePointer, nil
	}

	if o.History != nil {
		rev, ok, err := o.History.LastSuccessfulRevision(envName)
		if err != nil {
			return "", "", fmt.Errorf("failed to read run history: %w", err)
		}
		if ok {
			return rev, SourceHistory, nil
		}
	}

	artifact, ok, err := o.Backups.Latest(envName)
	if err != nil {
		return "", "", fmt.Errorf("failed to list backups: %w", err)
	}
	if ok {
		return artifact.Revision, SourceBackup, nil
	}
	return "", "", fmt.Errorf("%w for %s", ErrNoRevisionFound, envName)
}

// Rollback checks out a previous revision and runs the full pipeline
// against it. Nothing is touched when no revision can be found.
func (o *Orchestrator) Rollback(ctx context.Context, envName, revision string, opts Options) (Run, error) {
	env, err := o.cfg.Environment(envName)
	if err != nil {
		return Run{}, err
	}
	rev, source, err := o.ResolveRollbackRevision(env.Name, revision)
	if err != nil {
		return Run{}, err
	}
	logging.FromContext(ctx).Info("rollback revision resolved", "env", env.Name, "revision", ShortRevision(rev), "source", source)

	ref := environment.Ref{Commit: rev}
	if err := ref.Validate(); err != nil {
		return Run{}, err
	}
	if opts.DryRun {
		return o.planned(env, KindRollback, TargetAll, o.pipeline(env, TargetAll, opts, &pipelineState{run: &Run{}, checkout: &ref})), nil
	}
	return o.run(ctx, env, KindRollback, TargetAll, opts, &ref)
}

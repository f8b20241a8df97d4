package deploy

import (
	"context"

	"github.com/ameistad/shipyard/internal/db"
	"github.com/ameistad/shipyard/internal/logging"
)

// History persists runs. *db.DB implements it.
type History interface {
	SaveRun(run db.Run) error
	PruneRuns(env string, keep int) (int64, error)
	LastSuccessfulRevision(env string) (string, bool, error)
}

// record saves run and prunes the environment's history. Failures are
// logged; the run outcome does not depend on them.
func (o *Orchestrator) record(ctx context.Context, run Run, failure *StepFailure) {
	if o.History == nil {
		return
	}
	logger := logging.FromContext(ctx)

	if err := o.History.SaveRun(toDBRun(run, failure)); err != nil {
		logger.Warn("failed to save run history", "error", err)
		return
	}
	if removed, err := o.History.PruneRuns(run.Env, o.cfg.History.Keep); err != nil {
		logger.Warn("failed to prune run history", "error", err)
	} else if removed > 0 {
		logger.Debug("pruned run history", "removed", removed)
	}
}

func toDBRun(run Run, failure *StepFailure) db.Run {
	finished := run.FinishedAt
	out := db.Run{
		ID:         run.ID,
		Env:        run.Env,
		Kind:       string(run.Kind),
		Target:     string(run.Target),
		Revision:   run.Revision,
		Status:     string(run.Status),
		FailedStep: run.FailedStep,
		LogPath:    run.LogPath,
		StartedAt:  run.StartedAt,
		FinishedAt: &finished,
	}
	if failure != nil {
		out.Error = failure.Err.Error()
	}
	for _, s := range run.Steps {
		out.Steps = append(out.Steps, db.Step{
			Name:     s.Name,
			Status:   string(s.Status),
			Detail:   s.Detail,
			Duration: s.Duration,
		})
	}
	return out
}

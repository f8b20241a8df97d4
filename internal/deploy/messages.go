package deploy

import (
	"fmt"
	"time"

	"github.com/ameistad/shipyard/internal/notify"
)

func runTitle(run Run) string {
	if run.Kind == KindRollback {
		return "Rollback " + run.Env
	}
	return fmt.Sprintf("Deploy %s (%s)", run.Env, run.Target)
}

func startedMessage(run Run) notify.Message {
	return notify.Message{
		Level: notify.LevelInfo,
		Title: runTitle(run) + " started",
		Lines: []string{"Run: " + run.ID},
	}
}

func succeededMessage(run Run) notify.Message {
	return notify.Message{
		Level: notify.LevelSuccess,
		Title: runTitle(run) + " succeeded",
		Lines: []string{
			"Revision: " + ShortRevision(run.Revision),
			"Duration: " + run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
		},
	}
}

func warningsMessage(run Run) notify.Message {
	lines := []string{
		"Revision: " + ShortRevision(run.Revision),
		"Duration: " + run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
	}
	for _, w := range run.Warnings {
		lines = append(lines, "Warning: "+w)
	}
	return notify.Message{
		Level: notify.LevelWarning,
		Title: runTitle(run) + " succeeded with warnings",
		Lines: lines,
	}
}

func failedMessage(run Run, failure *StepFailure) notify.Message {
	lines := []string{
		"Step: " + failure.Step,
		"Error: " + failure.Err.Error(),
		"Run: " + run.ID,
	}
	if run.LogPath != "" {
		lines = append(lines, "Log: "+run.LogPath)
	}
	return notify.Message{
		Level: notify.LevelError,
		Title: runTitle(run) + " failed",
		Lines: lines,
	}
}

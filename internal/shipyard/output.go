package shipyard

import (
	"fmt"
	"io"
	"time"

	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/ui"
)

func printPlan(plan deploy.Plan) {
	title := fmt.Sprintf("%s %s (%s): preflight and backup first, then", plan.Kind, plan.Env, plan.Target)
	ui.Section(title, plan.Lines())
}

// printPlannedRun shows a dry-run result. Its steps are all pending.
func printPlannedRun(run deploy.Run) {
	lines := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		lines[i] = fmt.Sprintf("%d. %s: %s", i+1, s.Name, s.Detail)
	}
	ui.Section(fmt.Sprintf("%s %s (dry run, nothing was changed)", run.Kind, run.Env), lines)
}

// printRun shows the step table and outcome of a finished run and writes its
// ID to out.
func printRun(out io.Writer, run deploy.Run) {
	if run.ID == "" {
		return
	}
	rows := make([][]string, 0, len(run.Steps))
	for _, s := range run.Steps {
		rows = append(rows, []string{
			s.Name,
			ui.Status(string(s.Status)),
			formatDuration(s.Duration),
			helpers.Truncate(helpers.FirstLine(s.Detail), 60),
		})
	}
	ui.Table([]string{"Step", "Status", "Took", "Detail"}, rows)

	for _, w := range run.Warnings {
		ui.Warn("%s", w)
	}
	summary := fmt.Sprintf("%s of %s %s", run.Kind, run.Env, ui.Status(string(run.Status)))
	if run.Revision != "" {
		summary += " at " + deploy.ShortRevision(run.Revision)
	}
	switch run.Status {
	case deploy.StatusSuccess:
		ui.Success("%s", summary)
	case deploy.StatusWarnings:
		ui.Warn("%s", summary)
	default:
		ui.Error("%s", summary)
	}
	if run.LogPath != "" {
		ui.Muted("Log: %s", run.LogPath)
	}
	fmt.Fprintln(out, run.ID)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

package shipyard

import (
	"time"

	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func HistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <env>",
		Short: "List recorded deploys and rollbacks",
		Long: `List the newest deploy and rollback runs of an environment with their
outcome. Any revision of a successful run can be passed to rollback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			env, err := a.cfg.Environment(args[0])
			if err != nil {
				return err
			}
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			runs, err := database.RunHistory(env.Name, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				ui.Info("No runs recorded for %s", env.Name)
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				failed := r.FailedStep
				if failed == "" {
					failed = "-"
				}
				rows = append(rows, []string{
					r.ID,
					r.Kind,
					r.Target,
					deploy.ShortRevision(r.Revision),
					ui.Status(r.Status),
					failed,
					helpers.FormatRelative(r.StartedAt, now),
				})
			}
			ui.Table([]string{"Run", "Kind", "Target", "Revision", "Status", "Failed step", "Started"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")

	return cmd
}

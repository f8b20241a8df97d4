package shipyard

import (
	"fmt"

	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/spf13/cobra"
)

func RollbackCmd(flags *rootFlags) *cobra.Command {
	var (
		opts    deploy.Options
		noInput bool
	)

	cmd := &cobra.Command{
		Use:   "rollback <env> [revision]",
		Short: "Redeploy a previous revision",
		Long: `Check out a previous revision and run the full deploy pipeline against it.
Without a revision the last successfully deployed one is used, falling back to
the run history and then the newest backup. Nothing is changed when no
revision can be found.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			env, err := a.cfg.Environment(args[0])
			if err != nil {
				return err
			}
			var revision string
			if len(args) == 2 {
				revision = args[1]
			}
			opts.NonInteractive = noInput || !isInteractive()

			o, cleanup, err := a.orchestrator(opts.DryRun)
			if err != nil {
				return err
			}
			defer cleanup()

			if opts.DryRun {
				run, err := o.Rollback(ctx, env.Name, revision, opts)
				if err != nil {
					return err
				}
				printPlannedRun(run)
				return nil
			}
			if !opts.NonInteractive {
				rev, source, err := o.ResolveRollbackRevision(env.Name, revision)
				if err != nil {
					return err
				}
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
					fmt.Sprintf("Roll %s back to %s (from %s)?", env.Name, deploy.ShortRevision(rev), source))
				if err != nil {
					return err
				}
				if !ok {
					return errCancelled
				}
			}

			run, err := o.Rollback(ctx, env.Name, revision, opts)
			printRun(cmd.OutOrStdout(), run)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.SkipTests, "skip-tests", false, "Skip the backend test steps")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the steps without running them")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "Never prompt for confirmation")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Skip the preflight liveness probe of the running service")

	return cmd
}

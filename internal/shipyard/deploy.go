package shipyard

import (
	"errors"
	"fmt"

	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/spf13/cobra"
)

var errCancelled = errors.New("cancelled by operator")

func DeployCmd(flags *rootFlags) *cobra.Command {
	var (
		opts    deploy.Options
		noInput bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <env> [all|dashboard|backend]",
		Short: "Deploy an environment",
		Long: `Run preflight, take a backup, sync the checkout and run the build, migrate,
test, restart, proxy and verify steps for the target. The first failing step
stops the run; secondary tests and verification only produce warnings.`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{string(deploy.TargetAll), string(deploy.TargetDashboard), string(deploy.TargetBackend)},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := deploy.TargetAll
			if len(args) == 2 {
				t, err := deploy.ParseTarget(args[1])
				if err != nil {
					return err
				}
				target = t
			}
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			env, err := a.cfg.Environment(args[0])
			if err != nil {
				return err
			}
			opts.NonInteractive = noInput || !isInteractive()

			o, cleanup, err := a.orchestrator(opts.DryRun)
			if err != nil {
				return err
			}
			defer cleanup()

			plan, err := o.Plan(env.Name, target, opts)
			if err != nil {
				return err
			}
			if opts.DryRun {
				printPlan(plan)
				return nil
			}
			if env.Strict && !opts.NonInteractive {
				printPlan(plan)
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Deploy %s to %s?", target, env.Name))
				if err != nil {
					return err
				}
				if !ok {
					return errCancelled
				}
			}

			run, err := o.Deploy(ctx, env.Name, target, opts)
			printRun(cmd.OutOrStdout(), run)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.SkipTests, "skip-tests", false, "Skip the backend test steps")
	cmd.Flags().BoolVar(&opts.SkipPull, "skip-pull", false, "Deploy the checkout as is without fetching")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the steps without running them")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "Never prompt for confirmation")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Skip the preflight liveness probe of the running service")

	return cmd
}

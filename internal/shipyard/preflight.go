package shipyard

import (
	"github.com/ameistad/shipyard/internal/preflight"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func PreflightCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "preflight <env>",
		Short: "Check that an environment is ready to deploy",
		Long: `Run every readiness check for an environment and report all failures in
one pass: required tools, config files, secrets, free disk, ports, the
working tree and the liveness of the running service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			verdict, err := a.validator().Validate(ctx, args[0], preflight.Options{ForceSkipHealth: force})
			if err != nil {
				return err
			}
			printVerdict(verdict)
			return verdict.Err()
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the liveness probe of the running service")

	return cmd
}

// printVerdict prints warnings. Failures are left to the returned
// ValidationError so they are listed once.
func printVerdict(v preflight.Verdict) {
	for _, w := range v.Warnings {
		ui.Warn("%s", w)
	}
	if v.OK {
		ui.Success("%s is ready to deploy", v.Env)
	}
}

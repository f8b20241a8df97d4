package shipyard

import (
	"fmt"

	"github.com/ameistad/shipyard/internal/environment"
	"github.com/ameistad/shipyard/internal/lock"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func SyncCmd(flags *rootFlags) *cobra.Command {
	var (
		ref  environment.Ref
		opts environment.SyncOptions
	)

	cmd := &cobra.Command{
		Use:   "sync <env>",
		Short: "Bring an environment checkout to a branch, tag or commit",
		Long: `Clone the environment's repository if it is missing, then check out the
requested ref. Without a ref the configured branch is fast-forwarded to its
remote head.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ref.Validate(); err != nil {
				return err
			}
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			envName := args[0]
			if _, err := a.cfg.Environment(envName); err != nil {
				return err
			}

			fileLock, err := lock.Acquire(a.cfg.LocksDir(), envName)
			if err != nil {
				return err
			}
			defer fileLock.Release()

			rev, err := a.resolver().Sync(ctx, envName, ref, opts)
			if err != nil {
				return err
			}
			if rev.Cloned {
				ui.Info("Cloned %s", envName)
			}
			ui.Success("%s is at %s (%s)", envName, rev.Short, rev.Ref)
			fmt.Fprintln(cmd.OutOrStdout(), rev.Full)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref.Branch, "branch", "", "Check out this branch")
	cmd.Flags().StringVar(&ref.Tag, "tag", "", "Check out this tag")
	cmd.Flags().StringVar(&ref.Commit, "commit", "", "Check out this commit")
	cmd.Flags().BoolVar(&opts.SkipPull, "skip-pull", false, "Do not fast-forward the branch to its remote")
	cmd.Flags().BoolVar(&opts.CloneOnly, "clone-only", false, "Only clone a missing checkout, leave an existing one untouched")
	cmd.MarkFlagsMutuallyExclusive("branch", "tag", "commit")
	cmd.MarkFlagsMutuallyExclusive("skip-pull", "clone-only")

	return cmd
}

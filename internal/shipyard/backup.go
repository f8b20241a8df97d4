package shipyard

import (
	"fmt"
	"strings"

	"github.com/ameistad/shipyard/internal/deploy"
	"github.com/ameistad/shipyard/internal/lock"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func BackupCmd(flags *rootFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup <env>",
		Short: "Snapshot an environment's revision, config files and database",
		Long: `Write a timestamped backup holding the current revision, a copy of the
configured config files and a database dump. A failed dump still produces a
degraded backup that records the revision and configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			env, err := a.cfg.Environment(args[0])
			if err != nil {
				return err
			}
			manager := a.backups()

			if list {
				artifacts, err := manager.List(env.Name)
				if err != nil {
					return err
				}
				if len(artifacts) == 0 {
					ui.Info("No backups for %s", env.Name)
					return nil
				}
				rows := make([][]string, 0, len(artifacts))
				for _, art := range artifacts {
					state := "ok"
					if art.Degraded {
						state = "degraded"
					}
					rows = append(rows, []string{
						art.ID,
						deploy.ShortRevision(art.Revision),
						ui.Status(state),
						strings.Join(art.ConfigFiles, ", "),
					})
				}
				ui.Table([]string{"ID", "Revision", "State", "Config files"}, rows)
				return nil
			}

			fileLock, err := lock.Acquire(a.cfg.LocksDir(), env.Name)
			if err != nil {
				return err
			}
			defer fileLock.Release()

			art, err := manager.Backup(ctx, env.Name)
			if err != nil {
				return err
			}
			if art.Degraded {
				ui.Warn("Backup %s is degraded: %s", art.ID, art.DumpError)
			} else {
				ui.Success("Backup %s of %s at %s", art.ID, env.Name, deploy.ShortRevision(art.Revision))
			}
			fmt.Fprintln(cmd.OutOrStdout(), art.Dir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List existing backups instead of taking one")

	return cmd
}

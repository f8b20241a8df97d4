package shipyard

import (
	"context"

	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/scheduler"
	"github.com/spf13/cobra"
)

func WatchCmd(flags *rootFlags) *cobra.Command {
	var noDigest bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run probe and digest cycles on their intervals until stopped",
		Long: `Run a probe cycle every probe.interval and a digest every digest.interval.
Each cycle is independent and keeps its state on disk, exactly like separate
probe and digest invocations from cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			prober := a.prober()
			reporter := a.reporter()

			jobs := []scheduler.Job{{
				Name:     "probe",
				Interval: a.cfg.Probe.Interval,
				Run: func(ctx context.Context) error {
					result, err := probeOnce(ctx, prober)
					if err != nil {
						return err
					}
					if err := probeErr(result); err != nil {
						logging.FromContext(ctx).Warn("probe found problems", "error", err, "alerted", result.SentAlert)
					}
					return nil
				},
			}}
			if !noDigest {
				jobs = append(jobs, scheduler.Job{
					Name:     "digest",
					Interval: a.cfg.Digest.Interval,
					Run: func(ctx context.Context) error {
						report, err := reporter.Cycle(ctx)
						if err != nil {
							return err
						}
						logging.FromContext(ctx).Info("digest sent", "healthy", report.Healthy(), "delivered", report.Sent,
							"collection_errors", len(report.CollectionErrors))
						return nil
					},
				})
			}

			a.logger.Info("watching", "probe_interval", a.cfg.Probe.Interval, "digest_interval", a.cfg.Digest.Interval, "digest", !noDigest)
			scheduler.New(jobs...).Start(ctx)
			a.logger.Info("watch stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noDigest, "no-digest", false, "Only run probe cycles")

	return cmd
}

package shipyard

import (
	"fmt"
	"strings"

	"github.com/ameistad/shipyard/internal/digest"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func DigestCmd(flags *rootFlags) *cobra.Command {
	var printMessage bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Collect and send one status digest",
		Long: `Collect target health, unit states, disk, memory, load and recent log lines
into one message and send it. The digest is sent every time, independent of
alert throttling. Exits non-zero when something is unhealthy or could not be
collected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			report, err := a.reporter().Cycle(ctx)
			if err != nil {
				return fmt.Errorf("digest cycle failed: %w", err)
			}
			if printMessage {
				fmt.Fprintln(cmd.OutOrStdout(), report.Message.Text(digest.MessageLimit(a.cfg.Digest)))
			}
			if report.DeliveryErr != nil {
				ui.Warn("Digest not fully delivered: %v", report.DeliveryErr)
			}
			return digestErr(report)
		},
	}

	cmd.Flags().BoolVar(&printMessage, "print", false, "Also print the composed message to stdout")

	return cmd
}

// digestErr keeps unhealthy sources apart from sources that could not be
// read. Delivery failures never count.
func digestErr(report digest.Report) error {
	var problems []string
	if !report.Healthy() {
		problems = append(problems, "unhealthy")
	}
	if n := len(report.CollectionErrors); n > 0 {
		sources := make([]string, n)
		for i, ce := range report.CollectionErrors {
			sources[i] = ce.Source
		}
		problems = append(problems, "could not collect "+strings.Join(sources, ", "))
	}
	if len(problems) == 0 {
		ui.Success("Digest for %s: all healthy", report.Host)
		return nil
	}
	return fmt.Errorf("digest for %s: %s", report.Host, strings.Join(problems, "; "))
}

package shipyard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ameistad/shipyard/internal/health"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func ProbeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one health probe cycle",
		Long: `Check every configured liveness target and the detailed health endpoint.
A failing set of checks is alerted at most once per cooldown; a different
failing set alerts immediately. Exits non-zero when anything is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			result, err := probeOnce(ctx, a.prober())
			if err != nil {
				return err
			}
			printProbe(result)
			return probeErr(result)
		},
	}

	return cmd
}

func probeOnce(ctx context.Context, p *health.Prober) (health.CycleResult, error) {
	result, err := p.Cycle(ctx)
	if err != nil {
		return result, fmt.Errorf("probe cycle failed: %w", err)
	}
	return result, nil
}

// probeErr is non-nil when the cycle found anything unhealthy. Delivery
// failures never count.
func probeErr(result health.CycleResult) error {
	if result.Healthy() {
		return nil
	}
	failing := health.Failing(result.Targets)
	failing = append(failing, result.Detailed.Unhealthy()...)
	if result.DetailedErr != nil {
		failing = append(failing, "detailed endpoint")
	}
	return fmt.Errorf("%w: %s", errUnhealthy, strings.Join(failing, ", "))
}

var errUnhealthy = errors.New("unhealthy")

func printProbe(result health.CycleResult) {
	for _, t := range result.Targets {
		if t.OK() {
			ui.Success("%s", t.Describe())
		} else {
			ui.Error("%s", t.Describe())
		}
	}
	for _, name := range result.Detailed.Names() {
		ui.Basic("  %s: %s", name, ui.Status(string(result.Detailed[name])))
	}
	if result.DetailedErr != nil {
		ui.Warn("detailed endpoint: %v", result.DetailedErr)
	}
	for _, alert := range result.Alerts {
		switch {
		case alert.Suppressed:
			ui.Muted("Alert for %s suppressed (cooldown)", strings.Join(alert.Failing, ", "))
		case alert.Err != nil:
			ui.Warn("Alert for %s not delivered: %v", strings.Join(alert.Failing, ", "), alert.Err)
		case alert.Sent:
			ui.Info("Alert sent for %s", strings.Join(alert.Failing, ", "))
		}
	}
}

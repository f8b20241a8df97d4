package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/metrics"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/throttle"
)

const (
	kindTargets    = "targets"
	kindComponents = "components"
)

// Alert is one failing set evaluated against the throttle.
type Alert struct {
	Kind      string
	Failing   []string
	Signature string
	// Sent is true when the message reached at least one recipient.
	Sent       bool
	Suppressed bool
	Err        error
}

type CycleResult struct {
	Targets  []TargetResult
	Detailed DetailedReport
	// DetailedErr is set when the detailed endpoint could not be read, as
	// opposed to reporting unhealthy components.
	DetailedErr error
	Alerts      []Alert
	SentAlert   bool
}

// Healthy reports whether every check passed.
func (r CycleResult) Healthy() bool {
	return len(Failing(r.Targets)) == 0 && r.DetailedErr == nil && len(r.Detailed.Unhealthy()) == 0
}

type Prober struct {
	cfg        config.ProbeConfig
	metricsDir string
	client     *http.Client
	notifier   notify.Notifier
	throttle   *throttle.Throttle
	now        func() time.Time
}

func NewProber(cfg config.ProbeConfig, metricsDir string, notifier notify.Notifier, th *throttle.Throttle) *Prober {
	return &Prober{
		cfg:        cfg,
		metricsDir: metricsDir,
		client:     NewHTTPClient(),
		notifier:   notifier,
		throttle:   th,
		now:        time.Now,
	}
}

// Cycle runs one probe pass. The failing targets form one signature and the
// unhealthy detailed components another; each is alerted at most once per
// cooldown. Delivery failures are logged and never returned. An error is
// returned only when the throttle state cannot be read or written.
func (p *Prober) Cycle(ctx context.Context) (CycleResult, error) {
	logger := logging.FromContext(ctx)
	var result CycleResult

	result.Targets = CheckTargets(ctx, p.client, p.cfg.Targets, p.cfg.Timeout, p.cfg.Concurrency)
	for _, r := range result.Targets {
		logger.Debug("probed target", "target", r.Target.Label(), "status", r.Status, "ok", r.OK(), "duration", r.Duration)
	}

	if p.cfg.DetailedURL != "" {
		result.Detailed, result.DetailedErr = FetchDetailed(ctx, p.client, p.cfg.DetailedURL, p.cfg.Timeout)
		if result.DetailedErr != nil {
			logger.Warn("detailed health unavailable", "url", p.cfg.DetailedURL, "error", result.DetailedErr)
		}
	}

	if failing := Failing(result.Targets); len(failing) > 0 {
		lines := make([]string, 0, len(failing))
		for _, r := range result.Targets {
			if !r.OK() {
				lines = append(lines, r.Describe())
			}
		}
		alert, err := p.alert(ctx, kindTargets, failing, notify.Message{
			Level: notify.LevelError,
			Title: fmt.Sprintf("%d of %d health checks failing", len(failing), len(result.Targets)),
			Lines: lines,
		})
		if err != nil {
			return result, err
		}
		result.Alerts = append(result.Alerts, alert)
	}

	components := result.Detailed.Unhealthy()
	lines := make([]string, 0, len(components))
	for _, name := range components {
		lines = append(lines, name+": unhealthy")
	}
	if result.DetailedErr != nil {
		components = []string{"detailed-endpoint"}
		lines = []string{fmt.Sprintf("detailed health endpoint: %v", result.DetailedErr)}
	}
	if len(components) > 0 {
		alert, err := p.alert(ctx, kindComponents, components, notify.Message{
			Level: notify.LevelError,
			Title: "Dependency health degraded",
			Lines: lines,
		})
		if err != nil {
			return result, err
		}
		result.Alerts = append(result.Alerts, alert)
	}

	for _, a := range result.Alerts {
		if a.Sent {
			result.SentAlert = true
		}
	}
	p.writeMetrics(ctx, result)
	return result, nil
}

// alert sends msg unless the signature of failing is inside its cooldown. The
// entry is only recorded once the message reached someone, so an undelivered
// alert is retried by the next cycle.
func (p *Prober) alert(ctx context.Context, kind string, failing []string, msg notify.Message) (Alert, error) {
	logger := logging.FromContext(ctx)
	now := p.now()
	alert := Alert{Kind: kind, Failing: failing, Signature: Signature(kind, failing)}

	due, prev, err := p.throttle.Due(alert.Signature, now)
	if err != nil {
		return alert, err
	}
	if !due {
		alert.Suppressed = true
		logger.Info("alert suppressed by cooldown", "kind", kind, "signature", alert.Signature, "failing", SignatureSet(failing))
		return alert, nil
	}

	alert.Err = p.notifier.Send(ctx, msg)
	if !notify.Delivered(alert.Err) {
		logger.Warn("alert delivery failed", "kind", kind, "signature", alert.Signature, "error", alert.Err)
		return alert, nil
	}
	if alert.Err != nil {
		logger.Warn("alert partially delivered", "kind", kind, "error", alert.Err)
	}
	alert.Sent = true

	if _, err := p.throttle.Record(alert.Signature, prev, now); err != nil {
		return alert, err
	}
	logger.Info("alert sent", "kind", kind, "signature", alert.Signature, "failing", SignatureSet(failing))
	return alert, nil
}

func (p *Prober) writeMetrics(ctx context.Context, result CycleResult) {
	if p.metricsDir == "" {
		return
	}
	m := metrics.NewProbeMetrics()
	for _, r := range result.Targets {
		up := 0.0
		if r.OK() {
			up = 1
		}
		m.TargetUp.WithLabelValues(r.Target.Label()).Set(up)
	}
	for name, status := range result.Detailed {
		value := -1.0
		switch status {
		case StatusHealthy:
			value = 1
		case StatusUnhealthy:
			value = 0
		}
		m.ComponentHealthy.WithLabelValues(name).Set(value)
	}
	if result.SentAlert {
		m.AlertSent.Set(1)
	}
	m.LastCycle.Set(float64(p.now().Unix()))
	if err := m.WriteTo(p.metricsDir); err != nil {
		logging.FromContext(ctx).Warn("failed to write probe metrics", "error", err)
	}
}

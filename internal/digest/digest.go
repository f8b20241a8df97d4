// Package digest assembles the periodic status report: liveness of every
// target, host resources and the tail of selected log files.
package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/health"
	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/ameistad/shipyard/internal/logging"
	"github.com/ameistad/shipyard/internal/metrics"
	"github.com/ameistad/shipyard/internal/notify"
	"github.com/ameistad/shipyard/internal/runner"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"
)

type UnitStatus struct {
	Name  string
	State string
}

func (u UnitStatus) Active() bool { return u.State == "active" }

type DiskUsage struct {
	Mount       string
	Used        uint64
	Total       uint64
	UsedPercent float64
}

type MemoryUsage struct {
	Used        uint64
	Total       uint64
	UsedPercent float64
}

type LogExcerpt struct {
	Name  string
	Lines []string
}

// CollectionError is a source that could not be read this cycle. It is
// reported separately from sources that were read and found unhealthy.
type CollectionError struct {
	Source string
	Err    error
}

func (e CollectionError) String() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Report is one digest cycle. It is not persisted.
type Report struct {
	Host             string
	GeneratedAt      time.Time
	Targets          []health.TargetResult
	Units            []UnitStatus
	Disks            []DiskUsage
	Memory           *MemoryUsage
	Load             *load.AvgStat
	Logs             []LogExcerpt
	CollectionErrors []CollectionError
	Message          notify.Message
	Sent             bool
	DeliveryErr      error
}

// Healthy reports whether every target answered as expected and every unit
// is active.
func (r Report) Healthy() bool {
	for _, t := range r.Targets {
		if !t.OK() {
			return false
		}
	}
	for _, u := range r.Units {
		if !u.Active() {
			return false
		}
	}
	return true
}

type Reporter struct {
	cfg      *config.Config
	runner   runner.Runner
	notifier notify.Notifier
	client   *http.Client
	now      func() time.Time

	diskUsage func(ctx context.Context, path string) (*disk.UsageStat, error)
	memory    func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg   func(ctx context.Context) (*load.AvgStat, error)
	hostname  func() (string, error)
}

func NewReporter(cfg *config.Config, r runner.Runner, notifier notify.Notifier) *Reporter {
	return &Reporter{
		cfg:       cfg,
		runner:    r,
		notifier:  notifier,
		client:    health.NewHTTPClient(),
		now:       time.Now,
		diskUsage: disk.UsageWithContext,
		memory:    mem.VirtualMemoryWithContext,
		loadAvg:   load.AvgWithContext,
		hostname:  os.Hostname,
	}
}

// Cycle collects a report and sends it. It is sent regardless of alert
// throttling. A delivery failure is recorded on the report and logged, never
// returned.
func (r *Reporter) Cycle(ctx context.Context) (Report, error) {
	logger := logging.FromContext(ctx)
	dc := r.cfg.Digest
	report := Report{GeneratedAt: r.now()}
	report.Host, _ = r.hostname()

	var mu sync.Mutex
	collectErr := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.CollectionErrors = append(report.CollectionErrors, CollectionError{Source: source, Err: err})
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Targets = health.CheckTargets(gCtx, r.client, r.cfg.Probe.Targets, r.cfg.Probe.Timeout, r.cfg.Probe.Concurrency)
		return nil
	})
	g.Go(func() error {
		report.Units = r.collectUnits(gCtx, dc.Units, dc.Timeout, collectErr)
		return nil
	})
	g.Go(func() error {
		report.Disks, report.Memory, report.Load = r.collectHost(gCtx, dc.Mounts, dc.Timeout, collectErr)
		return nil
	})
	g.Go(func() error {
		report.Logs = collectLogs(gCtx, dc.Logs, dc.Timeout, collectErr)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	sortCollectionErrors(report.CollectionErrors)

	report.Message = r.message(report)
	r.writeMetrics(ctx, report)

	if err := r.notifier.Send(ctx, report.Message); err != nil {
		report.DeliveryErr = err
		logger.Warn("failed to deliver digest", "error", err)
	}
	report.Sent = notify.Delivered(report.DeliveryErr)
	logger.Info("digest cycle finished",
		"healthy", report.Healthy(),
		"collection_errors", len(report.CollectionErrors),
		"sent", report.Sent)
	return report, nil
}

func (r *Reporter) collectUnits(ctx context.Context, units []string, timeout time.Duration, collectErr func(string, error)) []UnitStatus {
	out := make([]UnitStatus, 0, len(units))
	for _, unit := range units {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := r.runner.Run(callCtx, runner.Command{Name: "systemctl", Args: []string{"is-active", unit}})
		cancel()
		// is-active exits non-zero for inactive units but still prints the state.
		state := strings.TrimSpace(res.Stdout)
		if state == "" {
			if err == nil {
				err = errors.New("no state reported")
			}
			collectErr("unit "+unit, err)
			state = "unknown"
		}
		out = append(out, UnitStatus{Name: unit, State: state})
	}
	return out
}

func (r *Reporter) collectHost(ctx context.Context, mounts []string, timeout time.Duration, collectErr func(string, error)) ([]DiskUsage, *MemoryUsage, *load.AvgStat) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var disks []DiskUsage
	for _, mount := range mounts {
		usage, err := r.diskUsage(ctx, mount)
		if err != nil {
			collectErr("disk "+mount, err)
			continue
		}
		disks = append(disks, DiskUsage{Mount: mount, Used: usage.Used, Total: usage.Total, UsedPercent: usage.UsedPercent})
	}

	var memory *MemoryUsage
	if vm, err := r.memory(ctx); err != nil {
		collectErr("memory", err)
	} else {
		memory = &MemoryUsage{Used: vm.Used, Total: vm.Total, UsedPercent: vm.UsedPercent}
	}

	avg, err := r.loadAvg(ctx)
	if err != nil {
		collectErr("load", err)
		avg = nil
	}
	return disks, memory, avg
}

func collectLogs(ctx context.Context, sources []config.LogSource, timeout time.Duration, collectErr func(string, error)) []LogExcerpt {
	out := make([]LogExcerpt, 0, len(sources))
	for _, src := range sources {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		lines, err := tailLines(callCtx, src.Path, src.Lines)
		cancel()
		if err != nil {
			collectErr("log "+src.Name, err)
			continue
		}
		out = append(out, LogExcerpt{Name: src.Name, Lines: lines})
	}
	return out
}

// tailLines bounds helpers.TailLines by ctx. A read that outlives ctx is
// abandoned.
func tailLines(ctx context.Context, path string, n int) ([]string, error) {
	type result struct {
		lines []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		lines, err := helpers.TailLines(path, n)
		done <- result{lines, err}
	}()
	select {
	case res := <-done:
		return res.lines, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("reading %s: %w", path, ctx.Err())
	}
}

func (r *Reporter) message(report Report) notify.Message {
	level := notify.LevelSuccess
	switch {
	case !report.Healthy():
		level = notify.LevelError
	case len(report.CollectionErrors) > 0:
		level = notify.LevelWarning
	}
	title := "Digest " + report.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC")
	if report.Host != "" {
		title += " on " + report.Host
	}
	msg := notify.Message{Level: level, Title: title}

	limit := MessageLimit(r.cfg.Digest)
	header := msg.Text(limit)
	budget := limit - len(header) - 1
	msg.Lines = []string{Compose(Sections(report), budget)}
	return msg
}

// MessageLimit is the digest size budget. Notifiers cut every message at the
// channel ceiling, so a larger max_length is capped there.
func MessageLimit(cfg config.DigestConfig) int {
	return min(cfg.MaxLength, constants.DefaultMessageLimit)
}

// Sections lays a report out as message sections: status and resources
// first, then one trimmable section per log source.
func Sections(report Report) []Section {
	status := Section{Title: "Status"}
	for _, t := range report.Targets {
		mark := "✔"
		if !t.OK() {
			mark = "✘"
		}
		status.Lines = append(status.Lines, mark+" "+t.Describe())
	}
	for _, u := range report.Units {
		mark := "✔"
		if !u.Active() {
			mark = "✘"
		}
		status.Lines = append(status.Lines, fmt.Sprintf("%s %s: %s", mark, u.Name, u.State))
	}
	if len(status.Lines) == 0 {
		status.Lines = append(status.Lines, "no targets or units configured")
	}
	for _, ce := range report.CollectionErrors {
		status.Lines = append(status.Lines, "? collection failed, "+ce.String())
	}

	resources := Section{Title: "Resources"}
	for _, d := range report.Disks {
		resources.Lines = append(resources.Lines, fmt.Sprintf("Disk %s: %.1f%% used (%s of %s)",
			d.Mount, d.UsedPercent, humanize.Bytes(d.Used), humanize.Bytes(d.Total)))
	}
	if report.Memory != nil {
		resources.Lines = append(resources.Lines, fmt.Sprintf("Memory: %.1f%% used (%s of %s)",
			report.Memory.UsedPercent, humanize.Bytes(report.Memory.Used), humanize.Bytes(report.Memory.Total)))
	}
	if report.Load != nil {
		resources.Lines = append(resources.Lines, fmt.Sprintf("Load: %.2f %.2f %.2f", report.Load.Load1, report.Load.Load5, report.Load.Load15))
	}
	if len(resources.Lines) == 0 {
		resources.Lines = append(resources.Lines, "unavailable")
	}

	sections := []Section{status, resources}
	for _, l := range report.Logs {
		s := Section{Title: "Log " + l.Name, Lines: l.Lines, Trimmable: true}
		if len(l.Lines) == 0 {
			s.Lines = []string{"(no recent lines)"}
			s.Trimmable = false
		}
		sections = append(sections, s)
	}
	return sections
}

func (r *Reporter) writeMetrics(ctx context.Context, report Report) {
	dir := r.cfg.Metrics.TextfileDir
	if dir == "" {
		return
	}
	m := metrics.NewHostMetrics()
	for _, d := range report.Disks {
		m.DiskUsedRatio.WithLabelValues(d.Mount).Set(d.UsedPercent / 100)
	}
	if report.Memory != nil {
		m.MemoryUsedRatio.Set(report.Memory.UsedPercent / 100)
	}
	m.LastCycle.Set(float64(report.GeneratedAt.Unix()))
	if err := m.WriteTo(dir); err != nil {
		logging.FromContext(ctx).Warn("failed to write digest metrics", "error", err)
	}
}

func sortCollectionErrors(errs []CollectionError) {
	slices.SortFunc(errs, func(a, b CollectionError) int {
		return strings.Compare(a.Source, b.Source)
	})
}

// Package metrics writes cycle results as Prometheus gauges to a
// node-exporter textfile collector directory.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ameistad/shipyard/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shipyard"

// ProbeMetrics holds the gauges for one probe cycle. A fresh registry is used
// per cycle so targets removed from the config disappear from the file.
type ProbeMetrics struct {
	registry         *prometheus.Registry
	TargetUp         *prometheus.GaugeVec
	ComponentHealthy *prometheus.GaugeVec
	AlertSent        prometheus.Gauge
	LastCycle        prometheus.Gauge
}

func NewProbeMetrics() *ProbeMetrics {
	m := &ProbeMetrics{
		registry: prometheus.NewRegistry(),
		TargetUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "target_up",
			Help:      "1 if the target answered with an accepted status in the last cycle.",
		}, []string{"target"}),
		ComponentHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "component_healthy",
			Help:      "1 healthy, 0 unhealthy, -1 unknown, per detailed health component.",
		}, []string{"component"}),
		AlertSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "alert_sent",
			Help:      "1 if the last cycle delivered an alert.",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last probe cycle finished.",
		}),
	}
	m.registry.MustRegister(m.TargetUp, m.ComponentHealthy, m.AlertSent, m.LastCycle)
	return m
}

// WriteTo writes the gauges to dir/shipyard_probe.prom.
func (m *ProbeMetrics) WriteTo(dir string) error {
	return writeTextfile(dir, "probe", m.registry)
}

// HostMetrics holds the gauges for one digest cycle.
type HostMetrics struct {
	registry        *prometheus.Registry
	DiskUsedRatio   *prometheus.GaugeVec
	MemoryUsedRatio prometheus.Gauge
	LastCycle       prometheus.Gauge
}

func NewHostMetrics() *HostMetrics {
	m := &HostMetrics{
		registry: prometheus.NewRegistry(),
		DiskUsedRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "disk_used_ratio",
			Help:      "Used fraction of each configured mount.",
		}, []string{"mount"}),
		MemoryUsedRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_used_ratio",
			Help:      "Used fraction of physical memory.",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last digest cycle finished.",
		}),
	}
	m.registry.MustRegister(m.DiskUsedRatio, m.MemoryUsedRatio, m.LastCycle)
	return m
}

// WriteTo writes the gauges to dir/shipyard_digest.prom.
func (m *HostMetrics) WriteTo(dir string) error {
	return writeTextfile(dir, "digest", m.registry)
}

// writeTextfile relies on prometheus.WriteToTextfile writing to a temp file
// and renaming it, so the collector never reads a partial file.
func writeTextfile(dir, cycle string, registry *prometheus.Registry) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, constants.ModeFileExec); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.prom", namespace, cycle))
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
